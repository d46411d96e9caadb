package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		bind:           "0.0.0.0",
		port:           8080,
		sessionTimeout: 20 * time.Minute,
	}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, validConfig().validate())

	cfg := validConfig()
	cfg.port = 0
	assert.ErrorContains(t, cfg.validate(), "invalid port")

	cfg = validConfig()
	cfg.port = 70000
	assert.ErrorContains(t, cfg.validate(), "invalid port")

	cfg = validConfig()
	cfg.sessionTimeout = 30 * time.Second
	assert.ErrorContains(t, cfg.validate(), "session timeout")

	cfg = validConfig()
	cfg.tlsCert = "cert.pem"
	assert.ErrorContains(t, cfg.validate(), "--tls-cert and --tls-key")

	cfg = validConfig()
	cfg.tlsCert = "cert.pem"
	cfg.tlsKey = "key.pem"
	assert.NoError(t, cfg.validate())
	assert.Equal(t, "https", cfg.scheme())

	assert.Equal(t, "http", validConfig().scheme())
}

func TestIdleTicks(t *testing.T) {
	assert.Equal(t, 20, idleTicks(20*time.Minute))
	assert.Equal(t, 1, idleTicks(90*time.Second))
}
