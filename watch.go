package main

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

// sessionSocketURL converts a session page URL into the matching websocket
// endpoint, accepting http(s) or ws(s) schemes.
func sessionSocketURL(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid session url: %w", err)
	}

	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid session url scheme: %q", parsed.Scheme)
	}

	if parsed.Host == "" || parsed.Path == "" || parsed.Path == "/" {
		return "", errors.New("session url must include a host and session path")
	}

	parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	if !strings.HasSuffix(parsed.Path, "/ws") {
		parsed.Path += "/ws"
	}

	return parsed.String(), nil
}

func printScoreboard(state *Snapshot) {
	if state == nil {
		return
	}

	names := make([]string, 0, len(state.Players))
	for name := range state.Players {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := state.Players[names[i]], state.Players[names[j]]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return names[i] < names[j]
	})

	if state.Round >= 0 {
		fmt.Printf("-- %s (round %d/%d)\n", state.Phase, state.Round+1, state.TotalQuestions)
	} else {
		fmt.Printf("-- %s\n", state.Phase)
	}
	for _, name := range names {
		p := state.Players[name]
		fmt.Printf("%4d (%+d)  %s\n", p.Score, p.Delta, name)
	}
}

// newWatchCmd follows a running session as a read-only terminal scoreboard,
// the spectator counterpart of the browser score page.
func newWatchCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:           "watch <session-url>",
		Short:         "Follow a running quiz session as a read-only scoreboard.",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := sessionSocketURL(args[0])
			if err != nil {
				return err
			}

			channel := NewSyncChannel(target)
			defer channel.Close()

			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case ev := <-channel.Events():
					switch ev.Kind {
					case ChannelEstablished:
						logf(cfg, "WATCH: Connected to %s", target)
						channel.Fetch()
					case ChannelState:
						printScoreboard(ev.State)
					case ChannelFailed:
						return errors.New(ev.Reason)
					}
				}
			}
		},
	}
}
