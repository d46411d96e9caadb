// Quizbox session layer
//
// Each game session is keyed by a random, unguessable identifier and owns a
// single GameState plus the set of websocket connections watching it. The id
// is the only credential: anyone holding the join link can play or spectate.
//
// Implementation details:
// - All state mutation funnels through Session.submit under one mutex
// - Every update broadcasts the full state snapshot to all attached sockets
// - A per-session reaper ticks once a minute; sessions with no update inside
//   the timeout window are closed and removed from the registry
// - Slow or dead sockets are dropped rather than awaited, so one stuck
//   client can never stall a broadcast
// - Sessions are created eagerly via GET $path; the websocket endpoint only
//   looks ids up and rejects strangers with an unknown-session message

package main

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Wire messages. Clients send state requests and player updates; the server
// answers with state pushes, or one of two rejection messages.
type inboundMessage struct {
	Cmd   string          `json:"cmd"`
	Name  *string         `json:"name"`
	Value json.RawMessage `json:"value"`
}

type stateMessage struct {
	Cmd   string   `json:"cmd"`
	State Snapshot `json:"state"`
}

var (
	malformedReply      = []byte(`{"cmd":"malformed"}`)
	unknownSessionReply = []byte(`{"cmd":"unknown-session"}`)
	jsonNull            = []byte("null")
)

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func (c *wsClient) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *wsClient) readPump(cfg *Config, s *Session) {
	defer func() {
		s.Detach(c)
		_ = c.conn.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		reply, fatal := s.handle(raw)
		if fatal {
			logf(cfg, "GAMES: Dropping connection to %s after unparsable payload", s.id)
			return
		}
		if reply == nil {
			continue
		}

		select {
		case c.send <- reply:
		default:
			return
		}
	}
}

// Session owns one GameState and fans serialized snapshots out to every
// attached connection.
type Session struct {
	id       string
	registry *SessionRegistry

	mu    sync.Mutex
	state *GameState
	conns map[*wsClient]bool
	idle  int

	done      chan struct{}
	closeOnce sync.Once
}

// Attach registers a connection for future broadcasts. No snapshot is pushed
// here; clients request the initial state explicitly.
func (s *Session) Attach(c *wsClient) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conns[c] = true
}

// Detach deregisters a connection. Safe to call for already-dropped clients.
func (s *Session) Detach(c *wsClient) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conns[c]; ok {
		delete(s.conns, c)
		close(c.send)
	}
}

// Submit upserts or deletes (nil record) the named player, advances the
// phase machine, and broadcasts the resulting snapshot. Every submit marks
// the session alive for the idle reaper.
func (s *Session) Submit(name string, record *Player) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.idle = 0
	s.state.UpdatePlayer(name, record)
	s.broadcastLocked(s.snapshotLocked())
}

// CurrentSnapshot returns the serialized full-state message, as sent for
// fetch requests.
func (s *Session) CurrentSnapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() []byte {
	msg, _ := json.Marshal(stateMessage{
		Cmd:   "state",
		State: s.state.Snapshot(),
	})
	return msg
}

func (s *Session) broadcastLocked(msg []byte) {
	for c := range s.conns {
		select {
		case c.send <- msg:
		default:
			delete(s.conns, c)
			close(c.send)
		}
	}
}

// handle processes one raw inbound payload. A non-nil reply goes back to the
// sending connection only; fatal indicates the connection must be closed.
func (s *Session) handle(raw []byte) (reply []byte, fatal bool) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, true
	}

	switch msg.Cmd {
	case "state":
		return s.CurrentSnapshot(), false

	case "update":
		if msg.Name == nil {
			return malformedReply, false
		}

		var record *Player
		if len(msg.Value) > 0 && !bytes.Equal(msg.Value, jsonNull) {
			record = new(Player)
			if err := json.Unmarshal(msg.Value, record); err != nil {
				return nil, true
			}
		}

		s.Submit(*msg.Name, record)
		return nil, false

	default:
		return malformedReply, false
	}
}

// reap counts idle minutes and tears the session down once the limit is
// exceeded with no submit in between.
func (s *Session) reap(tick time.Duration, limit int) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			s.idle++
			expired := s.idle > limit
			s.mu.Unlock()

			if expired {
				s.registry.remove(s.id)
				s.close()
				return
			}
		}
	}
}

// close force-closes all attached connections and stops the reaper.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		defer s.mu.Unlock()

		for c := range s.conns {
			delete(s.conns, c)
			close(c.send)
			_ = c.conn.Close()
		}
	})
}

// SessionRegistry creates sessions with fresh identifiers, resolves them for
// inbound connections, and forgets them once the reaper strikes.
type SessionRegistry struct {
	cfg  *Config
	bank *QuestionBank

	// reaper cadence; tests shrink these
	tick    time.Duration
	maxIdle int

	mu       sync.Mutex
	sessions map[string]*Session
}

func newSessionRegistry(cfg *Config, bank *QuestionBank, tick time.Duration, maxIdle int) *SessionRegistry {
	return &SessionRegistry{
		cfg:      cfg,
		bank:     bank,
		tick:     tick,
		maxIdle:  maxIdle,
		sessions: make(map[string]*Session),
	}
}

// idleTicks converts the configured session timeout into the reaper's tick
// limit, always allowing at least one full window.
func idleTicks(timeout time.Duration) int {
	return int(timeout / time.Minute)
}

// Create sets up a new session with a fresh random identifier and starts its
// reaper.
func (r *SessionRegistry) Create() *Session {
	session := &Session{
		id:       uuid.NewString(),
		registry: r,
		state:    newGameState(r.bank.Pool()),
		conns:    make(map[*wsClient]bool),
		done:     make(chan struct{}),
	}

	r.mu.Lock()
	r.sessions[session.id] = session
	r.mu.Unlock()

	go session.reap(r.tick, r.maxIdle)

	logf(r.cfg, "GAMES: Session created: %s", session.id)

	return session
}

// Lookup resolves a session id for an inbound connection.
func (r *SessionRegistry) Lookup(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[id]
	return session, ok
}

// Len reports the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sessions)
}

func (r *SessionRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; ok {
		delete(r.sessions, id)
		logf(r.cfg, "GAMES: Session deleted: %s", id)
	}
}

// Close tears down every session, for process shutdown.
func (r *SessionRegistry) Close() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for id, session := range r.sessions {
		sessions = append(sessions, session)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, session := range sessions {
		session.close()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// serveSessionSocket upgrades the connection, then resolves the session id.
// Unknown ids are rejected over the fresh socket so the client can tell a
// bad link apart from an unreachable server.
func serveSessionSocket(cfg *Config, registry *SessionRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id := ps.ByName("sessionid")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "GAMES: WebSocket upgrade error: %v", err)
			return
		}

		session, ok := registry.Lookup(id)
		if !ok {
			logf(cfg, "GAMES: WebSocket connection for unknown session: %s", id)
			_ = conn.WriteMessage(websocket.TextMessage, unknownSessionReply)
			_ = conn.Close()
			return
		}

		client := &wsClient{
			conn: conn,
			send: make(chan []byte, 8),
		}

		session.Attach(client)

		go client.writePump()
		client.readPump(cfg, session)
	}
}

// redirectNewSession handles GET $path by creating a fresh session and
// redirecting into it.
func redirectNewSession(cfg *Config, path string, registry *SessionRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		session := registry.Create()
		http.Redirect(w, r, path+"/"+session.id, http.StatusTemporaryRedirect)
	}
}

// qrHandler generates a PNG QR code for the current session URL using
// go-qrcode, for sharing a join link across the room.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if ps.ByName("sessionid") == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:sessionid/qr; strip the trailing "/qr" to get the
	// session URL.
	url := scheme + "://" + r.Host + strings.TrimSuffix(r.URL.Path, "/qr")

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

//go:embed quiz/client.html
var clientHTML []byte

//go:embed quiz/score.html
var scoreHTML []byte

func servePage(cfg *Config, page []byte) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		securityHeaders(cfg, w)

		_, _ = w.Write(page)
	}
}

// registerQuizGame sets up routes so that:
//   - $path                       → creates a session, redirects into it
//   - $path/:sessionid            → HTML player client
//   - $path/:sessionid/score      → HTML spectator scoreboard
//   - $path/:sessionid/ws         → WebSocket for that session
//   - $path/:sessionid/qr         → PNG QR code for that session URL
func registerQuizGame(cfg *Config, path string, mux *httprouter.Router, registry *SessionRegistry) {
	mux.GET(cfg.prefix+path, redirectNewSession(cfg, cfg.prefix+path, registry))

	mux.GET(cfg.prefix+path+"/:sessionid", servePage(cfg, clientHTML))

	mux.GET(cfg.prefix+path+"/:sessionid/score", servePage(cfg, scoreHTML))

	mux.GET(cfg.prefix+path+"/:sessionid/ws", serveSessionSocket(cfg, registry))

	mux.GET(cfg.prefix+path+"/:sessionid/qr", qrHandler)
}
