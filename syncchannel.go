package main

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// SyncChannel backoff tuning. The first retry waits backoffInitial and each
// further attempt doubles it; once the delay would exceed backoffMax the
// channel fails permanently.
const (
	backoffInitial = 256 * time.Millisecond
	backoffMax     = 1024 * time.Millisecond
)

// ChannelEventKind enumerates the notifications a SyncChannel delivers to
// its single consumer.
type ChannelEventKind int

const (
	// ChannelEstablished fires whenever a connection (re)opens.
	ChannelEstablished ChannelEventKind = iota
	// ChannelState carries a full state snapshot, pushed or fetch-reply.
	ChannelState
	// ChannelFailed is terminal; the channel will not retry.
	ChannelFailed
)

// ChannelEvent is one notification from a SyncChannel.
type ChannelEvent struct {
	Kind   ChannelEventKind
	State  *Snapshot
	Reason string
}

type outboundUpdate struct {
	Cmd   string  `json:"cmd"`
	Name  string  `json:"name"`
	Value *Player `json:"value"`
}

// SyncChannel is a reconnecting duplex connection to one session. It buffers
// at most one pending submit (last write wins) and one pending fetch while
// disconnected, flushing both on the next ready transition, submit first so
// that the fetch observes the just-submitted value. Connection drops after a
// successful connect retry immediately once before exponential backoff; a
// backoff past the cap, or an unknown-session reply, fails the channel
// permanently.
type SyncChannel struct {
	url          string
	delayInitial time.Duration
	delayMax     time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	ready  bool
	queued []byte
	fetch  bool

	events    chan ChannelEvent
	done      chan struct{}
	closeOnce sync.Once
}

// NewSyncChannel starts connecting to the session socket at url and returns
// immediately; progress is reported through Events.
func NewSyncChannel(url string) *SyncChannel {
	return newSyncChannel(url, backoffInitial, backoffMax)
}

func newSyncChannel(url string, delayInitial, delayMax time.Duration) *SyncChannel {
	ch := &SyncChannel{
		url:          url,
		delayInitial: delayInitial,
		delayMax:     delayMax,
		events:       make(chan ChannelEvent, 16),
		done:         make(chan struct{}),
	}

	go ch.run()

	return ch
}

// Events returns the channel's notification stream, for a single consumer.
func (ch *SyncChannel) Events() <-chan ChannelEvent {
	return ch.events
}

// Submit queues the named player's record (nil removes the player) and sends
// it immediately when connected. Only the latest unsent submit survives.
func (ch *SyncChannel) Submit(name string, record *Player) {
	msg, _ := json.Marshal(outboundUpdate{
		Cmd:   "update",
		Name:  name,
		Value: record,
	})

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.ready && ch.conn != nil {
		if err := ch.conn.WriteMessage(websocket.TextMessage, msg); err == nil {
			return
		}
	}
	ch.queued = msg
}

// Fetch requests the current session snapshot, immediately or on the next
// ready transition.
func (ch *SyncChannel) Fetch() {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.ready && ch.conn != nil {
		if err := ch.conn.WriteMessage(websocket.TextMessage, []byte(`{"cmd":"state"}`)); err == nil {
			return
		}
	}
	ch.fetch = true
}

// Close stops the channel. No further events are delivered.
func (ch *SyncChannel) Close() {
	ch.closeOnce.Do(func() {
		close(ch.done)

		ch.mu.Lock()
		defer ch.mu.Unlock()

		if ch.conn != nil {
			_ = ch.conn.Close()
		}
	})
}

func (ch *SyncChannel) run() {
	delay := ch.delayInitial
	wasConnected := false

	for {
		select {
		case <-ch.done:
			return
		default:
		}

		conn, resp, err := websocket.DefaultDialer.Dial(ch.url, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			if delay <= ch.delayMax {
				select {
				case <-time.After(delay):
				case <-ch.done:
					return
				}
				delay *= 2
				continue
			}
			if wasConnected {
				ch.fail("connection to server lost")
			} else {
				ch.fail("unable to establish a connection to the server")
			}
			return
		}

		delay = ch.delayInitial
		wasConnected = true

		ch.mu.Lock()
		ch.conn = conn
		ch.ready = true
		if ch.queued != nil {
			_ = conn.WriteMessage(websocket.TextMessage, ch.queued)
			ch.queued = nil
		}
		if ch.fetch {
			ch.fetch = false
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"cmd":"state"}`))
		}
		ch.mu.Unlock()

		ch.emit(ChannelEvent{Kind: ChannelEstablished})

		fatal, reason := ch.readLoop(conn)

		ch.mu.Lock()
		ch.ready = false
		ch.conn = nil
		ch.mu.Unlock()
		_ = conn.Close()

		if fatal {
			ch.fail(reason)
			return
		}

		// Fast path: a drop after a successful connect redials immediately;
		// only a failed redial falls back into the backoff ladder above.
	}
}

// readLoop consumes inbound messages until the connection drops. A true
// return means the failure is terminal and must not be retried.
func (ch *SyncChannel) readLoop(conn *websocket.Conn) (fatal bool, reason string) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ch.done:
				return true, "closed"
			default:
				return false, ""
			}
		}

		var msg struct {
			Cmd   string    `json:"cmd"`
			State *Snapshot `json:"state"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			return false, ""
		}

		switch msg.Cmd {
		case "state":
			ch.emit(ChannelEvent{Kind: ChannelState, State: msg.State})
		case "unknown-session":
			return true, "unknown session"
		default:
			return true, "unexpected reply: " + msg.Cmd
		}
	}
}

func (ch *SyncChannel) emit(ev ChannelEvent) {
	select {
	case ch.events <- ev:
	case <-ch.done:
	}
}

func (ch *SyncChannel) fail(reason string) {
	ch.emit(ChannelEvent{Kind: ChannelFailed, Reason: reason})
}
