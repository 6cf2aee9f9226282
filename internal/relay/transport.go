// Package relay maintains the websocket session with a Nostr relay: framing,
// the per-id subscription routing table and reconnection. Everything above it
// talks in events and filters and never sees the socket.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/time/rate"
)

const (
	dialTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second

	// Publishing is bursty around trade completion; the limiter keeps a
	// misbehaving caller from flooding the relay.
	publishRPS   = 4
	publishBurst = 8
)

// Handlers receives the lifecycle of one subscription. OnEvent fires once per
// event in relay delivery order; OnEOSE fires when stored events are drained.
// Either may be nil.
type Handlers struct {
	OnEvent func(ev nostr.Event)
	OnEOSE  func()
}

type subscription struct {
	filter   nostr.Filter
	handlers Handlers
}

// Transport is a lazily-connected client session with one relay. The zero
// value is unusable; construct with NewTransport. All methods are safe for
// concurrent use.
type Transport struct {
	url     string
	log     *slog.Logger
	limiter *rate.Limiter

	mu           sync.Mutex
	conn         *websocket.Conn
	subs         map[string]*subscription
	onDisconnect func(err error)

	writeMu sync.Mutex
}

func NewTransport(url string, log *slog.Logger) *Transport {
	if log == nil {
		log = slog.Default()
	}
	return &Transport{
		url:     url,
		log:     log.With("relay", url),
		limiter: rate.NewLimiter(publishRPS, publishBurst),
		subs:    make(map[string]*subscription),
	}
}

// URL returns the relay endpoint this transport dials.
func (t *Transport) URL() string { return t.url }

// OnDisconnect registers fn to run when a live socket drops for any reason
// other than an explicit Close. The routing table survives the drop, so the
// callback typically just observes the outage; the next Publish or Subscribe
// re-dials.
func (t *Transport) OnDisconnect(fn func(err error)) {
	t.mu.Lock()
	t.onDisconnect = fn
	t.mu.Unlock()
}

// Connect establishes the websocket if it is not already up. Calling it on a
// live session is a no-op.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _, err := t.ensureConnLocked(ctx)
	return err
}

// Publish signs-and-forgets ev to the relay, dialing first when needed. A nil
// error means the frame was handed to the socket, not that the relay accepted
// the event; acceptance arrives asynchronously as an OK frame.
func (t *Transport) Publish(ctx context.Context, ev nostr.Event) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	t.mu.Lock()
	conn, _, err := t.ensureConnLocked(ctx)
	t.mu.Unlock()
	if err != nil {
		return err
	}
	frame, err := json.Marshal([]any{"EVENT", ev})
	if err != nil {
		return err
	}
	if err := t.writeFrame(conn, frame); err != nil {
		return err
	}
	publishedEvents.Inc()
	return nil
}

// Subscribe opens (or replaces) the subscription registered under id. A
// second Subscribe with the same id closes the previous one first, so exactly
// one filter is ever live per id and handlers are never stacked.
func (t *Transport) Subscribe(ctx context.Context, id string, filter nostr.Filter, handlers Handlers) error {
	t.mu.Lock()
	_, existed := t.subs[id]
	t.subs[id] = &subscription{filter: filter, handlers: handlers}
	conn, fresh, err := t.ensureConnLocked(ctx)
	t.mu.Unlock()
	if err != nil {
		return err
	}
	if fresh {
		// The dial already replayed the routing table, this entry included.
		return nil
	}
	if existed {
		if frame, err := json.Marshal([]any{"CLOSE", id}); err == nil {
			_ = t.writeFrame(conn, frame)
		}
	}
	frame, err := json.Marshal([]any{"REQ", id, filter})
	if err != nil {
		return err
	}
	return t.writeFrame(conn, frame)
}

// Unsubscribe tears down the subscription registered under id. Unknown ids
// are a no-op.
func (t *Transport) Unsubscribe(id string) {
	t.mu.Lock()
	_, ok := t.subs[id]
	delete(t.subs, id)
	conn := t.conn
	t.mu.Unlock()
	if !ok || conn == nil {
		return
	}
	if frame, err := json.Marshal([]any{"CLOSE", id}); err == nil {
		_ = t.writeFrame(conn, frame)
	}
}

// Close drops the websocket. The routing table survives, so the next Publish
// or Subscribe re-dials and re-establishes every registered subscription.
func (t *Transport) Close() {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// ensureConnLocked returns the live socket, dialing when necessary. fresh
// reports that this call established the connection and replayed the routing
// table onto it.
func (t *Transport) ensureConnLocked(ctx context.Context) (conn *websocket.Conn, fresh bool, err error) {
	if t.conn != nil {
		return t.conn, false, nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err = websocket.DefaultDialer.DialContext(dialCtx, t.url, nil)
	if err != nil {
		return nil, false, err
	}
	t.conn = conn
	reconnects.Inc()
	go t.readLoop(conn)

	// Replay the routing table onto the fresh socket.
	for id, sub := range t.subs {
		frame, err := json.Marshal([]any{"REQ", id, sub.filter})
		if err != nil {
			continue
		}
		if err := t.writeFrame(conn, frame); err != nil {
			t.log.Warn("subscription replay failed", "subscription_id", id, "err", err)
		}
	}
	return conn, true, nil
}

func (t *Transport) writeFrame(conn *websocket.Conn, frame []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// readLoop owns the receive side of one socket. Handlers run on this
// goroutine, which is what guarantees per-subscription delivery order.
func (t *Transport) readLoop(conn *websocket.Conn) {
	defer func() {
		t.mu.Lock()
		if t.conn == conn {
			t.conn = nil
		}
		t.mu.Unlock()
		_ = conn.Close()
	}()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			current := t.conn == conn
			notify := t.onDisconnect
			t.mu.Unlock()
			if current {
				t.log.Debug("relay read ended", "err", err)
				if notify != nil {
					notify(err)
				}
			}
			return
		}
		t.dispatch(raw)
	}
}

func (t *Transport) dispatch(raw []byte) {
	var frame []json.RawMessage
	if err := json.Unmarshal(raw, &frame); err != nil || len(frame) == 0 {
		return
	}
	var label string
	if err := json.Unmarshal(frame[0], &label); err != nil {
		return
	}
	switch label {
	case "EVENT":
		if len(frame) < 3 {
			return
		}
		var subID string
		if err := json.Unmarshal(frame[1], &subID); err != nil {
			return
		}
		var ev nostr.Event
		if err := json.Unmarshal(frame[2], &ev); err != nil {
			return
		}
		t.mu.Lock()
		sub := t.subs[subID]
		t.mu.Unlock()
		if sub == nil || sub.handlers.OnEvent == nil {
			return
		}
		receivedEvents.Inc()
		sub.handlers.OnEvent(ev)
	case "EOSE":
		if len(frame) < 2 {
			return
		}
		var subID string
		if err := json.Unmarshal(frame[1], &subID); err != nil {
			return
		}
		t.mu.Lock()
		sub := t.subs[subID]
		t.mu.Unlock()
		if sub != nil && sub.handlers.OnEOSE != nil {
			sub.handlers.OnEOSE()
		}
	case "OK":
		if len(frame) < 3 {
			return
		}
		var id string
		var accepted bool
		_ = json.Unmarshal(frame[1], &id)
		_ = json.Unmarshal(frame[2], &accepted)
		if !accepted {
			rejectedEvents.Inc()
			reason := ""
			if len(frame) > 3 {
				_ = json.Unmarshal(frame[3], &reason)
			}
			t.log.Warn("relay rejected event", "event_id", id, "reason", reason)
		}
	case "CLOSED":
		if len(frame) < 2 {
			return
		}
		var subID string
		if err := json.Unmarshal(frame[1], &subID); err != nil {
			return
		}
		t.mu.Lock()
		delete(t.subs, subID)
		t.mu.Unlock()
		t.log.Warn("relay closed subscription", "subscription_id", subID)
	case "NOTICE":
		msg := ""
		if len(frame) > 1 {
			_ = json.Unmarshal(frame[1], &msg)
		}
		t.log.Info("relay notice", "message", msg)
	}
}
