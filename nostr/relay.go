package nostr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/kako-jun/nostr-arena/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = time.Minute
	pingPeriod     = 30 * time.Second
	publishTimeout = 10 * time.Second
	maxBackoff     = 30 * time.Second
)

var errRelayClosed = errors.New("relay closed")

type okResult struct {
	accepted bool
	reason   string
}

// Relay maintains one websocket connection to a relay. It reconnects
// with capped exponential backoff and re-issues live subscriptions
// after every reconnect.
type Relay struct {
	url     string
	log     zerolog.Logger
	onEvent func(subID string, ev *Event)
	onEOSE  func(subID string)

	mu        sync.Mutex
	conn      *websocket.Conn
	subs      map[string][]Filter
	pendingOK map[string]chan okResult
	connected bool
	closed    bool

	done chan struct{}
}

// NewRelay creates a relay handle. onEvent/onEOSE are called from the
// read pump; they must not block.
func NewRelay(url string, onEvent func(subID string, ev *Event), onEOSE func(subID string)) *Relay {
	return &Relay{
		url:       url,
		log:       logger.Component("relay").With().Str("url", url).Logger(),
		onEvent:   onEvent,
		onEOSE:    onEOSE,
		subs:      make(map[string][]Filter),
		pendingOK: make(map[string]chan okResult),
		done:      make(chan struct{}),
	}
}

// Run dials the relay and keeps the connection alive until ctx is done
// or Close is called. It returns immediately; dialing and the retry loop
// run in the background.
func (r *Relay) Run(ctx context.Context) {
	go r.loop(ctx)
}

func (r *Relay) loop(ctx context.Context) {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, r.url, nil)
		if err != nil {
			r.log.Warn().Err(err).Msg("dial failed")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			case <-r.done:
				return
			}
			if backoff *= 2; backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})

		r.mu.Lock()
		r.conn = conn
		r.connected = true
		resub := make(map[string][]Filter, len(r.subs))
		for id, fs := range r.subs {
			resub[id] = fs
		}
		r.mu.Unlock()

		r.log.Debug().Msg("connected")
		for id, fs := range resub {
			r.writeFrame(reqFrame(id, fs))
		}

		stop := make(chan struct{})
		go r.pingLoop(conn, stop)
		r.readLoop(conn)
		close(stop)

		r.mu.Lock()
		r.connected = false
		r.conn = nil
		r.mu.Unlock()
	}
}

func (r *Relay) pingLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-stop:
			return
		case <-r.done:
			return
		}
	}
}

func (r *Relay) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-r.done:
			default:
				r.log.Debug().Err(err).Msg("read failed")
			}
			conn.Close()
			return
		}
		r.handleFrame(data)
	}
}

func (r *Relay) handleFrame(data []byte) {
	var frame []json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil || len(frame) < 2 {
		return
	}
	var label string
	if json.Unmarshal(frame[0], &label) != nil {
		return
	}

	switch label {
	case "EVENT":
		if len(frame) < 3 {
			return
		}
		var subID string
		if json.Unmarshal(frame[1], &subID) != nil {
			return
		}
		ev := &Event{}
		if json.Unmarshal(frame[2], ev) != nil {
			return
		}
		if !ev.Verify() {
			r.log.Debug().Str("id", ev.ID).Msg("dropping event with bad signature")
			return
		}
		r.onEvent(subID, ev)

	case "EOSE":
		var subID string
		if json.Unmarshal(frame[1], &subID) == nil {
			r.onEOSE(subID)
		}

	case "OK":
		if len(frame) < 3 {
			return
		}
		var id string
		var accepted bool
		reason := ""
		if json.Unmarshal(frame[1], &id) != nil || json.Unmarshal(frame[2], &accepted) != nil {
			return
		}
		if len(frame) > 3 {
			json.Unmarshal(frame[3], &reason)
		}
		r.mu.Lock()
		ch := r.pendingOK[id]
		delete(r.pendingOK, id)
		r.mu.Unlock()
		if ch != nil {
			ch <- okResult{accepted: accepted, reason: reason}
		}

	case "NOTICE":
		var msg string
		if json.Unmarshal(frame[1], &msg) == nil {
			r.log.Debug().Str("notice", msg).Msg("relay notice")
		}
	}
}

func (r *Relay) writeFrame(frame []byte) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("relay %s: not connected", r.url)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// Publish sends the event and waits for the relay's OK.
func (r *Relay) Publish(ctx context.Context, ev *Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	frame, err := json.Marshal([]json.RawMessage{json.RawMessage(`"EVENT"`), raw})
	if err != nil {
		return err
	}

	ok := make(chan okResult, 1)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errRelayClosed
	}
	r.pendingOK[ev.ID] = ok
	r.mu.Unlock()

	if err := r.writeFrame(frame); err != nil {
		r.mu.Lock()
		delete(r.pendingOK, ev.ID)
		r.mu.Unlock()
		return err
	}

	select {
	case res := <-ok:
		if !res.accepted {
			return fmt.Errorf("relay %s rejected event: %s", r.url, res.reason)
		}
		return nil
	case <-time.After(publishTimeout):
		r.mu.Lock()
		delete(r.pendingOK, ev.ID)
		r.mu.Unlock()
		return fmt.Errorf("relay %s: publish timed out", r.url)
	case <-ctx.Done():
		r.mu.Lock()
		delete(r.pendingOK, ev.ID)
		r.mu.Unlock()
		return ctx.Err()
	}
}

// Subscribe registers a REQ. The filters are remembered so the
// subscription survives reconnects.
func (r *Relay) Subscribe(subID string, filters []Filter) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errRelayClosed
	}
	r.subs[subID] = filters
	r.mu.Unlock()
	// A write failure is fine here: the REQ is re-issued on reconnect.
	r.writeFrame(reqFrame(subID, filters))
	return nil
}

// Unsubscribe drops the subscription and sends CLOSE.
func (r *Relay) Unsubscribe(subID string) {
	r.mu.Lock()
	delete(r.subs, subID)
	r.mu.Unlock()
	if frame, err := json.Marshal([]any{"CLOSE", subID}); err == nil {
		r.writeFrame(frame)
	}
}

// Connected reports whether the websocket is currently up.
func (r *Relay) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// URL returns the relay url.
func (r *Relay) URL() string {
	return r.url
}

// Close tears the connection down permanently.
func (r *Relay) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	conn := r.conn
	r.mu.Unlock()
	close(r.done)
	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		conn.Close()
	}
}

func reqFrame(subID string, filters []Filter) []byte {
	parts := []any{"REQ", subID}
	for _, f := range filters {
		parts = append(parts, f)
	}
	frame, _ := json.Marshal(parts)
	return frame
}
