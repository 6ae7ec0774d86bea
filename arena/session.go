package arena

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kako-jun/nostr-arena/logger"
	"github.com/kako-jun/nostr-arena/nostr"
)

const (
	cmdBuffer    = 64
	eventBuffer  = 256
	outboxBuffer = 64

	subRetryAttempts = 5
	joinAnnounceMax  = 2
)

// session is the state owned exclusively by the actor goroutine.
// Nothing outside the run loop may touch it.
type session struct {
	mode                 Mode
	isHost               bool
	room                 *RoomRecord
	playerStates         map[string]json.RawMessage
	lastStatePublishedAt uint64
	pendingState         json.RawMessage
	rematchRequests      map[string]struct{}
	gameOver             map[string]struct{}

	// Once-per-waiting-phase flags.
	started            bool
	allReadyAnnounced  bool
	countdownAnnounced bool

	countdownRemaining int
	countdownC         <-chan time.Time
	countdownStop      func()

	sub          Subscription
	subStop      chan struct{}
	subFilters   []nostr.Filter
	subRetries   int
	subRetryC    <-chan time.Time
	subRetryStop func()

	announceC    <-chan time.Time
	announceStop func()
	announceLeft int
	announceBody string
}

type outboundMsg struct {
	kind    int
	tags    [][]string
	content string
	label   string
}

// Arena coordinates one multiplayer game session over nostr relays.
// All session state lives in a single actor goroutine; public methods
// submit commands into its inbox and wait for the reply.
type Arena struct {
	cfg   Config
	gw    Gateway
	clock Clock
	ticks TickerFactory
	log   zerolog.Logger

	cmds    chan func()
	events  chan Event
	inbound chan *nostr.Event
	outbox  chan outboundMsg

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	sess session
}

// Option tweaks Arena construction; used mainly by tests and bindings.
type Option func(*Arena)

// WithGateway replaces the default relay pool gateway.
func WithGateway(gw Gateway) Option {
	return func(a *Arena) { a.gw = gw }
}

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(a *Arena) { a.clock = c }
}

// WithTickerFactory replaces the timer source.
func WithTickerFactory(tf TickerFactory) Option {
	return func(a *Arena) { a.ticks = tf }
}

// New builds an Arena with a fresh keypair.
func New(cfg Config, opts ...Option) (*Arena, error) {
	return newArena(cfg, "", opts...)
}

// NewWithSecretKey builds an Arena signing with the given hex secret
// key, keeping a stable identity across reconnects.
func NewWithSecretKey(cfg Config, secretKey string, opts ...Option) (*Arena, error) {
	return newArena(cfg, secretKey, opts...)
}

func newArena(cfg Config, secretKey string, opts ...Option) (*Arena, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Arena{
		cfg:     cfg,
		clock:   systemClock{},
		ticks:   tickerFactory{},
		log:     logger.Component("arena").With().Str("game", cfg.GameID).Logger(),
		cmds:    make(chan func(), cmdBuffer),
		events:  make(chan Event, eventBuffer),
		inbound: make(chan *nostr.Event, eventBuffer),
		outbox:  make(chan outboundMsg, outboxBuffer),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.gw == nil {
		var keys *nostr.Keys
		var err error
		if secretKey != "" {
			keys, err = nostr.ParseKeys(secretKey)
		} else {
			keys, err = nostr.GenerateKeys()
		}
		if err != nil {
			return nil, err
		}
		a.gw = poolGateway{nostr.NewPool(keys, cfg.Relays)}
	}

	a.resetSession()
	return a, nil
}

// Pubkey returns the session's signing identity.
func (a *Arena) Pubkey() string {
	return a.gw.Pubkey()
}

// Events exposes the user event channel directly.
func (a *Arena) Events() <-chan Event {
	return a.events
}

// Recv blocks for the next user event.
func (a *Arena) Recv(ctx context.Context) (Event, error) {
	select {
	case ev := <-a.events:
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryRecv returns the next user event without blocking.
func (a *Arena) TryRecv() (Event, bool) {
	select {
	case ev := <-a.events:
		return ev, true
	default:
		return nil, false
	}
}

// Connect dials the relays and starts the session actor and its
// background tasks. They stop when ctx is cancelled or on Disconnect.
func (a *Arena) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	if err := a.gw.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)

	a.mu.Lock()
	a.running = true
	a.cancel = func() { stop(); cancel() }
	a.done = make(chan struct{})
	a.mu.Unlock()

	go a.outboundLoop(runCtx)
	go a.run(runCtx)
	return nil
}

// Disconnect stops all background tasks and releases the relay
// subscription. Pending commands fail with ErrNotConnected.
func (a *Arena) Disconnect() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	cancel := a.cancel
	done := a.done
	a.mu.Unlock()

	if len(a.cmds) > 0 {
		a.emit(EventError{Message: "disconnected"})
	}
	cancel()
	<-done
	return a.gw.Close()
}

// Connected reports gateway connectivity.
func (a *Arena) Connected() bool {
	return a.gw.Connected()
}

// do submits fn to the actor and waits for its result.
func (a *Arena) do(ctx context.Context, fn func() error) error {
	a.mu.Lock()
	running := a.running
	done := a.done
	a.mu.Unlock()
	if !running {
		return ErrNotConnected
	}

	errc := make(chan error, 1)
	select {
	case a.cmds <- func() { errc <- fn() }:
	case <-done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errc:
		return err
	case <-done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the actor loop. It owns a.sess; every mutation happens here.
func (a *Arena) run(ctx context.Context) {
	defer close(a.done)

	heartbeatC, stopHeartbeat := a.ticks.Create(time.Duration(a.cfg.HeartbeatInterval) * time.Millisecond)
	defer stopHeartbeat()
	presenceC, stopPresence := a.ticks.Create(presenceUpdateIntervalMs * time.Millisecond)
	defer stopPresence()
	flushC, stopFlush := a.ticks.Create(time.Duration(a.cfg.StateThrottle) * time.Millisecond)
	defer stopFlush()

	defer a.releaseSession()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-a.cmds:
			cmd()
		case ev := <-a.inbound:
			a.dispatch(ev)
		case <-heartbeatC:
			a.publishHeartbeat()
		case <-presenceC:
			a.presenceSweep()
		case <-flushC:
			a.flushPendingState()
		case <-a.sess.countdownC:
			a.countdownTick()
		case <-a.sess.subRetryC:
			a.retrySubscribe()
		case <-a.sess.announceC:
			a.announceTick()
		}
	}
}

// emit delivers a user event without ever blocking the actor.
func (a *Arena) emit(ev Event) {
	select {
	case a.events <- ev:
	default:
		a.log.Warn().Type("event", ev).Msg("event channel full, dropping")
	}
}

// enqueue hands an event to the outbound pipeline.
func (a *Arena) enqueue(msg outboundMsg) {
	select {
	case a.outbox <- msg:
	default:
		a.emit(EventError{Message: fmt.Sprintf("publish failed: outbox full (%s)", msg.label)})
	}
}

// outboundLoop serializes publishes through the gateway. Failures
// surface as Error events; local state is not rolled back — the next
// heartbeat or state publish re-establishes truth for peers.
func (a *Arena) outboundLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-a.outbox:
			if err := a.gw.Publish(ctx, msg.kind, msg.tags, msg.content); err != nil {
				a.log.Warn().Err(err).Str("label", msg.label).Msg("publish failed")
				a.emit(EventError{Message: fmt.Sprintf("publish failed: %v", err)})
			}
		}
	}
}

func (a *Arena) publishEphemeral(label, content string) {
	if a.sess.room == nil {
		return
	}
	a.enqueue(outboundMsg{
		kind:    KindEphemeral,
		tags:    [][]string{{"d", a.sess.room.DTag()}},
		content: content,
		label:   label,
	})
}

// publishRoomRecord publishes the current room snapshot. Host only.
func (a *Arena) publishRoomRecord() {
	room := a.sess.room
	if room == nil || !a.sess.isHost {
		return
	}
	content := roomContent{
		Status:     room.Status,
		Seed:       room.Seed,
		HostPubkey: room.HostPubkey,
		MaxPlayers: room.MaxPlayers,
		ExpiresAt:  room.ExpiresAt,
		Players:    append([]PlayerPresence(nil), room.Players...),
	}
	a.enqueue(outboundMsg{
		kind:    KindRoom,
		tags:    [][]string{{"d", room.DTag()}, {"t", room.GameID}},
		content: encodeContent(content),
		label:   "room",
	})
}

// startSubscription opens the merged room/ephemeral stream for the
// current room. On failure the retry timer takes over (1 Hz, five
// attempts, then back to Idle).
func (a *Arena) startSubscription(roomID string) {
	a.sess.subFilters = []nostr.Filter{{
		Kinds: []int{KindRoom, KindEphemeral},
		DTags: []string{roomTag(a.cfg.GameID, roomID)},
	}}
	a.sess.subRetries = subRetryAttempts
	a.openSubscription()
}

func (a *Arena) openSubscription() {
	sub, err := a.gw.Subscribe(context.Background(), a.sess.subFilters)
	if err != nil {
		a.emit(EventError{Message: fmt.Sprintf("subscribe failed: %v", err)})
		if a.sess.subRetryC == nil {
			a.sess.subRetryC, a.sess.subRetryStop = a.ticks.Create(time.Second)
		}
		return
	}
	a.stopSubRetry()
	a.sess.sub = sub
	a.sess.subStop = make(chan struct{})
	go a.inboundPump(sub, a.sess.subStop)
}

func (a *Arena) retrySubscribe() {
	if a.sess.subFilters == nil || a.sess.sub != nil {
		a.stopSubRetry()
		return
	}
	if a.sess.subRetries <= 0 {
		a.stopSubRetry()
		a.emit(EventError{Message: "subscribe failed: giving up"})
		a.resetToIdle()
		return
	}
	a.sess.subRetries--
	a.openSubscription()
}

func (a *Arena) stopSubRetry() {
	if a.sess.subRetryStop != nil {
		a.sess.subRetryStop()
	}
	a.sess.subRetryC = nil
	a.sess.subRetryStop = nil
}

// inboundPump feeds the merged subscription into the actor.
func (a *Arena) inboundPump(sub Subscription, stop chan struct{}) {
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			select {
			case a.inbound <- ev:
			case <-stop:
				return
			}
		case <-stop:
			return
		}
	}
}

// scheduleJoinAnnounce re-publishes the join ephemeral a couple of
// times so a relay dropping the first copy does not strand the player.
func (a *Arena) scheduleJoinAnnounce(body string) {
	a.stopAnnounce()
	a.sess.announceBody = body
	a.sess.announceLeft = joinAnnounceMax
	a.sess.announceC, a.sess.announceStop = a.ticks.Create(500 * time.Millisecond)
}

func (a *Arena) announceTick() {
	if a.sess.room == nil || a.sess.announceLeft <= 0 {
		a.stopAnnounce()
		return
	}
	a.publishEphemeral("join", a.sess.announceBody)
	a.sess.announceLeft--
	if a.sess.announceLeft == 0 {
		a.stopAnnounce()
	}
}

func (a *Arena) stopAnnounce() {
	if a.sess.announceStop != nil {
		a.sess.announceStop()
	}
	a.sess.announceC = nil
	a.sess.announceStop = nil
	a.sess.announceLeft = 0
}

// resetSession returns the actor state to Idle, releasing the
// subscription and any live timers.
func (a *Arena) resetSession() {
	a.releaseSession()
	a.sess = session{
		mode:            ModeIdle,
		playerStates:    make(map[string]json.RawMessage),
		rematchRequests: make(map[string]struct{}),
		gameOver:        make(map[string]struct{}),
	}
}

func (a *Arena) releaseSession() {
	if a.sess.subStop != nil {
		close(a.sess.subStop)
		a.sess.subStop = nil
	}
	if a.sess.sub != nil {
		a.sess.sub.Close()
		a.sess.sub = nil
	}
	a.cancelCountdown()
	a.stopSubRetry()
	a.stopAnnounce()
}

func (a *Arena) resetToIdle() {
	a.resetSession()
}

// beginWaitingPhase clears the once-per-phase flags.
func (a *Arena) beginWaitingPhase() {
	a.sess.started = false
	a.sess.allReadyAnnounced = false
	a.sess.countdownAnnounced = false
	a.sess.gameOver = make(map[string]struct{})
	a.sess.rematchRequests = make(map[string]struct{})
}
