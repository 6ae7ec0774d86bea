package arena

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/kako-jun/nostr-arena/nostr"
)

// --- Gateway (testify) ---

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Connect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockGateway) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockGateway) Connected() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockGateway) Pubkey() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockGateway) Publish(ctx context.Context, kind int, tags [][]string, content string) error {
	args := m.Called(ctx, kind, tags, content)
	return args.Error(0)
}

func (m *MockGateway) Subscribe(ctx context.Context, filters []nostr.Filter) (Subscription, error) {
	args := m.Called(ctx, filters)
	if sub := args.Get(0); sub != nil {
		return sub.(Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockGateway) FetchReplaceable(ctx context.Context, kind int, author, dtag string) (*nostr.Event, error) {
	args := m.Called(ctx, kind, author, dtag)
	if ev := args.Get(0); ev != nil {
		return ev.(*nostr.Event), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockGateway) SetRelays(relays []string) {
	m.Called(relays)
}

// --- fake gateway ---
//
// The hand-rolled fake is what the scenario tests drive: it records
// publishes and lets the test inject inbound events as if a relay
// delivered them.

type publishedEvent struct {
	kind    int
	tags    [][]string
	content string
}

type fakeSub struct {
	ch     chan *nostr.Event
	mu     sync.Mutex
	closed bool
}

func (s *fakeSub) Events() <-chan *nostr.Event { return s.ch }

func (s *fakeSub) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

type fakeGateway struct {
	mu        sync.Mutex
	pubkey    string
	connected bool
	published []publishedEvent
	fetch     map[string]*nostr.Event
	subs      []*fakeSub
	subErrs   int // consume one error per Subscribe call while > 0
	pubErr    error
}

func newFakeGateway(pubkey string) *fakeGateway {
	return &fakeGateway{pubkey: pubkey, fetch: make(map[string]*nostr.Event)}
}

func (g *fakeGateway) Connect(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connected = true
	return nil
}

func (g *fakeGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connected = false
	return nil
}

func (g *fakeGateway) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

func (g *fakeGateway) Pubkey() string { return g.pubkey }

func (g *fakeGateway) Publish(ctx context.Context, kind int, tags [][]string, content string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pubErr != nil {
		return g.pubErr
	}
	g.published = append(g.published, publishedEvent{kind: kind, tags: tags, content: content})
	return nil
}

func (g *fakeGateway) Subscribe(ctx context.Context, filters []nostr.Filter) (Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.subErrs > 0 {
		g.subErrs--
		return nil, context.DeadlineExceeded
	}
	sub := &fakeSub{ch: make(chan *nostr.Event, 64)}
	g.subs = append(g.subs, sub)
	return sub, nil
}

func (g *fakeGateway) FetchReplaceable(ctx context.Context, kind int, author, dtag string) (*nostr.Event, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fetch[dtag], nil
}

func (g *fakeGateway) SetRelays(relays []string) {}

// deliver injects an inbound event into every open subscription.
func (g *fakeGateway) deliver(ev *nostr.Event) {
	g.mu.Lock()
	subs := append([]*fakeSub(nil), g.subs...)
	g.mu.Unlock()
	for _, s := range subs {
		s.mu.Lock()
		if !s.closed {
			s.ch <- ev
		}
		s.mu.Unlock()
	}
}

// publishes returns a snapshot of everything published so far.
func (g *fakeGateway) publishes() []publishedEvent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]publishedEvent(nil), g.published...)
}

// --- clock ---

type fakeClock struct {
	mu  sync.Mutex
	now uint64
}

func (c *fakeClock) NowMs() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(ms uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += ms
}

// --- tickers ---

// fakeTickers hands out manual channels keyed by period, so each test
// drives exactly the timer it wants.
type fakeTickers struct {
	mu    sync.Mutex
	chans map[time.Duration][]chan time.Time
}

func newFakeTickers() *fakeTickers {
	return &fakeTickers{chans: make(map[time.Duration][]chan time.Time)}
}

func (f *fakeTickers) Create(d time.Duration) (<-chan time.Time, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan time.Time, 8)
	f.chans[d] = append(f.chans[d], ch)
	return ch, func() {}
}

// fire ticks every ticker created with the given period. Channels the
// session no longer selects on just buffer the tick.
func (f *fakeTickers) fire(d time.Duration) {
	f.mu.Lock()
	chans := append([]chan time.Time(nil), f.chans[d]...)
	f.mu.Unlock()
	for _, ch := range chans {
		select {
		case ch <- time.Now():
		default:
		}
	}
}
