package nostr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/kako-jun/nostr-arena/logger"
)

const (
	connectTimeout = 10 * time.Second
	fetchTimeout   = 5 * time.Second
	subBuffer      = 256
	seenCap        = 4096
)

// ErrNoRelays is returned when the pool has no reachable relay.
var ErrNoRelays = errors.New("no relay reachable")

// Pool fans a single client identity out over several relays: publishes
// go to every relay, inbound events arrive on one merged stream,
// deduplicated by event id.
type Pool struct {
	keys    *Keys
	log     zerolog.Logger
	limiter *rate.Limiter

	mu      sync.Mutex
	relays  map[string]*Relay
	subs    map[string]*Subscription
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Subscription is a merged, deduplicated event stream from every relay
// in the pool.
type Subscription struct {
	id      string
	pool    *Pool
	filters []Filter
	ch      chan *Event
	eose    chan string

	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	done  bool
}

// NewPool creates a pool for the given identity and relay set. Nothing
// is dialed until Connect.
func NewPool(keys *Keys, urls []string) *Pool {
	p := &Pool{
		keys:    keys,
		log:     logger.Component("pool"),
		limiter: rate.NewLimiter(rate.Limit(20), 40),
		relays:  make(map[string]*Relay),
		subs:    make(map[string]*Subscription),
	}
	for _, u := range urls {
		p.relays[u] = p.newRelay(u)
	}
	return p
}

func (p *Pool) newRelay(url string) *Relay {
	return NewRelay(url, p.dispatchEvent, p.dispatchEOSE)
}

// Pubkey returns the hex public key the pool signs with.
func (p *Pool) Pubkey() string {
	return p.keys.PublicKey()
}

// SetRelays replaces the relay set. Removed relays are closed; added
// relays are dialed immediately when the pool is running.
func (p *Pool) SetRelays(urls []string) {
	want := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		want[u] = struct{}{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for u, r := range p.relays {
		if _, ok := want[u]; !ok {
			r.Close()
			delete(p.relays, u)
		}
	}
	for u := range want {
		if _, ok := p.relays[u]; ok {
			continue
		}
		r := p.newRelay(u)
		p.relays[u] = r
		if p.started {
			for id, sub := range p.subs {
				r.Subscribe(id, sub.filters)
			}
			r.Run(p.ctx)
		}
	}
}

// Connect dials every relay and waits for at least one to come up.
func (p *Pool) Connect(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.started = true
		p.ctx, p.cancel = context.WithCancel(context.Background())
		for _, r := range p.relays {
			r.Run(p.ctx)
		}
	}
	p.mu.Unlock()

	deadline := time.NewTimer(connectTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		if p.Connected() {
			return nil
		}
		select {
		case <-tick.C:
		case <-deadline.C:
			return ErrNoRelays
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close tears down every relay connection and subscription.
func (p *Pool) Close() error {
	p.mu.Lock()
	subs := make([]*Subscription, 0, len(p.subs))
	for _, s := range p.subs {
		subs = append(subs, s)
	}
	relays := make([]*Relay, 0, len(p.relays))
	for _, r := range p.relays {
		relays = append(relays, r)
	}
	cancel := p.cancel
	p.started = false
	p.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	for _, r := range relays {
		r.Close()
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

// Connected reports whether at least one relay is up.
func (p *Pool) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.relays {
		if r.Connected() {
			return true
		}
	}
	return false
}

// Publish signs and sends an event to every relay. It succeeds when at
// least one relay accepts it.
func (p *Pool) Publish(ctx context.Context, kind int, tags [][]string, content string) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	ev := &Event{
		CreatedAt: time.Now().Unix(),
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
	if err := ev.Sign(p.keys); err != nil {
		return err
	}

	p.mu.Lock()
	relays := make([]*Relay, 0, len(p.relays))
	for _, r := range p.relays {
		relays = append(relays, r)
	}
	p.mu.Unlock()
	if len(relays) == 0 {
		return ErrNoRelays
	}

	var wg sync.WaitGroup
	results := make(chan error, len(relays))
	for _, r := range relays {
		wg.Add(1)
		go func(r *Relay) {
			defer wg.Done()
			results <- r.Publish(ctx, ev)
		}(r)
	}
	wg.Wait()
	close(results)

	var firstErr error
	for err := range results {
		if err == nil {
			return nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return fmt.Errorf("publish failed on all relays: %w", firstErr)
}

// Subscribe opens a merged subscription across every relay.
func (p *Pool) Subscribe(ctx context.Context, filters []Filter) (*Subscription, error) {
	sub := &Subscription{
		id:      uuid.NewString(),
		pool:    p,
		filters: filters,
		ch:      make(chan *Event, subBuffer),
		eose:    make(chan string, 16),
		seen:    make(map[string]struct{}, seenCap),
	}

	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil, ErrNoRelays
	}
	p.subs[sub.id] = sub
	relays := make([]*Relay, 0, len(p.relays))
	for _, r := range p.relays {
		relays = append(relays, r)
	}
	p.mu.Unlock()

	for _, r := range relays {
		r.Subscribe(sub.id, filters)
	}
	return sub, nil
}

// FetchReplaceable returns the newest replaceable event for
// (kind, author, d-tag), or nil when no relay has one.
func (p *Pool) FetchReplaceable(ctx context.Context, kind int, author, dtag string) (*Event, error) {
	filter := Filter{
		Kinds: []int{kind},
		DTags: []string{dtag},
		Limit: 1,
	}
	if author != "" {
		filter.Authors = []string{author}
	}
	sub, err := p.Subscribe(ctx, []Filter{filter})
	if err != nil {
		return nil, err
	}
	defer sub.Close()

	p.mu.Lock()
	relayCount := len(p.relays)
	p.mu.Unlock()

	deadline := time.NewTimer(fetchTimeout)
	defer deadline.Stop()

	var best *Event
	eoseSeen := 0
	for {
		select {
		case ev := <-sub.ch:
			if best == nil || ev.CreatedAt > best.CreatedAt {
				best = ev
			}
		case <-sub.eose:
			eoseSeen++
			if eoseSeen >= relayCount {
				return best, nil
			}
		case <-deadline.C:
			return best, nil
		case <-ctx.Done():
			return best, ctx.Err()
		}
	}
}

func (p *Pool) dispatchEvent(subID string, ev *Event) {
	p.mu.Lock()
	sub := p.subs[subID]
	p.mu.Unlock()
	if sub == nil {
		return
	}
	sub.deliver(ev, p.log)
}

func (p *Pool) dispatchEOSE(subID string) {
	p.mu.Lock()
	sub := p.subs[subID]
	p.mu.Unlock()
	if sub == nil {
		return
	}
	select {
	case sub.eose <- subID:
	default:
	}
}

// Events returns the merged event stream.
func (s *Subscription) Events() <-chan *Event {
	return s.ch
}

func (s *Subscription) deliver(ev *Event, log zerolog.Logger) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	if _, dup := s.seen[ev.ID]; dup {
		s.mu.Unlock()
		return
	}
	s.seen[ev.ID] = struct{}{}
	s.order = append(s.order, ev.ID)
	if len(s.order) > seenCap {
		delete(s.seen, s.order[0])
		s.order = s.order[1:]
	}
	s.mu.Unlock()

	select {
	case s.ch <- ev:
	default:
		log.Warn().Str("sub", s.id).Msg("subscription buffer full, dropping event")
	}
}

// Close unsubscribes from every relay and releases the stream.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.mu.Unlock()

	s.pool.mu.Lock()
	delete(s.pool.subs, s.id)
	relays := make([]*Relay, 0, len(s.pool.relays))
	for _, r := range s.pool.relays {
		relays = append(relays, r)
	}
	s.pool.mu.Unlock()

	for _, r := range relays {
		r.Unsubscribe(s.id)
	}
}
