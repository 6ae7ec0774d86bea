package arena

import (
	"context"
	"time"

	"github.com/kako-jun/nostr-arena/nostr"
)

// Gateway is the relay transport the session consumes. The nostr.Pool
// is the production implementation; tests plug in fakes. The gateway
// owns reconnection; the session treats a disconnect as transient.
type Gateway interface {
	Connect(ctx context.Context) error
	Close() error
	Connected() bool
	// Pubkey is the hex public key events are signed with.
	Pubkey() string
	Publish(ctx context.Context, kind int, tags [][]string, content string) error
	Subscribe(ctx context.Context, filters []nostr.Filter) (Subscription, error)
	// FetchReplaceable returns the newest event at (kind, author, d-tag),
	// or nil when no relay has one.
	FetchReplaceable(ctx context.Context, kind int, author, dtag string) (*nostr.Event, error)
	SetRelays(relays []string)
}

// Subscription is a merged inbound event stream.
type Subscription interface {
	Events() <-chan *nostr.Event
	Close()
}

// poolGateway adapts *nostr.Pool to the Gateway interface (Subscribe
// returns the concrete *nostr.Subscription).
type poolGateway struct {
	*nostr.Pool
}

func (g poolGateway) Subscribe(ctx context.Context, filters []nostr.Filter) (Subscription, error) {
	return g.Pool.Subscribe(ctx, filters)
}

// Clock supplies milliseconds since epoch, non-decreasing within one
// process run. All presence decisions use this clock, never timestamps
// embedded in events.
type Clock interface {
	NowMs() uint64
}

type systemClock struct{}

func (systemClock) NowMs() uint64 {
	return uint64(time.Now().UnixMilli())
}

// TickerFactory creates the periodic tickers the session runs on, so
// tests can drive every timer by hand.
type TickerFactory interface {
	Create(d time.Duration) (<-chan time.Time, func())
}

type tickerFactory struct{}

func (tickerFactory) Create(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}
