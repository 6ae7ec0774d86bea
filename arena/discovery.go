package arena

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/kako-jun/nostr-arena/logger"
	"github.com/kako-jun/nostr-arena/nostr"
)

const defaultQuiescence = time.Second

// DiscoverOptions tune a room listing.
type DiscoverOptions struct {
	// Status keeps only rooms in this status when set.
	Status *RoomStatus
	// Limit caps the result count. 0 means 20.
	Limit int
	// Quiescence is how long to wait after the last inbound record
	// before considering the listing complete. 0 means 1 s.
	Quiescence time.Duration
}

// ListRooms lists rooms for a game over an already-connected gateway.
// Results are ordered by decreasing created_at. Deleted and expired
// rooms are filtered out; undecodable records are counted and dropped.
func ListRooms(ctx context.Context, gw Gateway, gameID string, opts DiscoverOptions) ([]RoomInfo, error) {
	return listRooms(ctx, gw, gameID, opts, systemClock{})
}

// ListRoomsOnRelays is the standalone discovery entry point: it spins
// up a throwaway identity, queries the given relays, and tears the
// connection down again.
func ListRoomsOnRelays(ctx context.Context, gameID string, relays []string, opts DiscoverOptions) ([]RoomInfo, error) {
	keys, err := nostr.GenerateKeys()
	if err != nil {
		return nil, err
	}
	if len(relays) == 0 {
		relays = DefaultRelays
	}
	gw := poolGateway{nostr.NewPool(keys, relays)}
	if err := gw.Connect(ctx); err != nil {
		return nil, err
	}
	defer gw.Close()
	return listRooms(ctx, gw, gameID, opts, systemClock{})
}

func listRooms(ctx context.Context, gw Gateway, gameID string, opts DiscoverOptions, clock Clock) ([]RoomInfo, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	window := opts.Quiescence
	if window <= 0 {
		window = defaultQuiescence
	}

	sub, err := gw.Subscribe(ctx, []nostr.Filter{{
		Kinds:    []int{KindRoom},
		Hashtags: []string{gameID},
		Limit:    limit * 2,
	}})
	if err != nil {
		return nil, err
	}
	defer sub.Close()

	type address struct{ author, dtag string }
	latest := make(map[address]*nostr.Event)

	quiet := time.NewTimer(window)
	defer quiet.Stop()

collect:
	for len(latest) < limit*2 {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				break collect
			}
			addr := address{author: ev.Pubkey, dtag: ev.TagValue("d")}
			if cur, seen := latest[addr]; !seen || ev.CreatedAt > cur.CreatedAt {
				latest[addr] = ev
			}
			if !quiet.Stop() {
				select {
				case <-quiet.C:
				default:
				}
			}
			quiet.Reset(window)
		case <-quiet.C:
			break collect
		case <-ctx.Done():
			break collect
		}
	}

	now := clock.NowMs()
	malformed := 0
	rooms := make([]RoomInfo, 0, len(latest))
	for addr, ev := range latest {
		rc, err := decodeRoomContent(ev.Content)
		if err != nil {
			malformed++
			continue
		}
		if rc.Status == StatusDeleted {
			continue
		}
		if rc.ExpiresAt != 0 && now >= rc.ExpiresAt {
			continue
		}
		if opts.Status != nil && rc.Status != *opts.Status {
			continue
		}
		rooms = append(rooms, RoomInfo{
			RoomID:      strings.TrimPrefix(addr.dtag, gameID+"-"),
			GameID:      gameID,
			Status:      rc.Status,
			HostPubkey:  rc.HostPubkey,
			PlayerCount: len(rc.Players),
			MaxPlayers:  rc.MaxPlayers,
			CreatedAt:   uint64(ev.CreatedAt) * 1000,
			ExpiresAt:   rc.ExpiresAt,
			Seed:        rc.Seed,
		})
	}
	if malformed > 0 {
		logger.Debugf("discovery: dropped %d undecodable room records", malformed)
	}

	sort.SliceStable(rooms, func(i, j int) bool {
		if rooms[i].CreatedAt != rooms[j].CreatedAt {
			return rooms[i].CreatedAt > rooms[j].CreatedAt
		}
		return rooms[i].RoomID < rooms[j].RoomID
	})
	if len(rooms) > limit {
		rooms = rooms[:limit]
	}
	return rooms, nil
}
