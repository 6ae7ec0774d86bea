package arena

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/kako-jun/nostr-arena/nostr"
)

const (
	testGame  = "sasso"
	hostPK    = "aaaa000000000000000000000000000000000000000000000000000000000001"
	guestPK   = "bbbb000000000000000000000000000000000000000000000000000000000002"
	thirdPK   = "cccc000000000000000000000000000000000000000000000000000000000003"
	testEpoch = uint64(1_000_000) // ms; where the fake clock starts
)

type testRig struct {
	a     *Arena
	gw    *fakeGateway
	clock *fakeClock
	ticks *fakeTickers
}

func newTestArena(t *testing.T, cfg Config, pubkey string) *testRig {
	t.Helper()
	gw := newFakeGateway(pubkey)
	clock := &fakeClock{now: testEpoch}
	ticks := newFakeTickers()

	a, err := New(cfg, WithGateway(gw), WithClock(clock), WithTickerFactory(ticks))
	require.NoError(t, err)
	require.NoError(t, a.Connect(context.Background()))
	t.Cleanup(func() { a.Disconnect() })

	return &testRig{a: a, gw: gw, clock: clock, ticks: ticks}
}

func (r *testRig) ctx() context.Context { return context.Background() }

// barrier waits for all previously submitted commands to finish.
func (r *testRig) barrier(t *testing.T) {
	t.Helper()
	require.NoError(t, r.a.do(r.ctx(), func() error { return nil }))
}

func (r *testRig) mode(t *testing.T) Mode {
	t.Helper()
	m, err := r.a.Mode(r.ctx())
	require.NoError(t, err)
	return m
}

func (r *testRig) waitMode(t *testing.T, want Mode) {
	t.Helper()
	require.Eventually(t, func() bool { return r.mode(t) == want },
		time.Second, 2*time.Millisecond, "mode never became %v", want)
}

func (r *testRig) waitPlayerCount(t *testing.T, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		n, err := r.a.PlayerCount(r.ctx())
		return err == nil && n == want
	}, time.Second, 2*time.Millisecond, "player count never became %d", want)
}

// waitPlayer waits until the actor has applied inbound events so that
// the given player's presence satisfies pred.
func (r *testRig) waitPlayer(t *testing.T, pubkey string, pred func(PlayerPresence) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		players, err := r.a.Players(r.ctx())
		if err != nil {
			return false
		}
		for _, p := range players {
			if p.Pubkey == pubkey {
				return pred(p)
			}
		}
		return false
	}, time.Second, 2*time.Millisecond, "player %s never reached the expected presence", pubkey)
}

// nextEvent waits for the next user event.
func nextEvent(t *testing.T, a *Arena) Event {
	t.Helper()
	select {
	case ev := <-a.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func expectNoEvent(t *testing.T, a *Arena) {
	t.Helper()
	time.Sleep(20 * time.Millisecond)
	if ev, ok := a.TryRecv(); ok {
		t.Fatalf("unexpected event %#v", ev)
	}
}

func drainEvents(a *Arena) []Event {
	var out []Event
	for {
		ev, ok := a.TryRecv()
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}

// --- inbound event builders ---

func dtagFor(roomID string) string { return roomTag(testGame, roomID) }

func ephemeralFrom(from, roomID, content string) *nostr.Event {
	return &nostr.Event{
		Pubkey:    from,
		Kind:      KindEphemeral,
		Tags:      [][]string{{"d", dtagFor(roomID)}},
		Content:   content,
		CreatedAt: time.Now().Unix(),
	}
}

func roomEventFrom(from, roomID string, createdAtSec int64, rc roomContent) *nostr.Event {
	return &nostr.Event{
		Pubkey:    from,
		Kind:      KindRoom,
		Tags:      [][]string{{"d", dtagFor(roomID)}, {"t", testGame}},
		Content:   encodeContent(rc),
		CreatedAt: createdAtSec,
	}
}

// seedRecord makes a room fetchable for Join/Reconnect.
func (r *testRig) seedRecord(roomID string, rc roomContent, createdAtSec int64) {
	r.gw.mu.Lock()
	defer r.gw.mu.Unlock()
	r.gw.fetch[dtagFor(roomID)] = &nostr.Event{
		Pubkey:    rc.HostPubkey,
		Kind:      KindRoom,
		Tags:      [][]string{{"d", dtagFor(roomID)}, {"t", testGame}},
		Content:   encodeContent(rc),
		CreatedAt: createdAtSec,
	}
}

// --- published-event queries ---

func ephemeralsOfType(g *fakeGateway, typ string) []string {
	var out []string
	for _, p := range g.publishes() {
		if p.kind == KindEphemeral && gjson.Get(p.content, "type").String() == typ {
			out = append(out, p.content)
		}
	}
	return out
}

func roomPublishes(t *testing.T, g *fakeGateway) []roomContent {
	t.Helper()
	var out []roomContent
	for _, p := range g.publishes() {
		if p.kind != KindRoom {
			continue
		}
		var rc roomContent
		require.NoError(t, json.Unmarshal([]byte(p.content), &rc))
		out = append(out, rc)
	}
	return out
}

func waitPublished(t *testing.T, g *fakeGateway, pred func() bool) {
	t.Helper()
	require.Eventually(t, pred, time.Second, 2*time.Millisecond, "expected publish never happened")
}

func lastRoomPublish(t *testing.T, g *fakeGateway) roomContent {
	t.Helper()
	records := roomPublishes(t, g)
	require.NotEmpty(t, records, "no room record published")
	return records[len(records)-1]
}
