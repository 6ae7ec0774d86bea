package arena

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// Scenario: rematch negotiation, host side.
func TestRematch_HostFlow(t *testing.T) {
	rig := newTestArena(t, NewConfig(testGame), hostPK)
	roomID := playingRoom(t, rig)

	// host tops out; with one player remaining the game is over
	require.NoError(t, rig.a.SendGameOver(rig.ctx(), "defeat", nil, ""))
	over, ok := nextEvent(t, rig.a).(EventPlayerGameOver)
	require.True(t, ok)
	assert.Equal(t, hostPK, over.Pubkey)
	assert.Equal(t, ModeFinished, rig.mode(t))
	waitPublished(t, rig.gw, func() bool {
		records := roomPublishes(t, rig.gw)
		return len(records) > 0 && records[len(records)-1].Status == StatusFinished
	})

	require.NoError(t, rig.a.RequestRematch(rig.ctx()))
	req, ok := nextEvent(t, rig.a).(EventRematchRequested)
	require.True(t, ok)
	assert.Equal(t, hostPK, req.Pubkey)

	rig.gw.deliver(ephemeralFrom(guestPK, roomID, encodeContent(rematchMsg{Type: typeRematch, Action: rematchRequest})))
	req, ok = nextEvent(t, rig.a).(EventRematchRequested)
	require.True(t, ok)
	assert.Equal(t, guestPK, req.Pubkey)

	require.NoError(t, rig.a.AcceptRematch(rig.ctx()))
	start, ok := nextEvent(t, rig.a).(EventRematchStart)
	require.True(t, ok)

	// the accept carries the new seed, and the fresh waiting record
	// adopts it
	waitPublished(t, rig.gw, func() bool { return len(ephemeralsOfType(rig.gw, typeRematch)) >= 2 })
	accepts := ephemeralsOfType(rig.gw, typeRematch)
	accept := accepts[len(accepts)-1]
	assert.Equal(t, "accept", gjson.Get(accept, "action").String())
	assert.Equal(t, start.Seed, gjson.Get(accept, "new_seed").Uint())

	assert.Equal(t, ModeWaiting, rig.mode(t))
	waitPublished(t, rig.gw, func() bool {
		records := roomPublishes(t, rig.gw)
		last := records[len(records)-1]
		return last.Status == StatusWaiting && last.Seed == start.Seed
	})
	for _, p := range lastRoomPublish(t, rig.gw).Players {
		assert.False(t, p.Ready, "ready flags reset on rematch")
	}

	states, err := rig.a.PlayerStates(rig.ctx())
	require.NoError(t, err)
	assert.Empty(t, states, "player states cleared on rematch")
}

// Scenario: rematch negotiation, guest side (seed 42 from the wire).
func TestRematch_GuestAdoptsSeed(t *testing.T) {
	rig := newTestArena(t, NewConfig(testGame), guestPK)
	rig.joinAsGuest(t, "room10")
	guest := PlayerPresence{Pubkey: guestPK, JoinedAt: testEpoch, LastSeen: testEpoch}
	rig.gw.deliver(roomEventFrom(hostPK, "room10", int64(testEpoch/1000)+1, hostRecord(StatusPlaying, hostPresence(), guest)))
	rig.waitMode(t, ModePlaying)
	drainEvents(rig.a)

	// some state arrives, then the host reports game over
	rig.gw.deliver(ephemeralFrom(hostPK, "room10", encodeContent(stateMsg{Type: typeState, GameState: json.RawMessage(`{"rows":4}`)})))
	_, ok := nextEvent(t, rig.a).(EventPlayerState)
	require.True(t, ok)

	rig.gw.deliver(ephemeralFrom(hostPK, "room10", encodeContent(gameOverMsg{Type: typeGameOver, Reason: "defeat"})))
	_, ok = nextEvent(t, rig.a).(EventPlayerGameOver)
	require.True(t, ok)
	rig.waitMode(t, ModeFinished)

	seed := uint64(42)
	rig.gw.deliver(ephemeralFrom(hostPK, "room10", encodeContent(rematchMsg{Type: typeRematch, Action: rematchAccept, NewSeed: &seed})))
	start, ok := nextEvent(t, rig.a).(EventRematchStart)
	require.True(t, ok)
	assert.Equal(t, uint64(42), start.Seed)

	rig.waitMode(t, ModeWaiting)
	room, err := rig.a.Room(rig.ctx())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), room.Seed)

	states, err := rig.a.PlayerStates(rig.ctx())
	require.NoError(t, err)
	assert.Empty(t, states)
}

func TestRematch_GuestAcceptDoesNotRotateSeed(t *testing.T) {
	rig := newTestArena(t, NewConfig(testGame), guestPK)
	rig.joinAsGuest(t, "room11")
	guest := PlayerPresence{Pubkey: guestPK, JoinedAt: testEpoch, LastSeen: testEpoch}
	rig.gw.deliver(roomEventFrom(hostPK, "room11", int64(testEpoch/1000)+1, hostRecord(StatusPlaying, hostPresence(), guest)))
	rig.waitMode(t, ModePlaying)
	rig.gw.deliver(ephemeralFrom(hostPK, "room11", encodeContent(gameOverMsg{Type: typeGameOver, Reason: "defeat"})))
	rig.waitMode(t, ModeFinished)
	drainEvents(rig.a)

	require.NoError(t, rig.a.AcceptRematch(rig.ctx()))
	req, ok := nextEvent(t, rig.a).(EventRematchRequested)
	require.True(t, ok)
	assert.Equal(t, guestPK, req.Pubkey)
	assert.Equal(t, ModeFinished, rig.mode(t), "a guest accept alone does not restart")

	accepts := ephemeralsOfType(rig.gw, typeRematch)
	waitPublished(t, rig.gw, func() bool { return len(ephemeralsOfType(rig.gw, typeRematch)) == 1 })
	accepts = ephemeralsOfType(rig.gw, typeRematch)
	assert.False(t, gjson.Get(accepts[0], "new_seed").Exists(), "guests never mint seeds")
}

func TestRematch_RequiresFinished(t *testing.T) {
	rig := newTestArena(t, NewConfig(testGame), hostPK)
	playingRoom(t, rig)
	assert.ErrorIs(t, rig.a.RequestRematch(rig.ctx()), ErrInvalidState)
	assert.ErrorIs(t, rig.a.AcceptRematch(rig.ctx()), ErrInvalidState)
}

func TestRematch_DuplicateRequestsEmitOnce(t *testing.T) {
	rig := newTestArena(t, NewConfig(testGame), hostPK)
	roomID := playingRoom(t, rig)
	require.NoError(t, rig.a.SendGameOver(rig.ctx(), "defeat", nil, ""))
	rig.waitMode(t, ModeFinished)
	drainEvents(rig.a)

	req := encodeContent(rematchMsg{Type: typeRematch, Action: rematchRequest})
	rig.gw.deliver(ephemeralFrom(guestPK, roomID, req))
	_, ok := nextEvent(t, rig.a).(EventRematchRequested)
	require.True(t, ok)

	rig.gw.deliver(ephemeralFrom(guestPK, roomID, req))
	rig.barrier(t)
	expectNoEvent(t, rig.a)
}

// The waiting record that follows a missed accept still restarts the
// phase: finished -> waiting with a rotated seed is the rematch path.
func TestRematch_RecordFallback(t *testing.T) {
	rig := newTestArena(t, NewConfig(testGame), guestPK)
	rig.joinAsGuest(t, "room12")
	guest := PlayerPresence{Pubkey: guestPK, JoinedAt: testEpoch, LastSeen: testEpoch}
	rig.gw.deliver(roomEventFrom(hostPK, "room12", int64(testEpoch/1000)+1, hostRecord(StatusPlaying, hostPresence(), guest)))
	rig.waitMode(t, ModePlaying)
	rig.gw.deliver(ephemeralFrom(hostPK, "room12", encodeContent(gameOverMsg{Type: typeGameOver, Reason: "defeat"})))
	rig.waitMode(t, ModeFinished)
	drainEvents(rig.a)

	rematched := hostRecord(StatusWaiting, hostPresence(), guest)
	rematched.Seed = 4242
	rig.gw.deliver(roomEventFrom(hostPK, "room12", int64(testEpoch/1000)+2, rematched))

	start, ok := nextEvent(t, rig.a).(EventRematchStart)
	require.True(t, ok)
	assert.Equal(t, uint64(4242), start.Seed)
	rig.waitMode(t, ModeWaiting)
}
