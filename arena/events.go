package arena

import "encoding/json"

// Event is a user-visible session event delivered on the Arena event
// channel. The concrete types below form a closed set.
type Event interface {
	isEvent()
}

// EventPlayerJoin announces a player entering the room.
type EventPlayerJoin struct {
	Player PlayerPresence
}

// EventPlayerLeave announces a player dropped by the host's capacity
// tie-break: the host emits it for each dropped player, and a guest for
// itself when a full host record omits it. A guest's own Leave publishes
// nothing, so peers never see a PlayerLeave for it.
type EventPlayerLeave struct {
	Pubkey string
}

// EventPlayerState carries a peer's latest opaque game state.
type EventPlayerState struct {
	Pubkey string
	State  json.RawMessage
}

// EventPlayerDisconnect announces a heartbeat timeout.
type EventPlayerDisconnect struct {
	Pubkey string
}

// EventPlayerGameOver announces a peer's terminal notice.
type EventPlayerGameOver struct {
	Pubkey     string
	Reason     string
	FinalScore *int64
	Winner     string
}

// EventRematchRequested announces a rematch request from a peer.
type EventRematchRequested struct {
	Pubkey string
}

// EventRematchStart announces an accepted rematch and the new seed.
type EventRematchStart struct {
	Seed uint64
}

// EventAllReady fires the first time every present player is ready
// within one waiting phase.
type EventAllReady struct{}

// EventCountdownStart announces the countdown in StartCountdown mode.
type EventCountdownStart struct {
	Seconds int
}

// EventCountdownTick fires once per second; Remaining reaches 0 just
// before GameStart.
type EventCountdownTick struct {
	Remaining int
}

// EventGameStart announces the transition to Playing.
type EventGameStart struct{}

// EventError surfaces a background failure.
type EventError struct {
	Message string
}

func (EventPlayerJoin) isEvent()       {}
func (EventPlayerLeave) isEvent()      {}
func (EventPlayerState) isEvent()      {}
func (EventPlayerDisconnect) isEvent() {}
func (EventPlayerGameOver) isEvent()   {}
func (EventRematchRequested) isEvent() {}
func (EventRematchStart) isEvent()     {}
func (EventAllReady) isEvent()         {}
func (EventCountdownStart) isEvent()   {}
func (EventCountdownTick) isEvent()    {}
func (EventGameStart) isEvent()        {}
func (EventError) isEvent()            {}
