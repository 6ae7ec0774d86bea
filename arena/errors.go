package arena

import "errors"

var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrNotConnected  = errors.New("not connected")
	ErrInvalidState  = errors.New("operation not allowed in current state")
	ErrRoomNotFound  = errors.New("room not found")
	ErrRoomExpired   = errors.New("room expired")
	ErrRoomFull      = errors.New("room full")
	ErrNotHost       = errors.New("only the host can do that")

	// errMalformed marks codec failures. Malformed inbound events are
	// dropped without a user event.
	errMalformed = errors.New("malformed event")
)
