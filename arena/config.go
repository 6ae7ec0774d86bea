package arena

import "fmt"

// DefaultRelays are used when the config lists none.
var DefaultRelays = []string{
	"wss://relay.damus.io",
	"wss://nos.lol",
	"wss://relay.nostr.band",
	"wss://relay.snort.social",
}

const (
	defaultHeartbeatInterval   = 3000
	defaultDisconnectThreshold = 10000
	defaultStateThrottle       = 100
	defaultMaxPlayers          = 2
	defaultCountdownSeconds    = 3

	// The host prunes stale players and republishes the room record on
	// this fixed cadence.
	presenceUpdateIntervalMs = 30000
)

// Config is frozen at Arena construction.
type Config struct {
	// GameID identifies the game, e.g. "sasso" or "tetris". Required.
	GameID string
	// Relays lists ws/wss relay URLs. Defaults to DefaultRelays.
	Relays []string
	// RoomExpiry in ms; 0 means rooms never expire.
	RoomExpiry uint64
	// MaxPlayers for created rooms, at least 2.
	MaxPlayers int
	// StartMode decides when Playing is entered.
	StartMode StartMode
	// CountdownSeconds for StartCountdown mode.
	CountdownSeconds int
	// HeartbeatInterval in ms.
	HeartbeatInterval uint64
	// DisconnectThreshold in ms; a player silent for longer is pruned.
	DisconnectThreshold uint64
	// StateThrottle in ms; SendState publishes at most once per window.
	StateThrottle uint64
	// BaseURL, when set, shapes GetRoomURL as {BaseURL}?room={room_id}.
	BaseURL string
}

// NewConfig returns a Config with defaults for the given game id.
func NewConfig(gameID string) Config {
	return Config{
		GameID:              gameID,
		Relays:              append([]string(nil), DefaultRelays...),
		MaxPlayers:          defaultMaxPlayers,
		StartMode:           StartAuto,
		CountdownSeconds:    defaultCountdownSeconds,
		HeartbeatInterval:   defaultHeartbeatInterval,
		DisconnectThreshold: defaultDisconnectThreshold,
		StateThrottle:       defaultStateThrottle,
	}
}

// Validate checks the config and fills zero values with defaults.
func (c *Config) Validate() error {
	if c.GameID == "" {
		return fmt.Errorf("%w: game id is required", ErrInvalidConfig)
	}
	if len(c.Relays) == 0 {
		c.Relays = append([]string(nil), DefaultRelays...)
	}
	if c.MaxPlayers == 0 {
		c.MaxPlayers = defaultMaxPlayers
	}
	if c.MaxPlayers < 2 {
		return fmt.Errorf("%w: max players must be at least 2", ErrInvalidConfig)
	}
	if c.CountdownSeconds <= 0 {
		c.CountdownSeconds = defaultCountdownSeconds
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.DisconnectThreshold == 0 {
		c.DisconnectThreshold = defaultDisconnectThreshold
	}
	if c.StateThrottle == 0 {
		c.StateThrottle = defaultStateThrottle
	}
	return nil
}
