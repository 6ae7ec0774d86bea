package arena

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Wire `type` discriminators of the ephemeral family.
const (
	typeJoin      = "join"
	typeState     = "state"
	typeHeartbeat = "heartbeat"
	typeReady     = "ready"
	typeGameStart = "gamestart"
	typeGameOver  = "gameover"
	typeRematch   = "rematch"
)

const (
	rematchRequest = "request"
	rematchAccept  = "accept"
)

type joinMsg struct {
	Type         string `json:"type"`
	PlayerPubkey string `json:"player_pubkey"`
}

type stateMsg struct {
	Type      string          `json:"type"`
	GameState json.RawMessage `json:"game_state"`
}

type heartbeatMsg struct {
	Type      string `json:"type"`
	Timestamp uint64 `json:"timestamp"`
}

type readyMsg struct {
	Type  string `json:"type"`
	Ready bool   `json:"ready"`
}

type gameStartMsg struct {
	Type string `json:"type"`
}

type gameOverMsg struct {
	Type       string `json:"type"`
	Reason     string `json:"reason"`
	FinalScore *int64 `json:"final_score,omitempty"`
	Winner     string `json:"winner,omitempty"`
}

type rematchMsg struct {
	Type    string  `json:"type"`
	Action  string  `json:"action"`
	NewSeed *uint64 `json:"new_seed,omitempty"`
}

// roomContent is the JSON body of the replaceable room event.
type roomContent struct {
	Status     RoomStatus       `json:"status"`
	Seed       uint64           `json:"seed"`
	HostPubkey string           `json:"host_pubkey"`
	MaxPlayers int              `json:"max_players"`
	ExpiresAt  uint64           `json:"expires_at,omitempty"`
	Players    []PlayerPresence `json:"players"`
}

func encodeContent(v any) string {
	raw, _ := json.Marshal(v)
	return string(raw)
}

// decodeEphemeral validates and decodes one ephemeral event body. The
// type discriminator and required fields are checked with gjson before
// the strict decode; anything off is errMalformed and the caller drops
// the event.
func decodeEphemeral(content string) (any, error) {
	if !gjson.Valid(content) {
		return nil, fmt.Errorf("%w: invalid json", errMalformed)
	}
	body := gjson.Parse(content)
	typ := body.Get("type").String()

	switch typ {
	case typeJoin:
		if body.Get("player_pubkey").String() == "" {
			return nil, fmt.Errorf("%w: join without player_pubkey", errMalformed)
		}
		var msg joinMsg
		if err := json.Unmarshal([]byte(content), &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", errMalformed, err)
		}
		return msg, nil

	case typeState:
		if !body.Get("game_state").Exists() {
			return nil, fmt.Errorf("%w: state without game_state", errMalformed)
		}
		var msg stateMsg
		if err := json.Unmarshal([]byte(content), &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", errMalformed, err)
		}
		return msg, nil

	case typeHeartbeat:
		if !body.Get("timestamp").Exists() {
			return nil, fmt.Errorf("%w: heartbeat without timestamp", errMalformed)
		}
		var msg heartbeatMsg
		if err := json.Unmarshal([]byte(content), &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", errMalformed, err)
		}
		return msg, nil

	case typeReady:
		if !body.Get("ready").Exists() {
			return nil, fmt.Errorf("%w: ready without flag", errMalformed)
		}
		var msg readyMsg
		if err := json.Unmarshal([]byte(content), &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", errMalformed, err)
		}
		return msg, nil

	case typeGameStart:
		return gameStartMsg{Type: typeGameStart}, nil

	case typeGameOver:
		if !body.Get("reason").Exists() {
			return nil, fmt.Errorf("%w: gameover without reason", errMalformed)
		}
		var msg gameOverMsg
		if err := json.Unmarshal([]byte(content), &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", errMalformed, err)
		}
		return msg, nil

	case typeRematch:
		action := body.Get("action").String()
		if action != rematchRequest && action != rematchAccept {
			return nil, fmt.Errorf("%w: rematch action %q", errMalformed, action)
		}
		var msg rematchMsg
		if err := json.Unmarshal([]byte(content), &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", errMalformed, err)
		}
		return msg, nil
	}

	return nil, fmt.Errorf("%w: unknown type %q", errMalformed, typ)
}

// decodeRoomContent validates and decodes a room-record body.
func decodeRoomContent(content string) (*roomContent, error) {
	if !gjson.Valid(content) {
		return nil, fmt.Errorf("%w: invalid json", errMalformed)
	}
	var rc roomContent
	if err := json.Unmarshal([]byte(content), &rc); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if !rc.Status.valid() {
		return nil, fmt.Errorf("%w: room status %q", errMalformed, rc.Status)
	}
	if rc.HostPubkey == "" {
		return nil, fmt.Errorf("%w: room without host_pubkey", errMalformed)
	}
	if rc.MaxPlayers < 1 {
		return nil, fmt.Errorf("%w: room max_players %d", errMalformed, rc.MaxPlayers)
	}
	return &rc, nil
}
