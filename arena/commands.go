package arena

import (
	"context"
	"encoding/json"
)

// Create opens a new room and publishes its record. The caller becomes
// host; the room id is returned for sharing.
func (a *Arena) Create(ctx context.Context) (string, error) {
	roomID := newRoomID()
	seed := newSeed()

	err := a.do(ctx, func() error {
		if a.sess.mode != ModeIdle {
			return ErrInvalidState
		}
		now := a.clock.NowMs()
		var expiresAt uint64
		if a.cfg.RoomExpiry > 0 {
			expiresAt = now + a.cfg.RoomExpiry
		}
		self := PlayerPresence{Pubkey: a.Pubkey(), JoinedAt: now, LastSeen: now}

		a.sess.mode = ModeCreating
		a.sess.isHost = true
		a.sess.room = &RoomRecord{
			RoomID:     roomID,
			GameID:     a.cfg.GameID,
			Status:     StatusWaiting,
			Seed:       seed,
			HostPubkey: a.Pubkey(),
			MaxPlayers: a.cfg.MaxPlayers,
			ExpiresAt:  expiresAt,
			Players:    []PlayerPresence{self},
			CreatedAt:  now,
		}
		a.beginWaitingPhase()
		a.startSubscription(roomID)
		a.publishRoomRecord()
		a.sess.mode = ModeWaiting
		a.emit(EventPlayerJoin{Player: self})
		a.log.Info().Str("room", roomID).Msg("created room")
		return nil
	})
	if err != nil {
		return "", err
	}
	return roomID, nil
}

// Join enters an existing room as a guest.
func (a *Arena) Join(ctx context.Context, roomID string) error {
	return a.joinRoom(ctx, roomID, false)
}

// Reconnect re-enters a room, tolerating that the record may already
// list this player (page refresh, dropped connection).
func (a *Arena) Reconnect(ctx context.Context, roomID string) error {
	return a.joinRoom(ctx, roomID, true)
}

func (a *Arena) joinRoom(ctx context.Context, roomID string, rejoin bool) error {
	a.mu.Lock()
	running := a.running
	a.mu.Unlock()
	if !running {
		return ErrNotConnected
	}

	// The record fetch happens on the caller's goroutine so the actor
	// timers keep running.
	dtag := roomTag(a.cfg.GameID, roomID)
	ev, err := a.gw.FetchReplaceable(ctx, KindRoom, "", dtag)
	if err != nil || ev == nil {
		return ErrRoomNotFound
	}
	rc, err := decodeRoomContent(ev.Content)
	if err != nil {
		return ErrRoomNotFound
	}
	if rc.Status == StatusDeleted {
		return ErrRoomNotFound
	}

	self := a.Pubkey()
	now := a.clock.NowMs()
	if rc.ExpiresAt != 0 && now >= rc.ExpiresAt {
		return ErrRoomExpired
	}
	alreadyMember := false
	for _, p := range rc.Players {
		if p.Pubkey == self {
			alreadyMember = true
		}
	}
	if alreadyMember && !rejoin {
		// a plain join never relies on stale membership in the record
		alreadyMember = false
	}
	if !alreadyMember && len(rc.Players) >= rc.MaxPlayers {
		return ErrRoomFull
	}

	createdAt := uint64(ev.CreatedAt) * 1000

	return a.do(ctx, func() error {
		if a.sess.mode != ModeIdle {
			return ErrInvalidState
		}
		a.sess.mode = ModeJoining
		a.sess.isHost = false
		room := &RoomRecord{
			RoomID:     roomID,
			GameID:     a.cfg.GameID,
			Status:     rc.Status,
			Seed:       rc.Seed,
			HostPubkey: rc.HostPubkey,
			MaxPlayers: rc.MaxPlayers,
			ExpiresAt:  rc.ExpiresAt,
			Players:    append([]PlayerPresence(nil), rc.Players...),
			CreatedAt:  createdAt,
		}
		selfPresence := room.player(self)
		if selfPresence == nil {
			room.addPlayer(PlayerPresence{Pubkey: self, JoinedAt: now, LastSeen: now})
			selfPresence = room.player(self)
		} else {
			selfPresence.LastSeen = now
		}
		a.sess.room = room
		a.beginWaitingPhase()
		a.startSubscription(roomID)

		body := encodeContent(joinMsg{Type: typeJoin, PlayerPubkey: self})
		a.publishEphemeral("join", body)
		a.scheduleJoinAnnounce(body)

		a.sess.mode = ModeWaiting
		if room.Status == StatusPlaying && rejoin {
			// Rejoining a live game: restore Playing without a
			// fresh GameStart announcement cycle.
			a.sess.mode = ModePlaying
			a.sess.started = true
		}
		a.emit(EventPlayerJoin{Player: *selfPresence})
		a.log.Info().Str("room", roomID).Bool("rejoin", rejoin).Msg("joined room")
		return nil
	})
}

// Leave exits the current room. A guest leaves silently; a host
// tombstones the room record on the way out.
func (a *Arena) Leave(ctx context.Context) error {
	return a.do(ctx, func() error {
		if a.sess.mode == ModeIdle {
			return nil
		}
		if a.sess.isHost {
			a.tombstoneRoom()
		}
		a.resetToIdle()
		return nil
	})
}

// DeleteRoom tombstones the room record. Host only.
func (a *Arena) DeleteRoom(ctx context.Context) error {
	return a.do(ctx, func() error {
		if a.sess.mode == ModeIdle || a.sess.room == nil {
			return ErrInvalidState
		}
		if !a.sess.isHost {
			return ErrNotHost
		}
		a.tombstoneRoom()
		a.resetToIdle()
		return nil
	})
}

func (a *Arena) tombstoneRoom() {
	room := a.sess.room
	if room == nil {
		return
	}
	room.Status = StatusDeleted
	room.Players = nil
	a.publishRoomRecord()
}

// SendState broadcasts the opaque game state, throttled: within one
// throttle window the newest payload replaces any pending one, and the
// flush timer publishes it at the window boundary.
func (a *Arena) SendState(ctx context.Context, state json.RawMessage) error {
	return a.do(ctx, func() error {
		if a.sess.mode != ModePlaying {
			return ErrInvalidState
		}
		now := a.clock.NowMs()
		if now-a.sess.lastStatePublishedAt < a.cfg.StateThrottle {
			a.sess.pendingState = state
			return nil
		}
		a.sess.pendingState = nil
		a.sess.lastStatePublishedAt = now
		a.publishEphemeral("state", encodeContent(stateMsg{Type: typeState, GameState: state}))
		return nil
	})
}

func (a *Arena) flushPendingState() {
	if a.sess.pendingState == nil {
		return
	}
	now := a.clock.NowMs()
	if now-a.sess.lastStatePublishedAt < a.cfg.StateThrottle {
		return
	}
	state := a.sess.pendingState
	a.sess.pendingState = nil
	a.sess.lastStatePublishedAt = now
	a.publishEphemeral("state", encodeContent(stateMsg{Type: typeState, GameState: state}))
}

// SendGameOver reports this player's terminal state.
func (a *Arena) SendGameOver(ctx context.Context, reason string, finalScore *int64, winner string) error {
	return a.do(ctx, func() error {
		if a.sess.mode != ModePlaying {
			return ErrInvalidState
		}
		self := a.Pubkey()
		a.publishEphemeral("gameover", encodeContent(gameOverMsg{
			Type:       typeGameOver,
			Reason:     reason,
			FinalScore: finalScore,
			Winner:     winner,
		}))
		a.sess.gameOver[self] = struct{}{}
		a.emit(EventPlayerGameOver{Pubkey: self, Reason: reason, FinalScore: finalScore, Winner: winner})
		a.maybeFinish()
		return nil
	})
}

// SendReady toggles this player's ready flag (StartReady/StartCountdown
// and the AllReady signal in StartHost).
func (a *Arena) SendReady(ctx context.Context, ready bool) error {
	return a.do(ctx, func() error {
		if a.sess.mode != ModeWaiting || a.sess.room == nil {
			return ErrInvalidState
		}
		if p := a.sess.room.player(a.Pubkey()); p != nil {
			p.Ready = ready
		}
		a.publishEphemeral("ready", encodeContent(readyMsg{Type: typeReady, Ready: ready}))
		a.evaluateStart()
		return nil
	})
}

// StartGame starts the game explicitly. StartHost mode, host only.
func (a *Arena) StartGame(ctx context.Context) error {
	return a.do(ctx, func() error {
		if a.cfg.StartMode != StartHost {
			return ErrInvalidState
		}
		if a.sess.mode != ModeWaiting || a.sess.room == nil {
			return ErrInvalidState
		}
		if !a.sess.isHost {
			return ErrNotHost
		}
		if len(a.sess.room.Players) < 2 {
			return ErrInvalidState
		}
		// The gamestart ephemeral goes out before the record flip so
		// guests hear it even when the record lags.
		a.publishEphemeral("gamestart", encodeContent(gameStartMsg{Type: typeGameStart}))
		a.enterPlayingAsHost()
		return nil
	})
}

// RequestRematch asks the other players for a rematch.
func (a *Arena) RequestRematch(ctx context.Context) error {
	return a.do(ctx, func() error {
		if a.sess.mode != ModeFinished {
			return ErrInvalidState
		}
		self := a.Pubkey()
		a.sess.rematchRequests[self] = struct{}{}
		a.publishEphemeral("rematch", encodeContent(rematchMsg{Type: typeRematch, Action: rematchRequest}))
		a.emit(EventRematchRequested{Pubkey: self})
		return nil
	})
}

// AcceptRematch accepts a rematch. On the host this rotates the seed,
// resets the phase and republishes the room record; on a guest it only
// signals agreement.
func (a *Arena) AcceptRematch(ctx context.Context) error {
	return a.do(ctx, func() error {
		if a.sess.mode != ModeFinished {
			return ErrInvalidState
		}
		self := a.Pubkey()
		if !a.sess.isHost {
			a.sess.rematchRequests[self] = struct{}{}
			a.publishEphemeral("rematch", encodeContent(rematchMsg{Type: typeRematch, Action: rematchAccept}))
			a.emit(EventRematchRequested{Pubkey: self})
			return nil
		}
		seed := newSeed()
		a.publishEphemeral("rematch", encodeContent(rematchMsg{Type: typeRematch, Action: rematchAccept, NewSeed: &seed}))
		a.applyRematch(seed)
		return nil
	})
}

// applyRematch resets the session into a fresh waiting phase with the
// given seed. Idempotent for the host's own accept echo.
func (a *Arena) applyRematch(seed uint64) {
	room := a.sess.room
	if room == nil {
		return
	}
	if a.sess.mode == ModeWaiting && room.Seed == seed {
		return
	}
	room.Seed = seed
	room.Status = StatusWaiting
	for i := range room.Players {
		room.Players[i].Ready = false
	}
	a.sess.playerStates = make(map[string]json.RawMessage)
	a.beginWaitingPhase()
	a.sess.mode = ModeWaiting
	a.emit(EventRematchStart{Seed: seed})
	if a.sess.isHost {
		a.publishRoomRecord()
	}
}

// maybeFinish moves Playing to Finished once every player, or all but
// one, has reported game over.
func (a *Arena) maybeFinish() {
	if a.sess.mode != ModePlaying || a.sess.room == nil {
		return
	}
	remaining := 0
	for _, p := range a.sess.room.Players {
		if _, done := a.sess.gameOver[p.Pubkey]; !done {
			remaining++
		}
	}
	if remaining > 1 {
		return
	}
	a.sess.mode = ModeFinished
	a.sess.room.Status = StatusFinished
	a.cancelCountdown()
	if a.sess.isHost {
		a.publishRoomRecord()
	}
}

// Players returns a snapshot of the current room membership.
func (a *Arena) Players(ctx context.Context) ([]PlayerPresence, error) {
	var out []PlayerPresence
	err := a.do(ctx, func() error {
		if a.sess.room != nil {
			out = append(out, a.sess.room.Players...)
		}
		return nil
	})
	return out, err
}

// PlayerCount returns the number of present players.
func (a *Arena) PlayerCount(ctx context.Context) (int, error) {
	n := 0
	err := a.do(ctx, func() error {
		if a.sess.room != nil {
			n = len(a.sess.room.Players)
		}
		return nil
	})
	return n, err
}

// PlayerStates returns the last-known opaque state per present player.
func (a *Arena) PlayerStates(ctx context.Context) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage)
	err := a.do(ctx, func() error {
		for pk, st := range a.sess.playerStates {
			out[pk] = st
		}
		return nil
	})
	return out, err
}

// Mode returns the current session mode.
func (a *Arena) Mode(ctx context.Context) (Mode, error) {
	var m Mode
	err := a.do(ctx, func() error {
		m = a.sess.mode
		return nil
	})
	return m, err
}

// Room returns a snapshot of the current room record, or nil.
func (a *Arena) Room(ctx context.Context) (*RoomRecord, error) {
	var room *RoomRecord
	err := a.do(ctx, func() error {
		room = a.sess.room.clone()
		return nil
	})
	return room, err
}
