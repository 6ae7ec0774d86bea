package arena

import (
	"errors"

	"github.com/kako-jun/nostr-arena/nostr"
)

// dispatch interprets one inbound wire event. Runs on the actor.
func (a *Arena) dispatch(ev *nostr.Event) {
	room := a.sess.room
	if room == nil {
		return
	}
	// The subscription can outlive a room switch by a few events.
	if ev.TagValue("d") != room.DTag() {
		return
	}
	switch ev.Kind {
	case KindRoom:
		a.handleRoomRecord(ev)
	case KindEphemeral:
		a.handleEphemeral(ev)
	}
}

func (a *Arena) handleEphemeral(ev *nostr.Event) {
	msg, err := decodeEphemeral(ev.Content)
	if err != nil {
		if errors.Is(err, errMalformed) {
			a.log.Debug().Err(err).Str("from", ev.Pubkey).Msg("dropping malformed event")
			return
		}
		return
	}

	// Presence is judged by the local clock on any attributed event,
	// never by timestamps embedded in the payload.
	pubkey := ev.Pubkey
	self := a.Pubkey()
	a.touchPresence(pubkey)

	switch m := msg.(type) {
	case joinMsg:
		a.handleJoin(pubkey)

	case stateMsg:
		if p := a.sess.room.player(pubkey); p != nil {
			a.sess.playerStates[pubkey] = m.GameState
			a.emit(EventPlayerState{Pubkey: pubkey, State: m.GameState})
		}

	case heartbeatMsg:
		// last_seen already touched; the embedded timestamp is
		// informational only.

	case readyMsg:
		if p := a.sess.room.player(pubkey); p != nil {
			p.Ready = m.Ready
		}
		a.evaluateStart()

	case gameStartMsg:
		if pubkey != a.sess.room.HostPubkey {
			a.log.Debug().Str("from", pubkey).Msg("ignoring gamestart from non-host")
			return
		}
		a.enterPlayingLocal()

	case gameOverMsg:
		if _, done := a.sess.gameOver[pubkey]; done {
			return
		}
		a.sess.gameOver[pubkey] = struct{}{}
		a.emit(EventPlayerGameOver{Pubkey: pubkey, Reason: m.Reason, FinalScore: m.FinalScore, Winner: m.Winner})
		a.maybeFinish()

	case rematchMsg:
		switch {
		case m.Action == rematchAccept && pubkey == a.sess.room.HostPubkey:
			if m.NewSeed != nil {
				a.applyRematch(*m.NewSeed)
			}
		default:
			// Requests, and accepts from guests, both count as a
			// standing request until the host accepts.
			if pubkey == self {
				return
			}
			if _, seen := a.sess.rematchRequests[pubkey]; !seen {
				a.sess.rematchRequests[pubkey] = struct{}{}
				a.emit(EventRematchRequested{Pubkey: pubkey})
			}
		}
	}
}

// handleJoin inserts a new player, or refreshes a present one.
func (a *Arena) handleJoin(pubkey string) {
	room := a.sess.room
	now := a.clock.NowMs()
	if p := room.player(pubkey); p != nil {
		// Repeat announce (reliability re-publish or our own echo).
		if now > p.LastSeen {
			p.LastSeen = now
		}
		return
	}
	presence := PlayerPresence{Pubkey: pubkey, JoinedAt: now, LastSeen: now}
	room.addPlayer(presence)
	a.emit(EventPlayerJoin{Player: presence})
	if a.sess.isHost {
		a.publishRoomRecord()
	}
	a.membershipChanged()
}

// handleRoomRecord merges a host-published record. The host itself
// never consumes records; its local state is the authority.
func (a *Arena) handleRoomRecord(ev *nostr.Event) {
	room := a.sess.room
	if a.sess.isHost {
		return
	}
	if ev.Pubkey != room.HostPubkey {
		a.log.Debug().Str("from", ev.Pubkey).Msg("ignoring room record from non-host")
		return
	}
	rc, err := decodeRoomContent(ev.Content)
	if err != nil {
		a.log.Debug().Err(err).Msg("dropping malformed room record")
		return
	}

	if rc.Status == StatusDeleted {
		a.emit(EventError{Message: "room deleted"})
		a.resetToIdle()
		return
	}

	// Monotone status check. The only legal regression is the rematch
	// finished -> waiting flip, identified by a rotated seed.
	if rc.Status.rank() < room.Status.rank() {
		if room.Status == StatusFinished && rc.Status == StatusWaiting && rc.Seed != room.Seed {
			a.applyRematch(rc.Seed)
		} else {
			a.log.Debug().Str("status", string(rc.Status)).Msg("ignoring status regression")
			return
		}
	}

	self := a.Pubkey()
	if rc.ExpiresAt != 0 {
		room.ExpiresAt = rc.ExpiresAt
	}
	room.MaxPlayers = rc.MaxPlayers

	// Dropped by the host's capacity tie-break: full record without us.
	inRecord := false
	for _, p := range rc.Players {
		if p.Pubkey == self {
			inRecord = true
		}
	}
	if !inRecord && len(rc.Players) >= rc.MaxPlayers {
		a.emit(EventPlayerLeave{Pubkey: self})
		a.emit(EventError{Message: "room full"})
		a.resetToIdle()
		return
	}

	changed := a.mergePlayers(rc.Players, self)

	switch rc.Status {
	case StatusPlaying:
		a.enterPlayingLocal()
	case StatusFinished:
		if a.sess.mode == ModeWaiting || a.sess.mode == ModePlaying {
			a.sess.mode = ModeFinished
			room.Status = StatusFinished
			a.cancelCountdown()
		}
	}
	if changed {
		a.membershipChanged()
	}
}

// mergePlayers reconciles local membership with a host record. The
// record is authoritative for who is present; local observations stay
// authoritative for freshness (last_seen monotone, ready from the
// ephemeral stream).
func (a *Arena) mergePlayers(recordPlayers []PlayerPresence, self string) bool {
	room := a.sess.room
	changed := false

	inRecord := make(map[string]PlayerPresence, len(recordPlayers))
	for _, p := range recordPlayers {
		inRecord[p.Pubkey] = p
	}

	for i := len(room.Players) - 1; i >= 0; i-- {
		pk := room.Players[i].Pubkey
		if _, ok := inRecord[pk]; ok || pk == self {
			continue
		}
		room.Players = append(room.Players[:i], room.Players[i+1:]...)
		delete(a.sess.playerStates, pk)
		a.emit(EventPlayerDisconnect{Pubkey: pk})
		changed = true
	}

	for _, rp := range recordPlayers {
		local := room.player(rp.Pubkey)
		if local == nil {
			room.addPlayer(rp)
			a.emit(EventPlayerJoin{Player: rp})
			changed = true
			continue
		}
		local.JoinedAt = rp.JoinedAt
		if rp.LastSeen > local.LastSeen {
			local.LastSeen = rp.LastSeen
		}
	}
	return changed
}

// touchPresence refreshes last_seen from the local clock.
func (a *Arena) touchPresence(pubkey string) {
	if a.sess.room == nil {
		return
	}
	if p := a.sess.room.player(pubkey); p != nil {
		now := a.clock.NowMs()
		if now > p.LastSeen {
			p.LastSeen = now
		}
	}
}

// membershipChanged reacts to any change of the player set: a running
// countdown is void, and the start condition is re-evaluated.
func (a *Arena) membershipChanged() {
	if a.sess.countdownC != nil {
		a.cancelCountdown()
	}
	a.evaluateStart()
}
