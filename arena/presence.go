package arena

import "sort"

// publishHeartbeat sends the periodic liveness ping while in a room.
func (a *Arena) publishHeartbeat() {
	if a.sess.room == nil {
		return
	}
	now := a.clock.NowMs()
	a.publishEphemeral("heartbeat", encodeContent(heartbeatMsg{Type: typeHeartbeat, Timestamp: now}))
	if p := a.sess.room.player(a.Pubkey()); p != nil && now > p.LastSeen {
		p.LastSeen = now
	}
}

// presenceSweep prunes players whose last_seen is older than the
// disconnect threshold. The host additionally enforces the capacity
// tie-break and republishes the room record when the set changed.
func (a *Arena) presenceSweep() {
	room := a.sess.room
	if room == nil {
		return
	}
	now := a.clock.NowMs()
	self := a.Pubkey()
	changed := false

	for i := len(room.Players) - 1; i >= 0; i-- {
		p := room.Players[i]
		if p.Pubkey == self {
			continue
		}
		if now-p.LastSeen <= a.cfg.DisconnectThreshold {
			continue
		}
		room.Players = append(room.Players[:i], room.Players[i+1:]...)
		delete(a.sess.playerStates, p.Pubkey)
		a.emit(EventPlayerDisconnect{Pubkey: p.Pubkey})
		changed = true
	}

	if a.sess.isHost && len(room.Players) > room.MaxPlayers {
		// Join race past capacity: keep the earliest joined_at,
		// deterministically, and drop the rest.
		sorted := append([]PlayerPresence(nil), room.Players...)
		sort.SliceStable(sorted, func(i, j int) bool {
			if sorted[i].JoinedAt != sorted[j].JoinedAt {
				return sorted[i].JoinedAt < sorted[j].JoinedAt
			}
			return sorted[i].Pubkey < sorted[j].Pubkey
		})
		keep := make(map[string]struct{}, room.MaxPlayers)
		for _, p := range sorted[:room.MaxPlayers] {
			keep[p.Pubkey] = struct{}{}
		}
		for i := len(room.Players) - 1; i >= 0; i-- {
			pk := room.Players[i].Pubkey
			if _, ok := keep[pk]; ok {
				continue
			}
			room.Players = append(room.Players[:i], room.Players[i+1:]...)
			delete(a.sess.playerStates, pk)
			a.emit(EventPlayerLeave{Pubkey: pk})
			changed = true
		}
	}

	if !changed {
		return
	}
	if a.sess.isHost {
		a.publishRoomRecord()
	}
	a.membershipChanged()
}
