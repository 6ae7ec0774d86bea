package arena

import "time"

// evaluateStart runs the start-mode coordinator against the current
// membership. Guests evaluate too (for AllReady and countdown ticks);
// only the host flips the room into Playing.
func (a *Arena) evaluateStart() {
	room := a.sess.room
	if a.sess.mode != ModeWaiting || room == nil || a.sess.started {
		return
	}

	switch a.cfg.StartMode {
	case StartAuto:
		if len(room.Players) >= room.MaxPlayers && a.sess.isHost {
			a.enterPlayingAsHost()
		}

	case StartReady:
		if a.allReady() {
			a.announceAllReady()
			if a.sess.isHost {
				a.enterPlayingAsHost()
			}
		}

	case StartCountdown:
		if a.allReady() {
			a.announceAllReady()
			a.startCountdown()
		} else if a.sess.countdownC != nil {
			// the ready condition broke mid-countdown
			a.cancelCountdown()
		}

	case StartHost:
		if a.allReady() {
			a.announceAllReady()
		}
	}
}

// allReady is the Ready/Countdown fire condition: at least two players,
// every one of them ready.
func (a *Arena) allReady() bool {
	players := a.sess.room.Players
	if len(players) < 2 {
		return false
	}
	for _, p := range players {
		if !p.Ready {
			return false
		}
	}
	return true
}

func (a *Arena) announceAllReady() {
	if a.sess.allReadyAnnounced {
		return
	}
	a.sess.allReadyAnnounced = true
	a.emit(EventAllReady{})
}

// startCountdown arms the one-second countdown ticker. A membership
// change cancels it; the next time the ready condition holds a fresh
// countdown is announced.
func (a *Arena) startCountdown() {
	if a.sess.countdownAnnounced {
		return
	}
	a.sess.countdownAnnounced = true
	a.sess.countdownRemaining = a.cfg.CountdownSeconds
	a.emit(EventCountdownStart{Seconds: a.cfg.CountdownSeconds})
	a.sess.countdownC, a.sess.countdownStop = a.ticks.Create(time.Second)
}

func (a *Arena) countdownTick() {
	if a.sess.countdownC == nil {
		return
	}
	a.sess.countdownRemaining--
	remaining := a.sess.countdownRemaining
	a.emit(EventCountdownTick{Remaining: remaining})
	if remaining > 0 {
		return
	}
	a.cancelCountdown()
	if a.sess.isHost {
		a.enterPlayingAsHost()
	}
}

func (a *Arena) cancelCountdown() {
	if a.sess.countdownStop != nil {
		a.sess.countdownStop()
	}
	a.sess.countdownC = nil
	a.sess.countdownStop = nil
	a.sess.countdownAnnounced = false
	a.sess.countdownRemaining = 0
}

// enterPlayingAsHost flips the room record to playing and enters the
// local Playing mode.
func (a *Arena) enterPlayingAsHost() {
	if a.sess.started {
		return
	}
	a.sess.room.Status = StatusPlaying
	a.publishRoomRecord()
	a.enterPlayingLocal()
}

// enterPlayingLocal transitions to Playing and emits GameStart at most
// once per waiting phase.
func (a *Arena) enterPlayingLocal() {
	if a.sess.started || a.sess.room == nil {
		return
	}
	a.sess.started = true
	a.sess.mode = ModePlaying
	a.sess.room.Status = StatusPlaying
	a.cancelCountdown()
	a.emit(EventGameStart{})
}
