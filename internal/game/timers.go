package game

import (
	"time"

	"github.com/rickgao/mmgame/internal/model"
)

// Stage timers: at most one stage timer is active per game, paired with a
// one-second tick that re-broadcasts the remaining time. The no-tighter
// timer is auxiliary — it coexists with the stage timer and ends Stage 1
// on its own, without TIMER broadcasts. Each timer carries a generation
// counter so a firing from a cancelled arm is a no-op.

// SetTimer arms the stage timer. Only meaningful during SPREAD_QUOTING and
// OPEN_TRADING; elsewhere it is a no-op.
func (g *Game) SetTimer(seconds int) {
	g.mu.Lock()
	defer g.unlockAndFlush()

	if g.status != model.StatusPlaying || g.round == nil {
		return
	}

	switch g.round.Stage {
	case model.StageSpreadQuoting:
		g.scheduleStageEnd(time.Duration(seconds)*time.Second, g.expireSpreadQuoting)
	case model.StageOpenTrading:
		g.scheduleStageEnd(time.Duration(seconds)*time.Second, g.expireOpenTrading)
	}
}

// scheduleStageEnd cancels any prior stage timer, records the deadline,
// emits an initial TIMER callback, and arms the tick plus the one-shot
// expiry. Must be called with the lock held.
func (g *Game) scheduleStageEnd(d time.Duration, onExpiry func()) {
	g.scheduleStageEndAt(g.now().Add(d).UnixMilli(), onExpiry)
}

// scheduleStageEndAt arms the stage timer against an absolute deadline, so
// resume keeps the exact wall-clock instant recorded before pause.
func (g *Game) scheduleStageEndAt(endsAt int64, onExpiry func()) {
	g.cancelStageTimerLocked()

	ms := endsAt - g.now().UnixMilli()
	if ms < 0 {
		ms = 0
	}
	g.round.StageEndsAt = endsAt
	g.stageExpiry = onExpiry

	g.stageGen++
	gen := g.stageGen

	g.queueTimerCallback(endsAt)

	stop := make(chan struct{})
	g.tickStop = stop
	go g.tickLoop(gen, stop)

	g.stageTimer = time.AfterFunc(time.Duration(ms)*time.Millisecond, func() {
		g.mu.Lock()
		if gen != g.stageGen {
			g.mu.Unlock()
			return
		}
		g.cancelStageTimerLocked()
		onExpiry()
		g.unlockAndFlush()
	})
}

// tickLoop emits a TIMER callback every second until its generation is
// cancelled.
func (g *Game) tickLoop(gen uint64, stop chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			g.mu.Lock()
			if gen != g.stageGen || g.round == nil || g.round.StageEndsAt == 0 {
				g.mu.Unlock()
				return
			}
			g.queueTimerCallback(g.round.StageEndsAt)
			g.unlockAndFlush()
		}
	}
}

func (g *Game) queueTimerCallback(endsAt int64) {
	cb := g.callbacks.OnTimer
	if cb == nil || g.round == nil {
		return
	}
	stage := g.round.Stage
	remaining := int((endsAt - g.now().UnixMilli() + 999) / 1000)
	if remaining < 0 {
		remaining = 0
	}
	g.queue(func() { cb(stage, endsAt, remaining) })
}

// armNoTighterTimer (re)starts the rolling Stage-1 window. Must be called
// with the lock held.
func (g *Game) armNoTighterTimer(d time.Duration) {
	if g.noTighter != nil {
		g.noTighter.Stop()
	}
	g.noTighterGen++
	gen := g.noTighterGen

	g.noTighter = time.AfterFunc(d, func() {
		g.mu.Lock()
		if gen != g.noTighterGen {
			g.mu.Unlock()
			return
		}
		if g.status == model.StatusPlaying && g.round != nil && g.round.Stage == model.StageSpreadQuoting {
			g.endSpreadQuoting()
		}
		g.unlockAndFlush()
	})
}

func (g *Game) expireSpreadQuoting() {
	if g.status == model.StatusPlaying && g.round != nil && g.round.Stage == model.StageSpreadQuoting {
		g.endSpreadQuoting()
	}
}

func (g *Game) expireOpenTrading() {
	if g.status == model.StatusPlaying && g.round != nil && g.round.Stage == model.StageOpenTrading {
		g.endRound()
	}
}

// cancelStageTimerLocked stops the stage timer and its tick without
// touching stageEndsAt, so pause/resume keeps the wall-clock deadline.
func (g *Game) cancelStageTimerLocked() {
	g.stageGen++
	if g.stageTimer != nil {
		g.stageTimer.Stop()
		g.stageTimer = nil
	}
	if g.tickStop != nil {
		close(g.tickStop)
		g.tickStop = nil
	}
}

// cancelTimersLocked stops the stage timer, tick, and no-tighter timer.
func (g *Game) cancelTimersLocked() {
	g.cancelStageTimerLocked()
	g.noTighterGen++
	if g.noTighter != nil {
		g.noTighter.Stop()
		g.noTighter = nil
	}
}
