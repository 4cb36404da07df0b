package game

// The tick loop: a fixed-step simulation driven by a coarse wall-clock
// wake. The loop runs only while the room has sessions (Idle -> Active
// on the first connect, back to Idle when the last session closes).

import "time"

func (r *Room) ensureLoopLocked() {
	if r.loopRunning {
		return
	}
	r.loopRunning = true
	r.stopLoop = make(chan struct{})
	r.lastWakeMs = float64(r.nowMs())
	r.accumulatorMs = 0
	go r.runLoop(r.stopLoop)
	r.log.Infow("tick loop started", "room", r.Code)
}

func (r *Room) stopLoopLocked() {
	if !r.loopRunning {
		return
	}
	r.loopRunning = false
	close(r.stopLoop)
	r.log.Infow("tick loop stopped", "room", r.Code, "tick", r.tick)
}

func (r *Room) runLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(wakeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.mu.Lock()
			r.advanceLocked()
			r.mu.Unlock()
		}
	}
}

// advanceLocked runs the accumulator algorithm: clamp the observed
// elapsed wall time, convert it into at most maxCatchupSteps fixed
// simulation steps, and discard any remainder beyond the cap so a long
// stall can never put the room permanently behind the wall clock.
func (r *Room) advanceLocked() {
	now := float64(r.nowMs())
	elapsed := now - r.lastWakeMs
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > maxFrameMs {
		elapsed = maxFrameMs
	}
	r.lastWakeMs = now
	r.accumulatorMs += elapsed

	steps := 0
	for r.accumulatorMs >= simDtMs && steps < maxCatchupSteps {
		r.stepLocked()
		r.accumulatorMs -= simDtMs
		steps++
	}
	if steps == maxCatchupSteps && r.accumulatorMs >= simDtMs {
		r.accumulatorMs = 0
	}
}

// stepLocked runs exactly one simulation step: bump the tick counter,
// invoke every feature's tick hook in the fixed module order, fan out
// any events immediately, and broadcast a snapshot when either a module
// changed state or the broadcast cadence came due.
func (r *Room) stepLocked() {
	r.tick++
	ctx := &TickContext{
		Tick:    r.tick,
		Dt:      SimDtSeconds,
		NowMs:   r.nowMs(),
		Players: r.connectedPlayersLocked(),
	}

	for _, f := range r.features {
		out := f.Tick(ctx)
		if out.Changed {
			r.dirty[f.Key()] = true
			r.snapshotDirty = true
		}
		if len(out.Events) > 0 {
			r.fanOutLocked(nil, out.Events)
		}
	}

	if r.snapshotDirty || r.tick%snapshotIntervalTicks == 0 {
		r.broadcastSnapshotLocked(false)
	}
}

// Tick returns the current tick counter.
func (r *Room) Tick() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tick
}
