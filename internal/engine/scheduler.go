package engine

import (
	"context"
	"time"

	"github.com/normanking/avatarsync/internal/bus"
)

// weightEpsilon is the floor below which a decaying weight is considered
// neutral and removed.
const weightEpsilon = 0.005

// Tick advances one session's playback scheduler. clockSec is the current
// time on the external audio playback clock; the host calls this once per
// render tick. The tick also drives drain cadence and idle closure, so it
// must keep arriving until the session closes.
func (e *Engine) Tick(id string, clockSec float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[id]
	if !ok {
		return
	}

	e.pumpLocked(s, clockSec)
	e.maybeDrainLocked(s, s.completed)
	e.idleLocked(s)
}

// pumpLocked promotes due frames to current weights. Frames are generated on
// server time but must render on the listener's audio clock; this loop — not
// network response order — is the sole authority for when a weight becomes
// current. At most one frame is emitted per tick; frames past their useful
// window are dropped and counted.
func (e *Engine) pumpLocked(s *Session, clock float64) {
	if s.anchor == nil {
		return
	}

	earlyTol := e.cfg.EarlyTolerance.Seconds()
	lateDrop := e.cfg.LateDrop.Seconds()
	spacing := e.cfg.MinFrameSpacing.Seconds()

	for len(s.frameQueue) > 0 {
		f := s.frameQueue[0]
		playAt := s.anchor.AudioClockOrigin + (f.LocalTime - s.anchor.FrameOrigin)

		if playAt > clock+earlyTol {
			break
		}
		if clock-playAt > lateDrop {
			s.frameQueue = s.frameQueue[1:]
			s.lateDrops++
			e.recordLateDrop()
			continue
		}
		if s.hasEmitted && clock-s.lastEmitClock < spacing {
			// Too soon after the last emission; wait for the next tick
			// rather than burning through several frames at once.
			break
		}

		s.frameQueue = s.frameQueue[1:]
		s.currentWeights = f.Weights
		s.lastEmitClock = clock
		s.hasEmitted = true

		if e.metrics != nil {
			e.metrics.FramesEmitted.Add(context.Background(), 1)
		}
		e.publish(bus.EventTypeWeightsUpdated, map[string]any{
			"session":    s.ID,
			"local_time": f.LocalTime,
			"shapes":     len(f.Weights),
		})
	}
}

// idleLocked handles the anchored → idle → closed tail of a session: once
// the producer finished and everything queued has played out, weights ease
// back to neutral instead of snapping, and the session closes after a grace
// period.
func (e *Engine) idleLocked(s *Session) {
	if !s.completed || s.inFlight || len(s.frameQueue) > 0 || s.pendingBytes() > 0 {
		s.idleSince = time.Time{}
		return
	}

	if s.idleSince.IsZero() {
		s.idleSince = e.now()
	}

	if len(s.currentWeights) > 0 {
		s.currentWeights.Decay(e.cfg.DecayFactor, weightEpsilon)
	}

	if len(s.currentWeights) == 0 && e.now().Sub(s.idleSince) >= e.cfg.IdleGrace {
		e.removeLocked(s, "playback_complete")
	}
}

func (e *Engine) recordLateDrop() {
	if e.metrics != nil {
		e.metrics.FramesDroppedLate.Add(context.Background(), 1)
	}
}
