package engine

import (
	"context"
	"time"

	"github.com/normanking/avatarsync/internal/audio"
	"github.com/normanking/avatarsync/internal/bus"
)

// maybeDrainLocked decides whether to ship accumulated audio to the
// generation service. Single-flight per session: while a request is
// outstanding nothing else is sent for that session. Unless force is set,
// drains are gated on the minimum interval since the last drain and on the
// minimum accumulated duration.
func (e *Engine) maybeDrainLocked(s *Session, force bool) {
	if s.inFlight || s.state == StateClosed {
		return
	}

	now := e.now()
	if !force && !s.lastDrainAt.IsZero() && now.Sub(s.lastDrainAt) < e.cfg.MinDrainInterval {
		return
	}

	avail := s.pendingBytes()
	if avail <= 0 {
		return
	}
	minBytes := int(e.cfg.MinChunkDuration.Seconds() * audio.BytesPerSecond)
	if !force && avail < minBytes {
		return
	}

	// Copy the slice: pending may grow while the request is in flight.
	slice := make([]byte, avail)
	copy(slice, s.pending[s.drainIndex:])

	s.inFlight = true
	s.lastDrainAt = now

	e.publish(bus.EventTypeDrainStarted, map[string]any{"session": s.ID, "bytes": len(slice)})
	go e.drain(s.ID, slice)
}

// drain performs the generation request off the tick path and re-enters the
// engine with the result.
func (e *Engine) drain(id string, pcm []byte) {
	start := time.Now()
	resp, err := e.gen.Generate(context.Background(), pcm, audio.TargetSampleRate)
	elapsed := time.Since(start).Seconds()

	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[id]
	if !ok {
		// Session closed while the request was in flight; discard.
		return
	}
	s.inFlight = false

	if err != nil {
		// No retry: stale audio after a delay desynchronizes playback worse
		// than silence. A fresh response id starts a clean session.
		e.countDrain("error", elapsed, 0)
		e.logger.Error().Err(err).Str("session", id).Msg("Drain failed, abandoning session")
		e.publish(bus.EventTypeDrainFailed, map[string]any{"session": id, "error": err.Error()})
		e.removeLocked(s, "drain_failed")
		return
	}

	s.drainIndex += len(pcm)
	e.countDrain("ok", elapsed, len(pcm))

	e.mergeResponseLocked(s, resp)

	// Backlog above the threshold drains promptly; a completed session
	// flushes whatever remains.
	e.maybeDrainLocked(s, s.completed)
}
