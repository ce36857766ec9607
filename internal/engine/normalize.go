package engine

import (
	"math"
	"sort"
	"sync"

	"github.com/normanking/avatarsync/internal/blendshape"
	"github.com/normanking/avatarsync/internal/bus"
	"github.com/normanking/avatarsync/internal/shapegen"
)

const (
	// minTimeBump separates tied timestamps when no positive inter-frame
	// delta has been observed yet. Kept below mergeEpsilon so a pure tie
	// collapses to a single frame.
	minTimeBump = 1e-3

	// mergeEpsilon collapses near-duplicate timestamps during merge; the
	// later entry wins.
	mergeEpsilon = 2e-3
)

// Collision logging is deduplicated per canonical key for the process
// lifetime to bound log volume.
var (
	collisionMu     sync.Mutex
	collisionLogged = make(map[string]struct{})
)

// mergeResponseLocked normalizes a service response batch and stitches it
// onto the session's local timeline.
func (e *Engine) mergeResponseLocked(s *Session, resp *shapegen.GenerateResponse) {
	frames := e.normalizeBatch(s, resp)
	if len(frames) == 0 {
		e.logger.Warn().Str("session", s.ID).Msg("Response contained no usable frames")
		return
	}

	if s.firstBatch {
		// Replace mode: the very first batch owns the queue.
		sort.SliceStable(frames, func(i, j int) bool { return frames[i].LocalTime < frames[j].LocalTime })
		s.frameQueue = collapseNearDuplicates(frames)
		s.firstBatch = false
	} else {
		merged := append(s.frameQueue, frames...)
		sort.SliceStable(merged, func(i, j int) bool { return merged[i].LocalTime < merged[j].LocalTime })
		s.frameQueue = collapseNearDuplicates(merged)
	}

	e.publish(bus.EventTypeBatchMerged, map[string]any{
		"session": s.ID,
		"frames":  len(frames),
		"queue":   len(s.frameQueue),
	})
}

// normalizeBatch coerces raw frame times to a strictly increasing sequence,
// canonicalizes blendshape keys, offsets the batch onto the session's
// running timeline, and drops stale remnants of overlapping batches. It also
// advances the session's coverage watermark so the next batch appends after
// this one.
func (e *Engine) normalizeBatch(s *Session, resp *shapegen.GenerateResponse) []Frame {
	if resp == nil || len(resp.Frames) == 0 {
		return nil
	}

	step := e.cfg.FrameStep.Seconds()
	lateDrop := e.cfg.LateDrop.Seconds()

	base := s.framesCoveredSec
	prevAccepted := s.lastAccepted

	out := make([]Frame, 0, len(resp.Frames))
	prev := math.Inf(-1)
	var span float64

	for _, rf := range resp.Frames {
		var t float64
		switch {
		case rf.TimeCode != nil && !math.IsNaN(*rf.TimeCode) && !math.IsInf(*rf.TimeCode, 0):
			t = *rf.TimeCode
		case math.IsInf(prev, -1):
			t = 0
		case s.lastDelta > 0:
			t = prev + s.lastDelta
		default:
			t = prev + step
		}

		if !math.IsInf(prev, -1) {
			if t <= prev {
				// Tie or regression: bump forward by the last observed
				// positive delta, or the minimum step if none yet.
				bump := s.lastDelta
				if bump <= 0 {
					bump = minTimeBump
				}
				t = prev + bump
			} else {
				s.lastDelta = t - prev
			}
		}
		prev = t
		if t > span {
			span = t
		}

		local := base + t
		if prevAccepted-local > lateDrop {
			// Stale remnant of an overlapping batch.
			s.lateDrops++
			e.recordLateDrop()
			continue
		}

		out = append(out, Frame{LocalTime: local, Weights: e.canonicalizeWeights(rf.BlendShapes)})
	}

	// Guarantee forward progress even for single-frame batches.
	if span < step {
		span = step
	}
	if covered := base + span; covered > s.framesCoveredSec {
		s.framesCoveredSec = covered
	}
	for _, f := range out {
		if f.LocalTime > s.lastAccepted {
			s.lastAccepted = f.LocalTime
		}
	}

	return out
}

// canonicalizeWeights maps raw blendshape keys into the closed vocabulary.
// When two raw keys canonicalize to the same name in one frame, the larger
// weight wins.
func (e *Engine) canonicalizeWeights(raw map[string]float64) blendshape.WeightMap {
	w := make(blendshape.WeightMap, len(raw))
	for k, v := range raw {
		name := blendshape.Canonicalize(k)
		if name == "" {
			continue
		}
		cv := blendshape.Clamp01(v)
		if old, ok := w[name]; ok {
			e.logCollisionOnce(name)
			if cv < old {
				continue
			}
		}
		w[name] = cv
	}
	return w
}

func (e *Engine) logCollisionOnce(name string) {
	collisionMu.Lock()
	_, seen := collisionLogged[name]
	if !seen {
		collisionLogged[name] = struct{}{}
	}
	collisionMu.Unlock()

	if !seen {
		e.logger.Warn().Str("key", name).Msg("Duplicate blendshape keys canonicalize to the same name, keeping the larger weight")
	}
}

// collapseNearDuplicates removes entries whose timestamps sit within
// mergeEpsilon of their predecessor, keeping the later entry. Input must be
// sorted; output is strictly increasing.
func collapseNearDuplicates(frames []Frame) []Frame {
	out := make([]Frame, 0, len(frames))
	for _, f := range frames {
		if n := len(out); n > 0 && f.LocalTime-out[n-1].LocalTime < mergeEpsilon {
			out[n-1] = f
			continue
		}
		out = append(out, f)
	}
	return out
}
