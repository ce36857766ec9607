// Package engine implements the audio-to-blendshape synchronization engine:
// chunk accumulation and draining to the generation service, response
// normalization onto a per-session timeline, and clock-anchored playback of
// the resulting frames.
package engine

import (
	"time"

	"github.com/normanking/avatarsync/internal/blendshape"
)

// State is the lifecycle state of a session
type State string

const (
	// StateActive accepts audio from the producer.
	StateActive State = "active"
	// StateDraining has seen the completion signal (explicit or fallback)
	// and is flushing remaining audio and frames.
	StateDraining State = "draining"
	// StateClosed is terminal; the session is about to leave the store.
	StateClosed State = "closed"
)

// Frame is one timestamped blendshape weight map on the session's local
// timeline (seconds from session start).
type Frame struct {
	LocalTime float64
	Weights   blendshape.WeightMap
}

// Anchor pairs an audio-clock time with the frame-local time it corresponds
// to. playAt(f) = AudioClockOrigin + (f.LocalTime - FrameOrigin).
type Anchor struct {
	AudioClockOrigin float64
	FrameOrigin      float64
}

// Session is the per-response bookkeeping unit correlating audio input with
// generated animation frames. All fields are owned by the engine and mutated
// only under its lock.
type Session struct {
	ID string

	// Accumulated canonical 16 kHz PCM16 audio. drainIndex is the byte
	// offset already sent to the generation service; it only advances.
	pending     []byte
	drainIndex  int
	inFlight    bool
	lastDrainAt time.Time

	// Frame queue, strictly increasing LocalTime.
	frameQueue       []Frame
	framesCoveredSec float64
	lastAccepted     float64
	lastDelta        float64
	firstBatch       bool

	anchor         *Anchor
	currentWeights blendshape.WeightMap
	lastEmitClock  float64
	hasEmitted     bool
	lateDrops      int64

	state     State
	completed bool
	fallback  *time.Timer
	idleSince time.Time
}

func newSession(id string) *Session {
	return &Session{
		ID:             id,
		state:          StateActive,
		firstBatch:     true,
		currentWeights: make(blendshape.WeightMap),
		// lastDrainAt stays zero so the first drain is never interval-gated.
	}
}

// pendingBytes returns the accumulated-but-unsent byte count.
func (s *Session) pendingBytes() int {
	return len(s.pending) - s.drainIndex
}

// cancelFallback stops the silence-timeout timer, if armed.
func (s *Session) cancelFallback() {
	if s.fallback != nil {
		s.fallback.Stop()
		s.fallback = nil
	}
}

// SessionSnapshot is a diagnostic view of one session.
type SessionSnapshot struct {
	ID           string  `json:"id"`
	State        State   `json:"state"`
	QueueDepth   int     `json:"queue_depth"`
	PendingBytes int     `json:"pending_bytes"`
	DrainedBytes int     `json:"drained_bytes"`
	LateDrops    int64   `json:"late_drops"`
	Anchored     bool    `json:"anchored"`
	CoveredSec   float64 `json:"covered_sec"`
	Completed    bool    `json:"completed"`
}

func (s *Session) snapshot() SessionSnapshot {
	return SessionSnapshot{
		ID:           s.ID,
		State:        s.state,
		QueueDepth:   len(s.frameQueue),
		PendingBytes: s.pendingBytes(),
		DrainedBytes: s.drainIndex,
		LateDrops:    s.lateDrops,
		Anchored:     s.anchor != nil,
		CoveredSec:   s.framesCoveredSec,
		Completed:    s.completed,
	}
}
