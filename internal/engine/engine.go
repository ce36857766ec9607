package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/normanking/avatarsync/internal/audio"
	"github.com/normanking/avatarsync/internal/blendshape"
	"github.com/normanking/avatarsync/internal/bus"
	"github.com/normanking/avatarsync/internal/config"
	"github.com/normanking/avatarsync/internal/observe"
	"github.com/normanking/avatarsync/internal/shapegen"
)

// Generator is the remote blendshape generation service.
type Generator interface {
	Generate(ctx context.Context, pcm []byte, sampleRate int) (*shapegen.GenerateResponse, error)
}

// Engine owns the session store and drives draining, normalization, and
// playback scheduling. One Engine serves one logical conversation; there is
// no package-level mutable state.
//
// All session mutation happens under the engine lock. Network completions
// re-enter through locked methods, so the tick path never blocks on I/O and
// a session never has two outstanding drain requests.
type Engine struct {
	mu       sync.Mutex
	cfg      config.EngineConfig
	gen      Generator
	sessions map[string]*Session

	logger  zerolog.Logger
	metrics *observe.Metrics
	events  *bus.EventBus

	// now is a test hook for wall-clock reads on the drain path.
	now func() time.Time
}

// New creates an Engine. metrics and events may be nil.
func New(cfg config.EngineConfig, gen Generator, logger zerolog.Logger, metrics *observe.Metrics, events *bus.EventBus) *Engine {
	return &Engine{
		cfg:      cfg,
		gen:      gen,
		sessions: make(map[string]*Session),
		logger:   logger.With().Str("component", "engine").Logger(),
		metrics:  metrics,
		events:   events,
		now:      time.Now,
	}
}

// SetConfig swaps engine tuning, e.g. after a config hot-reload. The caller
// is expected to pass an already clamped config.
func (e *Engine) SetConfig(cfg config.EngineConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
}

// HandleEvent dispatches a resolved producer event.
func (e *Engine) HandleEvent(ev AssistantEvent) {
	switch v := ev.(type) {
	case AudioStarted:
		e.BeginSession(v.ID)
	case AudioDelta:
		e.Ingest(v.ID, v.Chunk)
	case AudioStopped:
		e.CompleteSession(v.ID)
	case AudioDoneFallback:
		e.completeSession(v.ID, true)
	}
}

// BeginSession creates the session for a response id if it does not exist.
func (e *Engine) BeginSession(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessionLocked(id)
}

// Ingest normalizes a producer audio chunk and appends it to the session's
// backlog, creating the session on first contact. Audio arriving after the
// completion signal is ignored.
func (e *Engine) Ingest(id string, chunk *audio.Chunk) {
	pcm := audio.Normalize(chunk)

	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.sessionLocked(id)
	if s.completed {
		e.logger.Debug().Str("session", id).Msg("Ignoring audio after completion")
		return
	}

	s.pending = append(s.pending, pcm...)
	e.armFallbackLocked(s)
	e.maybeDrainLocked(s, false)
}

// CompleteSession records the producer's explicit end-of-audio signal: the
// fallback timer is cancelled and remaining audio is force-drained.
func (e *Engine) CompleteSession(id string) {
	e.completeSession(id, false)
}

func (e *Engine) completeSession(id string, fallback bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[id]
	if !ok || s.completed {
		return
	}

	s.cancelFallback()
	s.completed = true
	s.state = StateDraining

	e.logger.Info().Str("session", id).Bool("fallback", fallback).Msg("Session completed, draining")
	e.publish(bus.EventTypeSessionDraining, map[string]any{"session": id, "fallback": fallback})

	e.maybeDrainLocked(s, true)
}

// SetAnchor pairs the external audio clock with the session's local frame
// timeline. Called by the playback collaborator whenever it establishes or
// re-synchronizes its clock.
func (e *Engine) SetAnchor(id string, audioClockSec, frameLocalSec float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[id]
	if !ok {
		return
	}
	s.anchor = &Anchor{AudioClockOrigin: audioClockSec, FrameOrigin: frameLocalSec}
	e.logger.Debug().
		Str("session", id).
		Float64("audio_clock", audioClockSec).
		Float64("frame_origin", frameLocalSec).
		Msg("Anchor set")
}

// CurrentWeights returns a copy of the session's current blendshape weights,
// consumed once per render tick by the rendering collaborator.
func (e *Engine) CurrentWeights(id string) blendshape.WeightMap {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[id]
	if !ok {
		return nil
	}
	return s.currentWeights.Copy()
}

// LateDrops returns the session's late-drop counter, for diagnostics.
func (e *Engine) LateDrops(id string) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[id]
	if !ok {
		return 0
	}
	return s.lateDrops
}

// SessionIDs returns the ids of all live sessions.
func (e *Engine) SessionIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Snapshot returns a diagnostic view of every live session.
func (e *Engine) Snapshot() []SessionSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]SessionSnapshot, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s.snapshot())
	}
	return out
}

// Close cancels all fallback timers and drops every session. In-flight
// request effects are discarded when they complete.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, s := range e.sessions {
		s.cancelFallback()
		s.state = StateClosed
		delete(e.sessions, id)
		if e.metrics != nil {
			e.metrics.ActiveSessions.Add(context.Background(), -1)
		}
	}
}

// sessionLocked returns the session for id, creating it on first contact.
func (e *Engine) sessionLocked(id string) *Session {
	if s, ok := e.sessions[id]; ok {
		return s
	}

	s := newSession(id)
	e.sessions[id] = s

	e.logger.Info().Str("session", id).Msg("Session started")
	if e.metrics != nil {
		e.metrics.ActiveSessions.Add(context.Background(), 1)
	}
	e.publish(bus.EventTypeSessionStarted, map[string]any{"session": id})
	e.armFallbackLocked(s)
	return s
}

// armFallbackLocked (re)arms the silence-timeout timer guarding against a
// missed completion signal.
func (e *Engine) armFallbackLocked(s *Session) {
	if s.completed {
		return
	}
	s.cancelFallback()

	id := s.ID
	s.fallback = time.AfterFunc(e.cfg.SilenceTimeout, func() {
		e.logger.Warn().Str("session", id).Msg("No audio within silence window, forcing finalize")
		e.HandleEvent(AudioDoneFallback{ID: id})
	})
}

// removeLocked drops a session from the store.
func (e *Engine) removeLocked(s *Session, reason string) {
	s.cancelFallback()
	s.state = StateClosed
	delete(e.sessions, s.ID)

	e.logger.Info().Str("session", s.ID).Str("reason", reason).Msg("Session closed")
	if e.metrics != nil {
		e.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	e.publish(bus.EventTypeSessionClosed, map[string]any{"session": s.ID, "reason": reason})
}

func (e *Engine) publish(t bus.EventType, data map[string]any) {
	if e.events != nil {
		e.events.Publish(bus.Event{Type: t, Data: data})
	}
}

func (e *Engine) countDrain(status string, seconds float64, bytes int) {
	if e.metrics == nil {
		return
	}
	ctx := context.Background()
	e.metrics.DrainRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	e.metrics.DrainDuration.Record(ctx, seconds)
	if bytes > 0 && status == "ok" {
		e.metrics.AudioBytesSent.Add(ctx, int64(bytes))
	}
}
