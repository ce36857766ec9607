package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/avatarsync/internal/blendshape"
)

// queueFrames installs a ready-made frame queue on a fresh session.
func queueFrames(t *testing.T, e *Engine, id string, fs ...Frame) *Session {
	t.Helper()
	s := newSession(id)
	s.frameQueue = fs
	s.firstBatch = false
	e.mu.Lock()
	e.sessions[id] = s
	e.mu.Unlock()
	return s
}

func TestTick_EmitsWhenDue(t *testing.T) {
	e := newTestEngine(t, &fakeGenerator{})
	queueFrames(t, e, "s", Frame{LocalTime: 0.5, Weights: blendshape.WeightMap{"jawOpen": 0.7}})

	e.SetAnchor("s", 10.0, 0)

	// playAt = 10.5; the frame is withheld before then.
	e.Tick("s", 10.4)
	assert.Empty(t, e.CurrentWeights("s"))

	e.Tick("s", 10.6)
	w := e.CurrentWeights("s")
	require.Contains(t, w, "jawOpen")
	assert.InDelta(t, 0.7, w["jawOpen"], 1e-9)
	assert.Zero(t, e.LateDrops("s"))
}

func TestTick_DropsLateFrame(t *testing.T) {
	e := newTestEngine(t, &fakeGenerator{})
	s := queueFrames(t, e, "s", Frame{LocalTime: 0, Weights: blendshape.WeightMap{"jawOpen": 0.7}})

	e.SetAnchor("s", 0, 0)
	e.Tick("s", 0.3)

	assert.Empty(t, e.CurrentWeights("s"))
	assert.Equal(t, int64(1), e.LateDrops("s"))
	assert.Empty(t, s.frameQueue)
}

func TestTick_LateBoundaryIsExclusive(t *testing.T) {
	// A frame exactly lateDrop behind the clock still plays.
	e := newTestEngine(t, &fakeGenerator{})
	queueFrames(t, e, "s", Frame{LocalTime: 0, Weights: blendshape.WeightMap{"jawOpen": 0.7}})

	e.SetAnchor("s", 0, 0)
	e.Tick("s", 0.1)

	assert.Contains(t, e.CurrentWeights("s"), "jawOpen")
	assert.Zero(t, e.LateDrops("s"))
}

func TestTick_EarlyToleranceAdmitsNearDueFrame(t *testing.T) {
	e := newTestEngine(t, &fakeGenerator{})
	queueFrames(t, e, "s", Frame{LocalTime: 0.5, Weights: blendshape.WeightMap{"jawOpen": 0.7}})

	e.SetAnchor("s", 0, 0)
	e.Tick("s", 0.497) // within the 5 ms early tolerance

	assert.Contains(t, e.CurrentWeights("s"), "jawOpen")
}

func TestTick_OneFramePerTick(t *testing.T) {
	e := newTestEngine(t, &fakeGenerator{})
	s := queueFrames(t, e, "s",
		Frame{LocalTime: 0.00, Weights: blendshape.WeightMap{"jawOpen": 0.1}},
		Frame{LocalTime: 0.02, Weights: blendshape.WeightMap{"jawOpen": 0.2}},
	)

	e.SetAnchor("s", 0, 0)

	// Both frames are due and neither is late, but only the head emits.
	e.Tick("s", 0.05)
	assert.InDelta(t, 0.1, e.CurrentWeights("s")["jawOpen"], 1e-9)
	require.Len(t, s.frameQueue, 1)

	// Next tick, past the minimum spacing, releases the second.
	e.Tick("s", 0.09)
	assert.InDelta(t, 0.2, e.CurrentWeights("s")["jawOpen"], 1e-9)
	assert.Empty(t, s.frameQueue)
}

func TestTick_NoAnchorWithholdsEverything(t *testing.T) {
	e := newTestEngine(t, &fakeGenerator{})
	s := queueFrames(t, e, "s", Frame{LocalTime: 0, Weights: blendshape.WeightMap{"jawOpen": 0.7}})

	e.Tick("s", 100)
	assert.Empty(t, e.CurrentWeights("s"))
	assert.Len(t, s.frameQueue, 1)
}

func TestTick_IdleDecayThenClose(t *testing.T) {
	e := newTestEngine(t, &fakeGenerator{})
	s := queueFrames(t, e, "s")
	s.completed = true
	s.state = StateDraining
	s.currentWeights = blendshape.WeightMap{"jawOpen": 1.0}

	e.SetAnchor("s", 0, 0)

	now := time.Now()
	e.mu.Lock()
	e.now = func() time.Time { return now }
	e.mu.Unlock()

	e.Tick("s", 0)
	w := e.CurrentWeights("s")
	require.Contains(t, w, "jawOpen")
	assert.InDelta(t, 0.85, w["jawOpen"], 1e-9, "weights ease toward neutral instead of snapping")

	// Decay to neutral, then wait out the idle grace.
	for i := 0; i < 60 && e.session("s") != nil; i++ {
		now = now.Add(50 * time.Millisecond)
		e.Tick("s", float64(i))
	}

	assert.Nil(t, e.session("s"), "session closes after the idle grace period")
}

func TestTick_UnknownSessionIsNoop(t *testing.T) {
	e := newTestEngine(t, &fakeGenerator{})
	e.Tick("missing", 1.0)
	assert.Nil(t, e.CurrentWeights("missing"))
}

func TestCurrentWeights_ReturnsCopy(t *testing.T) {
	e := newTestEngine(t, &fakeGenerator{})
	queueFrames(t, e, "s", Frame{LocalTime: 0, Weights: blendshape.WeightMap{"jawOpen": 0.7}})

	e.SetAnchor("s", 0, 0)
	e.Tick("s", 0)

	w := e.CurrentWeights("s")
	w["jawOpen"] = 0
	assert.InDelta(t, 0.7, e.CurrentWeights("s")["jawOpen"], 1e-9)
}
