package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 100*time.Millisecond, cfg.Engine.MinDrainInterval)
	assert.Equal(t, 240*time.Millisecond, cfg.Engine.MinChunkDuration)
	assert.Equal(t, 600*time.Millisecond, cfg.Engine.SilenceTimeout)
	assert.Equal(t, time.Second/30, cfg.Engine.FrameStep)
	assert.InDelta(t, 0.85, cfg.Engine.DecayFactor, 1e-9)
	assert.Equal(t, "http://localhost:9400", cfg.Generator.ServerURL)
}

func TestClamp(t *testing.T) {
	tests := []struct {
		name string
		in   EngineConfig
		want EngineConfig
	}{
		{
			name: "drain interval below floor",
			in:   EngineConfig{MinDrainInterval: 10 * time.Millisecond, MinChunkDuration: 240 * time.Millisecond},
			want: EngineConfig{MinDrainInterval: 40 * time.Millisecond, MinChunkDuration: 240 * time.Millisecond},
		},
		{
			name: "drain interval above ceiling",
			in:   EngineConfig{MinDrainInterval: time.Second, MinChunkDuration: 240 * time.Millisecond},
			want: EngineConfig{MinDrainInterval: 200 * time.Millisecond, MinChunkDuration: 240 * time.Millisecond},
		},
		{
			name: "chunk duration clamped both ways",
			in:   EngineConfig{MinDrainInterval: 100 * time.Millisecond, MinChunkDuration: 50 * time.Millisecond},
			want: EngineConfig{MinDrainInterval: 100 * time.Millisecond, MinChunkDuration: 110 * time.Millisecond},
		},
		{
			name: "chunk duration over ceiling",
			in:   EngineConfig{MinDrainInterval: 100 * time.Millisecond, MinChunkDuration: time.Second},
			want: EngineConfig{MinDrainInterval: 100 * time.Millisecond, MinChunkDuration: 450 * time.Millisecond},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Engine: tt.in}
			cfg.Clamp()
			assert.Equal(t, tt.want.MinDrainInterval, cfg.Engine.MinDrainInterval)
			assert.Equal(t, tt.want.MinChunkDuration, cfg.Engine.MinChunkDuration)
		})
	}
}

func TestClamp_FillsZeroValues(t *testing.T) {
	cfg := &Config{}
	cfg.Clamp()

	assert.Equal(t, 600*time.Millisecond, cfg.Engine.SilenceTimeout)
	assert.Equal(t, time.Second, cfg.Engine.IdleGrace)
	assert.Equal(t, time.Second/30, cfg.Engine.FrameStep)
	assert.Equal(t, time.Second/30, cfg.Engine.MinFrameSpacing)
	assert.Equal(t, 100*time.Millisecond, cfg.Engine.LateDrop)
	assert.InDelta(t, 0.85, cfg.Engine.DecayFactor, 1e-9)
}

func TestClamp_RejectsBadDecayFactor(t *testing.T) {
	for _, bad := range []float64{-0.1, 0, 1, 1.5} {
		cfg := &Config{Engine: EngineConfig{DecayFactor: bad}}
		cfg.Clamp()
		assert.InDelta(t, 0.85, cfg.Engine.DecayFactor, 1e-9)
	}
}
