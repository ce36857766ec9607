// Package config provides configuration management for avatarsync
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Engine    EngineConfig    `mapstructure:"engine"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Server    ServerConfig    `mapstructure:"server"`
	Avatar    AvatarConfig    `mapstructure:"avatar"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// EngineConfig tunes the synchronization engine
type EngineConfig struct {
	MinDrainInterval time.Duration `mapstructure:"min_drain_interval"` // min time between drains
	MinChunkDuration time.Duration `mapstructure:"min_chunk_duration"` // min audio per drain
	SilenceTimeout   time.Duration `mapstructure:"silence_timeout"`    // fallback finalize after no audio
	IdleGrace        time.Duration `mapstructure:"idle_grace"`         // keep session after playback ends
	FrameStep        time.Duration `mapstructure:"frame_step"`         // assumed spacing for untimed frames
	MinFrameSpacing  time.Duration `mapstructure:"min_frame_spacing"`  // min time between emitted frames
	EarlyTolerance   time.Duration `mapstructure:"early_tolerance"`    // emit frames due this soon
	LateDrop         time.Duration `mapstructure:"late_drop"`          // drop frames older than this
	DecayFactor      float64       `mapstructure:"decay_factor"`       // per-tick weight decay toward neutral
}

// GeneratorConfig configures the blendshape generation service client
type GeneratorConfig struct {
	ServerURL string        `mapstructure:"server_url"`
	Model     string        `mapstructure:"model"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// ServerConfig configures the websocket/HTTP front
type ServerConfig struct {
	Addr     string        `mapstructure:"addr"`
	TickRate time.Duration `mapstructure:"tick_rate"` // weight push cadence
}

// AvatarConfig describes the avatar mesh the weights will drive
type AvatarConfig struct {
	ModelPath string `mapstructure:"model_path"` // optional glTF for vocabulary validation
}

// LoggingConfig configures log output
type LoggingConfig struct {
	Dir     string `mapstructure:"dir"`
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

// Clamp bounds for drain tuning. Values outside these ranges make the engine
// either spam the service or lag behind real time.
const (
	minDrainIntervalFloor = 40 * time.Millisecond
	minDrainIntervalCeil  = 200 * time.Millisecond
	minChunkDurationFloor = 110 * time.Millisecond
	minChunkDurationCeil  = 450 * time.Millisecond
)

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Engine: EngineConfig{
			MinDrainInterval: 100 * time.Millisecond,
			MinChunkDuration: 240 * time.Millisecond,
			SilenceTimeout:   600 * time.Millisecond,
			IdleGrace:        1 * time.Second,
			FrameStep:        time.Second / 30,
			MinFrameSpacing:  time.Second / 30,
			EarlyTolerance:   5 * time.Millisecond,
			LateDrop:         100 * time.Millisecond,
			DecayFactor:      0.85,
		},
		Generator: GeneratorConfig{
			ServerURL: "http://localhost:9400",
			Model:     "default",
			Timeout:   10 * time.Second,
		},
		Server: ServerConfig{
			Addr:     ":8941",
			TickRate: time.Second / 30,
		},
		Avatar: AvatarConfig{
			ModelPath: "",
		},
		Logging: LoggingConfig{
			Dir:     filepath.Join(home, ".avatarsync", "logs"),
			Level:   "info",
			Console: true,
		},
	}
}

// Clamp bounds tunables to their safe ranges.
func (c *Config) Clamp() {
	e := &c.Engine
	e.MinDrainInterval = clampDur(e.MinDrainInterval, minDrainIntervalFloor, minDrainIntervalCeil)
	e.MinChunkDuration = clampDur(e.MinChunkDuration, minChunkDurationFloor, minChunkDurationCeil)
	if e.SilenceTimeout <= 0 {
		e.SilenceTimeout = 600 * time.Millisecond
	}
	if e.IdleGrace <= 0 {
		e.IdleGrace = time.Second
	}
	if e.FrameStep <= 0 {
		e.FrameStep = time.Second / 30
	}
	if e.MinFrameSpacing <= 0 {
		e.MinFrameSpacing = time.Second / 30
	}
	if e.EarlyTolerance < 0 {
		e.EarlyTolerance = 0
	}
	if e.LateDrop <= 0 {
		e.LateDrop = 100 * time.Millisecond
	}
	if e.DecayFactor <= 0 || e.DecayFactor >= 1 {
		e.DecayFactor = 0.85
	}
}

func clampDur(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Load reads configuration from file and environment
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configDir, err := GetConfigDir()
	if err != nil {
		return cfg, err
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return cfg, err
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("AVATARSYNC")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return cfg, err
	}

	cfg.Clamp()
	return cfg, nil
}

// Watch re-reads the config file on change and invokes onChange with the
// fresh, clamped configuration. Drain tuning can be adjusted live this way.
func Watch(onChange func(*Config)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		cfg := DefaultConfig()
		if err := viper.Unmarshal(cfg); err != nil {
			return
		}
		cfg.Clamp()
		onChange(cfg)
	})
	viper.WatchConfig()
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".avatarsync"), nil
}
