// Package logging provides structured logging with rotating file and console
// output.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logger configuration
type Config struct {
	LogDir  string // Directory for log files (default: ~/.avatarsync/logs)
	Level   string // Minimum log level (default: info)
	Console bool   // Also log to console (default: true)

	// Rotation settings
	MaxSizeMB  int // Max log file size before rotation (default: 20)
	MaxBackups int // Rotated files to keep (default: 5)
	MaxAgeDays int // Days to keep rotated files (default: 14)
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		LogDir:     filepath.Join(home, ".avatarsync", "logs"),
		Level:      "info",
		Console:    true,
		MaxSizeMB:  20,
		MaxBackups: 5,
		MaxAgeDays: 14,
	}
}

// New creates a zerolog logger writing to a rotating file and, optionally,
// the console.
func New(cfg *Config) (zerolog.Logger, io.Closer, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("create log directory: %w", err)
	}

	fileWriter := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDir, "avatarsync.log"),
		MaxSize:    orDefault(cfg.MaxSizeMB, 20),
		MaxBackups: orDefault(cfg.MaxBackups, 5),
		MaxAge:     orDefault(cfg.MaxAgeDays, 14),
		Compress:   true,
	}

	writers := []io.Writer{fileWriter}
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		})
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(io.MultiWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Str("app", "avatarsync").
		Logger()

	logger.Info().Str("logDir", cfg.LogDir).Str("level", level.String()).Msg("Logger initialized")

	return logger, fileWriter, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
