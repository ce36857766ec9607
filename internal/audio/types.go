// Package audio provides audio normalization for the sync engine: arbitrary
// rate float32/PCM16 input is converted to canonical 16 kHz mono PCM16.
package audio

import (
	"time"
)

// TargetSampleRate is the canonical rate expected by the generation service.
const TargetSampleRate = 16000

// BytesPerSecond is the byte rate of canonical audio (16 kHz mono 16-bit).
const BytesPerSecond = TargetSampleRate * 2

// Encoding identifies the sample encoding of an inbound chunk
type Encoding string

const (
	EncodingPCM16   Encoding = "pcm16"
	EncodingFloat32 Encoding = "float32"
)

// Chunk represents one inbound chunk of raw audio from a producer.
// Data holds little-endian samples in the declared encoding.
type Chunk struct {
	Data       []byte    `json:"data"`
	Encoding   Encoding  `json:"encoding"`
	SampleRate int       `json:"sample_rate"`
	ReceivedAt time.Time `json:"received_at"`
}

// DurationSec returns the chunk's duration in seconds at its source rate.
func (c *Chunk) DurationSec() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	n := 0
	switch c.Encoding {
	case EncodingPCM16:
		n = len(c.Data) / 2
	case EncodingFloat32:
		n = len(c.Data) / 4
	}
	return float64(n) / float64(c.SampleRate)
}
