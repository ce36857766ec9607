package audio

import (
	"encoding/binary"
	"math"
)

// Normalize converts a chunk into canonical 16 kHz mono PCM16 bytes.
// Malformed or degenerate input (empty data, non-positive rate, unknown
// encoding) yields an empty slice — silence is a valid, common case and is
// never an error.
func Normalize(c *Chunk) []byte {
	if c == nil || len(c.Data) == 0 || c.SampleRate <= 0 {
		return nil
	}

	var samples []float64
	switch c.Encoding {
	case EncodingPCM16:
		samples = DecodePCM16(c.Data)
	case EncodingFloat32:
		samples = decodeFloat32(c.Data)
	default:
		return nil
	}
	if len(samples) == 0 {
		return nil
	}

	resampled := Resample(samples, c.SampleRate, TargetSampleRate)
	return EncodePCM16(resampled)
}

// Resample converts samples from srcRate to dstRate using linear
// interpolation. Same-rate input is returned as-is.
func Resample(samples []float64, srcRate, dstRate int) []float64 {
	if len(samples) == 0 || srcRate <= 0 || dstRate <= 0 {
		return nil
	}
	if srcRate == dstRate {
		return samples
	}

	ratio := float64(srcRate) / float64(dstRate)
	outLen := int(float64(len(samples)) * float64(dstRate) / float64(srcRate))
	if outLen <= 0 {
		return nil
	}

	out := make([]float64, outLen)
	for i := range out {
		pos := float64(i) * ratio
		i0 := int(math.Floor(pos))
		if i0 >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := pos - float64(i0)
		out[i] = samples[i0]*(1-frac) + samples[i0+1]*frac
	}
	return out
}

// DecodePCM16 converts little-endian 16-bit PCM bytes into float samples in
// [-1, 1]. A trailing odd byte is ignored.
func DecodePCM16(data []byte) []float64 {
	n := len(data) / 2
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(data[i*2:]))
		out[i] = float64(s) / 32768.0
	}
	return out
}

// EncodePCM16 converts float samples in [-1, 1] into little-endian 16-bit
// PCM bytes with symmetric rounding and clamping.
func EncodePCM16(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		s := int(math.Round(v * 32768.0))
		if s > 32767 {
			s = 32767
		}
		if s < -32768 {
			s = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s)))
	}
	return out
}

// decodeFloat32 converts little-endian IEEE 754 float32 bytes into float
// samples, clamping to [-1, 1] and zeroing non-finite values.
func decodeFloat32(data []byte) []float64 {
	n := len(data) / 4
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		v := float64(math.Float32frombits(bits))
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		if v < -1 {
			v = -1
		}
		out[i] = v
	}
	return out
}
