package codec

import (
	"math"
	"time"
)

// SamplerFunc returns the RTP timestamp increment of the next frame.
type SamplerFunc func() uint32

// NewVideoSampler measures the wall clock time between frames, for sources
// that don't report frame durations.
func NewVideoSampler(clockRate uint32) SamplerFunc {
	last := time.Now()
	return func() uint32 {
		now := time.Now()
		samples := DurationSamples(clockRate, now.Sub(last))
		last = now
		return samples
	}
}

// NewAudioSampler advances by a fixed frame duration.
func NewAudioSampler(clockRate uint32, frame time.Duration) SamplerFunc {
	samples := DurationSamples(clockRate, frame)
	return func() uint32 {
		return samples
	}
}

// DurationSamples converts d to a number of samples at clockRate.
func DurationSamples(clockRate uint32, d time.Duration) uint32 {
	return uint32(math.Round(float64(clockRate) * d.Seconds()))
}
