package codec

import (
	"sync"
	"time"
)

type bitrateSample struct {
	at   time.Time
	size int
}

// BitrateTracker measures throughput over a sliding window. It is safe for
// concurrent use.
type BitrateTracker struct {
	mu         sync.Mutex
	windowSize time.Duration
	samples    []bitrateSample
	total      int
}

func NewBitrateTracker(windowSize time.Duration) *BitrateTracker {
	return &BitrateTracker{
		windowSize: windowSize,
	}
}

// AddFrame records sizeBytes sent or received at timestamp and forgets
// samples that fell out of the window.
func (bt *BitrateTracker) AddFrame(sizeBytes int, timestamp time.Time) {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	bt.samples = append(bt.samples, bitrateSample{at: timestamp, size: sizeBytes})
	bt.total += sizeBytes

	cutoff := timestamp.Add(-bt.windowSize)
	expired := 0
	for _, s := range bt.samples {
		if s.at.After(cutoff) {
			break
		}
		bt.total -= s.size
		expired++
	}
	bt.samples = bt.samples[expired:]
}

// GetBitrate returns the bits per second observed within the window.
func (bt *BitrateTracker) GetBitrate() float64 {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	if len(bt.samples) < 2 {
		return 0
	}
	span := bt.samples[len(bt.samples)-1].at.Sub(bt.samples[0].at).Seconds()
	if span <= 0 {
		return 0
	}
	return float64(bt.total*8) / span
}
