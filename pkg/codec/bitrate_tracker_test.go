package codec

import (
	"math"
	"sync"
	"testing"
	"time"
)

func TestBitrateTracker(t *testing.T) {
	const size = 1000
	start := time.Now()
	at := func(ms int) time.Time { return start.Add(time.Duration(ms) * time.Millisecond) }

	bt := NewBitrateTracker(time.Second)
	if got := bt.GetBitrate(); got != 0 {
		t.Fatalf("expected 0 without samples, got %v", got)
	}

	testCases := []struct {
		at       int
		expected float64
	}{
		{0, 0},
		{100, size * 8 * 2 / 0.1},
		{999, size * 8 * 3 / 0.999},
		// The sample at 100 ms falls out of the window.
		{1500, size * 8 * 2 / 0.501},
	}
	for _, testCase := range testCases {
		bt.AddFrame(size, at(testCase.at))
		if got := bt.GetBitrate(); math.Abs(got-testCase.expected) > size*8/10 {
			t.Errorf("after %d ms: expected %v, got %v", testCase.at, testCase.expected, got)
		}
	}
}

func TestBitrateTrackerConcurrent(t *testing.T) {
	bt := NewBitrateTracker(time.Second)
	start := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bt.AddFrame(100, start.Add(time.Duration(i*100+j)*time.Millisecond))
				_ = bt.GetBitrate()
			}
		}(i)
	}
	wg.Wait()
}
