// Package samples keeps a bounded, time-ordered window of grid power samples
// tagged with the tariff block in force when they were taken.
package samples

import (
	"math"
	"sync"
	"time"

	"github.com/ryansname/chargectl/src/tariff"
)

// Sample is one observation of grid power plus the tariff state at that time.
// GridPowerW is nil when the reading was unavailable.
type Sample struct {
	Timestamp        time.Time
	GridPowerW       *int
	CurrentBlock     int
	NextBlock        int
	MinutesToNext    int
	CurrentBlockCapW int
	NextBlockCapW    int
}

// Capacity returns how many samples fit in retention at one sample per period
func Capacity(period, retention time.Duration) int {
	if period <= 0 {
		return 0
	}
	return int((60 / period.Seconds()) * retention.Minutes())
}

// Buffer is a FIFO of samples. Oldest samples are evicted once full.
// Safe for concurrent use.
type Buffer struct {
	mu       sync.RWMutex
	capacity int
	samples  []Sample
}

// NewBuffer creates an empty buffer holding at most capacity samples
func NewBuffer(capacity int) *Buffer {
	return &Buffer{
		capacity: capacity,
		samples:  make([]Sample, 0, capacity),
	}
}

// Record appends a sample for now built from the tariff transition and block caps
func (b *Buffer) Record(now time.Time, gridPowerW *int, transition tariff.Transition, caps tariff.Caps) Sample {
	sample := Sample{
		Timestamp:        now,
		GridPowerW:       gridPowerW,
		CurrentBlock:     transition.CurrentBlock,
		NextBlock:        transition.NextBlock,
		MinutesToNext:    transition.MinutesToNext,
		CurrentBlockCapW: caps.Watts(transition.CurrentBlock),
		NextBlockCapW:    caps.Watts(transition.NextBlock),
	}
	b.Append(sample)
	return sample
}

// Append adds a sample, evicting from the front while over capacity
func (b *Buffer) Append(sample Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.samples = append(b.samples, sample)
	if over := len(b.samples) - b.capacity; over > 0 {
		b.samples = append(b.samples[:0], b.samples[over:]...)
	}
}

// Len returns the number of buffered samples
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.samples)
}

// Capacity returns the maximum number of samples
func (b *Buffer) Capacity() int {
	return b.capacity
}

// Latest returns the most recent sample
func (b *Buffer) Latest() (Sample, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.samples) == 0 {
		return Sample{}, false
	}
	return b.samples[len(b.samples)-1], true
}

// Samples returns a copy of the buffer contents, oldest first
func (b *Buffer) Samples() []Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Sample, len(b.samples))
	copy(out, b.samples)
	return out
}

// WindowedAverage averages grid power over samples no older than window
// with a known reading, rounded half to even. Returns false without data.
func (b *Buffer) WindowedAverage(now time.Time, window time.Duration) (int, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	cutoff := now.Add(-window)
	var sum float64
	var count int
	for _, s := range b.samples {
		if s.GridPowerW == nil || s.Timestamp.Before(cutoff) {
			continue
		}
		sum += float64(*s.GridPowerW)
		count++
	}
	if count == 0 {
		return 0, false
	}
	return int(math.RoundToEven(sum / float64(count))), true
}
