package services

import (
	"sync"
	"time"

	"sentinel/internal/models"
)

// SampleHistory is a fixed-capacity ring of samples. Overflow evicts the oldest
// sample: anomaly rules care about recency, not importance.
type SampleHistory struct {
	mu    sync.RWMutex
	buf   []models.Sample
	start int
	size  int
}

// NewSampleHistory creates a ring holding at most capacity samples
func NewSampleHistory(capacity int) *SampleHistory {
	if capacity < 1 {
		capacity = 1
	}
	return &SampleHistory{buf: make([]models.Sample, capacity)}
}

// Append records a sample, evicting the oldest when full
func (h *SampleHistory) Append(s models.Sample) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = s
		h.size++
		return
	}
	h.buf[h.start] = s
	h.start = (h.start + 1) % len(h.buf)
}

// Snapshot returns all samples, oldest first
func (h *SampleHistory) Snapshot() []models.Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastLocked(h.size)
}

// Last returns up to n most recent samples, oldest first
func (h *SampleHistory) Last(n int) []models.Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n > h.size {
		n = h.size
	}
	return h.lastLocked(n)
}

func (h *SampleHistory) lastLocked(n int) []models.Sample {
	out := make([]models.Sample, n)
	first := h.size - n
	for i := 0; i < n; i++ {
		out[i] = h.buf[(h.start+first+i)%len(h.buf)]
	}
	return out
}

// Latest returns the most recent sample
func (h *SampleHistory) Latest() (models.Sample, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.size == 0 {
		return models.Sample{}, false
	}
	return h.buf[(h.start+h.size-1)%len(h.buf)], true
}

// Since returns samples newer than now-duration, oldest first
func (h *SampleHistory) Since(now time.Time, duration time.Duration) []models.Sample {
	cutoff := now.Add(-duration)
	all := h.Snapshot()
	filtered := []models.Sample{}
	for _, s := range all {
		if s.Timestamp.After(cutoff) {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

// Len returns how many samples are held
func (h *SampleHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// Resize changes the capacity, keeping the most recent samples
func (h *SampleHistory) Resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if capacity == len(h.buf) {
		return
	}
	keep := h.size
	if keep > capacity {
		keep = capacity
	}
	samples := h.lastLocked(keep)
	h.buf = make([]models.Sample, capacity)
	copy(h.buf, samples)
	h.start = 0
	h.size = keep
}

// Summary aggregates the last n samples
func (h *SampleHistory) Summary(n int) models.HistorySummary {
	recent := h.Last(n)
	if len(recent) == 0 {
		return models.HistorySummary{}
	}

	var sum models.HistorySummary
	for _, s := range recent {
		sum.CPUAvg += s.CPUPercent
		sum.MemoryAvg += s.MemoryPercent
		sum.DiskAvg += s.DiskPercent
		if s.CPUPercent > sum.CPUMax {
			sum.CPUMax = s.CPUPercent
		}
		if s.MemoryPercent > sum.MemoryMax {
			sum.MemoryMax = s.MemoryPercent
		}
	}
	count := float64(len(recent))
	sum.CPUAvg /= count
	sum.MemoryAvg /= count
	sum.DiskAvg /= count
	sum.ReadingsCount = len(recent)
	latest := recent[len(recent)-1]
	sum.Latest = &latest
	return sum
}
