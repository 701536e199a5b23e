package services

import (
	"testing"
	"time"

	"sentinel/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAt(t0 time.Time, i int, mem float64) models.Sample {
	return models.Sample{Timestamp: t0.Add(time.Duration(i) * time.Second), CPUPercent: float64(i), MemoryPercent: mem}
}

func TestSampleHistoryFIFO(t *testing.T) {
	t0 := time.Now()
	h := NewSampleHistory(3)
	_, ok := h.Latest()
	assert.False(t, ok)

	for i := 0; i < 5; i++ {
		h.Append(sampleAt(t0, i, 0))
	}
	assert.Equal(t, 3, h.Len())

	snap := h.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []float64{2, 3, 4}, []float64{snap[0].CPUPercent, snap[1].CPUPercent, snap[2].CPUPercent})

	latest, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, 4.0, latest.CPUPercent)

	last := h.Last(2)
	assert.Equal(t, 3.0, last[0].CPUPercent)
	assert.Len(t, h.Last(10), 3)
}

func TestSampleHistoryResize(t *testing.T) {
	t0 := time.Now()
	h := NewSampleHistory(5)
	for i := 0; i < 5; i++ {
		h.Append(sampleAt(t0, i, 0))
	}

	h.Resize(2)
	snap := h.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, 3.0, snap[0].CPUPercent)
	assert.Equal(t, 4.0, snap[1].CPUPercent)

	h.Resize(4)
	h.Append(sampleAt(t0, 5, 0))
	h.Append(sampleAt(t0, 6, 0))
	h.Append(sampleAt(t0, 7, 0))
	snap = h.Snapshot()
	require.Len(t, snap, 4)
	assert.Equal(t, 4.0, snap[0].CPUPercent)
	assert.Equal(t, 7.0, snap[3].CPUPercent)
}

func TestSampleHistorySince(t *testing.T) {
	t0 := time.Now().Add(-time.Minute)
	h := NewSampleHistory(10)
	for i := 0; i < 4; i++ {
		h.Append(sampleAt(t0, i*20, 0))
	}
	recent := h.Since(t0.Add(60*time.Second), 30*time.Second)
	require.Len(t, recent, 2)
	assert.Equal(t, 40.0, recent[0].CPUPercent)
	assert.Equal(t, 60.0, recent[1].CPUPercent)
}

func TestSampleHistorySummary(t *testing.T) {
	assert.Equal(t, 0, NewSampleHistory(3).Summary(5).ReadingsCount)

	t0 := time.Now()
	h := NewSampleHistory(10)
	h.Append(models.Sample{Timestamp: t0, CPUPercent: 10, MemoryPercent: 40, DiskPercent: 50})
	h.Append(models.Sample{Timestamp: t0.Add(time.Second), CPUPercent: 30, MemoryPercent: 60, DiskPercent: 50})
	h.Append(models.Sample{Timestamp: t0.Add(2 * time.Second), CPUPercent: 50, MemoryPercent: 20, DiskPercent: 50})

	sum := h.Summary(2)
	assert.Equal(t, 2, sum.ReadingsCount)
	assert.InDelta(t, 40, sum.CPUAvg, 1e-9)
	assert.InDelta(t, 50, sum.CPUMax, 1e-9)
	assert.InDelta(t, 40, sum.MemoryAvg, 1e-9)
	assert.InDelta(t, 60, sum.MemoryMax, 1e-9)
	require.NotNil(t, sum.Latest)
	assert.Equal(t, 50.0, sum.Latest.CPUPercent)
}
