package models

import "time"

// Sample is one point-in-time resource reading
type Sample struct {
	Timestamp     time.Time `json:"timestamp"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	DiskPercent   float64   `json:"disk_percent"`

	// Footprint of the watched process itself
	ProcessRSSMB      float64 `json:"process_rss_mb"`
	ProcessCPUPercent float64 `json:"process_cpu_percent"`
	Goroutines        int     `json:"goroutines"`
}

// Value returns the utilization reported for a resource name ("cpu", "memory", "disk")
func (s Sample) Value(resource string) (float64, bool) {
	switch resource {
	case ResourceCPU:
		return s.CPUPercent, true
	case ResourceMemory:
		return s.MemoryPercent, true
	case ResourceDisk:
		return s.DiskPercent, true
	default:
		return 0, false
	}
}

// HistorySummary aggregates the most recent samples
type HistorySummary struct {
	CPUAvg        float64 `json:"cpu_avg"`
	CPUMax        float64 `json:"cpu_max"`
	MemoryAvg     float64 `json:"memory_avg"`
	MemoryMax     float64 `json:"memory_max"`
	DiskAvg       float64 `json:"disk_avg"`
	ReadingsCount int     `json:"readings_count"`
	Latest        *Sample `json:"latest,omitempty"`
}
