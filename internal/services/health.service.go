package services

import (
	"fmt"

	"sentinel/internal/config"
	"sentinel/internal/models"
)

// Score deductions applied per breached resource and per active anomaly
const (
	cpuPenalty     = 20
	memoryPenalty  = 25
	diskPenalty    = 30
	anomalyPenalty = 10
)

// ComputeHealth scores the latest sample and the currently firing alerts.
// It is a pure read; nothing is stored.
func ComputeHealth(cfg *config.Config, latest *models.Sample, active []models.Alert) models.HealthStatus {
	status := models.HealthStatus{
		Score:        100,
		Factors:      []string{},
		ActiveAlerts: len(active),
	}
	if latest == nil {
		status.Status = models.HealthHealthy
		status.Factors = append(status.Factors, "No sample collected yet")
		return status
	}
	s := *latest
	status.Latest = &s

	if s.CPUPercent > cfg.CPUThreshold {
		status.Score -= cpuPenalty
		status.Factors = append(status.Factors, fmt.Sprintf("High CPU usage: %.1f%%", s.CPUPercent))
	}
	if s.MemoryPercent > cfg.MemoryThreshold {
		status.Score -= memoryPenalty
		status.Factors = append(status.Factors, fmt.Sprintf("High memory usage: %.1f%%", s.MemoryPercent))
	}
	if s.DiskPercent > cfg.DiskThreshold {
		status.Score -= diskPenalty
		status.Factors = append(status.Factors, fmt.Sprintf("High disk usage: %.1f%%", s.DiskPercent))
	}
	for _, a := range active {
		if a.Kind != models.KindAnomalyDetected {
			continue
		}
		status.Score -= anomalyPenalty
		status.Factors = append(status.Factors, "Anomaly: "+a.Tag)
	}

	status.Score = max(status.Score, 0)
	switch {
	case status.Score > 80:
		status.Status = models.HealthHealthy
	case status.Score > 50:
		status.Status = models.HealthWarning
	default:
		status.Status = models.HealthCritical
	}
	return status
}
