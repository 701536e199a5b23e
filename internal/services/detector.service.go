package services

import (
	"fmt"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/models"
)

// criticalFactor is how far past a threshold a breach becomes critical
const criticalFactor = 1.1

// DetectorConfig holds the limits the anomaly rules compare against
type DetectorConfig struct {
	CPUThreshold    float64
	MemoryThreshold float64
	DiskThreshold   float64

	GrowthWindow      int
	MemoryGrowthLimit float64

	CycleTimeMultiple float64
	CycleTimeCeiling  time.Duration

	ErrorRateCeiling float64
}

// DetectorConfigFrom extracts the detector limits from a configuration
func DetectorConfigFrom(cfg *config.Config) DetectorConfig {
	return DetectorConfig{
		CPUThreshold:      cfg.CPUThreshold,
		MemoryThreshold:   cfg.MemoryThreshold,
		DiskThreshold:     cfg.DiskThreshold,
		GrowthWindow:      cfg.GrowthWindow,
		MemoryGrowthLimit: cfg.MemoryGrowthLimit,
		CycleTimeMultiple: cfg.CycleTimeMultiple,
		CycleTimeCeiling:  cfg.CycleTimeCeiling,
		ErrorRateCeiling:  cfg.ErrorRateCeiling,
	}
}

// DetectorInput is everything one evaluation looks at
type DetectorInput struct {
	History   []models.Sample // oldest first; the last entry is the sample under evaluation
	Durations []time.Duration // event durations, oldest first
	Failures  int
	Attempts  int
	Now       time.Time // stamp for alerts not tied to a sample
}

// AnomalyDetector evaluates samples and event timings with statistical
// thresholds. It holds no mutable state; every rule is a pure function.
type AnomalyDetector struct {
	cfg DetectorConfig
}

// NewAnomalyDetector creates a detector with fixed limits
func NewAnomalyDetector(cfg DetectorConfig) AnomalyDetector {
	return AnomalyDetector{cfg: cfg}
}

// Evaluate runs every rule and returns all alerts that fired
func (d AnomalyDetector) Evaluate(in DetectorInput) []models.Alert {
	var alerts []models.Alert

	if len(in.History) > 0 {
		latest := in.History[len(in.History)-1]
		alerts = append(alerts, ThresholdRule(d.cfg, latest)...)
		if a, ok := GrowthRule(d.cfg, in.History); ok {
			alerts = append(alerts, a)
		}
	}

	now := in.Now
	if now.IsZero() && len(in.History) > 0 {
		now = in.History[len(in.History)-1].Timestamp
	}
	if a, ok := CycleTimeRule(d.cfg, in.Durations, now); ok {
		alerts = append(alerts, a)
	}
	if a, ok := ErrorRateRule(d.cfg, in.Failures, in.Attempts, now); ok {
		alerts = append(alerts, a)
	}
	return alerts
}

// ThresholdRule flags each resource whose latest value exceeds its threshold
func ThresholdRule(cfg DetectorConfig, latest models.Sample) []models.Alert {
	var alerts []models.Alert
	checks := []struct {
		resource  string
		threshold float64
	}{
		{models.ResourceCPU, cfg.CPUThreshold},
		{models.ResourceMemory, cfg.MemoryThreshold},
		{models.ResourceDisk, cfg.DiskThreshold},
	}
	for _, c := range checks {
		value, _ := latest.Value(c.resource)
		if c.threshold <= 0 || value <= c.threshold {
			continue
		}
		alerts = append(alerts, models.Alert{
			Resource:      c.resource,
			Kind:          models.KindThresholdExceeded,
			ObservedValue: value,
			Threshold:     c.threshold,
			Severity:      thresholdSeverity(value, c.threshold),
			Timestamp:     latest.Timestamp,
			Message:       fmt.Sprintf("High %s usage: %.1f%% (threshold %.1f%%)", c.resource, value, c.threshold),
		})
	}
	return alerts
}

// GrowthRule is the leak heuristic: latest memory against the mean of the
// prior window. Needs at least one prior sample.
func GrowthRule(cfg DetectorConfig, history []models.Sample) (models.Alert, bool) {
	if cfg.MemoryGrowthLimit <= 0 || len(history) < 2 {
		return models.Alert{}, false
	}
	latest := history[len(history)-1]
	prior := history[:len(history)-1]
	if window := cfg.GrowthWindow; window > 0 && len(prior) > window {
		prior = prior[len(prior)-window:]
	}

	var mean float64
	for _, s := range prior {
		mean += s.MemoryPercent
	}
	mean /= float64(len(prior))

	delta := latest.MemoryPercent - mean
	if delta <= cfg.MemoryGrowthLimit {
		return models.Alert{}, false
	}
	return models.Alert{
		Resource:      models.ResourceMemory,
		Kind:          models.KindAnomalyDetected,
		Tag:           models.TagMemoryGrowth,
		ObservedValue: delta,
		Threshold:     cfg.MemoryGrowthLimit,
		Severity:      anomalySeverity(delta, cfg.MemoryGrowthLimit),
		Timestamp:     latest.Timestamp,
		Message:       fmt.Sprintf("Memory grew %.1f points over the trailing mean of %d samples", delta, len(prior)),
	}, true
}

// CycleTimeRule flags the latest duration when it exceeds a multiple of the
// trailing mean, or the absolute ceiling when one is configured.
func CycleTimeRule(cfg DetectorConfig, durations []time.Duration, now time.Time) (models.Alert, bool) {
	if len(durations) == 0 {
		return models.Alert{}, false
	}
	latest := durations[len(durations)-1]
	trailing := durations[:len(durations)-1]

	var limit time.Duration
	if len(trailing) > 0 && cfg.CycleTimeMultiple > 0 {
		var total time.Duration
		for _, d := range trailing {
			total += d
		}
		mean := total / time.Duration(len(trailing))
		if rel := time.Duration(float64(mean) * cfg.CycleTimeMultiple); latest > rel {
			limit = rel
		}
	}
	if limit == 0 && cfg.CycleTimeCeiling > 0 && latest > cfg.CycleTimeCeiling {
		limit = cfg.CycleTimeCeiling
	}
	if limit == 0 {
		return models.Alert{}, false
	}

	return models.Alert{
		Resource:      models.ResourceCycle,
		Kind:          models.KindAnomalyDetected,
		Tag:           models.TagCycleTime,
		ObservedValue: latest.Seconds(),
		Threshold:     limit.Seconds(),
		Severity:      anomalySeverity(latest.Seconds(), limit.Seconds()),
		Timestamp:     now,
		Message:       fmt.Sprintf("Cycle took %s, limit %s", latest.Round(time.Millisecond), limit.Round(time.Millisecond)),
	}, true
}

// ErrorRateRule flags a failure ratio above the ceiling
func ErrorRateRule(cfg DetectorConfig, failures, attempts int, now time.Time) (models.Alert, bool) {
	if attempts <= 0 || failures <= 0 {
		return models.Alert{}, false
	}
	rate := float64(failures) / float64(attempts)
	if rate <= cfg.ErrorRateCeiling {
		return models.Alert{}, false
	}
	return models.Alert{
		Resource:      models.ResourceErrors,
		Kind:          models.KindAnomalyDetected,
		Tag:           models.TagErrorRate,
		ObservedValue: rate,
		Threshold:     cfg.ErrorRateCeiling,
		Severity:      anomalySeverity(rate, cfg.ErrorRateCeiling),
		Timestamp:     now,
		Message:       fmt.Sprintf("%d of the last %d attempts failed (%.0f%%)", failures, attempts, rate*100),
	}, true
}

func thresholdSeverity(value, threshold float64) models.AlertSeverity {
	if value >= threshold*criticalFactor {
		return models.SeverityCritical
	}
	return models.SeverityWarning
}

func anomalySeverity(observed, limit float64) models.AlertSeverity {
	if limit > 0 && observed >= 2*limit {
		return models.SeverityCritical
	}
	return models.SeverityWarning
}
