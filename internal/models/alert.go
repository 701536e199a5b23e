package models

import "time"

// Resource names used by samples and alerts
const (
	ResourceCPU    = "cpu"
	ResourceMemory = "memory"
	ResourceDisk   = "disk"
	ResourceCycle  = "cycle"
	ResourceErrors = "errors"
)

// AlertKind separates plain threshold breaches from statistical anomalies
type AlertKind string

const (
	KindThresholdExceeded AlertKind = "threshold_exceeded"
	KindAnomalyDetected   AlertKind = "anomaly_detected"
)

// Anomaly tags
const (
	TagMemoryGrowth = "memory_growth"
	TagCycleTime    = "cycle_time"
	TagErrorRate    = "error_rate"
)

// AlertSeverity represents the severity level of an alert
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is a flagged deviation. Alerts are never mutated after creation.
type Alert struct {
	Resource      string        `json:"resource"`
	Kind          AlertKind     `json:"kind"`
	Tag           string        `json:"tag,omitempty"`
	ObservedValue float64       `json:"observed_value"`
	Threshold     float64       `json:"threshold"`
	Severity      AlertSeverity `json:"severity"`
	Timestamp     time.Time     `json:"timestamp"`
	Message       string        `json:"message"`
}

// AlertKey identifies alerts that collapse into one dispatch within a cooldown window
type AlertKey struct {
	Resource string
	Kind     AlertKind
}

// Key returns the de-duplication key of the alert
func (a Alert) Key() AlertKey {
	return AlertKey{Resource: a.Resource, Kind: a.Kind}
}
