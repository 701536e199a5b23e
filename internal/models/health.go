package models

// HealthLevel is the coarse health classification
type HealthLevel string

const (
	HealthHealthy  HealthLevel = "healthy"
	HealthWarning  HealthLevel = "warning"
	HealthCritical HealthLevel = "critical"
)

// HealthStatus is derived on demand and never persisted
type HealthStatus struct {
	Status       HealthLevel `json:"status"`
	Score        int         `json:"score"`
	Factors      []string    `json:"contributing_factors"`
	Latest       *Sample     `json:"latest,omitempty"`
	ActiveAlerts int         `json:"active_alerts"`
	State        string      `json:"state"`
}
