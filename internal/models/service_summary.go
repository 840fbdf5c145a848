package models

import "time"

// ServiceStatus is the dashboard health rollup of one service, derived from
// the incidents created within the status window.
type ServiceStatus string

const (
	ServiceStatusCritical ServiceStatus = "critical"
	ServiceStatusWarning  ServiceStatus = "warning"
	ServiceStatusDegraded ServiceStatus = "degraded"
	ServiceStatusHealthy  ServiceStatus = "healthy"
)

var serviceStatusRanks = map[ServiceStatus]int{
	ServiceStatusCritical: 3,
	ServiceStatusWarning:  2,
	ServiceStatusDegraded: 1,
	ServiceStatusHealthy:  0,
}

// Rank orders statuses for sorting, worst first.
func (s ServiceStatus) Rank() int {
	return serviceStatusRanks[s]
}

// StatusForSeverity maps the worst in-window severity of a service to its
// rollup status: P1 critical, P2 warning, P3/P4 degraded. The zero severity
// (no recent anomalies) reads healthy.
func StatusForSeverity(s Severity) ServiceStatus {
	switch s {
	case SeverityP1:
		return ServiceStatusCritical
	case SeverityP2:
		return ServiceStatusWarning
	case SeverityP3, SeverityP4:
		return ServiceStatusDegraded
	}
	return ServiceStatusHealthy
}

// ServiceSummary aggregates the retained incidents of one service for the
// read API. WorstSeverity and Anomalies cover only the status window;
// IncidentCount and the last-incident pointer span everything retained.
type ServiceSummary struct {
	Service        string           `json:"service"`
	Status         ServiceStatus    `json:"status"`
	WorstSeverity  Severity         `json:"worst_severity,omitempty"`
	IncidentCount  int              `json:"incident_count"`
	LastIncidentID string           `json:"last_incident_id,omitempty"`
	LastIncidentAt *time.Time       `json:"last_incident_at,omitempty"`
	Anomalies      []ServiceAnomaly `json:"anomalies"`
}

// ServiceAnomaly is the per-anomaly slice of a service summary.
type ServiceAnomaly struct {
	Metric       MetricType `json:"metric"`
	ZScore       float64    `json:"z_score"`
	CurrentValue float64    `json:"current_value"`
	BaselineMean float64    `json:"baseline_mean"`
	Severity     Severity   `json:"severity"`
	Timestamp    time.Time  `json:"timestamp"`
}
