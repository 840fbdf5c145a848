package models

import (
	"fmt"
	"time"
)

// Severity is the paging severity of an anomaly or incident, P1 highest.
type Severity string

const (
	SeverityP1 Severity = "P1"
	SeverityP2 Severity = "P2"
	SeverityP3 Severity = "P3"
	SeverityP4 Severity = "P4"
)

// severityRanks orders severities for max/worst comparisons. Higher is worse.
var severityRanks = map[Severity]int{
	SeverityP1: 4,
	SeverityP2: 3,
	SeverityP3: 2,
	SeverityP4: 1,
}

// Rank returns the comparable weight of the severity (P1=4 .. P4=1).
// Unknown severities rank 0 and lose every comparison.
func (s Severity) Rank() int {
	return severityRanks[s]
}

func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// ParseSeverity validates a severity string from config or wire input.
func ParseSeverity(v string) (Severity, error) {
	s := Severity(v)
	if !s.Valid() {
		return "", fmt.Errorf("invalid severity %q (expected P1..P4)", v)
	}
	return s, nil
}

// MaxSeverity returns the worse of two severities by P-ordering.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// MetricType enumerates the metrics the detector evaluates per service.
type MetricType string

const (
	MetricErrorRate  MetricType = "error_rate"
	MetricLatencyP99 MetricType = "latency_p99"
)

// AllMetricTypes is the fixed evaluation order within a service.
var AllMetricTypes = []MetricType{MetricErrorRate, MetricLatencyP99}

func (m MetricType) Valid() bool {
	return m == MetricErrorRate || m == MetricLatencyP99
}

// Anomaly is a statistical deviation of one metric of one service in the
// current lookback window. Values are immutable after construction.
type Anomaly struct {
	Service        string     `json:"service"`
	Metric         MetricType `json:"metric"`
	CurrentValue   float64    `json:"current_value"`
	BaselineMean   float64    `json:"baseline_mean"`
	BaselineStddev float64    `json:"baseline_stddev"`
	ZScore         float64    `json:"z_score"`
	Severity       Severity   `json:"severity"`
	DetectedAt     time.Time  `json:"detected_at"`
	SampleCount    int        `json:"sample_count,omitempty"`
}

// CorrelatedEvent is a raw error/warn log document pulled in around an
// anomaly window. Ordered ascending by timestamp within an incident.
type CorrelatedEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	Service    string    `json:"service"`
	Level      string    `json:"level"`
	Message    string    `json:"message"`
	TraceID    string    `json:"trace_id,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
}

// RunbookMatch is a historical incident document matched against the
// current anomaly set. Score is the backend relevance score.
type RunbookMatch struct {
	Title            string   `json:"title"`
	IncidentDate     string   `json:"incident_date"`
	ServicesAffected []string `json:"services_affected"`
	RootCause        string   `json:"root_cause"`
	ResolutionSteps  []string `json:"resolution_steps"`
	Tags             []string `json:"tags"`
	Score            float64  `json:"score"`
}

// Analysis is the language-model enrichment of an incident. A nil *Analysis
// means the analyzer returned no usable result; the incident proceeds
// without enrichment.
type Analysis struct {
	Summary          string   `json:"summary"`
	RootCause        string   `json:"root_cause"`
	Confidence       string   `json:"confidence"` // high, medium, low
	AffectedServices []string `json:"affected_services"`
	RemediationSteps []string `json:"remediation_steps"`
}
