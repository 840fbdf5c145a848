package models

import (
	"testing"
	"time"
)

func TestSeverityRankOrdering(t *testing.T) {
	if SeverityP1.Rank() <= SeverityP2.Rank() {
		t.Fatalf("P1 must outrank P2")
	}
	if SeverityP2.Rank() <= SeverityP3.Rank() {
		t.Fatalf("P2 must outrank P3")
	}
	if SeverityP3.Rank() <= SeverityP4.Rank() {
		t.Fatalf("P3 must outrank P4")
	}
	if Severity("P5").Rank() != 0 {
		t.Fatalf("unknown severity must rank 0")
	}
}

func TestParseSeverity(t *testing.T) {
	for _, v := range []string{"P1", "P2", "P3", "P4"} {
		s, err := ParseSeverity(v)
		if err != nil {
			t.Fatalf("ParseSeverity(%q) returned error: %v", v, err)
		}
		if string(s) != v {
			t.Fatalf("ParseSeverity(%q) = %q", v, s)
		}
	}
	if _, err := ParseSeverity("critical"); err == nil {
		t.Fatalf("expected error for non P1..P4 value")
	}
}

func TestMaxSeverity(t *testing.T) {
	if got := MaxSeverity(SeverityP3, SeverityP1); got != SeverityP1 {
		t.Fatalf("MaxSeverity(P3, P1) = %s, want P1", got)
	}
	if got := MaxSeverity(SeverityP2, SeverityP4); got != SeverityP2 {
		t.Fatalf("MaxSeverity(P2, P4) = %s, want P2", got)
	}
	if got := MaxSeverity("", SeverityP4); got != SeverityP4 {
		t.Fatalf("MaxSeverity(zero, P4) = %s, want P4", got)
	}
}

func TestComputeDedupKeyDeterministic(t *testing.T) {
	now := time.Now().UTC()
	a := []Anomaly{
		{Service: "payment-service", Metric: MetricErrorRate, Severity: SeverityP1, DetectedAt: now},
		{Service: "order-service", Metric: MetricLatencyP99, Severity: SeverityP2, DetectedAt: now},
	}
	b := []Anomaly{
		{Service: "order-service", Metric: MetricLatencyP99, Severity: SeverityP2, DetectedAt: now.Add(time.Hour)},
		{Service: "payment-service", Metric: MetricErrorRate, Severity: SeverityP1, DetectedAt: now.Add(time.Hour)},
	}

	k1 := ComputeDedupKey(a)
	k2 := ComputeDedupKey(b)
	if k1 != k2 {
		t.Fatalf("dedup key must be order- and time-insensitive: %s != %s", k1, k2)
	}
	if len(k1) != 16 {
		t.Fatalf("dedup key length = %d, want 16", len(k1))
	}
}

func TestComputeDedupKeySensitivity(t *testing.T) {
	now := time.Now().UTC()
	base := []Anomaly{{Service: "gateway", Metric: MetricErrorRate, Severity: SeverityP1, DetectedAt: now}}

	otherService := []Anomaly{{Service: "auth-service", Metric: MetricErrorRate, Severity: SeverityP1, DetectedAt: now}}
	if ComputeDedupKey(base) == ComputeDedupKey(otherService) {
		t.Fatalf("different services must not share a dedup key")
	}

	otherMetric := []Anomaly{{Service: "gateway", Metric: MetricLatencyP99, Severity: SeverityP1, DetectedAt: now}}
	if ComputeDedupKey(base) == ComputeDedupKey(otherMetric) {
		t.Fatalf("different metrics must not share a dedup key")
	}

	otherSeverity := []Anomaly{{Service: "gateway", Metric: MetricErrorRate, Severity: SeverityP3, DetectedAt: now}}
	if ComputeDedupKey(base) == ComputeDedupKey(otherSeverity) {
		t.Fatalf("different severities must not share a dedup key")
	}
}

func TestFormatIncidentID(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	if got := FormatIncidentID(at); got != "INC-20250314092653" {
		t.Fatalf("FormatIncidentID = %q", got)
	}

	// Non-UTC instants are normalized.
	loc := time.FixedZone("UTC+2", 2*3600)
	if got := FormatIncidentID(at.In(loc)); got != "INC-20250314092653" {
		t.Fatalf("FormatIncidentID non-UTC = %q", got)
	}
}

func TestIncidentCloneIsolation(t *testing.T) {
	inc := &Incident{
		ID:        "INC-20250314092653",
		Severity:  SeverityP1,
		Services:  []string{"gateway"},
		Anomalies: []Anomaly{{Service: "gateway", Metric: MetricErrorRate, Severity: SeverityP1}},
		MatchedRunbooks: []RunbookMatch{
			{Title: "Gateway 5xx storm", ResolutionSteps: []string{"roll back"}},
		},
		Analysis: &Analysis{Summary: "gateway errors", RemediationSteps: []string{"restart"}},
	}

	cp := inc.Clone()
	cp.Services[0] = "mutated"
	cp.Anomalies[0].Service = "mutated"
	cp.MatchedRunbooks[0].ResolutionSteps[0] = "mutated"
	cp.Analysis.RemediationSteps[0] = "mutated"

	if inc.Services[0] != "gateway" {
		t.Fatalf("clone leaked services slice")
	}
	if inc.Anomalies[0].Service != "gateway" {
		t.Fatalf("clone leaked anomalies slice")
	}
	if inc.MatchedRunbooks[0].ResolutionSteps[0] != "roll back" {
		t.Fatalf("clone leaked runbook steps")
	}
	if inc.Analysis.RemediationSteps[0] != "restart" {
		t.Fatalf("clone leaked analysis steps")
	}
}

func TestIncidentSummaryProjection(t *testing.T) {
	inc := &Incident{
		ID:               "INC-20250314092653",
		Severity:         SeverityP2,
		Title:            "P2: latency_p99 anomaly on order-service",
		Services:         []string{"order-service"},
		Anomalies:        []Anomaly{{Service: "order-service", Metric: MetricLatencyP99}},
		CorrelatedEvents: []CorrelatedEvent{{Service: "order-service", Level: "error"}},
		Status:           IncidentActive,
	}

	s := inc.Summary()
	if s.AnomalyCount != 1 || s.EventCount != 1 {
		t.Fatalf("summary counts wrong: %+v", s)
	}
	if s.HasAnalysis {
		t.Fatalf("summary claims analysis on nil")
	}

	inc.Analysis = &Analysis{Summary: "db pool exhausted", RootCause: "connection leak", Confidence: "high"}
	s = inc.Summary()
	if !s.HasAnalysis || s.RootCause != "connection leak" || s.Confidence != "high" {
		t.Fatalf("summary analysis fields wrong: %+v", s)
	}
}
