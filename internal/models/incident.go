package models

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// IncidentStatus is computed lazily from created_at and the dedup cooldown;
// there is no background state machine.
type IncidentStatus string

const (
	IncidentActive  IncidentStatus = "active"
	IncidentCooling IncidentStatus = "cooling"
)

// Incident is the unit of output of one pipeline tick: a deduplicated group
// of anomalies with their correlated events, runbook matches, and optional
// language-model analysis. The incident manager exclusively owns mutation;
// the store hands out copies.
type Incident struct {
	ID               string            `json:"id"`
	CreatedAt        time.Time         `json:"created_at"`
	Severity         Severity          `json:"severity"`
	Title            string            `json:"title"`
	Services         []string          `json:"services"`
	Anomalies        []Anomaly         `json:"anomalies"`
	CorrelatedEvents []CorrelatedEvent `json:"correlated_events"`
	MatchedRunbooks  []RunbookMatch    `json:"matched_runbooks"`
	Analysis         *Analysis         `json:"analysis"`
	DedupKey         string            `json:"dedup_key"`
	Status           IncidentStatus    `json:"status"`
}

// incidentIDLayout formats UTC wallclock seconds into INC-YYYYMMDDhhmmss.
const incidentIDLayout = "20060102150405"

// FormatIncidentID renders the base incident id for the given instant.
// Same-second collisions are broken by the store caller appending "-N".
func FormatIncidentID(t time.Time) string {
	return "INC-" + t.UTC().Format(incidentIDLayout)
}

// ComputeDedupKey digests an anomaly group into a 16-hex-char key over
// (sorted distinct services, sorted distinct metrics, max severity). Two
// groupings with the same key within the cooldown window must yield at most
// one emitted incident.
func ComputeDedupKey(anomalies []Anomaly) string {
	services := make([]string, 0, len(anomalies))
	metrics := make([]string, 0, len(anomalies))
	seenSvc := make(map[string]bool, len(anomalies))
	seenMet := make(map[MetricType]bool, 2)
	severity := Severity("")

	for _, a := range anomalies {
		if !seenSvc[a.Service] {
			seenSvc[a.Service] = true
			services = append(services, a.Service)
		}
		if !seenMet[a.Metric] {
			seenMet[a.Metric] = true
			metrics = append(metrics, string(a.Metric))
		}
		severity = MaxSeverity(severity, a.Severity)
	}
	sort.Strings(services)
	sort.Strings(metrics)

	sum := sha256.Sum256([]byte(strings.Join(services, ",") + "|" + strings.Join(metrics, ",") + "|" + string(severity)))
	return hex.EncodeToString(sum[:])[:16]
}

// AnomalyServices returns the sorted distinct services of an anomaly group.
func AnomalyServices(anomalies []Anomaly) []string {
	seen := make(map[string]bool, len(anomalies))
	out := make([]string, 0, len(anomalies))
	for _, a := range anomalies {
		if !seen[a.Service] {
			seen[a.Service] = true
			out = append(out, a.Service)
		}
	}
	sort.Strings(out)
	return out
}

// Clone deep-copies the incident so store readers cannot mutate retained
// records. Empty non-nil slices stay non-nil so JSON projections render []
// rather than null.
func (i *Incident) Clone() *Incident {
	if i == nil {
		return nil
	}
	out := *i
	out.Services = cloneStrings(i.Services)
	if i.Anomalies != nil {
		out.Anomalies = make([]Anomaly, len(i.Anomalies))
		copy(out.Anomalies, i.Anomalies)
	}
	if i.CorrelatedEvents != nil {
		out.CorrelatedEvents = make([]CorrelatedEvent, len(i.CorrelatedEvents))
		copy(out.CorrelatedEvents, i.CorrelatedEvents)
	}
	if i.MatchedRunbooks != nil {
		out.MatchedRunbooks = make([]RunbookMatch, len(i.MatchedRunbooks))
		for n, rb := range i.MatchedRunbooks {
			cp := rb
			cp.ServicesAffected = cloneStrings(rb.ServicesAffected)
			cp.ResolutionSteps = cloneStrings(rb.ResolutionSteps)
			cp.Tags = cloneStrings(rb.Tags)
			out.MatchedRunbooks[n] = cp
		}
	}
	if i.Analysis != nil {
		an := *i.Analysis
		an.AffectedServices = cloneStrings(i.Analysis.AffectedServices)
		an.RemediationSteps = cloneStrings(i.Analysis.RemediationSteps)
		out.Analysis = &an
	}
	return &out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// IncidentSummary is the list-view projection returned by the incidents
// collection endpoint.
type IncidentSummary struct {
	ID           string         `json:"id"`
	CreatedAt    time.Time      `json:"created_at"`
	Severity     Severity       `json:"severity"`
	Title        string         `json:"title"`
	Services     []string       `json:"services"`
	Status       IncidentStatus `json:"status"`
	DedupKey     string         `json:"dedup_key"`
	AnomalyCount int            `json:"anomaly_count"`
	EventCount   int            `json:"event_count"`
	HasAnalysis  bool           `json:"has_analysis"`
	RootCause    string         `json:"root_cause,omitempty"`
	Confidence   string         `json:"confidence,omitempty"`
}

// Summary projects the incident into its list form.
func (i *Incident) Summary() IncidentSummary {
	s := IncidentSummary{
		ID:           i.ID,
		CreatedAt:    i.CreatedAt,
		Severity:     i.Severity,
		Title:        i.Title,
		Services:     append([]string(nil), i.Services...),
		Status:       i.Status,
		DedupKey:     i.DedupKey,
		AnomalyCount: len(i.Anomalies),
		EventCount:   len(i.CorrelatedEvents),
		HasAnalysis:  i.Analysis != nil,
	}
	if i.Analysis != nil {
		s.RootCause = i.Analysis.RootCause
		s.Confidence = i.Analysis.Confidence
	}
	return s
}
