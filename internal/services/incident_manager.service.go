package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/platformbuilds/sentinelops/internal/config"
	"github.com/platformbuilds/sentinelops/internal/metrics"
	"github.com/platformbuilds/sentinelops/internal/models"
	"github.com/platformbuilds/sentinelops/internal/store"
	"github.com/platformbuilds/sentinelops/pkg/logger"
)

// IncidentWriter is the slice of the incident store the manager mutates
// through.
type IncidentWriter interface {
	AllocateID(createdAt time.Time) string
	Put(incident *models.Incident) error
	FindActiveByDedupKey(key string, within time.Duration) (*models.Incident, bool)
}

// Candidate is a grouped anomaly set on its way to becoming an incident.
// DedupKey and Severity are derived once at grouping time.
type Candidate struct {
	Anomalies []models.Anomaly
	Events    []models.CorrelatedEvent
	Services  []string
	Severity  models.Severity
	DedupKey  string
}

// idAllocationAttempts bounds the Put retry loop on same-second collisions.
const idAllocationAttempts = 5

// IncidentManagerService owns the tail of the tick: grouping anomalies into
// candidates, dedup against the store, incident creation, and notifier
// fan-out. Nothing else mutates incidents.
type IncidentManagerService struct {
	store          IncidentWriter
	chat           Notifier
	pager          Notifier
	cooldown       time.Duration
	pageSeverities map[models.Severity]bool
	onCreated      func(*models.Incident)
	logger         logger.Logger
	now            func() time.Time
}

func NewIncidentManagerService(cfg config.IncidentsConfig, st IncidentWriter, chat, pager Notifier, log logger.Logger) *IncidentManagerService {
	pageSet := make(map[models.Severity]bool, len(cfg.PagerDutySeverities))
	for _, s := range cfg.PagerDutySeverities {
		pageSet[models.Severity(s)] = true
	}

	return &IncidentManagerService{
		store:          st,
		chat:           chat,
		pager:          pager,
		cooldown:       time.Duration(cfg.DedupCooldownMinutes) * time.Minute,
		pageSeverities: pageSet,
		logger:         log,
		now:            time.Now,
	}
}

// SetCreatedHook registers a callback invoked after the store commit and
// before any notifier. The server wires the search index and the websocket
// stream here.
func (m *IncidentManagerService) SetCreatedHook(fn func(*models.Incident)) {
	m.onCreated = fn
}

// GroupCandidates applies the grouping rule: when the anomaly services
// intersect the correlated-events' services, the whole tick forms one
// candidate carrying all events. Otherwise anomalies split into per-service
// candidates, each keeping only its own service's events. Candidates come
// out in service-lexicographic order.
func (m *IncidentManagerService) GroupCandidates(anomalies []models.Anomaly, events []models.CorrelatedEvent) []Candidate {
	if len(anomalies) == 0 {
		return nil
	}

	eventServices := make(map[string]bool, len(events))
	for _, e := range events {
		eventServices[e.Service] = true
	}
	for _, a := range anomalies {
		if eventServices[a.Service] {
			return []Candidate{newCandidate(anomalies, events)}
		}
	}

	byService := make(map[string][]models.Anomaly)
	for _, a := range anomalies {
		byService[a.Service] = append(byService[a.Service], a)
	}
	services := make([]string, 0, len(byService))
	for svc := range byService {
		services = append(services, svc)
	}
	sort.Strings(services)

	out := make([]Candidate, 0, len(services))
	for _, svc := range services {
		var svcEvents []models.CorrelatedEvent
		for _, e := range events {
			if e.Service == svc {
				svcEvents = append(svcEvents, e)
			}
		}
		out = append(out, newCandidate(byService[svc], svcEvents))
	}
	return out
}

func newCandidate(anomalies []models.Anomaly, events []models.CorrelatedEvent) Candidate {
	severity := models.Severity("")
	for _, a := range anomalies {
		severity = models.MaxSeverity(severity, a.Severity)
	}
	return Candidate{
		Anomalies: anomalies,
		Events:    events,
		Services:  models.AnomalyServices(anomalies),
		Severity:  severity,
		DedupKey:  models.ComputeDedupKey(anomalies),
	}
}

// IsDuplicate consults the store for an incident with the same dedup key
// created within the cooldown window. A hit suppresses the candidate: no
// incident, no notification.
func (m *IncidentManagerService) IsDuplicate(c Candidate) bool {
	prev, ok := m.store.FindActiveByDedupKey(c.DedupKey, m.cooldown)
	if !ok {
		return false
	}
	metrics.DedupSuppressed.Inc()
	m.logger.Info("candidate suppressed by dedup cooldown",
		"dedup_key", c.DedupKey,
		"existing_incident", prev.ID,
		"severity", c.Severity,
	)
	return true
}

// Create commits the incident to the store, then fans out notifications.
// The store write is the final synchronous act of the candidate: notifier
// failures are logged and never roll it back.
func (m *IncidentManagerService) Create(ctx context.Context, c Candidate, runbooks []models.RunbookMatch, analysis *models.Analysis) (*models.Incident, error) {
	createdAt := m.now().UTC()

	events := c.Events
	if events == nil {
		events = []models.CorrelatedEvent{}
	}
	if runbooks == nil {
		runbooks = []models.RunbookMatch{}
	}

	incident := &models.Incident{
		CreatedAt:        createdAt,
		Severity:         c.Severity,
		Title:            incidentTitle(c, analysis),
		Services:         c.Services,
		Anomalies:        c.Anomalies,
		CorrelatedEvents: events,
		MatchedRunbooks:  runbooks,
		Analysis:         analysis,
		DedupKey:         c.DedupKey,
		Status:           models.IncidentActive,
	}

	for attempt := 0; ; attempt++ {
		incident.ID = m.store.AllocateID(createdAt)
		err := m.store.Put(incident)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrDuplicateID) || attempt >= idAllocationAttempts {
			return nil, fmt.Errorf("failed to store incident: %w", err)
		}
	}

	metrics.IncidentsCreated.WithLabelValues(string(incident.Severity)).Inc()
	m.logger.Info("incident created",
		"incident_id", incident.ID,
		"severity", incident.Severity,
		"title", incident.Title,
		"services", incident.Services,
		"dedup_key", incident.DedupKey,
	)

	if m.onCreated != nil {
		m.onCreated(incident)
	}

	m.dispatch(ctx, incident)
	return incident, nil
}

// dispatch sends chat first, then paging. Chat goes out for every incident;
// paging only for configured severities. A chat failure never skips paging.
func (m *IncidentManagerService) dispatch(ctx context.Context, incident *models.Incident) {
	if m.chat != nil {
		if err := m.chat.Notify(ctx, incident); err != nil {
			m.logger.Error("chat notification failed", "incident_id", incident.ID, "error", err)
		}
	}
	if m.pager != nil && m.pageSeverities[incident.Severity] {
		if err := m.pager.Notify(ctx, incident); err != nil {
			m.logger.Error("paging notification failed", "incident_id", incident.ID, "error", err)
		}
	}
}

// incidentTitle prefers the analysis summary; otherwise a deterministic
// fallback like "P1: error_rate anomaly on payment-service".
func incidentTitle(c Candidate, analysis *models.Analysis) string {
	if analysis != nil && analysis.Summary != "" {
		return analysis.Summary
	}
	metricSet := anomalyMetricTags(c.Anomalies)
	return fmt.Sprintf("%s: %s anomaly on %s", c.Severity, strings.Join(metricSet, ", "), strings.Join(c.Services, ", "))
}
