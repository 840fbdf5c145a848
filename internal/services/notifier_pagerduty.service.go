package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/platformbuilds/sentinelops/internal/config"
	"github.com/platformbuilds/sentinelops/internal/metrics"
	"github.com/platformbuilds/sentinelops/internal/models"
	"github.com/platformbuilds/sentinelops/pkg/logger"
)

const pagerDutyEventsURL = "https://events.pagerduty.com/v2/enqueue"

// pagerDutySeverity maps incident severities to Events v2 severities.
// critical/error default to high urgency on the PagerDuty side,
// warning/info to low.
var pagerDutySeverity = map[models.Severity]string{
	models.SeverityP1: "critical",
	models.SeverityP2: "error",
	models.SeverityP3: "warning",
	models.SeverityP4: "info",
}

type pagerDutyEvent struct {
	RoutingKey  string           `json:"routing_key"`
	EventAction string           `json:"event_action"`
	DedupKey    string           `json:"dedup_key"`
	Payload     pagerDutyPayload `json:"payload"`
}

type pagerDutyPayload struct {
	Summary       string            `json:"summary"`
	Source        string            `json:"source"`
	Severity      string            `json:"severity"`
	Timestamp     string            `json:"timestamp"`
	Component     string            `json:"component,omitempty"`
	CustomDetails map[string]string `json:"custom_details,omitempty"`
}

// PagerDutyNotifier triggers Events API v2 alerts for high-severity
// incidents. The incident dedup key doubles as the PagerDuty dedup key, so
// re-paging an already-open alert folds into the existing one.
type PagerDutyNotifier struct {
	endpoint   string
	routingKey string
	client     *http.Client
	logger     logger.Logger
}

func NewPagerDutyNotifier(cfg config.PagerDutyConfig, log logger.Logger) (*PagerDutyNotifier, error) {
	if cfg.RoutingKey == "" {
		return nil, fmt.Errorf("pagerduty routing key is required (set PAGERDUTY_ROUTING_KEY)")
	}
	return &PagerDutyNotifier{
		endpoint:   pagerDutyEventsURL,
		routingKey: cfg.RoutingKey,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     log,
	}, nil
}

func (n *PagerDutyNotifier) Channel() string { return "pagerduty" }

func (n *PagerDutyNotifier) Notify(ctx context.Context, incident *models.Incident) error {
	event := pagerDutyEvent{
		RoutingKey:  n.routingKey,
		EventAction: "trigger",
		DedupKey:    incident.DedupKey,
		Payload: pagerDutyPayload{
			Summary:       truncate(fmt.Sprintf("[%s] %s", incident.Severity, incident.Title), 1024),
			Source:        "sentinelops",
			Severity:      pagerDutySeverity[incident.Severity],
			Timestamp:     incident.CreatedAt.UTC().Format(time.RFC3339),
			Component:     strings.Join(incident.Services, ", "),
			CustomDetails: pagerDutyDetails(incident),
		},
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal pagerduty event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", n.endpoint, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		metrics.NotificationsSent.WithLabelValues("pagerduty", "false").Inc()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("pagerduty notification failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		metrics.NotificationsSent.WithLabelValues("pagerduty", "false").Inc()
		return fmt.Errorf("pagerduty returned status %d: %s", resp.StatusCode, readErrBody(resp.Body))
	}

	metrics.NotificationsSent.WithLabelValues("pagerduty", "true").Inc()
	n.logger.Info("pagerduty alert triggered", "incident_id", incident.ID, "dedup_key", incident.DedupKey)
	return nil
}

func pagerDutyDetails(incident *models.Incident) map[string]string {
	details := map[string]string{
		"incident_id": incident.ID,
		"services":    strings.Join(incident.Services, ", "),
	}
	if incident.Analysis != nil {
		details["root_cause"] = incident.Analysis.RootCause
		if len(incident.Analysis.RemediationSteps) > 0 {
			var steps strings.Builder
			for i, step := range incident.Analysis.RemediationSteps {
				if i > 0 {
					steps.WriteString("\n")
				}
				fmt.Fprintf(&steps, "%d. %s", i+1, step)
			}
			details["remediation"] = steps.String()
		}
	}
	return details
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
