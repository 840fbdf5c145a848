package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platformbuilds/sentinelops/internal/config"
	"github.com/platformbuilds/sentinelops/internal/metrics"
	"github.com/platformbuilds/sentinelops/internal/models"
	"github.com/platformbuilds/sentinelops/pkg/logger"
)

// analyzerSystemPrompt pins the response to a fixed JSON shape so the parse
// step stays mechanical.
const analyzerSystemPrompt = `You are an expert SRE incident analyst. You will be given:
1. Detected anomalies (service, metric, z-score, severity)
2. Correlated events across services from the same time window
3. Matching historical runbooks (if any)

Your job:
- Identify the most likely root cause
- Assess your confidence (high/medium/low)
- List the affected services
- Provide concrete, prioritized remediation steps
- Write a one-sentence summary suitable for an incident title

Respond ONLY with valid JSON matching this schema:
{
  "root_cause": "string",
  "confidence": "high|medium|low",
  "affected_services": ["string"],
  "remediation_steps": ["string"],
  "summary": "string"
}`

// maxPromptEvents bounds the correlated-events section of the prompt.
const maxPromptEvents = 20

// AnalyzerService turns an incident candidate into a language-model
// enrichment request. It never fails the pipeline: every failure mode
// (timeout, non-2xx, unparseable body, empty summary) degrades to a nil
// analysis and the incident proceeds without it.
type AnalyzerService struct {
	llm     LLMProvider
	timeout time.Duration
	logger  logger.Logger
}

func NewAnalyzerService(cfg config.AnalyzerConfig, llm LLMProvider, log logger.Logger) *AnalyzerService {
	return &AnalyzerService{
		llm:     llm,
		timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		logger:  log,
	}
}

// Analyze issues exactly one completion attempt for the candidate. No
// retries; the next tick gets a fresh attempt if the candidate recurs. With
// no provider wired (no API key in the environment) every call returns nil
// and incidents carry the deterministic fallback title.
func (a *AnalyzerService) Analyze(ctx context.Context, anomalies []models.Anomaly, events []models.CorrelatedEvent, runbooks []models.RunbookMatch) *models.Analysis {
	if a.llm == nil || len(anomalies) == 0 {
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	prompt := buildAnalysisContext(anomalies, events, runbooks)
	a.logger.Info("analysis requested",
		"anomalies", len(anomalies),
		"events", len(events),
		"runbooks", len(runbooks),
		"model", a.llm.ModelName(),
	)

	start := time.Now()
	text, err := a.llm.Complete(cctx, analyzerSystemPrompt, prompt)
	metrics.AnalyzerRequestDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		status := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			status = "timeout"
		}
		metrics.AnalyzerRequestsTotal.WithLabelValues(status).Inc()
		a.logger.Warn("analysis request failed", "status", status, "error", err)
		return nil
	}

	analysis, err := parseAnalysis(text)
	if err != nil {
		metrics.AnalyzerRequestsTotal.WithLabelValues("unparseable").Inc()
		a.logger.Warn("analysis response rejected", "error", err)
		return nil
	}

	metrics.AnalyzerRequestsTotal.WithLabelValues("success").Inc()
	a.logger.Info("analysis complete", "confidence", analysis.Confidence)
	return analysis
}

// buildAnalysisContext renders the user payload: the anomaly table, up to
// maxPromptEvents correlated events, and matched runbooks as title plus
// root cause.
func buildAnalysisContext(anomalies []models.Anomaly, events []models.CorrelatedEvent, runbooks []models.RunbookMatch) string {
	var b strings.Builder

	b.WriteString("## Detected Anomalies")
	for _, an := range anomalies {
		fmt.Fprintf(&b, "\n- Service: %s | Metric: %s | Value: %.1f | Baseline: %.1f +/- %.1f | Z-score: %.1f | Severity: %s",
			an.Service, an.Metric, an.CurrentValue, an.BaselineMean, an.BaselineStddev, an.ZScore, an.Severity)
	}

	if len(events) > 0 {
		b.WriteString("\n\n## Correlated Events Across Services")
		limit := len(events)
		if limit > maxPromptEvents {
			limit = maxPromptEvents
		}
		for _, e := range events[:limit] {
			trace := ""
			if e.TraceID != "" {
				trace = fmt.Sprintf(" [trace: %s]", e.TraceID)
			}
			fmt.Fprintf(&b, "\n- [%s] %s (%s): %s%s",
				e.Timestamp.Format(time.RFC3339), e.Service, e.Level, e.Message, trace)
		}
	}

	if len(runbooks) > 0 {
		b.WriteString("\n\n## Similar Past Incidents (Runbooks)")
		for _, rb := range runbooks {
			fmt.Fprintf(&b, "\n### %s", rb.Title)
			if rb.RootCause != "" {
				fmt.Fprintf(&b, "\nRoot cause: %s", rb.RootCause)
			}
		}
	}

	return b.String()
}

// parseAnalysis decodes the model response tolerantly: unknown keys are
// ignored, missing lists become empty, missing confidence defaults to low.
// A missing or blank summary rejects the whole analysis.
func parseAnalysis(text string) (*models.Analysis, error) {
	var raw struct {
		Summary          string   `json:"summary"`
		RootCause        string   `json:"root_cause"`
		Confidence       string   `json:"confidence"`
		AffectedServices []string `json:"affected_services"`
		RemediationSteps []string `json:"remediation_steps"`
	}
	if err := json.Unmarshal([]byte(stripCodeFences(text)), &raw); err != nil {
		return nil, fmt.Errorf("analysis body is not valid JSON: %w", err)
	}

	summary := strings.TrimSpace(raw.Summary)
	if summary == "" {
		return nil, fmt.Errorf("analysis missing summary")
	}

	confidence := strings.ToLower(strings.TrimSpace(raw.Confidence))
	switch confidence {
	case "high", "medium", "low":
	default:
		confidence = "low"
	}

	if raw.AffectedServices == nil {
		raw.AffectedServices = []string{}
	}
	if raw.RemediationSteps == nil {
		raw.RemediationSteps = []string{}
	}

	return &models.Analysis{
		Summary:          summary,
		RootCause:        raw.RootCause,
		Confidence:       confidence,
		AffectedServices: raw.AffectedServices,
		RemediationSteps: raw.RemediationSteps,
	}, nil
}

// stripCodeFences removes a wrapping markdown code block, which some models
// emit despite the JSON-only instruction.
func stripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	if i := strings.Index(text, "\n"); i >= 0 {
		text = text[i+1:]
	}
	if i := strings.LastIndex(text, "```"); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}
