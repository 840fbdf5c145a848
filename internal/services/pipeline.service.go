package services

import (
	"context"
	"fmt"

	"github.com/platformbuilds/sentinelops/internal/models"
	"github.com/platformbuilds/sentinelops/internal/tracing"
	"github.com/platformbuilds/sentinelops/pkg/logger"
)

type anomalyDetector interface {
	Detect(ctx context.Context) ([]models.Anomaly, error)
}

type eventCorrelator interface {
	Correlate(ctx context.Context, anomalies []models.Anomaly) ([]models.CorrelatedEvent, error)
}

type runbookMatcher interface {
	Match(ctx context.Context, anomalies []models.Anomaly) []models.RunbookMatch
}

type incidentAnalyzer interface {
	Analyze(ctx context.Context, anomalies []models.Anomaly, events []models.CorrelatedEvent, runbooks []models.RunbookMatch) *models.Analysis
}

type incidentManager interface {
	GroupCandidates(anomalies []models.Anomaly, events []models.CorrelatedEvent) []Candidate
	IsDuplicate(c Candidate) bool
	Create(ctx context.Context, c Candidate, runbooks []models.RunbookMatch, analysis *models.Analysis) (*models.Incident, error)
}

// TickResult summarizes one pipeline run for the scheduler's logs and spans.
type TickResult struct {
	Anomalies  int
	Incidents  int
	Suppressed int
}

// PipelineService chains the tick stages: detect, correlate, match
// runbooks, analyze, create. Stage failures degrade per the error taxonomy;
// only a detection-wide outage aborts the tick.
type PipelineService struct {
	detector   anomalyDetector
	correlator eventCorrelator
	runbooks   runbookMatcher
	analyzer   incidentAnalyzer
	manager    incidentManager
	tracer     *tracing.PipelineTracer
	logger     logger.Logger
}

func NewPipelineService(
	detector anomalyDetector,
	correlator eventCorrelator,
	runbooks runbookMatcher,
	analyzer incidentAnalyzer,
	manager incidentManager,
	tracer *tracing.PipelineTracer,
	log logger.Logger,
) *PipelineService {
	return &PipelineService{
		detector:   detector,
		correlator: correlator,
		runbooks:   runbooks,
		analyzer:   analyzer,
		manager:    manager,
		tracer:     tracer,
		logger:     log,
	}
}

// RunTick executes one full cycle. Dedup is checked before the analyzer so
// suppressed candidates never spend a language-model call.
func (p *PipelineService) RunTick(ctx context.Context) (TickResult, error) {
	var res TickResult

	dctx, span := p.tracer.StartStageSpan(ctx, "detector")
	anomalies, err := p.detector.Detect(dctx)
	if err != nil {
		p.tracer.RecordError(span, err)
		span.End()
		return res, fmt.Errorf("detection stage failed: %w", err)
	}
	span.End()

	res.Anomalies = len(anomalies)
	if len(anomalies) == 0 {
		return res, nil
	}

	cctx, span := p.tracer.StartStageSpan(ctx, "correlator")
	events, err := p.correlator.Correlate(cctx, anomalies)
	if err != nil {
		p.tracer.RecordError(span, err)
		p.logger.Warn("correlation failed, proceeding without events", "error", err)
		events = nil
	}
	span.End()

	rctx, span := p.tracer.StartStageSpan(ctx, "runbooks")
	runbooks := p.runbooks.Match(rctx, anomalies)
	span.End()

	for _, c := range p.manager.GroupCandidates(anomalies, events) {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if p.manager.IsDuplicate(c) {
			res.Suppressed++
			continue
		}

		actx, span := p.tracer.StartStageSpan(ctx, "analyzer")
		analysis := p.analyzer.Analyze(actx, c.Anomalies, c.Events, runbooks)
		span.End()

		ictx, span := p.tracer.StartStageSpan(ctx, "incidents")
		if _, err := p.manager.Create(ictx, c, runbooks, analysis); err != nil {
			p.tracer.RecordError(span, err)
			span.End()
			p.logger.Error("incident creation failed", "error", err, "services", c.Services)
			continue
		}
		span.End()
		res.Incidents++
	}

	return res, nil
}
