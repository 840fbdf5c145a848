package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/platformbuilds/sentinelops/internal/config"
	"github.com/platformbuilds/sentinelops/internal/metrics"
	"github.com/platformbuilds/sentinelops/internal/tracing"
	"github.com/platformbuilds/sentinelops/pkg/logger"
)

type tickRunner interface {
	RunTick(ctx context.Context) (TickResult, error)
}

// drainTimeout is the hard deadline for the in-flight tick at shutdown.
const drainTimeout = 30 * time.Second

// SchedulerService fires the pipeline every interval with single-flight
// semantics: a firing that lands while the previous tick is still running is
// skipped, never queued. The interval is measured tick-start to tick-start.
type SchedulerService struct {
	pipeline tickRunner
	interval time.Duration
	drain    time.Duration
	tracer   *tracing.PipelineTracer
	logger   logger.Logger

	mu       sync.Mutex
	inFlight bool
	done     chan struct{}
}

func NewSchedulerService(cfg config.PollingConfig, pipeline tickRunner, tracer *tracing.PipelineTracer, log logger.Logger) *SchedulerService {
	return &SchedulerService{
		pipeline: pipeline,
		interval: time.Duration(cfg.IntervalSeconds) * time.Second,
		drain:    drainTimeout,
		tracer:   tracer,
		logger:   log,
	}
}

// Run blocks until ctx is cancelled, then waits for the in-flight tick
// bounded by the drain deadline. The first tick fires immediately.
func (s *SchedulerService) Run(ctx context.Context) {
	s.logger.Info("scheduler started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.launch(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping, draining in-flight tick")
			s.waitForInFlight()
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.launch(ctx)
		}
	}
}

func (s *SchedulerService) launch(ctx context.Context) {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		metrics.TicksTotal.WithLabelValues("skipped").Inc()
		s.logger.Warn("previous tick still running, skipping this firing")
		return
	}
	s.inFlight = true
	done := make(chan struct{})
	s.done = done
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.inFlight = false
			s.mu.Unlock()
			close(done)
		}()
		s.runOnce(ctx)
	}()
}

func (s *SchedulerService) runOnce(ctx context.Context) {
	tickID := uuid.NewString()
	log := s.logger.With("tick_id", tickID)

	tctx, span := s.tracer.StartTickSpan(ctx, tickID)
	defer span.End()

	start := time.Now()
	result, err := s.pipeline.RunTick(tctx)
	duration := time.Since(start)
	metrics.TickDuration.Observe(duration.Seconds())

	if err != nil {
		metrics.TicksTotal.WithLabelValues("aborted").Inc()
		s.tracer.RecordError(span, err)
		s.tracer.RecordTickMetrics(span, duration, result.Anomalies, result.Incidents, false)
		log.Error("tick aborted", "error", err, "duration", duration)
		return
	}

	metrics.TicksTotal.WithLabelValues("completed").Inc()
	s.tracer.RecordTickMetrics(span, duration, result.Anomalies, result.Incidents, true)
	log.Info("tick complete",
		"duration", duration,
		"anomalies", result.Anomalies,
		"incidents", result.Incidents,
		"suppressed", result.Suppressed,
	)
}

func (s *SchedulerService) waitForInFlight() {
	s.mu.Lock()
	inFlight := s.inFlight
	done := s.done
	s.mu.Unlock()

	if !inFlight || done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(s.drain):
		s.logger.Error("in-flight tick exceeded drain deadline, abandoning it")
	}
}
