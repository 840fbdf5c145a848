package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platformbuilds/sentinelops/internal/config"
	"github.com/platformbuilds/sentinelops/internal/metrics"
	"github.com/platformbuilds/sentinelops/internal/models"
	"github.com/platformbuilds/sentinelops/pkg/logger"
)

// maxConcurrentServiceQueries bounds the detector's per-service fan-out so a
// large service count cannot swamp the backend's connection pool.
const maxConcurrentServiceQueries = 10

// MetricReader is the slice of the observability client the detector needs.
type MetricReader interface {
	DistinctServices(ctx context.Context, since, until time.Time) ([]string, error)
	AggregateValue(ctx context.Context, service string, metric models.MetricType, start, end time.Time) (float64, error)
	BucketedSeries(ctx context.Context, service string, metric models.MetricType, start, end time.Time) ([]MetricBucket, error)
}

// DetectorService compares each service's recent lookback window against a
// per-minute baseline and emits anomalies where the z-score clears the
// configured severity floors.
type DetectorService struct {
	es MetricReader

	thresholds     config.ThresholdsConfig
	baselineWindow time.Duration
	lookback       time.Duration
	minDataPoints  int

	logger logger.Logger
	now    func() time.Time
}

func NewDetectorService(detection config.DetectionConfig, polling config.PollingConfig, es MetricReader, log logger.Logger) *DetectorService {
	return &DetectorService{
		es:             es,
		thresholds:     detection.Thresholds,
		baselineWindow: time.Duration(detection.BaselineWindowMinutes) * time.Minute,
		lookback:       time.Duration(polling.LookbackMinutes) * time.Minute,
		minDataPoints:  detection.MinDataPoints,
		logger:         log,
		now:            time.Now,
	}
}

// Detect runs one detection sweep. Anomalies come back ordered by
// (service, metric). A single failing service is logged and skipped; an
// error is returned only when every discovered service failed, which aborts
// the tick.
func (d *DetectorService) Detect(ctx context.Context) ([]models.Anomaly, error) {
	now := d.now().UTC()
	lookbackStart := now.Add(-d.lookback)
	baselineStart := lookbackStart.Add(-d.baselineWindow)

	services, err := d.es.DistinctServices(ctx, baselineStart, now)
	if err != nil {
		return nil, fmt.Errorf("service discovery failed: %w", err)
	}
	if len(services) == 0 {
		d.logger.Debug("no active services in window")
		return nil, nil
	}
	sort.Strings(services)

	d.logger.Info("detection sweep started", "services", len(services))

	results := make([][]models.Anomaly, len(services))
	failed := make([]bool, len(services))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentServiceQueries)
	for i, svc := range services {
		i, svc := i, svc
		g.Go(func() error {
			results[i], failed[i] = d.evaluateService(gctx, svc, now, lookbackStart, baselineStart)
			return nil
		})
	}
	_ = g.Wait()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	allFailed := true
	for _, f := range failed {
		if !f {
			allFailed = false
			break
		}
	}
	if allFailed {
		return nil, fmt.Errorf("detection queries failed for all %d services", len(services))
	}

	var anomalies []models.Anomaly
	for _, rs := range results {
		anomalies = append(anomalies, rs...)
	}

	for _, a := range anomalies {
		metrics.AnomaliesDetected.WithLabelValues(a.Service, string(a.Metric), string(a.Severity)).Inc()
		d.logger.Warn("anomaly detected",
			"service", a.Service,
			"metric", a.Metric,
			"z_score", a.ZScore,
			"severity", a.Severity,
		)
	}

	d.logger.Info("detection sweep complete", "anomalies", len(anomalies))
	return anomalies, nil
}

// evaluateService checks both metrics for one service. Each (service, metric)
// pair gets one retry; the service counts as failed only when every pair
// errored out.
func (d *DetectorService) evaluateService(ctx context.Context, service string, now, lookbackStart, baselineStart time.Time) ([]models.Anomaly, bool) {
	var out []models.Anomaly
	failures := 0

	for _, metric := range models.AllMetricTypes {
		anomaly, err := d.evaluateMetric(ctx, service, metric, now, lookbackStart, baselineStart)
		if err != nil && ctx.Err() == nil {
			d.logger.Warn("metric evaluation failed, retrying once",
				"service", service, "metric", metric, "error", err)
			anomaly, err = d.evaluateMetric(ctx, service, metric, now, lookbackStart, baselineStart)
		}
		if err != nil {
			d.logger.Error("metric evaluation failed, skipping pair",
				"service", service, "metric", metric, "error", err)
			failures++
			continue
		}
		if anomaly != nil {
			out = append(out, *anomaly)
		}
	}

	return out, failures == len(models.AllMetricTypes)
}

func (d *DetectorService) evaluateMetric(ctx context.Context, service string, metric models.MetricType, now, lookbackStart, baselineStart time.Time) (*models.Anomaly, error) {
	series, err := d.es.BucketedSeries(ctx, service, metric, baselineStart, lookbackStart)
	if err != nil {
		return nil, err
	}

	baseline := nonNullValues(series)
	if len(baseline) < d.minDataPoints {
		d.logger.Debug("insufficient baseline data",
			"service", service, "metric", metric, "data_points", len(baseline))
		return nil, nil
	}

	mean, stddev := seriesStats(baseline)
	if stddev == 0 {
		return nil, nil
	}

	current, err := d.es.AggregateValue(ctx, service, metric, lookbackStart, now)
	if err != nil {
		return nil, err
	}

	z := (current - mean) / stddev
	if z < 0 {
		z = 0
	}
	if z < d.thresholds.P4 {
		return nil, nil
	}

	return &models.Anomaly{
		Service:        service,
		Metric:         metric,
		CurrentValue:   current,
		BaselineMean:   round2(mean),
		BaselineStddev: round2(stddev),
		ZScore:         round2(z),
		Severity:       d.severityFor(z),
		DetectedAt:     now,
		SampleCount:    len(baseline),
	}, nil
}

// severityFor maps a z-score to a severity band. Boundaries are inclusive at
// the higher severity; callers have already filtered z < P4.
func (d *DetectorService) severityFor(z float64) models.Severity {
	switch {
	case z >= d.thresholds.P1:
		return models.SeverityP1
	case z >= d.thresholds.P2:
		return models.SeverityP2
	case z >= d.thresholds.P3:
		return models.SeverityP3
	default:
		return models.SeverityP4
	}
}

func nonNullValues(series []MetricBucket) []float64 {
	out := make([]float64, 0, len(series))
	for _, b := range series {
		if b.Value != nil {
			out = append(out, *b.Value)
		}
	}
	return out
}

// seriesStats computes the population mean and standard deviation.
func seriesStats(values []float64) (mean, stddev float64) {
	n := float64(len(values))
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / n

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= n
	return mean, math.Sqrt(variance)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
