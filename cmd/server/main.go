package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/platformbuilds/sentinelops/internal/api"
	"github.com/platformbuilds/sentinelops/internal/config"
	"github.com/platformbuilds/sentinelops/internal/models"
	"github.com/platformbuilds/sentinelops/internal/search"
	"github.com/platformbuilds/sentinelops/internal/services"
	"github.com/platformbuilds/sentinelops/internal/store"
	"github.com/platformbuilds/sentinelops/internal/tracing"
	"github.com/platformbuilds/sentinelops/internal/version"
	"github.com/platformbuilds/sentinelops/pkg/cache"
	"github.com/platformbuilds/sentinelops/pkg/logger"
)

// Exit codes are part of the deployment contract: 0 clean shutdown, 1
// unrecoverable configuration error, 2 startup connectivity failure to the
// observability backend.
const (
	exitOK            = 0
	exitConfigError   = 1
	exitBackendUnwell = 2
)

// backend connectivity probe at startup: a short retry loop so a backend
// that is restarting alongside us does not fail the deployment.
const (
	startupProbeAttempts = 5
	startupProbeDelay    = 3 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		return exitConfigError
	}

	// Initialize logger
	logger := logger.New(cfg.LogLevel)
	logger.Info("Starting SentinelOps", "version", version.Version, "environment", cfg.Environment)

	// Tracing is optional; without it the pipeline tracer emits no-op spans.
	var tracerProvider *tracing.TracerProvider
	if cfg.Tracing.Enabled {
		tracerProvider, err = tracing.NewTracerProvider("sentinelops", version.Version, cfg.Tracing.OTLPEndpoint)
		if err != nil {
			logger.Error("Failed to initialize tracing, continuing untraced", "error", err)
		} else {
			logger.Info("OTLP tracing initialized", "endpoint", cfg.Tracing.OTLPEndpoint)
		}
	}
	tracer := tracing.NewPipelineTracer()

	// Observability backend client. Connectivity is verified before the
	// pipeline starts; a dead backend at boot is exit code 2.
	esService := services.NewElasticsearchService(cfg.Elasticsearch, logger)
	if err := waitForBackend(esService, logger); err != nil {
		logger.Error("Observability backend unreachable at startup", "error", err, "endpoints", cfg.Elasticsearch.Endpoints)
		return exitBackendUnwell
	}
	logger.Info("Observability backend reachable", "endpoints", cfg.Elasticsearch.Endpoints)

	// Valkey cache for the read API; serves from the in-memory fallback
	// until (and unless) the configured nodes answer.
	valkeyCache := newCache(cfg.Cache, logger)

	// Incident store and search index
	cooldown := time.Duration(cfg.Incidents.DedupCooldownMinutes) * time.Minute
	incidentStore := store.NewIncidentStore(cfg.Incidents.MaxIncidents, cooldown, logger)

	incidentIndex, err := search.NewIncidentIndex(logger)
	if err != nil {
		logger.Error("Failed to initialize incident search index", "error", err)
		return exitConfigError
	}
	incidentStore.SetEvictionHook(func(id string) {
		if err := incidentIndex.Remove(id); err != nil {
			logger.Warn("failed to drop evicted incident from search index", "id", id, "error", err)
		}
	})

	// Notification channels. Both are optional; the incident manager treats
	// a nil channel as disabled.
	var chat, pager services.Notifier
	if cfg.Notifications.Slack.Enabled {
		slackNotifier, err := services.NewSlackNotifier(cfg.Notifications.Slack, logger)
		if err != nil {
			logger.Error("Failed to initialize Slack notifier", "error", err)
			return exitConfigError
		}
		chat = slackNotifier
		logger.Info("Slack notifications enabled", "channel", cfg.Notifications.Slack.Channel)
	}
	if cfg.Notifications.PagerDuty.Enabled {
		pagerNotifier, err := services.NewPagerDutyNotifier(cfg.Notifications.PagerDuty, logger)
		if err != nil {
			logger.Error("Failed to initialize PagerDuty notifier", "error", err)
			return exitConfigError
		}
		pager = pagerNotifier
		logger.Info("PagerDuty paging enabled", "severities", cfg.Incidents.PagerDutySeverities)
	}

	// Language-model analyzer. Without an API key incidents are still
	// created, just without enrichment.
	var llm services.LLMProvider
	if cfg.Analyzer.APIKey != "" {
		provider, err := services.NewAnthropicProvider(cfg.Analyzer, logger)
		if err != nil {
			logger.Error("Failed to initialize analyzer provider", "error", err)
			return exitConfigError
		}
		llm = provider
		logger.Info("Analyzer enabled", "model", cfg.Analyzer.Model)
	} else {
		logger.Warn("ANTHROPIC_API_KEY not set: incidents will be created without analysis")
	}

	// Pipeline stages
	detector := services.NewDetectorService(cfg.Detection, cfg.Polling, esService, logger)
	correlator := services.NewCorrelatorService(cfg.Correlation, esService, logger)
	runbooks := services.NewRunbookService(esService, logger)
	analyzer := services.NewAnalyzerService(cfg.Analyzer, llm, logger)
	manager := services.NewIncidentManagerService(cfg.Incidents, incidentStore, chat, pager, logger)

	// Read API server
	apiServer := api.NewServer(cfg, logger, valkeyCache, incidentStore, incidentIndex, esService)

	// New incidents become searchable and stream to dashboard clients as
	// soon as they are committed.
	hub := apiServer.Hub()
	manager.SetCreatedHook(func(inc *models.Incident) {
		if err := incidentIndex.Index(inc); err != nil {
			logger.Warn("failed to index incident", "incident_id", inc.ID, "error", err)
		}
		hub.BroadcastIncident(inc)
	})

	pipeline := services.NewPipelineService(detector, correlator, runbooks, analyzer, manager, tracer, logger)
	scheduler := services.NewSchedulerService(cfg.Polling, pipeline, tracer, logger)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Info("Shutdown signal received")
		cancel()
	}()

	// Detection pipeline runs beside the read API; Run returns once the
	// in-flight tick drains after ctx is cancelled.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Run(ctx)
	}()

	// Start server (blocks until shutdown)
	if err := apiServer.Start(ctx); err != nil {
		logger.Error("Read API server failed", "error", err)
		cancel()
		wg.Wait()
		return exitConfigError
	}

	wg.Wait()

	if tracerProvider != nil {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := tracerProvider.Shutdown(flushCtx); err != nil {
			logger.Warn("tracer shutdown incomplete", "error", err)
		}
	}

	logger.Info("SentinelOps shutdown complete")
	return exitOK
}

// waitForBackend probes the observability backend with a short retry loop.
func waitForBackend(es *services.ElasticsearchService, log logger.Logger) error {
	var lastErr error
	for attempt := 1; attempt <= startupProbeAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		lastErr = es.HealthCheck(ctx)
		cancel()
		if lastErr == nil {
			return nil
		}
		log.Warn("backend health check failed, retrying",
			"attempt", attempt, "max_attempts", startupProbeAttempts, "error", lastErr)
		if attempt < startupProbeAttempts {
			time.Sleep(startupProbeDelay)
		}
	}
	return lastErr
}

// newCache picks the cache implementation for the configured nodes: single
// node, cluster, or the in-memory fallback when none are configured. A
// configured-but-unreachable Valkey starts on the fallback and swaps in
// automatically once it answers.
func newCache(cfg config.CacheConfig, log logger.Logger) cache.Valkey {
	fallback := cache.NewNoopValkeyCache(log)
	if len(cfg.Nodes) == 0 {
		return fallback
	}

	ttl := time.Duration(cfg.TTL) * time.Second
	dial := func(ctx context.Context) (cache.Valkey, error) {
		if len(cfg.Nodes) == 1 {
			return cache.NewValkeySingle(cfg.Nodes[0], cfg.DB, cfg.Password, ttl)
		}
		return cache.NewValkeyCluster(cfg.Nodes, cfg.Password, ttl)
	}
	return cache.NewAutoSwap(fallback, dial, 5*time.Second, log)
}
