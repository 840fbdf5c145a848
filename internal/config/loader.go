package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Load loads configuration from various sources with priority order:
// 1. Environment variables
// 2. Configuration file (config.yaml)
// 3. Default values
//
// A failure here is the exit-code-1 path: the process never starts a
// pipeline on a configuration it could not validate.
func Load() (*Config, error) {
	v := viper.New()

	// SENTINELOPS_CONFIG_PATH pins an explicit file; otherwise search the
	// usual locations.
	if path := os.Getenv("SENTINELOPS_CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/sentinelops/")
		v.AddConfigPath("./configs/")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("SENTINELOPS")

	setDefaults(v)

	// Config file is optional; env vars and defaults are enough to run.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	overrideWithEnvVars(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := LoadSecrets(&config); err != nil {
		return nil, fmt.Errorf("failed to load secrets: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets reasonable default values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("environment", "development")
	v.SetDefault("port", 8000)
	v.SetDefault("log_level", "info")

	// Pipeline defaults
	v.SetDefault("polling.interval_seconds", 30)
	v.SetDefault("polling.lookback_minutes", 5)

	v.SetDefault("detection.thresholds.p1", 5.0)
	v.SetDefault("detection.thresholds.p2", 3.5)
	v.SetDefault("detection.thresholds.p3", 2.5)
	v.SetDefault("detection.thresholds.p4", 2.0)
	v.SetDefault("detection.baseline_window_minutes", 60)
	v.SetDefault("detection.min_data_points", 10)

	v.SetDefault("correlation.window_minutes", 10)
	v.SetDefault("correlation.max_events", 50)

	v.SetDefault("incidents.dedup_cooldown_minutes", 30)
	v.SetDefault("incidents.max_incidents", 1000)
	v.SetDefault("incidents.pagerduty_severities", []string{"P1", "P2"})

	// Observability backend defaults
	v.SetDefault("elasticsearch.endpoints", []string{"http://localhost:9200"})
	v.SetDefault("elasticsearch.timeout", 30000)
	v.SetDefault("elasticsearch.indices.logs", "app-logs-*")
	v.SetDefault("elasticsearch.indices.metrics", "app-metrics-*")
	v.SetDefault("elasticsearch.indices.runbooks", "incident-runbooks")

	// Analyzer defaults
	v.SetDefault("analyzer.endpoint", "https://api.anthropic.com/v1/messages")
	v.SetDefault("analyzer.model", "claude-sonnet-4-6")
	v.SetDefault("analyzer.max_tokens", 1024)
	v.SetDefault("analyzer.timeout_seconds", 30)

	// Notification defaults
	v.SetDefault("notifications.slack.enabled", false)
	v.SetDefault("notifications.slack.channel", "#incidents")
	v.SetDefault("notifications.pagerduty.enabled", false)

	// Cache defaults (Valkey). No nodes means in-memory fallback.
	v.SetDefault("cache.nodes", []string{})
	v.SetDefault("cache.ttl", 300)
	v.SetDefault("cache.db", 0)

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")

	// CORS defaults
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Origin", "Content-Type", "Accept"})
	v.SetDefault("cors.exposed_headers", []string{"X-Rate-Limit-Limit", "X-Rate-Limit-Remaining", "X-Rate-Limit-Reset"})
	v.SetDefault("cors.allow_credentials", false)
	v.SetDefault("cors.max_age", 3600)
}

// overrideWithEnvVars explicitly handles environment variable overrides
// that AutomaticEnv cannot express (lists, linked enables).
func overrideWithEnvVars(v *viper.Viper) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			v.Set("port", p)
		}
	}

	if env := os.Getenv("ENVIRONMENT"); env != "" {
		v.Set("environment", env)
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		v.Set("log_level", logLevel)
	}

	// Elasticsearch endpoints (comma separated)
	if esEndpoints := os.Getenv("ES_ENDPOINTS"); esEndpoints != "" {
		endpoints := strings.Split(esEndpoints, ",")
		for i, endpoint := range endpoints {
			endpoints[i] = strings.TrimSpace(endpoint)
		}
		v.Set("elasticsearch.endpoints", endpoints)
	}

	// Analyzer endpoint (points tests and airgapped setups at a local stub)
	if analyzerEndpoint := os.Getenv("ANALYZER_ENDPOINT"); analyzerEndpoint != "" {
		v.Set("analyzer.endpoint", analyzerEndpoint)
	}

	// Valkey cache nodes (comma separated)
	if cacheNodes := os.Getenv("VALKEY_CACHE_NODES"); cacheNodes != "" {
		nodes := strings.Split(cacheNodes, ",")
		for i, node := range nodes {
			nodes[i] = strings.TrimSpace(node)
		}
		v.Set("cache.nodes", nodes)
	}

	if cacheTTL := os.Getenv("CACHE_TTL"); cacheTTL != "" {
		if ttl, err := strconv.Atoi(cacheTTL); err == nil {
			v.Set("cache.ttl", ttl)
		}
	}

	// Slack channel override; the token itself is handled by LoadSecrets.
	if slackChannel := os.Getenv("SLACK_CHANNEL"); slackChannel != "" {
		v.Set("notifications.slack.channel", slackChannel)
	}

	// OTLP endpoint follows the conventional OTel variable.
	if otlp := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); otlp != "" {
		v.Set("tracing.otlp_endpoint", otlp)
		v.Set("tracing.enabled", true)
	}
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Port < 1 || config.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", config.Port)
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, config.LogLevel) {
		return fmt.Errorf("invalid log level: %s", config.LogLevel)
	}

	validEnvironments := []string{"development", "staging", "production", "test"}
	if !contains(validEnvironments, config.Environment) {
		return fmt.Errorf("invalid environment: %s", config.Environment)
	}

	if config.Polling.IntervalSeconds < 1 {
		return fmt.Errorf("polling.interval_seconds must be at least 1")
	}
	if config.Polling.LookbackMinutes < 1 {
		return fmt.Errorf("polling.lookback_minutes must be at least 1")
	}

	t := config.Detection.Thresholds
	if t.P4 <= 0 {
		return fmt.Errorf("detection.thresholds.p4 must be positive")
	}
	if !(t.P1 >= t.P2 && t.P2 >= t.P3 && t.P3 >= t.P4) {
		return fmt.Errorf("detection thresholds must be descending (p1 >= p2 >= p3 >= p4), got p1=%v p2=%v p3=%v p4=%v", t.P1, t.P2, t.P3, t.P4)
	}
	if config.Detection.BaselineWindowMinutes < 1 {
		return fmt.Errorf("detection.baseline_window_minutes must be at least 1")
	}
	if config.Detection.MinDataPoints < 1 {
		return fmt.Errorf("detection.min_data_points must be at least 1")
	}

	if config.Correlation.WindowMinutes < 1 {
		return fmt.Errorf("correlation.window_minutes must be at least 1")
	}
	if config.Correlation.MaxEvents < 1 {
		return fmt.Errorf("correlation.max_events must be at least 1")
	}

	if config.Incidents.DedupCooldownMinutes < 1 {
		return fmt.Errorf("incidents.dedup_cooldown_minutes must be at least 1")
	}
	if config.Incidents.MaxIncidents < 1 {
		return fmt.Errorf("incidents.max_incidents must be at least 1")
	}
	validSeverities := []string{"P1", "P2", "P3", "P4"}
	for _, s := range config.Incidents.PagerDutySeverities {
		if !contains(validSeverities, s) {
			return fmt.Errorf("invalid pagerduty severity %q (expected P1..P4)", s)
		}
	}

	if len(config.Elasticsearch.Endpoints) == 0 {
		return fmt.Errorf("at least one Elasticsearch endpoint is required")
	}
	if config.Elasticsearch.Timeout < 1 {
		return fmt.Errorf("elasticsearch.timeout must be at least 1ms")
	}
	if config.Elasticsearch.Indices.Logs == "" || config.Elasticsearch.Indices.Metrics == "" || config.Elasticsearch.Indices.Runbooks == "" {
		return fmt.Errorf("elasticsearch index names (logs, metrics, runbooks) must all be set")
	}

	if config.Analyzer.Endpoint == "" {
		return fmt.Errorf("analyzer.endpoint is required")
	}
	if config.Analyzer.Model == "" {
		return fmt.Errorf("analyzer.model is required")
	}
	if config.Analyzer.MaxTokens < 1 {
		return fmt.Errorf("analyzer.max_tokens must be at least 1")
	}
	if config.Analyzer.TimeoutSeconds < 1 {
		return fmt.Errorf("analyzer.timeout_seconds must be at least 1")
	}

	if config.Notifications.Slack.Enabled && config.Notifications.Slack.BotToken == "" {
		return fmt.Errorf("notifications.slack.enabled requires SLACK_BOT_TOKEN in the environment")
	}
	if config.Notifications.PagerDuty.Enabled && config.Notifications.PagerDuty.RoutingKey == "" {
		return fmt.Errorf("notifications.pagerduty.enabled requires PAGERDUTY_ROUTING_KEY in the environment")
	}

	if len(config.Cache.Nodes) > 0 && config.Cache.TTL < 1 {
		return fmt.Errorf("cache.ttl must be at least 1 second")
	}

	if config.Tracing.Enabled && config.Tracing.OTLPEndpoint == "" {
		return fmt.Errorf("tracing.enabled requires tracing.otlp_endpoint")
	}

	return nil
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
