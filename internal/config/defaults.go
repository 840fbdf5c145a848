package config

// GetDefaultConfig returns the configuration the agent runs with when no
// file and no environment overrides are present. Kept in sync with
// setDefaults; tests and benchmarks build on it.
func GetDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Port:        8000,
		LogLevel:    "info",
		Polling: PollingConfig{
			IntervalSeconds: 30,
			LookbackMinutes: 5,
		},
		Detection: DetectionConfig{
			Thresholds: ThresholdsConfig{
				P1: 5.0,
				P2: 3.5,
				P3: 2.5,
				P4: 2.0,
			},
			BaselineWindowMinutes: 60,
			MinDataPoints:         10,
		},
		Correlation: CorrelationConfig{
			WindowMinutes: 10,
			MaxEvents:     50,
		},
		Incidents: IncidentsConfig{
			DedupCooldownMinutes: 30,
			MaxIncidents:         1000,
			PagerDutySeverities:  []string{"P1", "P2"},
		},
		Elasticsearch: ElasticsearchConfig{
			Endpoints: []string{"http://localhost:9200"},
			Timeout:   30000,
			Indices: IndicesConfig{
				Logs:     "app-logs-*",
				Metrics:  "app-metrics-*",
				Runbooks: "incident-runbooks",
			},
		},
		Analyzer: AnalyzerConfig{
			Endpoint:       "https://api.anthropic.com/v1/messages",
			Model:          "claude-sonnet-4-6",
			MaxTokens:      1024,
			TimeoutSeconds: 30,
		},
		Notifications: NotificationsConfig{
			Slack: SlackConfig{
				Enabled: false,
				Channel: "#incidents",
			},
			PagerDuty: PagerDutyConfig{
				Enabled: false,
			},
		},
		Cache: CacheConfig{
			Nodes: []string{},
			DB:    0,
			TTL:   300,
		},
		Tracing: TracingConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
		},
		CORS: CORSConfig{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "OPTIONS"},
			AllowedHeaders:   []string{"Origin", "Content-Type", "Accept"},
			ExposedHeaders:   []string{"X-Rate-Limit-Limit", "X-Rate-Limit-Remaining", "X-Rate-Limit-Reset"},
			AllowCredentials: false,
			MaxAge:           3600,
		},
	}
}
