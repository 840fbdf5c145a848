package config

// Config is the immutable runtime configuration of the SentinelOps agent.
// It is parsed once at startup and passed by value through the pipeline;
// nothing mutates it after Load returns. Secrets are never read from the
// config file, only from environment variables (see secrets.go).
type Config struct {
	Environment string `mapstructure:"environment" yaml:"environment"`
	Port        int    `mapstructure:"port" yaml:"port"`
	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`

	Polling       PollingConfig       `mapstructure:"polling" yaml:"polling"`
	Detection     DetectionConfig     `mapstructure:"detection" yaml:"detection"`
	Correlation   CorrelationConfig   `mapstructure:"correlation" yaml:"correlation"`
	Incidents     IncidentsConfig     `mapstructure:"incidents" yaml:"incidents"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch" yaml:"elasticsearch"`
	Analyzer      AnalyzerConfig      `mapstructure:"analyzer" yaml:"analyzer"`
	Notifications NotificationsConfig `mapstructure:"notifications" yaml:"notifications"`
	Cache         CacheConfig         `mapstructure:"cache" yaml:"cache"`
	Tracing       TracingConfig       `mapstructure:"tracing" yaml:"tracing"`
	CORS          CORSConfig          `mapstructure:"cors" yaml:"cors"`
}

// PollingConfig drives the tick scheduler.
type PollingConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds" yaml:"interval_seconds"`
	LookbackMinutes int `mapstructure:"lookback_minutes" yaml:"lookback_minutes"`
}

// DetectionConfig holds the z-score thresholds and baseline shape.
type DetectionConfig struct {
	Thresholds            ThresholdsConfig `mapstructure:"thresholds" yaml:"thresholds"`
	BaselineWindowMinutes int              `mapstructure:"baseline_window_minutes" yaml:"baseline_window_minutes"`
	MinDataPoints         int              `mapstructure:"min_data_points" yaml:"min_data_points"`
}

// ThresholdsConfig maps z-score floors to severities. Must be descending:
// a z-score below P4 is not an anomaly.
type ThresholdsConfig struct {
	P1 float64 `mapstructure:"p1" yaml:"p1"`
	P2 float64 `mapstructure:"p2" yaml:"p2"`
	P3 float64 `mapstructure:"p3" yaml:"p3"`
	P4 float64 `mapstructure:"p4" yaml:"p4"`
}

// CorrelationConfig bounds the cross-service event sweep.
type CorrelationConfig struct {
	WindowMinutes int `mapstructure:"window_minutes" yaml:"window_minutes"`
	MaxEvents     int `mapstructure:"max_events" yaml:"max_events"`
}

// IncidentsConfig controls dedup, retention, and paging fan-out.
type IncidentsConfig struct {
	DedupCooldownMinutes int      `mapstructure:"dedup_cooldown_minutes" yaml:"dedup_cooldown_minutes"`
	MaxIncidents         int      `mapstructure:"max_incidents" yaml:"max_incidents"`
	PagerDutySeverities  []string `mapstructure:"pagerduty_severities" yaml:"pagerduty_severities"`
}

// ElasticsearchConfig points at the observability backend. Timeout is in
// milliseconds. Username/Password are populated from env only.
type ElasticsearchConfig struct {
	Endpoints []string      `mapstructure:"endpoints" yaml:"endpoints"`
	Timeout   int           `mapstructure:"timeout" yaml:"timeout"`
	Username  string        `mapstructure:"-" yaml:"-"`
	Password  string        `mapstructure:"-" yaml:"-"`
	Indices   IndicesConfig `mapstructure:"indices" yaml:"indices"`
}

// IndicesConfig names the backend index patterns the pipeline reads.
type IndicesConfig struct {
	Logs     string `mapstructure:"logs" yaml:"logs"`
	Metrics  string `mapstructure:"metrics" yaml:"metrics"`
	Runbooks string `mapstructure:"runbooks" yaml:"runbooks"`
}

// AnalyzerConfig configures the language-model enrichment call. The model
// identifier is opaque; it is never validated against a whitelist. APIKey
// comes from ANTHROPIC_API_KEY only.
type AnalyzerConfig struct {
	Endpoint       string `mapstructure:"endpoint" yaml:"endpoint"`
	Model          string `mapstructure:"model" yaml:"model"`
	MaxTokens      int    `mapstructure:"max_tokens" yaml:"max_tokens"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	APIKey         string `mapstructure:"-" yaml:"-"`
}

// NotificationsConfig wires the chat and paging channels.
type NotificationsConfig struct {
	Slack     SlackConfig     `mapstructure:"slack" yaml:"slack"`
	PagerDuty PagerDutyConfig `mapstructure:"pagerduty" yaml:"pagerduty"`
}

// SlackConfig configures the chat notifier. BotToken comes from
// SLACK_BOT_TOKEN only.
type SlackConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Channel  string `mapstructure:"channel" yaml:"channel"`
	BotToken string `mapstructure:"-" yaml:"-"`
}

// PagerDutyConfig configures the paging notifier. RoutingKey comes from
// PAGERDUTY_ROUTING_KEY only.
type PagerDutyConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	RoutingKey string `mapstructure:"-" yaml:"-"`
}

// CacheConfig points at the Valkey nodes backing the read-API rate limiter
// and response cache. Empty Nodes selects the in-memory noop fallback.
// TTL is in seconds. Password comes from env only.
type CacheConfig struct {
	Nodes    []string `mapstructure:"nodes" yaml:"nodes"`
	DB       int      `mapstructure:"db" yaml:"db"`
	TTL      int      `mapstructure:"ttl" yaml:"ttl"`
	Password string   `mapstructure:"-" yaml:"-"`
}

// TracingConfig enables OTLP span export for tick pipelines.
type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
}

// CORSConfig controls cross-origin access for the dashboard.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods" yaml:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers" yaml:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers" yaml:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials" yaml:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age" yaml:"max_age"`
}
