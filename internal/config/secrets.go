package config

import "os"

// LoadSecrets populates the credential fields from environment variables.
// Secrets are never read from the config file. A notifier left enabled in
// the file without its token in the environment fails validation later;
// everything else degrades (the analyzer returns no analysis on 401s, the
// backend client runs unauthenticated).
func LoadSecrets(config *Config) error {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		config.Analyzer.APIKey = key
	}

	if token := os.Getenv("SLACK_BOT_TOKEN"); token != "" {
		config.Notifications.Slack.BotToken = token
		config.Notifications.Slack.Enabled = true
	}

	if key := os.Getenv("PAGERDUTY_ROUTING_KEY"); key != "" {
		config.Notifications.PagerDuty.RoutingKey = key
		config.Notifications.PagerDuty.Enabled = true
	}

	if user := os.Getenv("ES_USERNAME"); user != "" {
		config.Elasticsearch.Username = user
	}
	if pass := os.Getenv("ES_PASSWORD"); pass != "" {
		config.Elasticsearch.Password = pass
	}

	if pass := os.Getenv("CACHE_PASSWORD"); pass != "" {
		config.Cache.Password = pass
	}

	return nil
}
