package gql

import "time"

// Config holds all configuration for the GraphQL platform client.
type Config struct {
	// DefaultProxy is the proxy URL for credentials without their own proxy.
	DefaultProxy string

	// PageSize overrides the per-operation page size when positive.
	PageSize int

	// PollInterval paces the search polls behind a live subscription.
	PollInterval time.Duration

	// MetricsHook is called on each API request for external metrics collection.
	// endpoint is the operation name, success and rateLimited indicate the outcome.
	MetricsHook func(endpoint string, success, rateLimited bool)
}

// defaults fills in zero-value config fields with sensible defaults.
func (cfg *Config) defaults() {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 30 * time.Second
	}
}
