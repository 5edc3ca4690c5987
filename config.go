package glass

import (
	"context"
	"time"

	stealth "github.com/anatolykoptev/go-stealth"
	"github.com/anatolykoptev/go-stealth/ratelimit"
)

// Config holds the recovery policy shared by the fetcher, streamer and pool.
type Config struct {
	// Cooldown is the fixed quota window applied when a credential is
	// exhausted on an endpoint.
	Cooldown time.Duration

	// SafetyMargin is added to the computed wait when every credential is
	// cooling down.
	SafetyMargin time.Duration

	// TransientWait is the pause after a transient network error.
	TransientWait time.Duration

	// OverloadWait is the pause after the platform reports it is overloaded.
	OverloadWait time.Duration

	// StreamRefresh is the uptime after which a live subscription is
	// torn down and re-established.
	StreamRefresh time.Duration

	// ReconnectWait is the pause before reconnecting a dropped subscription.
	ReconnectWait time.Duration

	// UnknownRetries bounds consecutive retries of unclassified errors.
	UnknownRetries int

	// UnknownBackoff spaces unclassified-error retries. The default is a
	// fixed 5s wait without jitter.
	UnknownBackoff stealth.BackoffConfig

	// RateLimit configures per-credential per-endpoint request pacing.
	RateLimit ratelimit.Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// defaults fills in zero-value config fields with sensible defaults.
func (cfg *Config) defaults() {
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 15 * time.Minute
	}
	if cfg.SafetyMargin == 0 {
		cfg.SafetyMargin = 3 * time.Second
	}
	if cfg.TransientWait == 0 {
		cfg.TransientWait = 5 * time.Second
	}
	if cfg.OverloadWait == 0 {
		cfg.OverloadWait = 60 * time.Second
	}
	if cfg.StreamRefresh == 0 {
		cfg.StreamRefresh = 15 * time.Minute
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = time.Second
	}
	if cfg.UnknownRetries == 0 {
		cfg.UnknownRetries = 3
	}
	if cfg.UnknownBackoff.InitialWait == 0 {
		cfg.UnknownBackoff = stealth.BackoffConfig{
			InitialWait: 5 * time.Second,
			MaxWait:     5 * time.Second,
			Multiplier:  1,
		}
	}
	if cfg.UnknownBackoff.MaxWait < cfg.UnknownBackoff.InitialWait {
		cfg.UnknownBackoff.MaxWait = cfg.UnknownBackoff.InitialWait
	}
	if cfg.UnknownBackoff.Multiplier < 1 {
		cfg.UnknownBackoff.Multiplier = 1
	}
	if cfg.RateLimit.RequestsPerWindow == 0 {
		cfg.RateLimit = ratelimit.DefaultConfig
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	if cfg.sleep == nil {
		cfg.sleep = sleepContext
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
