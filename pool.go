package glass

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/anatolykoptev/go-stealth/pool"
	"github.com/anatolykoptev/go-stealth/ratelimit"
)

// Pool is an ordered set of credentials with one active member.
// All methods are safe for concurrent use.
type Pool struct {
	mu     sync.Mutex
	creds  []*Credential
	active int
	cfg    Config
}

// NewPool wires rate limiting and health tracking into creds.
func NewPool(creds []*Credential, cfg Config) (*Pool, error) {
	cfg.defaults()
	if len(creds) == 0 {
		return nil, ErrNoCredentials
	}
	for _, c := range creds {
		c.mu.Lock()
		c.rateLimiter = ratelimit.NewLimiter(cfg.RateLimit)
		c.mu.Unlock()
		c.HealthTracker = pool.DefaultHealthTracker()
	}
	return &Pool{creds: append([]*Credential(nil), creds...), cfg: cfg}, nil
}

// Len returns the number of credentials still in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creds)
}

// Active returns the active credential, or nil for an empty pool.
func (p *Pool) Active() *Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.creds) == 0 {
		return nil
	}
	return p.creds[p.active]
}

// Acquire returns a credential whose quota for endpoint is not exhausted.
// The active credential is preferred, then the first usable one in pool
// order. When every credential is cooling down, Acquire sleeps until the
// earliest window ends plus the safety margin and returns that credential.
func (p *Pool) Acquire(ctx context.Context, endpoint Endpoint) (*Credential, error) {
	p.mu.Lock()
	if len(p.creds) == 0 {
		p.mu.Unlock()
		return nil, ErrNoCredentials
	}
	now := p.cfg.now()
	if c := p.creds[p.active]; !c.CoolingDown(endpoint, now) {
		p.mu.Unlock()
		return c, nil
	}
	for i, c := range p.creds {
		if !c.CoolingDown(endpoint, now) {
			p.active = i
			p.mu.Unlock()
			slog.Debug("switched credential", slog.String("credential", c.Name), slog.String("endpoint", string(endpoint)))
			return c, nil
		}
	}

	soonest := 0
	for i, c := range p.creds {
		if c.AvailableAt(endpoint).Before(p.creds[soonest].AvailableAt(endpoint)) {
			soonest = i
		}
	}
	p.active = soonest
	c := p.creds[soonest]
	wait := c.AvailableAt(endpoint).Sub(now) + p.cfg.SafetyMargin
	p.mu.Unlock()

	slog.Info("all credentials exhausted, waiting",
		slog.String("endpoint", string(endpoint)),
		slog.String("credential", c.Name),
		slog.Duration("wait", wait))
	if err := p.cfg.sleep(ctx, wait); err != nil {
		return nil, err
	}
	return c, nil
}

// MarkExhausted starts a fixed cooldown window for cred on endpoint, measured
// from when. The latest observation wins.
func (p *Pool) MarkExhausted(cred *Credential, endpoint Endpoint, when time.Time) {
	until := when.Add(p.cfg.Cooldown)
	cred.markExhausted(endpoint, until)
	slog.Debug("credential exhausted",
		slog.String("credential", cred.Name),
		slog.String("endpoint", string(endpoint)),
		slog.Time("until", until))
}

// Invalidate removes cred from the pool. It returns ErrNoCredentials when
// nothing is left.
func (p *Pool) Invalidate(cred *Credential) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, c := range p.creds {
		if c != cred {
			continue
		}
		p.creds = append(p.creds[:i], p.creds[i+1:]...)
		switch {
		case len(p.creds) == 0:
			p.active = 0
		case p.active > i:
			p.active--
		case p.active >= len(p.creds):
			p.active = 0
		}
		total, failed, _ := cred.Stats()
		slog.Warn("credential invalidated",
			slog.String("credential", cred.Name),
			slog.Int("remaining", len(p.creds)),
			slog.Int("total", total),
			slog.Int("failed", failed))
		break
	}
	if len(p.creds) == 0 {
		return fmt.Errorf("invalidate %s: %w", cred.Name, ErrNoCredentials)
	}
	return nil
}

// Rotate makes the credential after cur active, round-robin, ignoring
// cooldowns. A single-credential pool keeps returning the same credential.
func (p *Pool) Rotate(cur *Credential) (*Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.creds) == 0 {
		return nil, ErrNoCredentials
	}
	idx := -1
	for i, c := range p.creds {
		if c == cur {
			idx = i
			break
		}
	}
	if idx < 0 {
		idx = p.active - 1
	}
	p.active = (idx + 1) % len(p.creds)
	return p.creds[p.active], nil
}
