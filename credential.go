package glass

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	stealth "github.com/anatolykoptev/go-stealth"
	"github.com/anatolykoptev/go-stealth/pool"
	"github.com/anatolykoptev/go-stealth/ratelimit"
)

// Credential is one set of platform auth material with its per-endpoint
// quota state.
type Credential struct {
	Name      string
	AuthToken string
	CT0       string
	Proxy     string
	UserAgent string
	Profile   stealth.BrowserProfile

	mu             sync.Mutex
	expiredUntil   map[Endpoint]time.Time
	ct0RefreshedAt time.Time
	rateLimiter    *ratelimit.Limiter

	pool.HealthTracker
}

// NewCredential returns a credential with a browser profile picked by idx.
func NewCredential(name, authToken, ct0 string, idx int) *Credential {
	c := &Credential{
		Name:          name,
		AuthToken:     authToken,
		CT0:           ct0,
		rateLimiter:   ratelimit.NewLimiter(ratelimit.DefaultConfig),
		HealthTracker: pool.DefaultHealthTracker(),
	}
	if ct0 != "" {
		c.ct0RefreshedAt = time.Now()
	}
	AssignBrowserProfile(c, idx)
	return c
}

// ID returns the credential name used in logs.
func (c *Credential) ID() string { return c.Name }

// CT0Age returns the time since the ct0 token was last refreshed.
func (c *Credential) CT0Age() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ct0RefreshedAt.IsZero() {
		return 24 * time.Hour
	}
	return time.Since(c.ct0RefreshedAt)
}

// SetCT0 updates the ct0 from a server response or a local rotation.
func (c *Credential) SetCT0(ct0 string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CT0 = ct0
	c.ct0RefreshedAt = time.Now()
}

// Secrets returns a snapshot of (authToken, ct0, userAgent) under lock.
func (c *Credential) Secrets() (authToken, ct0, userAgent string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.AuthToken, c.CT0, c.UserAgent
}

// AllowRequest checks if this credential may send another request to the endpoint.
func (c *Credential) AllowRequest(endpoint Endpoint) bool {
	c.mu.Lock()
	rl := c.rateLimiter
	c.mu.Unlock()
	if rl == nil {
		return true
	}
	return rl.Allow(string(endpoint))
}

// CoolingDown reports whether the endpoint quota is still exhausted at now.
func (c *Credential) CoolingDown(endpoint Endpoint, now time.Time) bool {
	return now.Before(c.AvailableAt(endpoint))
}

// AvailableAt returns when the endpoint quota window ends. The zero time
// means the credential was never exhausted on it.
func (c *Credential) AvailableAt(endpoint Endpoint) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expiredUntil[endpoint]
}

// markExhausted records that the endpoint is unusable until until.
func (c *Credential) markExhausted(endpoint Endpoint, until time.Time) {
	c.mu.Lock()
	if c.expiredUntil == nil {
		c.expiredUntil = make(map[Endpoint]time.Time)
	}
	c.expiredUntil[endpoint] = until
	rl := c.rateLimiter
	c.mu.Unlock()
	if rl != nil {
		rl.MarkRateLimited(string(endpoint), until)
	}
}

// AssignBrowserProfile sets a browser profile based on index.
func AssignBrowserProfile(c *Credential, idx int) {
	p := stealth.BuiltinProfiles[idx%len(stealth.BuiltinProfiles)]
	c.Profile = p
	c.UserAgent = p.UserAgent
}

// ParseCredentials parses a comma-separated list of credentials.
// Format: "name:auth_token:ct0" or "name:auth_token:ct0:proxy_url,...".
func ParseCredentials(raw string) []*Credential {
	var creds []*Credential
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 4)
		if len(parts) < 3 || parts[1] == "" {
			slog.Warn("invalid credential entry, skipping", slog.String("entry", parts[0]))
			continue
		}
		c := NewCredential(parts[0], parts[1], parts[2], len(creds))
		if len(parts) == 4 {
			c.Proxy = parts[3]
		}
		creds = append(creds, c)
	}
	return creds
}
