package gql

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	stealth "github.com/anatolykoptev/go-stealth"

	glass "github.com/anatolykoptev/go-glass"
)

// doer sends one request with a fixed header order.
type doer interface {
	DoWithHeaderOrder(method, url string, headers map[string]string, body io.Reader, order []string) ([]byte, map[string]string, int, error)
}

// Client implements glass.Platform over the GraphQL web API.
type Client struct {
	client doer
	cfg    Config
	jitter func(ctx context.Context) error
	dial   func(cred *glass.Credential) (doer, error)

	mu      sync.Mutex
	clients map[*glass.Credential]doer
	marks   map[string]uint64
}

var _ glass.Platform = (*Client)(nil)

// New creates a client sharing one browser session for credentials
// without a proxy of their own.
func New(cfg Config) (*Client, error) {
	cfg.defaults()

	opts := []stealth.ClientOption{
		stealth.WithHeaderOrder(headerOrder),
	}
	if cfg.DefaultProxy != "" {
		opts = append(opts, stealth.WithProxy(cfg.DefaultProxy))
	}
	bc, err := stealth.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("stealth client: %w", err)
	}

	c := newClient(bc, cfg)
	c.dial = func(cred *glass.Credential) (doer, error) {
		return stealth.NewClient(
			stealth.WithProxy(cred.Proxy),
			stealth.WithProfile(cred.Profile.TLSProfile),
			stealth.WithHeaderOrder(headerOrder),
		)
	}
	return c, nil
}

func newClient(d doer, cfg Config) *Client {
	cfg.defaults()
	return &Client{
		client:  d,
		cfg:     cfg,
		jitter:  stealth.DefaultJitter.Sleep,
		clients: make(map[*glass.Credential]doer),
		marks:   make(map[string]uint64),
	}
}

// clientFor returns the per-credential client if the credential has a
// proxy, otherwise the shared client.
func (c *Client) clientFor(cred *glass.Credential) doer {
	if cred.Proxy == "" || c.dial == nil {
		return c.client
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.clients[cred]; ok {
		return d
	}
	d, err := c.dial(cred)
	if err != nil {
		slog.Warn("per-credential client failed, using shared client",
			slog.String("credential", cred.Name),
			slog.String("proxy", stealth.MaskProxy(cred.Proxy)),
			slog.Any("error", err))
		d = c.client
	}
	c.clients[cred] = d
	return d
}

// Paginate implements glass.Platform.
func (c *Client) Paginate(cred *glass.Credential, endpoint glass.Endpoint, params glass.Params) glass.Paginator {
	return &paginator{c: c, cred: cred, endpoint: endpoint, params: params}
}

// Lookup implements glass.Platform for profile and tweet lookups.
func (c *Client) Lookup(ctx context.Context, cred *glass.Credential, endpoint glass.Endpoint, params glass.Params) (json.RawMessage, error) {
	body, err := c.get(ctx, cred, endpoint, params)
	if err != nil {
		return nil, err
	}

	var obj map[string]any
	switch endpoint {
	case glass.EndpointUserByScreenName, glass.EndpointUserByRestID:
		obj, err = parseUserLookup(body)
	case glass.EndpointTweetDetail:
		obj, err = parseTweetDetail(body, fmt.Sprint(params["focalTweetId"]))
	default:
		return nil, fmt.Errorf("lookup not supported for %s", endpoint)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(obj)
}

// recordAPICall calls the metrics hook if configured.
func (c *Client) recordAPICall(endpoint glass.Endpoint, success, rateLimited bool) {
	if c.cfg.MetricsHook != nil {
		c.cfg.MetricsHook(string(endpoint), success, rateLimited)
	}
}
