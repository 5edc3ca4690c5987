package gql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	stealth "github.com/anatolykoptev/go-stealth"

	glass "github.com/anatolykoptev/go-glass"
)

// get performs one GET of endpoint with cred. Recovery beyond a single
// CSRF token rotation is left to the caller.
func (c *Client) get(ctx context.Context, cred *glass.Credential, endpoint glass.Endpoint, params glass.Params) ([]byte, error) {
	op, ok := Operations[endpoint]
	if !ok {
		return nil, fmt.Errorf("unknown operation: %s", endpoint)
	}

	// Anti-fingerprint jitter
	if err := c.jitter(ctx); err != nil {
		return nil, err
	}
	if !cred.AllowRequest(endpoint) {
		c.recordAPICall(endpoint, false, true)
		return nil, glass.NewPlatformError(glass.ClassRateLimited, 0,
			fmt.Errorf("%s: request budget for %s spent", endpoint, cred.Name))
	}

	if cred.CT0Age() > csrfMaxAge {
		cred.SetCT0(newCSRFToken())
		slog.Debug("ct0 rotated (proactive)", slog.String("credential", cred.Name))
	}

	u := addGraphQLParams(op.URL(), op.variables(params, c.cfg.PageSize), op.Features, op.FieldToggles)
	body, err := c.do(cred, endpoint, u)

	var pe *glass.PlatformError
	if errors.As(err, &pe) && pe.Code == codeCSRF {
		slog.Warn("CSRF error 353, rotating ct0", slog.String("credential", cred.Name))
		cred.SetCT0(newCSRFToken())
		body, err = c.do(cred, endpoint, u)
	}
	return body, err
}

// do sends the request and classifies the outcome.
func (c *Client) do(cred *glass.Credential, endpoint glass.Endpoint, u string) ([]byte, error) {
	headers, ct0 := session(cred)
	body, respHdrs, status, err := c.clientFor(cred).DoWithHeaderOrder("GET", u, headers, nil, headerOrder)
	if err != nil {
		c.recordAPICall(endpoint, false, false)
		if cred.Proxy != "" && isProxyError(err) {
			slog.Warn("proxy error", slog.String("credential", cred.Name), slog.String("proxy", stealth.MaskProxy(cred.Proxy)), slog.Any("error", err))
		}
		return nil, transportError(endpoint, err)
	}

	if fresh := cookieCT0(respHdrs); fresh != "" && fresh != ct0 {
		cred.SetCT0(fresh)
	}

	if err := classifyResponse(endpoint, status, respHdrs, body); err != nil {
		c.recordAPICall(endpoint, false, glass.Classify(err) == glass.ClassRateLimited)
		slog.Debug("request failed",
			slog.String("endpoint", string(endpoint)),
			slog.String("credential", cred.Name),
			slog.Int("status", status),
			slog.Any("error", err))
		return nil, err
	}
	c.recordAPICall(endpoint, true, false)
	cred.RecordSuccess()
	return body, nil
}

// addGraphQLParams builds the full URL with variables, features, and optional fieldToggles.
func addGraphQLParams(base string, variables, features, fieldToggles map[string]any) string {
	q := url.Values{}
	v, _ := json.Marshal(variables)
	q.Set("variables", string(v))
	f, _ := json.Marshal(features)
	q.Set("features", string(f))
	if fieldToggles != nil {
		ft, _ := json.Marshal(fieldToggles)
		q.Set("fieldToggles", string(ft))
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + strings.ReplaceAll(q.Encode(), "+", "%20")
}
