package gql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	glass "github.com/anatolykoptev/go-glass"
)

// Platform error codes with special handling.
const (
	codeRateLimited = 88
	codeCSRF        = 353
)

// codeClasses maps platform error codes onto the error taxonomy.
var codeClasses = map[int]glass.ErrorClass{
	88:  glass.ClassRateLimited,   // rate limit exceeded
	32:  glass.ClassUnauthorized,  // could not authenticate
	64:  glass.ClassUnauthorized,  // account suspended
	89:  glass.ClassUnauthorized,  // invalid or expired token
	215: glass.ClassUnauthorized,  // bad authentication data
	219: glass.ClassUnauthorized,  // not authorized
	326: glass.ClassUnauthorized,  // account locked
	353: glass.ClassUnauthorized,  // csrf token mismatch
	130: glass.ClassUnavailable,   // over capacity
	131: glass.ClassUnavailable,   // internal error
	17:  glass.ClassNotFound,      // no user matches
	34:  glass.ClassNotFound,      // page does not exist
	50:  glass.ClassNotFound,      // user not found
	144: glass.ClassNotFound,      // no status with that id
	179: glass.ClassNotFound,      // not authorized to see status
	421: glass.ClassNotFound,      // tweet unavailable
	63:  glass.ClassSuspended,     // user suspended
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// parseAPIErrors returns the errors array of a response body.
func parseAPIErrors(body []byte) []apiError {
	var resp struct {
		Errors []apiError `json:"errors"`
	}
	if json.Unmarshal(body, &resp) != nil {
		return nil
	}
	return resp.Errors
}

// firstKnown returns the first error with a classified code.
func firstKnown(errs []apiError) (apiError, glass.ErrorClass, bool) {
	for _, e := range errs {
		if class, ok := codeClasses[e.Code]; ok {
			return e, class, true
		}
	}
	return apiError{}, glass.ClassUnknown, false
}

// classifyResponse turns a non-success response into a *glass.PlatformError.
// It returns nil for responses carrying usable data.
func classifyResponse(endpoint glass.Endpoint, status int, headers map[string]string, body []byte) error {
	errs := parseAPIErrors(body)
	known, class, ok := firstKnown(errs)

	switch {
	case status == 429:
		return glass.NewPlatformError(glass.ClassRateLimited, codeRateLimited,
			fmt.Errorf("%s: resets at %s", endpoint, parseRateLimitReset(headers["x-rate-limit-reset"]).Format(time.RFC3339)))
	case status == 401 || status == 403:
		if ok {
			return glass.NewPlatformError(class, known.Code, fmt.Errorf("%s HTTP %d: %s", endpoint, status, known.Message))
		}
		return glass.NewPlatformError(glass.ClassUnauthorized, 0, fmt.Errorf("%s HTTP %d: %s", endpoint, status, truncateBytes(body, 200)))
	case status == 404:
		return glass.NewPlatformError(glass.ClassNotFound, 0, fmt.Errorf("%s HTTP 404", endpoint))
	case status >= 500:
		return glass.NewPlatformError(glass.ClassUnavailable, 0, fmt.Errorf("%s HTTP %d: %s", endpoint, status, truncateBytes(body, 200)))
	case status != 200:
		return fmt.Errorf("%s HTTP %d: %s", endpoint, status, truncateBytes(body, 200))
	}

	if len(errs) == 0 {
		return nil
	}
	if !ok {
		if hasResponseData(body) {
			slog.Debug("ignoring partial errors", slog.String("endpoint", string(endpoint)), slog.String("message", errs[0].Message))
			return nil
		}
		return fmt.Errorf("%s error %d: %s", endpoint, errs[0].Code, errs[0].Message)
	}
	if (class == glass.ClassUnavailable || class == glass.ClassNotFound) && hasResponseData(body) {
		slog.Debug("error with usable data, treating as success", slog.String("endpoint", string(endpoint)), slog.Int("code", known.Code))
		return nil
	}
	return glass.NewPlatformError(class, known.Code, fmt.Errorf("%s: %s", endpoint, known.Message))
}

// transportError classifies a failure to get any response at all.
func transportError(endpoint glass.Endpoint, err error) error {
	class := glass.ClassTransient
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() || errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(err.Error(), "Client.Timeout") {
		class = glass.ClassTimedOut
	}
	return glass.NewPlatformError(class, 0, fmt.Errorf("%s: %w", endpoint, err))
}

// isProxyError returns true if the error looks like a proxy connectivity failure.
func isProxyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "proxy") ||
		strings.Contains(msg, "SOCKS") ||
		strings.Contains(msg, "tunnel") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host")
}

// parseRateLimitReset parses the X-Rate-Limit-Reset unix timestamp header.
// Falls back to 15 minutes from now if missing or invalid.
func parseRateLimitReset(v string) time.Time {
	if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(ts, 0)
	}
	return time.Now().Add(15 * time.Minute)
}

// hasResponseData returns true if the JSON body contains a non-empty "data" field.
func hasResponseData(body []byte) bool {
	var probe struct {
		Data json.RawMessage `json:"data"`
	}
	if json.Unmarshal(body, &probe) != nil {
		return false
	}
	d := strings.TrimSpace(string(probe.Data))
	return d != "" && d != "null" && d != "{}"
}

func truncateBytes(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
