package gql

import (
	"crypto/rand"
	"encoding/hex"
	"maps"
	"strings"
	"time"

	stealth "github.com/anatolykoptev/go-stealth"

	glass "github.com/anatolykoptev/go-glass"
)

const fallbackUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// csrfMaxAge is how long a csrf token is used before a fresh one is minted.
const csrfMaxAge = 4 * time.Hour

// session is the header set of one logged-in browser session. ct0 is
// returned so the caller can tell a server-side refresh from its own.
func session(cred *glass.Credential) (headers map[string]string, ct0 string) {
	authToken, ct0, ua := cred.Secrets()
	if ua == "" {
		ua = fallbackUserAgent
	}
	headers = map[string]string{
		"authorization":             "Bearer " + BearerToken,
		"content-type":              "application/json",
		"x-csrf-token":              ct0,
		"x-twitter-active-user":     "yes",
		"x-twitter-auth-type":       "OAuth2Session",
		"x-twitter-client-language": "en",
		"sec-fetch-dest":            "empty",
		"sec-fetch-mode":            "cors",
		"sec-fetch-site":            "same-origin",
		"cookie":                    "auth_token=" + authToken + "; ct0=" + ct0,
		"user-agent":                ua,
		"accept":                    "*/*",
		"accept-language":           "en-US,en;q=0.9",
		"accept-encoding":           "gzip, deflate, br",
		"referer":                   "https://x.com/",
		"origin":                    "https://x.com",
	}
	maps.Copy(headers, stealth.ClientHintsHeaders(ua))
	return headers, ct0
}

// headerOrder matches the browser the TLS fingerprint claims to be.
var headerOrder = []string{
	"authorization",
	"content-type",
	"x-csrf-token",
	"x-twitter-active-user",
	"x-twitter-auth-type",
	"x-twitter-client-language",
	"sec-ch-ua",
	"sec-ch-ua-mobile",
	"sec-ch-ua-platform",
	"sec-fetch-dest",
	"sec-fetch-mode",
	"sec-fetch-site",
	"cookie",
	"user-agent",
	"accept",
	"accept-language",
	"accept-encoding",
	"referer",
	"origin",
}

// newCSRFToken mints a random 64-char hex ct0 value.
func newCSRFToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return strings.Repeat("0", 64)
	}
	return hex.EncodeToString(b)
}

// cookieCT0 returns the ct0 a response sets, if any.
func cookieCT0(respHeaders map[string]string) string {
	for part := range strings.SplitSeq(respHeaders["set-cookie"], ";") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(part), "ct0="); ok && v != "" {
			return v
		}
	}
	return ""
}
