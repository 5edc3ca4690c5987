package glass

import (
	"fmt"
	"strings"
	"time"
)

// quota describes how many items one request returns and how many requests
// the platform allows per quota window.
type quota struct {
	PageSize          int
	RequestsPerWindow int
}

var endpointQuotas = map[Endpoint]quota{
	EndpointFollowers:  {PageSize: 100, RequestsPerWindow: 15},
	EndpointFollowing:  {PageSize: 100, RequestsPerWindow: 15},
	EndpointUserTweets: {PageSize: 40, RequestsPerWindow: 500},
	EndpointSearch:     {PageSize: 20, RequestsPerWindow: 450},
	EndpointRetweeters: {PageSize: 20, RequestsPerWindow: 300},
}

// EstimateDuration returns how long collecting records items from endpoint
// takes with the given number of credentials. A credential sends at most the
// lower of the platform quota and cfg.RateLimit per window, and every full
// round of windows after the first costs the longer of the cooldown and the
// pacing window.
func EstimateDuration(endpoint Endpoint, records, credentials int, cfg Config) time.Duration {
	q, ok := endpointQuotas[endpoint]
	if !ok || records <= 0 || credentials <= 0 {
		return 0
	}
	perWindow := q.RequestsPerWindow
	if rl := cfg.RateLimit.RequestsPerWindow; rl > 0 && rl < perWindow {
		perWindow = rl
	}
	window := max(cfg.Cooldown, cfg.RateLimit.WindowDuration)

	perRound := q.PageSize * perWindow * credentials
	rounds := (records + perRound - 1) / perRound
	return time.Duration(rounds-1) * window
}

// FormatEstimate renders d as "N days N hours N minutes", omitting zero parts.
func FormatEstimate(d time.Duration) string {
	minutes := int(d / time.Minute)
	days := minutes / (24 * 60)
	hours := minutes / 60 % 24
	minutes %= 60

	var parts []string
	for _, p := range []struct {
		n    int
		unit string
	}{{days, "day"}, {hours, "hour"}, {minutes, "minute"}} {
		switch {
		case p.n == 1:
			parts = append(parts, fmt.Sprintf("1 %s", p.unit))
		case p.n > 1:
			parts = append(parts, fmt.Sprintf("%d %ss", p.n, p.unit))
		}
	}
	if len(parts) == 0 {
		return "less than a minute"
	}
	return strings.Join(parts, " ")
}
