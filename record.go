package glass

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RawRecord is one item returned by the platform, tagged with the context
// it was collected in. It is not modified after it reaches the pump.
type RawRecord struct {
	Mode       Mode
	Endpoint   Endpoint
	SearchID   string
	IngestedAt time.Time
	Body       json.RawMessage

	// Subject is the profile or tweet the collection was aimed at, when the
	// body alone does not name it.
	Subject json.RawMessage
	// Rank is the follower position for follower listings.
	Rank int
}

// presentation keys dropped from standardized output.
var droppedKeys = map[string]bool{
	"favorited":    true,
	"retweeted":    true,
	"filter_level": true,
}

// Standardize returns the body with presentation-only keys removed at any
// depth and the collection metadata added as og_* fields.
func (r RawRecord) Standardize() (map[string]any, error) {
	var body map[string]any
	if err := json.Unmarshal(r.Body, &body); err != nil {
		return nil, fmt.Errorf("standardize %s record: %w", r.Endpoint, err)
	}
	prune(body)
	body["og_id"] = uuid.NewString()
	body["og_search_id"] = r.SearchID
	body["og_timestamp"] = r.IngestedAt.UTC().Format(time.RFC3339)
	body["og_type"] = string(r.Mode)
	return body, nil
}

func prune(v any) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if droppedKeys[k] || strings.HasPrefix(k, "profile_") && strings.HasSuffix(k, "_color") {
				delete(t, k)
				continue
			}
			prune(child)
		}
	case []any:
		for _, child := range t {
			prune(child)
		}
	}
}
