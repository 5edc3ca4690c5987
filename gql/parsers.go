package gql

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	glass "github.com/anatolykoptev/go-glass"
)

// page is one parsed timeline response.
type page struct {
	items  []json.RawMessage
	bottom string
}

// --- Timeline types ---

type timelineObj struct {
	Instructions []timelineInstruction `json:"instructions"`
}

type timelineInstruction struct {
	Type    string          `json:"type"`
	Entries []timelineEntry `json:"entries"`
	Entry   *timelineEntry  `json:"entry"`
}

type timelineEntry struct {
	EntryID   string          `json:"entryId"`
	SortIndex string          `json:"sortIndex"`
	Content   timelineContent `json:"content"`
}

type timelineContent struct {
	EntryType   string          `json:"entryType"`
	TypeName    string          `json:"__typename"`
	ItemContent json.RawMessage `json:"itemContent"`
	Items       []moduleItem    `json:"items"`
	Value       string          `json:"value"`
	CursorType  string          `json:"cursorType"`
}

type moduleItem struct {
	EntryID string `json:"entryId"`
	Item    struct {
		ItemContent json.RawMessage `json:"itemContent"`
	} `json:"item"`
}

type itemContent struct {
	TypeName     string `json:"__typename"`
	TweetResults struct {
		Result json.RawMessage `json:"result"`
	} `json:"tweet_results"`
	UserResults struct {
		Result json.RawMessage `json:"result"`
	} `json:"user_results"`
}

type userResult struct {
	TypeName       string          `json:"__typename"`
	RestID         string          `json:"rest_id"`
	Reason         string          `json:"reason"`
	IsBlueVerified bool            `json:"is_blue_verified"`
	Legacy         json.RawMessage `json:"legacy"`
	Core           struct {
		Name       string `json:"name"`
		ScreenName string `json:"screen_name"`
		CreatedAt  string `json:"created_at"`
	} `json:"core"`
	Location struct {
		Location string `json:"location"`
	} `json:"location"`
	Privacy struct {
		Protected bool `json:"protected"`
	} `json:"privacy"`
}

type tweetResult struct {
	TypeName string          `json:"__typename"`
	RestID   string          `json:"rest_id"`
	Source   string          `json:"source"`
	Tweet    json.RawMessage `json:"tweet"`
	Legacy   json.RawMessage `json:"legacy"`
	Core     struct {
		UserResults struct {
			Result json.RawMessage `json:"result"`
		} `json:"user_results"`
	} `json:"core"`
	NoteTweet struct {
		NoteTweetResults struct {
			Result struct {
				Text string `json:"text"`
			} `json:"result"`
		} `json:"note_tweet_results"`
	} `json:"note_tweet"`
	QuotedStatusResult struct {
		Result json.RawMessage `json:"result"`
	} `json:"quoted_status_result"`
}

// timelineResponse is the union of every timeline-bearing response shape.
type timelineResponse struct {
	Data struct {
		User *struct {
			Result *struct {
				TypeName string `json:"__typename"`
				Reason   string `json:"reason"`
				Timeline struct {
					Timeline timelineObj `json:"timeline"`
				} `json:"timeline"`
				TimelineV2 struct {
					Timeline timelineObj `json:"timeline"`
				} `json:"timeline_v2"`
			} `json:"result"`
		} `json:"user"`
		SearchByRawQuery struct {
			SearchTimeline struct {
				Timeline timelineObj `json:"timeline"`
			} `json:"search_timeline"`
		} `json:"search_by_raw_query"`
		RetweetersTimeline struct {
			Timeline timelineObj `json:"timeline"`
		} `json:"retweeters_timeline"`
		ThreadedConversation struct {
			Instructions []timelineInstruction `json:"instructions"`
		} `json:"threaded_conversation_with_injections_v2"`
	} `json:"data"`
}

// parsePage extracts items and the bottom cursor from a paged response.
// Tweets and users come back as v1.1-shaped objects.
func parsePage(endpoint glass.Endpoint, body []byte) (page, error) {
	var raw timelineResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return page{}, fmt.Errorf("unmarshal %s: %w", endpoint, err)
	}

	var tl timelineObj
	switch endpoint {
	case glass.EndpointSearch:
		tl = raw.Data.SearchByRawQuery.SearchTimeline.Timeline
	case glass.EndpointRetweeters:
		tl = raw.Data.RetweetersTimeline.Timeline
	case glass.EndpointFollowers, glass.EndpointFollowing, glass.EndpointUserTweets:
		if raw.Data.User == nil || raw.Data.User.Result == nil {
			return page{}, glass.NewPlatformError(glass.ClassNotFound, 0, fmt.Errorf("%s: user not found", endpoint))
		}
		res := raw.Data.User.Result
		if res.TypeName == "UserUnavailable" {
			return page{}, unavailable(endpoint, res.Reason)
		}
		tl = res.Timeline.Timeline
		if len(tl.Instructions) == 0 {
			tl = res.TimelineV2.Timeline
		}
	default:
		return page{}, fmt.Errorf("%s is not a paged operation", endpoint)
	}
	return extractTimeline(tl), nil
}

func extractTimeline(tl timelineObj) page {
	var p page
	for _, instruction := range tl.Instructions {
		entries := instruction.Entries
		if instruction.Entry != nil {
			entries = append(entries, *instruction.Entry)
		}
		for _, entry := range entries {
			c := entry.Content
			if c.EntryType == "TimelineTimelineCursor" || c.TypeName == "TimelineTimelineCursor" {
				if c.CursorType == "Bottom" || strings.Contains(entry.EntryID, "cursor-bottom") {
					p.bottom = c.Value
				}
				continue
			}
			if obj, ok := convertItem(c.ItemContent); ok {
				p.items = append(p.items, obj)
			}
			for _, m := range c.Items {
				if obj, ok := convertItem(m.Item.ItemContent); ok {
					p.items = append(p.items, obj)
				}
			}
		}
	}
	return p
}

// convertItem turns a timeline item into a v1.1-shaped tweet or user.
func convertItem(raw json.RawMessage) (json.RawMessage, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var item itemContent
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, false
	}

	var obj map[string]any
	var err error
	switch item.TypeName {
	case "TimelineTweet":
		obj, err = buildStatus(item.TweetResults.Result)
	case "TimelineUser":
		obj, err = buildUser(item.UserResults.Result)
	default:
		return nil, false
	}
	if err != nil {
		slog.Debug("skip timeline item", slog.String("type", item.TypeName), slog.Any("error", err))
		return nil, false
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return nil, false
	}
	return b, true
}

// parseUserLookup parses UserByScreenName and UserByRestId responses.
func parseUserLookup(body []byte) (map[string]any, error) {
	var raw struct {
		Data struct {
			User *struct {
				Result json.RawMessage `json:"result"`
			} `json:"user"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal user lookup: %w", err)
	}
	if raw.Data.User == nil || len(raw.Data.User.Result) == 0 {
		return nil, glass.NewPlatformError(glass.ClassNotFound, 50, fmt.Errorf("user not found"))
	}
	return buildUser(raw.Data.User.Result)
}

// parseTweetDetail returns the focal tweet of a TweetDetail response.
func parseTweetDetail(body []byte, focalID string) (map[string]any, error) {
	var raw timelineResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal TweetDetail: %w", err)
	}
	p := extractTimeline(timelineObj{Instructions: raw.Data.ThreadedConversation.Instructions})
	for _, it := range p.items {
		var obj map[string]any
		if json.Unmarshal(it, &obj) == nil && obj["id_str"] == focalID {
			return obj, nil
		}
	}
	return nil, glass.NewPlatformError(glass.ClassNotFound, 144, fmt.Errorf("tweet %s not found", focalID))
}

// buildUser converts a GraphQL user result into a v1.1 user object.
func buildUser(raw json.RawMessage) (map[string]any, error) {
	var r userResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	if r.TypeName == "UserUnavailable" {
		return nil, unavailable(glass.EndpointUserByScreenName, r.Reason)
	}
	if r.RestID == "" {
		return nil, glass.NewPlatformError(glass.ClassNotFound, 50, fmt.Errorf("empty user rest_id (typename=%s)", r.TypeName))
	}

	u := make(map[string]any)
	if len(r.Legacy) > 0 {
		if err := json.Unmarshal(r.Legacy, &u); err != nil {
			return nil, fmt.Errorf("unmarshal user legacy: %w", err)
		}
	}
	u["id"] = json.Number(r.RestID)
	u["id_str"] = r.RestID
	setDefault(u, "name", r.Core.Name)
	setDefault(u, "screen_name", r.Core.ScreenName)
	setDefault(u, "created_at", r.Core.CreatedAt)
	setDefault(u, "location", r.Location.Location)
	if r.Privacy.Protected {
		u["protected"] = true
	}
	if r.IsBlueVerified {
		u["is_blue_verified"] = true
	}
	return u, nil
}

// buildStatus converts a GraphQL tweet result into a v1.1 status object
// with embedded user, retweeted_status and quoted_status.
func buildStatus(raw json.RawMessage) (map[string]any, error) {
	var r tweetResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("unmarshal tweet: %w", err)
	}
	switch r.TypeName {
	case "TweetWithVisibilityResults":
		return buildStatus(r.Tweet)
	case "TweetTombstone", "TweetUnavailable":
		return nil, glass.NewPlatformError(glass.ClassNotFound, 144, fmt.Errorf("tweet unavailable (%s)", r.TypeName))
	}
	if r.RestID == "" {
		return nil, glass.NewPlatformError(glass.ClassNotFound, 144, fmt.Errorf("empty tweet rest_id"))
	}

	s := make(map[string]any)
	var legacy struct {
		RetweetedStatusResult struct {
			Result json.RawMessage `json:"result"`
		} `json:"retweeted_status_result"`
	}
	if len(r.Legacy) > 0 {
		if err := json.Unmarshal(r.Legacy, &s); err != nil {
			return nil, fmt.Errorf("unmarshal tweet legacy: %w", err)
		}
		_ = json.Unmarshal(r.Legacy, &legacy)
	}
	delete(s, "retweeted_status_result")

	s["id"] = json.Number(r.RestID)
	s["id_str"] = r.RestID
	if text := r.NoteTweet.NoteTweetResults.Result.Text; text != "" {
		s["full_text"] = text
	}
	if text, ok := s["full_text"].(string); ok {
		s["text"] = text
	}
	setDefault(s, "source", r.Source)

	if len(r.Core.UserResults.Result) > 0 {
		if user, err := buildUser(r.Core.UserResults.Result); err == nil {
			s["user"] = user
		}
	}
	if len(legacy.RetweetedStatusResult.Result) > 0 {
		if rt, err := buildStatus(legacy.RetweetedStatusResult.Result); err == nil {
			s["retweeted_status"] = rt
		}
	}
	if len(r.QuotedStatusResult.Result) > 0 {
		if q, err := buildStatus(r.QuotedStatusResult.Result); err == nil {
			s["quoted_status"] = q
		}
	}
	return s, nil
}

// unavailable maps an unavailable-user reason onto the taxonomy.
func unavailable(endpoint glass.Endpoint, reason string) error {
	if strings.Contains(strings.ToLower(reason), "suspend") {
		return glass.NewPlatformError(glass.ClassSuspended, 63, fmt.Errorf("%s: user suspended", endpoint))
	}
	return glass.NewPlatformError(glass.ClassNotFound, 50, fmt.Errorf("%s: user unavailable (%s)", endpoint, reason))
}

func setDefault(m map[string]any, key, value string) {
	if value == "" {
		return
	}
	if cur, ok := m[key].(string); ok && cur != "" {
		return
	}
	m[key] = value
}
