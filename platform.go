package glass

import (
	"context"
	"encoding/json"
	"fmt"
)

// Endpoint names a platform operation. Quotas are tracked per endpoint.
type Endpoint string

const (
	EndpointSearch           Endpoint = "SearchTimeline"
	EndpointUserTweets       Endpoint = "UserTweets"
	EndpointFollowers        Endpoint = "Followers"
	EndpointFollowing        Endpoint = "Following"
	EndpointRetweeters       Endpoint = "Retweeters"
	EndpointUserByScreenName Endpoint = "UserByScreenName"
	EndpointUserByRestID     Endpoint = "UserByRestId"
	EndpointTweetDetail      Endpoint = "TweetDetail"
	EndpointStream           Endpoint = "Stream"
)

// Params are the endpoint arguments, passed through to the platform.
type Params map[string]any

// subject returns the collection target named by the params, for messages.
func (p Params) subject() string {
	for _, k := range []string{"screen_name", "userId", "tweetId", "focalTweetId", "rawQuery"} {
		if v, ok := p[k]; ok {
			return fmt.Sprint(v)
		}
	}
	return ""
}

// Filter selects what a live subscription delivers.
type Filter struct {
	Users     []string // screen names
	Track     []string
	Languages []string
}

// Empty reports whether the filter selects nothing.
func (f Filter) Empty() bool {
	return len(f.Users) == 0 && len(f.Track) == 0
}

// CursorState is a paginator position that can be carried to a new credential.
type CursorState struct {
	Next string
	Prev string
	Seen int
}

// Paginator walks one paginated endpoint. Next returns io.EOF when the
// listing is exhausted.
type Paginator interface {
	Next(ctx context.Context) (json.RawMessage, error)
	State() CursorState
	Restore(CursorState) error
}

// Subscription is a live push channel. Recv blocks for the next item.
type Subscription interface {
	Recv(ctx context.Context) (json.RawMessage, error)
	Close() error
}

// Platform is the wire-protocol collaborator. Implementations return errors
// already reclassified as *PlatformError where they can.
type Platform interface {
	Paginate(cred *Credential, endpoint Endpoint, params Params) Paginator
	Lookup(ctx context.Context, cred *Credential, endpoint Endpoint, params Params) (json.RawMessage, error)
	Subscribe(ctx context.Context, cred *Credential, filter Filter) (Subscription, error)
}

// Control is returned by item handlers to continue or end a collection.
type Control int

const (
	Continue Control = iota
	Stop
)

// ItemFunc receives each raw item in arrival order.
type ItemFunc func(item json.RawMessage) Control
