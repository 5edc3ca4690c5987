package gql

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	glass "github.com/anatolykoptev/go-glass"
)

func TestPaginator_FollowsCursor(t *testing.T) {
	d := newFakeDoer()
	d.on("Followers",
		ok(followersBody("c1", userEntry("1", "one"), userEntry("2", "two"))),
		ok(followersBody("", userEntry("3", "three"))),
	)
	c := newTestClient(d)
	pg := c.Paginate(testCredential(), glass.EndpointFollowers, glass.Params{"userId": "42"})

	var got []string
	for {
		item, err := pg.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, decode(t, item)["screen_name"].(string))
	}

	assert.Equal(t, []string{"one", "two", "three"}, got)
	require.Equal(t, 2, d.count())
	assert.NotContains(t, d.variables(t, 0), "cursor")
	assert.Contains(t, d.variables(t, 1), `"cursor":"c1"`)
	assert.Contains(t, d.variables(t, 1), `"userId":"42"`)
}

func TestPaginator_StopsOnRepeatedCursor(t *testing.T) {
	d := newFakeDoer()
	d.on("SearchTimeline", ok(searchBody("same", tweetEntry("1", "a"))))
	c := newTestClient(d)
	pg := c.Paginate(testCredential(), glass.EndpointSearch, glass.Params{"rawQuery": "go"})

	n := 0
	for {
		_, err := pg.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		n++
	}
	// Second page repeats the cursor it was fetched with.
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, d.count())
}

func TestPaginator_StateAndRestore(t *testing.T) {
	d := newFakeDoer()
	d.on("Followers",
		ok(followersBody("c1", userEntry("1", "one"), userEntry("2", "two"))),
		ok(followersBody("", userEntry("3", "three"))),
	)
	c := newTestClient(d)
	ctx := context.Background()

	first := c.Paginate(testCredential(), glass.EndpointFollowers, glass.Params{"userId": "42"})
	_, err := first.Next(ctx)
	require.NoError(t, err)
	// Page partly consumed: resume at its own cursor.
	assert.Equal(t, glass.CursorState{Next: "", Prev: "", Seen: 1}, first.State())

	_, err = first.Next(ctx)
	require.NoError(t, err)
	st := first.State()
	assert.Equal(t, glass.CursorState{Next: "c1", Prev: "", Seen: 2}, st)
	require.Error(t, first.Restore(st), "restore after start")

	second := c.Paginate(glass.NewCredential("bob", "t2", "c2", 1), glass.EndpointFollowers, glass.Params{"userId": "42"})
	require.NoError(t, second.Restore(st))
	item, err := second.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "three", decode(t, item)["screen_name"])
	assert.Contains(t, d.variables(t, 1), `"cursor":"c1"`)
	assert.Equal(t, 3, second.State().Seen)
}

func TestPaginator_ErrorIsClassified(t *testing.T) {
	d := newFakeDoer()
	d.on("UserTweets", response{status: 429, body: `{}`})
	c := newTestClient(d)
	pg := c.Paginate(testCredential(), glass.EndpointUserTweets, glass.Params{"userId": "42"})

	_, err := pg.Next(context.Background())
	require.Error(t, err)
	assert.Equal(t, glass.ClassRateLimited, glass.Classify(err))
}

func TestGet_RetriesOnceAfterCSRF(t *testing.T) {
	d := newFakeDoer()
	d.on("SearchTimeline",
		response{status: 403, body: `{"errors":[{"code":353,"message":"csrf"}]}`},
		ok(searchBody("", tweetEntry("1", "a"))),
	)
	c := newTestClient(d)
	cred := testCredential()

	_, err := c.get(context.Background(), cred, glass.EndpointSearch, glass.Params{"rawQuery": "go"})
	require.NoError(t, err)
	require.Equal(t, 2, d.count())

	_, ct0, _ := cred.Secrets()
	assert.NotEqual(t, "ct0-initial", ct0)
	assert.Equal(t, "ct0-initial", d.headers[0]["x-csrf-token"])
	assert.Equal(t, ct0, d.headers[1]["x-csrf-token"])
	assert.Equal(t, "Bearer "+BearerToken, d.headers[1]["authorization"])
}

func TestGet_TakesCT0FromResponse(t *testing.T) {
	d := newFakeDoer()
	d.on("UserByScreenName", response{
		status:  200,
		headers: map[string]string{"set-cookie": "ct0=fresh; Path=/"},
		body:    fmt.Sprintf(`{"data": {"user": {"result": %s}}}`, userResultJSON("5", "five")),
	})
	c := newTestClient(d)
	cred := testCredential()

	_, err := c.Lookup(context.Background(), cred, glass.EndpointUserByScreenName, glass.Params{"screen_name": "five"})
	require.NoError(t, err)
	_, ct0, _ := cred.Secrets()
	assert.Equal(t, "fresh", ct0)
}

func TestGet_MetricsHook(t *testing.T) {
	d := newFakeDoer()
	d.on("UserByScreenName", response{status: 429, body: `{}`})
	type call struct {
		endpoint         string
		success, limited bool
	}
	var calls []call
	c := newTestClient(d)
	c.cfg.MetricsHook = func(endpoint string, success, rateLimited bool) {
		calls = append(calls, call{endpoint, success, rateLimited})
	}

	_, err := c.Lookup(context.Background(), testCredential(), glass.EndpointUserByScreenName, glass.Params{"screen_name": "x"})
	require.Error(t, err)
	assert.Equal(t, []call{{"UserByScreenName", false, true}}, calls)
}

func TestGet_TransportError(t *testing.T) {
	d := newFakeDoer()
	d.on("TweetDetail", response{err: errors.New("read: connection reset by peer")})
	c := newTestClient(d)

	_, err := c.Lookup(context.Background(), testCredential(), glass.EndpointTweetDetail, glass.Params{"focalTweetId": "1"})
	require.Error(t, err)
	assert.Equal(t, glass.ClassTransient, glass.Classify(err))
}

func TestLookup_Profile(t *testing.T) {
	d := newFakeDoer()
	d.on("UserByRestId", ok(fmt.Sprintf(`{"data": {"user": {"result": %s}}}`, userResultJSON("77", "seven"))))
	c := newTestClient(d)

	raw, err := c.Lookup(context.Background(), testCredential(), glass.EndpointUserByRestID, glass.Params{"userId": "77"})
	require.NoError(t, err)
	u := decode(t, raw)
	assert.Equal(t, "77", u["id_str"])
	assert.Equal(t, "seven", u["screen_name"])
	assert.Contains(t, d.variables(t, 0), `"withSafetyModeUserFields":true`)
}

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name   string
		filter glass.Filter
		want   string
	}{
		{
			"single term",
			glass.Filter{Track: []string{"golang"}},
			"golang include:nativeretweets",
		},
		{
			"single language",
			glass.Filter{Track: []string{"golang"}, Languages: []string{"en"}},
			"golang lang:en include:nativeretweets",
		},
		{
			"users and phrases",
			glass.Filter{Users: []string{"@alice"}, Track: []string{"go lang", "rust"}, Languages: []string{"en", "fr"}},
			`(from:alice OR to:alice OR retweets_of:alice OR "go lang" OR rust) (lang:en OR lang:fr) include:nativeretweets`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildQuery(tt.filter); got != tt.want {
				t.Fatalf("buildQuery = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSubscribe_EmitsNewTweetsOldestFirst(t *testing.T) {
	d := newFakeDoer()
	d.on("SearchTimeline",
		ok(searchBody("", tweetEntry("5", "five"), tweetEntry("4", "four"))),
		ok(searchBody("", tweetEntry("7", "seven"), tweetEntry("6", "six"), tweetEntry("5", "five"))),
		ok(searchBody("", tweetEntry("8", "eight"), tweetEntry("7", "seven"))),
	)
	c := newTestClient(d)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	filter := glass.Filter{Track: []string{"golang"}}

	sub, err := c.Subscribe(ctx, testCredential(), filter)
	require.NoError(t, err)

	var got []string
	for range 2 {
		item, err := sub.Recv(ctx)
		require.NoError(t, err)
		got = append(got, decode(t, item)["id_str"].(string))
	}
	assert.Equal(t, []string{"6", "7"}, got)
	require.NoError(t, sub.Close())

	// A reconnect continues from the last tweet seen for the query.
	sub, err = c.Subscribe(ctx, testCredential(), filter)
	require.NoError(t, err)
	item, err := sub.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "8", decode(t, item)["id_str"])
	assert.Equal(t, 3, d.count())
	assert.Contains(t, d.variables(t, 0), `"rawQuery":"golang include:nativeretweets"`)
}

func TestSubscribe_TransportErrorDisconnects(t *testing.T) {
	d := newFakeDoer()
	d.on("SearchTimeline", response{err: errors.New("read: connection reset by peer")})
	c := newTestClient(d)

	sub, err := c.Subscribe(context.Background(), testCredential(), glass.Filter{Track: []string{"x"}})
	require.NoError(t, err)
	_, err = sub.Recv(context.Background())
	require.Error(t, err)
	assert.Equal(t, glass.ClassDisconnected, glass.Classify(err))
}

func TestSubscribe_EmptyFilter(t *testing.T) {
	c := newTestClient(newFakeDoer())
	_, err := c.Subscribe(context.Background(), testCredential(), glass.Filter{Languages: []string{"en"}})
	require.Error(t, err)
}
