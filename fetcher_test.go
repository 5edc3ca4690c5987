package glass

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	stealth "github.com/anatolykoptev/go-stealth"
	"github.com/stretchr/testify/require"
)

func newTestFetcher(t *testing.T, f *fakePlatform, clk *fakeClock, names ...string) (*Fetcher, []*Credential) {
	t.Helper()
	creds := testCredentials(names...)
	cfg := testConfig(clk)
	p, err := NewPool(creds, cfg)
	require.NoError(t, err)
	return NewFetcher(f, p, cfg), creds
}

func listing(n int) []json.RawMessage {
	items := make([]json.RawMessage, n)
	for i := range items {
		items[i] = item(string(rune('a' + i)))
	}
	return items
}

func collectAll(t *testing.T, fe *Fetcher, endpoint Endpoint) ([]string, error) {
	t.Helper()
	var got []string
	err := fe.FetchAll(context.Background(), endpoint, Params{"userId": "42"}, func(it json.RawMessage) Control {
		var s string
		require.NoError(t, json.Unmarshal(it, &s))
		got = append(got, s)
		return Continue
	})
	return got, err
}

func TestFetchAll_DeliversEverything(t *testing.T) {
	f := newFakePlatform()
	f.listings[EndpointFollowers] = listing(4)
	fe, _ := newTestFetcher(t, f, newFakeClock(), "a")

	got, err := collectAll(t, fe, EndpointFollowers)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c", "d"}, got)
}

func TestFetchAll_RateLimitRotatesAndMigratesCursor(t *testing.T) {
	f := newFakePlatform()
	f.listings[EndpointFollowers] = listing(5)
	f.failAt[2] = []error{rateLimited()}
	clk := newFakeClock()
	fe, creds := newTestFetcher(t, f, clk, "a", "b")

	got, err := collectAll(t, fe, EndpointFollowers)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c", "d", "e"}, got)
	require.Equal(t, []string{"a", "b"}, f.paginatedBy())
	require.True(t, creds[0].CoolingDown(EndpointFollowers, clk.now()))
	require.Empty(t, clk.sleeps())
}

func TestFetchAll_RestoreFailureRestartsListing(t *testing.T) {
	f := newFakePlatform()
	f.listings[EndpointFollowers] = listing(3)
	f.failAt[2] = []error{rateLimited()}
	f.restoreErr = errors.New("cursor not portable")
	fe, _ := newTestFetcher(t, f, newFakeClock(), "a", "b")

	got, err := collectAll(t, fe, EndpointFollowers)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "a", "b", "c"}, got)
}

func TestFetchAll_SingleCredentialWaitsOutWindow(t *testing.T) {
	f := newFakePlatform()
	f.listings[EndpointFollowers] = listing(3)
	f.failAt[1] = []error{rateLimited()}
	clk := newFakeClock()
	fe, _ := newTestFetcher(t, f, clk, "solo")

	got, err := collectAll(t, fe, EndpointFollowers)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, got)
	require.Len(t, clk.sleeps(), 1)
	require.GreaterOrEqual(t, clk.sleeps()[0], 15*time.Minute)
	require.Equal(t, []string{"solo"}, f.paginatedBy())
}

func TestFetchAll_Waits(t *testing.T) {
	tests := []struct {
		name string
		err  error
		wait time.Duration
	}{
		{"transient", NewPlatformError(ClassTransient, 0, errors.New("reset")), 5 * time.Second},
		{"timeout", context.DeadlineExceeded, 5 * time.Second},
		{"unavailable", NewPlatformError(ClassUnavailable, 503, errors.New("over capacity")), 60 * time.Second},
		{"unknown", errors.New("boom"), 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakePlatform()
			f.listings[EndpointSearch] = listing(2)
			f.failAt[1] = []error{tt.err}
			clk := newFakeClock()
			fe, _ := newTestFetcher(t, f, clk, "a")

			got, err := collectAll(t, fe, EndpointSearch)
			require.NoError(t, err)
			require.Equal(t, []string{"a", "b"}, got)
			require.Equal(t, []time.Duration{tt.wait}, clk.sleeps())
		})
	}
}

func TestFetchAll_UnknownErrorsAreBounded(t *testing.T) {
	f := newFakePlatform()
	f.listings[EndpointSearch] = listing(2)
	boom := errors.New("boom")
	f.failAt[0] = []error{boom, boom, boom, boom}
	clk := newFakeClock()
	fe, _ := newTestFetcher(t, f, clk, "a")

	_, err := collectAll(t, fe, EndpointSearch)
	require.ErrorIs(t, err, boom)
	require.Len(t, clk.sleeps(), 3)
}

func TestFetchAll_UnauthorizedInvalidates(t *testing.T) {
	f := newFakePlatform()
	f.listings[EndpointFollowing] = listing(3)
	f.failAt[1] = []error{NewPlatformError(ClassUnauthorized, 32, errors.New("bad token"))}
	fe, creds := newTestFetcher(t, f, newFakeClock(), "a", "b")

	got, err := collectAll(t, fe, EndpointFollowing)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, got)
	require.Equal(t, 1, fe.pool.Len())
	require.Same(t, creds[1], fe.pool.Active())
}

func TestFetchAll_UnauthorizedLastCredentialIsFatal(t *testing.T) {
	f := newFakePlatform()
	f.listings[EndpointFollowing] = listing(3)
	f.failAt[1] = []error{NewPlatformError(ClassUnauthorized, 32, errors.New("bad token"))}
	fe, _ := newTestFetcher(t, f, newFakeClock(), "solo")

	got, err := collectAll(t, fe, EndpointFollowing)
	require.ErrorIs(t, err, ErrNoCredentials)
	require.Equal(t, []string{"a"}, got)
}

func TestFetchAll_SubjectErrors(t *testing.T) {
	f := newFakePlatform()
	f.listings[EndpointUserTweets] = listing(1)
	f.failAt[0] = []error{NewPlatformError(ClassSuspended, 63, errors.New("user suspended"))}
	fe, _ := newTestFetcher(t, f, newFakeClock(), "a")

	_, err := collectAll(t, fe, EndpointUserTweets)
	var se *SubjectError
	require.ErrorAs(t, err, &se)
	require.Equal(t, ReasonSuspended, se.Reason)
	require.Equal(t, "42", se.Subject)
}

func TestFetchAll_StopEndsCleanly(t *testing.T) {
	f := newFakePlatform()
	f.listings[EndpointSearch] = listing(5)
	fe, _ := newTestFetcher(t, f, newFakeClock(), "a")

	var n int
	err := fe.FetchAll(context.Background(), EndpointSearch, nil, func(json.RawMessage) Control {
		n++
		if n == 2 {
			return Stop
		}
		return Continue
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestFetchAll_Cancelled(t *testing.T) {
	f := newFakePlatform()
	f.listings[EndpointSearch] = listing(5)
	fe, _ := newTestFetcher(t, f, newFakeClock(), "a")

	ctx, cancel := context.WithCancel(context.Background())
	err := fe.FetchAll(ctx, EndpointSearch, nil, func(json.RawMessage) Control {
		cancel()
		return Continue
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestFetchOne_RetriesThenSucceeds(t *testing.T) {
	f := newFakePlatform()
	params := Params{"screen_name": "jack"}
	key := lookupKey(EndpointUserByScreenName, params)
	f.lookups[key] = json.RawMessage(`{"id_str":"12"}`)
	f.lookupErr[key] = []error{rateLimited(), NewPlatformError(ClassTransient, 0, errors.New("eof"))}
	clk := newFakeClock()
	fe, _ := newTestFetcher(t, f, clk, "a", "b")

	body, err := fe.FetchOne(context.Background(), EndpointUserByScreenName, params)
	require.NoError(t, err)
	require.JSONEq(t, `{"id_str":"12"}`, string(body))
	require.Equal(t, []time.Duration{5 * time.Second}, clk.sleeps())
}

func TestFetchOne_NotFound(t *testing.T) {
	f := newFakePlatform()
	fe, _ := newTestFetcher(t, f, newFakeClock(), "a")

	_, err := fe.FetchOne(context.Background(), EndpointTweetDetail, Params{"focalTweetId": "99"})
	var se *SubjectError
	require.ErrorAs(t, err, &se)
	require.Equal(t, ReasonNotFound, se.Reason)
	require.Equal(t, "99", se.Subject)
}

func TestFetchAll_UnknownBackoffGrows(t *testing.T) {
	f := newFakePlatform()
	f.listings[EndpointSearch] = listing(1)
	boom := errors.New("boom")
	f.failAt[0] = []error{boom, boom, boom}
	clk := newFakeClock()
	cfg := testConfig(clk)
	cfg.UnknownBackoff = stealth.BackoffConfig{InitialWait: time.Second, MaxWait: 3 * time.Second, Multiplier: 2}
	p, err := NewPool(testCredentials("a"), cfg)
	require.NoError(t, err)

	got, err := collectAll(t, NewFetcher(f, p, cfg), EndpointSearch)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, got)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, clk.sleeps())
}
