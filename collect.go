package glass

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// Mode is a collection mode.
type Mode string

const (
	ModeSearch         Mode = "search"
	ModeSearchLive     Mode = "search-live"
	ModeTimeline       Mode = "timeline"
	ModeTimelineLive   Mode = "timeline-live"
	ModeFollowers      Mode = "followers"
	ModeFriends        Mode = "friends"
	ModeRetweeters     Mode = "retweeters"
	ModeRetweetersLive Mode = "retweeters-live"
	ModeProfile        Mode = "profile"
	ModeWatchUsers     Mode = "watch-users"
)

// Modes lists every collection mode.
var Modes = []Mode{
	ModeSearch, ModeSearchLive, ModeTimeline, ModeTimelineLive, ModeFollowers,
	ModeFriends, ModeRetweeters, ModeRetweetersLive, ModeProfile, ModeWatchUsers,
}

// TimelineCap is the number of most recent statuses a timeline exposes.
const TimelineCap = 3200

// ParseMode returns the mode named s.
func ParseMode(s string) (Mode, error) {
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// Live reports whether the mode streams without a natural end.
func (m Mode) Live() bool {
	switch m {
	case ModeSearchLive, ModeTimelineLive, ModeRetweetersLive, ModeWatchUsers:
		return true
	}
	return false
}

// Request describes one collection run.
type Request struct {
	Mode Mode
	// Targets are screen names or user ids, or tweet ids for the retweeter modes.
	Targets []string
	// Query is the search query for search mode.
	Query string
	// Track are the terms followed by live modes.
	Track     []string
	Languages []string
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Name returns "<mode>_<target>" with the target made safe for file names.
func (r Request) Name() string {
	target := strings.Join(r.Targets, "-")
	if target == "" {
		target = r.Query
	}
	if target == "" {
		target = strings.Join(r.Track, "-")
	}
	target = strings.Trim(unsafeName.ReplaceAllString(target, "-"), "-")
	if len(target) > 40 {
		target = target[:40]
	}
	return string(r.Mode) + "_" + target
}

func (r Request) validate() error {
	switch r.Mode {
	case ModeSearch:
		if strings.TrimSpace(r.Query) == "" {
			return fmt.Errorf("%s: query required", r.Mode)
		}
	case ModeSearchLive:
		if len(r.Track) == 0 && strings.TrimSpace(r.Query) == "" {
			return fmt.Errorf("%s: track terms required", r.Mode)
		}
	case ModeWatchUsers:
		if len(r.Targets) == 0 && len(r.Track) == 0 {
			return fmt.Errorf("%s: users or track terms required", r.Mode)
		}
	case ModeTimeline, ModeTimelineLive, ModeFollowers, ModeFriends,
		ModeRetweeters, ModeRetweetersLive, ModeProfile:
		if len(r.Targets) == 0 {
			return fmt.Errorf("%s: at least one target required", r.Mode)
		}
	default:
		return fmt.Errorf("unknown mode %q", r.Mode)
	}
	return nil
}

// Deliver receives raw records from a collection run.
type Deliver func(ctx context.Context, rec RawRecord) Control

// Outcome lists the targets a run had to skip.
type Outcome struct {
	Skipped []*SubjectError
}

// Collector runs collection modes against one platform with one pool.
type Collector struct {
	fetcher  *Fetcher
	streamer *Streamer
	pool     *Pool
	cfg      Config
	searchID string
}

// NewCollector builds the pool, fetcher and streamer for platform.
func NewCollector(platform Platform, creds []*Credential, cfg Config) (*Collector, error) {
	cfg.defaults()
	p, err := NewPool(creds, cfg)
	if err != nil {
		return nil, fmt.Errorf("credential pool: %w", err)
	}
	return &Collector{
		fetcher:  NewFetcher(platform, p, cfg),
		streamer: NewStreamer(platform, p, cfg),
		pool:     p,
		cfg:      cfg,
		searchID: uuid.NewString(),
	}, nil
}

// SearchID identifies this collector's records across outputs.
func (c *Collector) SearchID() string { return c.searchID }

// Pool returns the credential pool.
func (c *Collector) Pool() *Pool { return c.pool }

// ResolveTweet looks up a single tweet by id.
func (c *Collector) ResolveTweet(ctx context.Context, id string) (json.RawMessage, error) {
	return c.fetcher.FetchOne(ctx, EndpointTweetDetail, Params{"focalTweetId": id})
}

// LookupProfile fetches a profile by screen name or numeric id.
func (c *Collector) LookupProfile(ctx context.Context, target string) (json.RawMessage, error) {
	endpoint, params := profileQuery(target)
	return c.fetcher.FetchOne(ctx, endpoint, params)
}

// Run executes req, handing every raw record to deliver. Targets that turn
// out to be missing, suspended or protected are reported in the Outcome.
func (c *Collector) Run(ctx context.Context, req Request, deliver Deliver) (Outcome, error) {
	if err := req.validate(); err != nil {
		return Outcome{}, err
	}
	r := &run{c: c, mode: req.Mode, deliver: deliver}

	var err error
	switch req.Mode {
	case ModeProfile:
		err = r.profiles(ctx, req.Targets)
	case ModeTimeline:
		err = r.eachProfile(ctx, req.Targets, r.timeline)
	case ModeFollowers:
		err = r.eachProfile(ctx, req.Targets, r.followers)
	case ModeFriends:
		err = r.eachProfile(ctx, req.Targets, r.friends)
	case ModeSearch:
		err = c.fetcher.FetchAll(ctx, EndpointSearch, Params{"rawQuery": req.Query}, r.emitter(ctx, EndpointSearch, nil, nil))
	case ModeRetweeters:
		err = r.retweeters(ctx, req.Targets)
	case ModeSearchLive:
		track := req.Track
		if len(track) == 0 {
			track = []string{req.Query}
		}
		err = r.stream(ctx, Filter{Track: track, Languages: req.Languages}, nil)
	case ModeTimelineLive:
		err = r.timelineLive(ctx, req)
	case ModeRetweetersLive:
		err = r.retweetersLive(ctx, req)
	case ModeWatchUsers:
		err = r.stream(ctx, Filter{Users: trimHandles(req.Targets), Track: req.Track, Languages: req.Languages}, nil)
	}
	if err != nil && r.skip(err) {
		err = nil
	}
	return r.out, err
}

// run is the state of one Collector.Run call.
type run struct {
	c       *Collector
	mode    Mode
	deliver Deliver
	stopped bool
	out     Outcome
}

// emitter returns an ItemFunc that wraps items into records. keep, when
// set, filters items before delivery.
func (r *run) emitter(ctx context.Context, endpoint Endpoint, subject json.RawMessage, keep func(json.RawMessage) bool) ItemFunc {
	return r.rankedEmitter(ctx, endpoint, subject, keep, nil)
}

// rankedEmitter is emitter with rank supplying each record's Rank.
func (r *run) rankedEmitter(ctx context.Context, endpoint Endpoint, subject json.RawMessage, keep func(json.RawMessage) bool, rank func() int) ItemFunc {
	return func(item json.RawMessage) Control {
		if keep != nil && !keep(item) {
			return Continue
		}
		rec := RawRecord{
			Mode:       r.mode,
			Endpoint:   endpoint,
			SearchID:   r.c.searchID,
			IngestedAt: r.c.cfg.now(),
			Body:       item,
			Subject:    subject,
		}
		if rank != nil {
			rec.Rank = rank()
		}
		if r.deliver(ctx, rec) == Stop {
			r.stopped = true
			return Stop
		}
		return Continue
	}
}

// skip records err as a skipped target when it is a subject error.
func (r *run) skip(err error) bool {
	var se *SubjectError
	if !errors.As(err, &se) {
		return false
	}
	slog.Info("target skipped", slog.String("subject", se.Subject), slog.String("reason", se.Reason))
	r.out.Skipped = append(r.out.Skipped, se)
	return true
}

func (r *run) profiles(ctx context.Context, targets []string) error {
	for _, t := range targets {
		if r.stopped {
			return nil
		}
		endpoint, _ := profileQuery(t)
		body, err := r.c.LookupProfile(ctx, t)
		if err != nil {
			if r.skip(err) {
				continue
			}
			return err
		}
		r.emitter(ctx, endpoint, nil, nil)(body)
	}
	return nil
}

// eachProfile checks every target's profile and runs fn for the collectable ones.
func (r *run) eachProfile(ctx context.Context, targets []string, fn func(context.Context, profile) error) error {
	for _, t := range targets {
		if r.stopped {
			return nil
		}
		p, err := r.c.checkProfile(ctx, t)
		if err == nil {
			err = fn(ctx, p)
		}
		if err != nil && !r.skip(err) {
			return err
		}
	}
	return nil
}

func (r *run) timeline(ctx context.Context, p profile) error {
	limit := TimelineCap
	if p.StatusesCount > 0 {
		limit = min(limit, p.StatusesCount)
	}
	r.c.logEstimate(EndpointUserTweets, p.ScreenName, limit)

	emit := r.emitter(ctx, EndpointUserTweets, nil, nil)
	var n int
	return r.c.fetcher.FetchAll(ctx, EndpointUserTweets, Params{"userId": p.IDStr}, func(item json.RawMessage) Control {
		n++
		if emit(item) == Stop || n >= TimelineCap {
			return Stop
		}
		return Continue
	})
}

func (r *run) followers(ctx context.Context, p profile) error {
	r.c.logEstimate(EndpointFollowers, p.ScreenName, p.FollowersCount)
	var n int
	rank := func() int {
		n++
		return p.FollowersCount - n + 1
	}
	return r.c.fetcher.FetchAll(ctx, EndpointFollowers, Params{"userId": p.IDStr}, r.rankedEmitter(ctx, EndpointFollowers, p.raw, nil, rank))
}

func (r *run) friends(ctx context.Context, p profile) error {
	r.c.logEstimate(EndpointFollowing, p.ScreenName, p.FriendsCount)
	return r.c.fetcher.FetchAll(ctx, EndpointFollowing, Params{"userId": p.IDStr}, r.emitter(ctx, EndpointFollowing, p.raw, nil))
}

func (r *run) retweeters(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if r.stopped {
			return nil
		}
		tweet, err := r.c.ResolveTweet(ctx, id)
		if err == nil {
			err = r.c.fetcher.FetchAll(ctx, EndpointRetweeters, Params{"tweetId": id}, r.emitter(ctx, EndpointRetweeters, tweet, nil))
		}
		if err != nil && !r.skip(err) {
			return err
		}
	}
	return nil
}

func (r *run) timelineLive(ctx context.Context, req Request) error {
	authors := make(map[string]bool)
	var handles []string
	for _, t := range req.Targets {
		p, err := r.c.checkProfile(ctx, t)
		if err != nil {
			if r.skip(err) {
				continue
			}
			return err
		}
		authors[p.IDStr] = true
		handles = append(handles, p.ScreenName)
	}
	if len(handles) == 0 {
		return nil
	}
	return r.stream(ctx, Filter{Users: handles, Languages: req.Languages}, func(item json.RawMessage) bool {
		return authors[probeStatus(item).User.IDStr]
	})
}

func (r *run) retweetersLive(ctx context.Context, req Request) error {
	tweets := make(map[string]bool)
	var handles []string
	for _, id := range req.Targets {
		body, err := r.c.ResolveTweet(ctx, id)
		if err != nil {
			if r.skip(err) {
				continue
			}
			return err
		}
		tweets[id] = true
		if h := probeStatus(body).User.ScreenName; h != "" && !slices.Contains(handles, h) {
			handles = append(handles, h)
		}
	}
	if len(handles) == 0 {
		return nil
	}
	return r.stream(ctx, Filter{Users: handles, Languages: req.Languages}, func(item json.RawMessage) bool {
		rt := probeStatus(item).RetweetedStatus
		return rt != nil && tweets[rt.IDStr]
	})
}

func (r *run) stream(ctx context.Context, filter Filter, keep func(json.RawMessage) bool) error {
	return r.c.streamer.StreamFiltered(ctx, filter, r.emitter(ctx, EndpointStream, nil, keep))
}

// profile is the part of a user object the collector needs.
type profile struct {
	IDStr          string `json:"id_str"`
	ScreenName     string `json:"screen_name"`
	Protected      bool   `json:"protected"`
	FollowersCount int    `json:"followers_count"`
	FriendsCount   int    `json:"friends_count"`
	StatusesCount  int    `json:"statuses_count"`

	raw json.RawMessage
}

// checkProfile loads the target profile and rejects protected accounts.
func (c *Collector) checkProfile(ctx context.Context, target string) (profile, error) {
	body, err := c.LookupProfile(ctx, target)
	if err != nil {
		return profile{}, err
	}
	var p profile
	if err := json.Unmarshal(body, &p); err != nil {
		return profile{}, fmt.Errorf("decode profile %s: %w", target, err)
	}
	if p.IDStr == "" {
		return profile{}, &SubjectError{Subject: target, Reason: ReasonNotFound}
	}
	if p.Protected {
		return profile{}, &SubjectError{Subject: target, Reason: ReasonProtected}
	}
	p.raw = body
	return p, nil
}

func (c *Collector) logEstimate(endpoint Endpoint, subject string, records int) {
	d := EstimateDuration(endpoint, records, c.pool.Len(), c.cfg)
	if d <= 0 {
		return
	}
	slog.Info("estimated collection time",
		slog.String("subject", subject),
		slog.Int("records", records),
		slog.String("estimate", FormatEstimate(d)))
}

var numericID = regexp.MustCompile(`^[0-9]+$`)

func profileQuery(target string) (Endpoint, Params) {
	if numericID.MatchString(target) {
		return EndpointUserByRestID, Params{"userId": target}
	}
	return EndpointUserByScreenName, Params{"screen_name": strings.TrimPrefix(target, "@")}
}

type statusProbe struct {
	User struct {
		IDStr      string `json:"id_str"`
		ScreenName string `json:"screen_name"`
	} `json:"user"`
	RetweetedStatus *struct {
		IDStr string `json:"id_str"`
	} `json:"retweeted_status"`
}

func probeStatus(body json.RawMessage) statusProbe {
	var s statusProbe
	_ = json.Unmarshal(body, &s)
	return s
}

func trimHandles(targets []string) []string {
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		out = append(out, strings.TrimPrefix(t, "@"))
	}
	return out
}
