package glass

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"
)

// fakeClock is a manual clock whose sleeps advance time instantly.
type fakeClock struct {
	mu    sync.Mutex
	t     time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.slept = append(c.slept, d)
	c.t = c.t.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.slept...)
}

func testConfig(clk *fakeClock) Config {
	return Config{now: clk.now, sleep: clk.sleep}
}

func testCredentials(names ...string) []*Credential {
	creds := make([]*Credential, 0, len(names))
	for i, n := range names {
		creds = append(creds, NewCredential(n, "token-"+n, "ct0-"+n, i))
	}
	return creds
}

func rateLimited() error {
	return NewPlatformError(ClassRateLimited, 88, errors.New("rate limit exceeded"))
}

func item(v string) json.RawMessage {
	return json.RawMessage(strconv.Quote(v))
}

// fakePlatform serves scripted listings, lookups and subscriptions.
type fakePlatform struct {
	mu sync.Mutex

	listings map[Endpoint][]json.RawMessage
	// failAt injects errors when a paginator is about to serve the item at
	// the given position. Each error is returned once.
	failAt     map[int][]error
	restoreErr error
	paginated  []string

	lookups   map[string]json.RawMessage
	lookupErr map[string][]error

	subs       []*fakeSub
	subscribed []string
	filters    []Filter
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		listings:  make(map[Endpoint][]json.RawMessage),
		failAt:    make(map[int][]error),
		lookups:   make(map[string]json.RawMessage),
		lookupErr: make(map[string][]error),
	}
}

func lookupKey(endpoint Endpoint, params Params) string {
	return string(endpoint) + ":" + params.subject()
}

func (f *fakePlatform) Paginate(cred *Credential, endpoint Endpoint, params Params) Paginator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paginated = append(f.paginated, cred.Name)
	return &fakePaginator{f: f, items: f.listings[endpoint]}
}

func (f *fakePlatform) Lookup(_ context.Context, _ *Credential, endpoint Endpoint, params Params) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := lookupKey(endpoint, params)
	if errs := f.lookupErr[key]; len(errs) > 0 {
		f.lookupErr[key] = errs[1:]
		return nil, errs[0]
	}
	body, ok := f.lookups[key]
	if !ok {
		return nil, NewPlatformError(ClassNotFound, 50, fmt.Errorf("no lookup for %s", key))
	}
	return body, nil
}

func (f *fakePlatform) Subscribe(_ context.Context, cred *Credential, filter Filter) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, cred.Name)
	f.filters = append(f.filters, filter)
	if len(f.subs) == 0 {
		return &fakeSub{}, nil
	}
	s := f.subs[0]
	f.subs = f.subs[1:]
	return s, nil
}

func (f *fakePlatform) paginatedBy() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paginated...)
}

type fakePaginator struct {
	f     *fakePlatform
	items []json.RawMessage
	pos   int
}

func (p *fakePaginator) Next(context.Context) (json.RawMessage, error) {
	p.f.mu.Lock()
	defer p.f.mu.Unlock()
	if errs := p.f.failAt[p.pos]; len(errs) > 0 {
		p.f.failAt[p.pos] = errs[1:]
		return nil, errs[0]
	}
	if p.pos >= len(p.items) {
		return nil, io.EOF
	}
	it := p.items[p.pos]
	p.pos++
	return it, nil
}

func (p *fakePaginator) State() CursorState {
	return CursorState{Next: strconv.Itoa(p.pos), Seen: p.pos}
}

func (p *fakePaginator) Restore(s CursorState) error {
	if p.f.restoreErr != nil {
		return p.f.restoreErr
	}
	n, err := strconv.Atoi(s.Next)
	if err != nil {
		return err
	}
	p.pos = n
	return nil
}

// fakeSub delivers its items, then returns err, or blocks until the
// context ends when err is nil.
type fakeSub struct {
	mu     sync.Mutex
	items  []json.RawMessage
	err    error
	closed bool
}

func (s *fakeSub) Recv(ctx context.Context) (json.RawMessage, error) {
	s.mu.Lock()
	if len(s.items) > 0 {
		it := s.items[0]
		s.items = s.items[1:]
		s.mu.Unlock()
		return it, nil
	}
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *fakeSub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
