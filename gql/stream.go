package gql

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	glass "github.com/anatolykoptev/go-glass"
)

// Subscribe implements glass.Platform. The web API has no push channel, so
// a subscription polls the latest search results for the filter and emits
// tweets newer than the last one seen for the same query.
func (c *Client) Subscribe(ctx context.Context, cred *glass.Credential, filter glass.Filter) (glass.Subscription, error) {
	if filter.Empty() {
		return nil, errors.New("subscribe: empty filter")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := buildQuery(filter)
	slog.Debug("subscribe", slog.String("credential", cred.Name), slog.String("query", q))
	return &pollSubscription{
		c:       c,
		cred:    cred,
		query:   q,
		limiter: rate.NewLimiter(rate.Every(c.cfg.PollInterval), 1),
	}, nil
}

// buildQuery renders a filter as a search query.
func buildQuery(f glass.Filter) string {
	var terms []string
	for _, u := range f.Users {
		u = strings.TrimPrefix(u, "@")
		terms = append(terms, "from:"+u, "to:"+u, "retweets_of:"+u)
	}
	for _, t := range f.Track {
		if strings.ContainsAny(t, " \t") {
			t = strconv.Quote(t)
		}
		terms = append(terms, t)
	}
	q := strings.Join(terms, " OR ")
	if len(terms) > 1 {
		q = "(" + q + ")"
	}
	if len(f.Languages) > 0 {
		langs := make([]string, len(f.Languages))
		for i, l := range f.Languages {
			langs[i] = "lang:" + l
		}
		if len(langs) == 1 {
			q += " " + langs[0]
		} else {
			q += " (" + strings.Join(langs, " OR ") + ")"
		}
	}
	return q + " include:nativeretweets"
}

type pollSubscription struct {
	c       *Client
	cred    *glass.Credential
	query   string
	limiter *rate.Limiter
	buf     []json.RawMessage
	closed  bool
}

// Recv blocks until a new tweet arrives, polling at most once per interval.
func (s *pollSubscription) Recv(ctx context.Context) (json.RawMessage, error) {
	for len(s.buf) == 0 {
		if s.closed {
			return nil, glass.NewPlatformError(glass.ClassDisconnected, 0, errors.New("subscription closed"))
		}
		if err := s.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		if err := s.poll(ctx); err != nil {
			return nil, err
		}
	}
	item := s.buf[0]
	s.buf = s.buf[1:]
	return item, nil
}

func (s *pollSubscription) poll(ctx context.Context) error {
	body, err := s.c.get(ctx, s.cred, glass.EndpointSearch, glass.Params{"rawQuery": s.query})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		switch glass.Classify(err) {
		case glass.ClassTransient, glass.ClassTimedOut:
			return glass.NewPlatformError(glass.ClassDisconnected, 0, fmt.Errorf("stream poll: %w", err))
		}
		return err
	}
	pg, err := parsePage(glass.EndpointSearch, body)
	if err != nil {
		return err
	}

	type entry struct {
		id   uint64
		item json.RawMessage
	}
	var fresh []entry
	var top uint64
	for _, it := range pg.items {
		id := statusID(it)
		if id == 0 {
			continue
		}
		top = max(top, id)
		fresh = append(fresh, entry{id, it})
	}

	s.c.mu.Lock()
	mark, primed := s.c.marks[s.query]
	s.c.marks[s.query] = max(mark, top)
	s.c.mu.Unlock()

	if !primed {
		slog.Debug("stream primed", slog.String("query", s.query), slog.Uint64("mark", top))
		return nil
	}

	slices.SortFunc(fresh, func(a, b entry) int { return cmp.Compare(a.id, b.id) })
	for _, e := range fresh {
		if e.id > mark {
			s.buf = append(s.buf, e.item)
		}
	}
	return nil
}

// Close ends the subscription.
func (s *pollSubscription) Close() error {
	s.closed = true
	s.buf = nil
	return nil
}

func statusID(item json.RawMessage) uint64 {
	var probe struct {
		IDStr string `json:"id_str"`
	}
	if json.Unmarshal(item, &probe) != nil {
		return 0
	}
	id, _ := strconv.ParseUint(probe.IDStr, 10, 64)
	return id
}
