package gql

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"maps"

	glass "github.com/anatolykoptev/go-glass"
)

// paginator walks a cursor-paged timeline one item at a time.
type paginator struct {
	c        *Client
	cred     *glass.Credential
	endpoint glass.Endpoint
	params   glass.Params

	buf     []json.RawMessage
	cursor  string // cursor of the page in buf
	next    string // cursor of the page after buf
	seen    int
	started bool
	done    bool
}

// Next returns the next item, fetching a page when the buffer is empty.
func (p *paginator) Next(ctx context.Context) (json.RawMessage, error) {
	for len(p.buf) == 0 {
		if p.done {
			return nil, io.EOF
		}
		if err := p.fetch(ctx); err != nil {
			return nil, err
		}
	}
	item := p.buf[0]
	p.buf = p.buf[1:]
	p.seen++
	return item, nil
}

func (p *paginator) fetch(ctx context.Context) error {
	params := p.params
	if p.next != "" {
		params = maps.Clone(p.params)
		params["cursor"] = p.next
	}
	body, err := p.c.get(ctx, p.cred, p.endpoint, params)
	if err != nil {
		return err
	}
	pg, err := parsePage(p.endpoint, body)
	if err != nil {
		return err
	}

	p.started = true
	p.cursor = p.next
	if len(pg.items) == 0 || pg.bottom == "" || pg.bottom == p.next {
		p.done = true
	}
	p.next = pg.bottom
	p.buf = pg.items
	return nil
}

// State reports a resumable position. While a page is partly consumed the
// resume point is that page's own cursor, so its remaining items are
// fetched again after a migration.
func (p *paginator) State() glass.CursorState {
	st := glass.CursorState{Next: p.next, Prev: p.cursor, Seen: p.seen}
	if len(p.buf) > 0 {
		st.Next = p.cursor
	}
	return st
}

// Restore positions a fresh paginator at st.
func (p *paginator) Restore(st glass.CursorState) error {
	if p.started {
		return errors.New("paginator already started")
	}
	p.next = st.Next
	p.cursor = st.Prev
	p.seen = st.Seen
	return nil
}
