package gql

import (
	"context"
	"io"
	"net/url"
	"path"
	"sync"
	"testing"
	"time"

	glass "github.com/anatolykoptev/go-glass"
)

type response struct {
	status  int
	headers map[string]string
	body    string
	err     error
}

// fakeDoer replays queued responses per operation name. The last response
// of a queue repeats.
type fakeDoer struct {
	mu        sync.Mutex
	responses map[string][]response
	requests  []*url.URL
	headers   []map[string]string
}

func newFakeDoer() *fakeDoer {
	return &fakeDoer{responses: make(map[string][]response)}
}

func (d *fakeDoer) on(op string, rs ...response) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.responses[op] = append(d.responses[op], rs...)
}

func (d *fakeDoer) DoWithHeaderOrder(_, rawURL string, headers map[string]string, _ io.Reader, _ []string) ([]byte, map[string]string, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, 0, err
	}
	d.requests = append(d.requests, u)
	d.headers = append(d.headers, headers)

	op := path.Base(u.Path)
	queue := d.responses[op]
	if len(queue) == 0 {
		return []byte(`{"errors":[{"code":34,"message":"no fake"}]}`), nil, 404, nil
	}
	r := queue[0]
	if len(queue) > 1 {
		d.responses[op] = queue[1:]
	}
	if r.err != nil {
		return nil, nil, 0, r.err
	}
	status := r.status
	if status == 0 {
		status = 200
	}
	return []byte(r.body), r.headers, status, nil
}

func (d *fakeDoer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}

// variables returns the decoded variables query parameter of request i.
func (d *fakeDoer) variables(t *testing.T, i int) string {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.requests) {
		t.Fatalf("request %d not sent (have %d)", i, len(d.requests))
	}
	return d.requests[i].Query().Get("variables")
}

func newTestClient(d *fakeDoer) *Client {
	c := newClient(d, Config{PollInterval: time.Millisecond})
	c.jitter = func(context.Context) error { return nil }
	return c
}

func testCredential() *glass.Credential {
	return glass.NewCredential("alice", "token", "ct0-initial", 0)
}

func ok(body string) response { return response{status: 200, body: body} }
