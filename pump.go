package glass

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Budget bounds a collection run. Zero fields are unbounded.
type Budget struct {
	RunFor     time.Duration
	MaxResults int
}

// Handler consumes one raw record. An error ends the collection.
type Handler func(ctx context.Context, rec RawRecord) error

// Stop reasons reported by Pump.Reason.
const (
	StopNone      = ""
	StopRunFor    = "run-for elapsed"
	StopMaxCount  = "max results reached"
	StopCancelled = "cancelled"
	StopHandler   = "handler failed"
)

// Pump delivers raw records to a handler and turns budget exhaustion into
// a Stop signal for the fetcher or streamer producing them.
type Pump struct {
	budget  Budget
	handler Handler
	now     func() time.Time

	mu      sync.Mutex
	started time.Time
	count   int
	reason  string
	err     error
}

// NewPump returns a pump whose clock starts now.
func NewPump(budget Budget, handler Handler) *Pump {
	return newPump(budget, handler, time.Now)
}

func newPump(budget Budget, handler Handler, now func() time.Time) *Pump {
	return &Pump{budget: budget, handler: handler, now: now, started: now()}
}

// Deliver hands rec to the handler unless a budget is already spent. It
// returns Stop once no further records should be produced.
func (p *Pump) Deliver(ctx context.Context, rec RawRecord) Control {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.reason != StopNone {
		return Stop
	}
	if ctx.Err() != nil {
		p.reason = StopCancelled
		return Stop
	}
	if p.expired() {
		p.reason = StopRunFor
		return Stop
	}

	if err := p.handler(ctx, rec); err != nil {
		slog.Warn("record handler failed", slog.String("endpoint", string(rec.Endpoint)), slog.Any("error", err))
		p.reason = StopHandler
		p.err = err
		return Stop
	}
	p.count++

	switch {
	case p.budget.MaxResults > 0 && p.count >= p.budget.MaxResults:
		p.reason = StopMaxCount
		return Stop
	case p.expired():
		p.reason = StopRunFor
		return Stop
	}
	return Continue
}

func (p *Pump) expired() bool {
	return p.budget.RunFor > 0 && p.now().Sub(p.started) >= p.budget.RunFor
}

// Count returns the number of records handled so far.
func (p *Pump) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// Reason returns why the pump stopped, or StopNone.
func (p *Pump) Reason() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reason
}

// Err returns the handler error that stopped the pump, if any.
func (p *Pump) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}
