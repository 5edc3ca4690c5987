// Package pipeline runs a collection mode end to end: collector, pump,
// normalizer and sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	glass "github.com/anatolykoptev/go-glass"
	"github.com/anatolykoptev/go-glass/entity"
	"github.com/anatolykoptev/go-glass/sink"
)

// Collector produces raw records for a request.
type Collector interface {
	Run(ctx context.Context, req glass.Request, deliver glass.Deliver) (glass.Outcome, error)
}

// Options configure one run. The zero value collects synchronously into
// nothing but the callbacks.
type Options struct {
	Budget glass.Budget

	// QueueSize > 0 moves normalization and writes onto a consumer
	// goroutine fed by a queue of this capacity.
	QueueSize int
	// DrainTimeout bounds how long the consumer keeps draining after the
	// producer finished.
	DrainTimeout time.Duration

	// Sink receives normalized records. Nil skips normalization.
	Sink *sink.Dedup
	// Raw receives every raw record, standardized.
	Raw *sink.JSONLWriter
	// Resolver fetches replied-to tweets during normalization.
	Resolver entity.Resolver

	// OnRecord is called with every raw record before it is written.
	OnRecord func(glass.RawRecord)
	// OnRow is called with every normalized record the sink writes, in
	// write order.
	OnRow func(entity.Record)
}

func (o *Options) defaults() {
	if o.DrainTimeout == 0 {
		o.DrainTimeout = 30 * time.Second
	}
}

// Summary describes a finished run.
type Summary struct {
	Records int    // raw records produced
	Handled int    // raw records fully written
	Stop    string // why production ended early, if it did
	Skipped []*glass.SubjectError
	Rows    map[entity.Kind]int
	Elapsed time.Duration
}

var (
	errConsumerStopped = errors.New("consumer stopped")
	errRunFor          = errors.New("run-for elapsed")
)

// Run executes req and writes its records. An interrupt through ctx ends
// the run cleanly with Stop set to glass.StopCancelled. Budget.RunFor is
// also a deadline: a run waiting on the platform when it passes ends with
// Stop set to glass.StopRunFor.
func Run(ctx context.Context, c Collector, req glass.Request, opts Options) (Summary, error) {
	opts.defaults()
	start := time.Now()
	h := newHandler(opts)

	runCtx := ctx
	if opts.Budget.RunFor > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeoutCause(ctx, opts.Budget.RunFor, errRunFor)
		defer cancel()
	}

	var (
		outcome glass.Outcome
		pump    *glass.Pump
		err     error
	)
	if opts.QueueSize > 0 {
		outcome, pump, err = runQueued(runCtx, c, req, opts, h)
	} else {
		pump = glass.NewPump(opts.Budget, h.handle)
		outcome, err = c.Run(runCtx, req, pump.Deliver)
	}

	sum := Summary{
		Records: pump.Count(),
		Handled: int(h.handled.Load()),
		Stop:    pump.Reason(),
		Skipped: outcome.Skipped,
		Elapsed: time.Since(start),
	}
	if opts.Sink != nil {
		sum.Rows = opts.Sink.Counts()
	}

	if err == nil {
		if herr := pump.Err(); herr != nil && !errors.Is(herr, errConsumerStopped) {
			err = herr
		}
	}
	if err == nil {
		err = h.failure()
	}
	if ctx.Err() == nil && errors.Is(context.Cause(runCtx), errRunFor) {
		expired := errors.Is(err, context.DeadlineExceeded)
		if expired || sum.Stop == glass.StopNone || sum.Stop == glass.StopCancelled {
			sum.Stop = glass.StopRunFor
		}
		if expired {
			err = nil
		}
	}
	if errors.Is(err, context.Canceled) {
		sum.Stop = glass.StopCancelled
		err = nil
	}
	if err != nil {
		return sum, fmt.Errorf("%s: %w", req.Mode, err)
	}
	return sum, nil
}

// Batch runs a bounded mode and returns the normalized records it wrote,
// each identity once. Without a Sink the records are only deduplicated in
// memory. Raw records stay available through OnRecord.
func Batch(ctx context.Context, c Collector, req glass.Request, opts Options) ([]entity.Record, Summary, error) {
	if req.Mode.Live() {
		return nil, Summary{}, fmt.Errorf("%s: %w", req.Mode, glass.ErrLiveMode)
	}
	if opts.Sink == nil {
		opts.Sink = sink.NewDedup()
	}
	var (
		mu  sync.Mutex
		out []entity.Record
	)
	next := opts.OnRow
	opts.OnRow = func(r entity.Record) {
		mu.Lock()
		out = append(out, r)
		mu.Unlock()
		if next != nil {
			next(r)
		}
	}
	sum, err := Run(ctx, c, req, opts)
	return out, sum, err
}

// runQueued decouples production from consumption with a bounded queue.
// Closing finishing tells the consumer no more records will arrive.
func runQueued(ctx context.Context, c Collector, req glass.Request, opts Options, h *handler) (glass.Outcome, *glass.Pump, error) {
	queue := make(chan glass.RawRecord, opts.QueueSize)
	finishing := make(chan struct{})
	consumerDone := make(chan struct{})

	// Lookups stop with ctx. Writes get DrainTimeout after an interrupt or
	// after the producer finished, whichever comes first.
	go func() {
		defer close(consumerDone)
		wctx, cancelWrites := context.WithCancel(context.WithoutCancel(ctx))
		defer cancelWrites()
		stop := context.AfterFunc(ctx, func() {
			time.AfterFunc(opts.DrainTimeout, cancelWrites)
		})
		defer stop()

		for {
			select {
			case rec := <-queue:
				if h.process(ctx, wctx, rec) != nil {
					return
				}
			case <-finishing:
				dctx, cancel := context.WithTimeout(wctx, opts.DrainTimeout)
				defer cancel()
				drain(dctx, queue, func(dctx context.Context, rec glass.RawRecord) error {
					return h.process(ctx, dctx, rec)
				})
				return
			}
		}
	}()

	enqueue := func(ctx context.Context, rec glass.RawRecord) error {
		select {
		case queue <- rec:
			return nil
		case <-consumerDone:
			return errConsumerStopped
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	pump := glass.NewPump(opts.Budget, enqueue)
	outcome, err := c.Run(ctx, req, pump.Deliver)

	close(finishing)
	<-consumerDone
	return outcome, pump, err
}

// drain handles what is left in queue until it is empty or ctx expires.
func drain(ctx context.Context, queue <-chan glass.RawRecord, handle glass.Handler) {
	for {
		if ctx.Err() != nil {
			slog.Warn("drain timed out, dropping queued records", slog.Int("dropped", len(queue)))
			return
		}
		select {
		case rec := <-queue:
			if handle(ctx, rec) != nil {
				return
			}
		default:
			return
		}
	}
}

// handler normalizes and writes one raw record.
type handler struct {
	opts       Options
	normalizer *entity.Normalizer
	handled    atomic.Int64

	mu  sync.Mutex
	err error
}

func newHandler(opts Options) *handler {
	var index entity.Index
	if opts.Sink != nil {
		index = opts.Sink
	}
	return &handler{opts: opts, normalizer: entity.NewNormalizer(opts.Resolver, index)}
}

func (h *handler) handle(ctx context.Context, rec glass.RawRecord) error {
	return h.process(ctx, ctx, rec)
}

// process resolves references under lookup and writes under write.
func (h *handler) process(lookup, write context.Context, rec glass.RawRecord) error {
	if err := h.write(lookup, write, rec); err != nil {
		h.mu.Lock()
		if h.err == nil {
			h.err = err
		}
		h.mu.Unlock()
		return err
	}
	h.handled.Add(1)
	return nil
}

func (h *handler) write(lookup, write context.Context, rec glass.RawRecord) error {
	if h.opts.OnRecord != nil {
		h.opts.OnRecord(rec)
	}
	if h.opts.Raw != nil {
		if err := h.opts.Raw.Write(rec); err != nil {
			return err
		}
	}
	if h.opts.Sink == nil {
		return nil
	}

	recs, err := h.normalizer.Normalize(lookup, rec)
	if err != nil {
		if errors.Is(err, glass.ErrNoCredentials) {
			return err
		}
		slog.Warn("record not normalized", slog.String("mode", string(rec.Mode)), slog.Any("error", err))
		return nil
	}
	for _, r := range recs {
		fresh, err := h.opts.Sink.Emit(write, r)
		if err != nil {
			return err
		}
		if fresh && h.opts.OnRow != nil {
			h.opts.OnRow(r)
		}
	}
	return nil
}

// failure returns the first write error, if any.
func (h *handler) failure() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}
