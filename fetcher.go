package glass

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Fetcher drives paginated and single-object reads through the credential
// pool, absorbing every recoverable platform error.
type Fetcher struct {
	platform Platform
	pool     *Pool
	cfg      Config
}

// NewFetcher returns a fetcher reading from platform with credentials from p.
func NewFetcher(platform Platform, p *Pool, cfg Config) *Fetcher {
	cfg.defaults()
	return &Fetcher{platform: platform, pool: p, cfg: cfg}
}

// FetchAll walks every page of endpoint and hands each item to onItem until
// the listing is exhausted or onItem returns Stop. A rate-limited credential
// is swapped and the cursor carried over to the replacement.
func (f *Fetcher) FetchAll(ctx context.Context, endpoint Endpoint, params Params, onItem ItemFunc) error {
	cred, err := f.pool.Acquire(ctx, endpoint)
	if err != nil {
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	pg := f.platform.Paginate(cred, endpoint, params)

	var unknown int
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		item, err := pg.Next(ctx)
		if err == nil {
			unknown = 0
			if onItem(item) == Stop {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}

		next, err := f.recover(ctx, endpoint, params, cred, err, &unknown)
		if err != nil {
			return err
		}
		if next != cred {
			state := pg.State()
			cred = next
			pg = f.migrate(cred, endpoint, params, state)
		}
	}
}

// FetchOne performs a single lookup with the same recovery policy as FetchAll.
func (f *Fetcher) FetchOne(ctx context.Context, endpoint Endpoint, params Params) (json.RawMessage, error) {
	cred, err := f.pool.Acquire(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}

	var unknown int
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		body, err := f.platform.Lookup(ctx, cred, endpoint, params)
		if err == nil {
			return body, nil
		}
		if cred, err = f.recover(ctx, endpoint, params, cred, err, &unknown); err != nil {
			return nil, err
		}
	}
}

// recover applies the recovery policy to a failed call made with cred.
// It returns the credential to continue with, or an error ending the fetch.
func (f *Fetcher) recover(ctx context.Context, endpoint Endpoint, params Params, cred *Credential, cause error, unknown *int) (*Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	class := Classify(cause)
	switch class {
	case ClassRateLimited:
		f.pool.MarkExhausted(cred, endpoint, f.cfg.now())
		return f.acquire(ctx, endpoint)

	case ClassUnauthorized:
		cred.RecordFailure()
		slog.Warn("credential rejected", slog.String("credential", cred.Name), slog.String("endpoint", string(endpoint)), slog.Any("error", cause))
		if err := f.pool.Invalidate(cred); err != nil {
			return nil, fmt.Errorf("%s: %w", endpoint, err)
		}
		return f.acquire(ctx, endpoint)

	case ClassTransient, ClassDisconnected, ClassTimedOut:
		cred.RecordFailure()
		slog.Debug("network error, retrying", slog.String("endpoint", string(endpoint)), slog.Duration("wait", f.cfg.TransientWait), slog.Any("error", cause))
		return cred, f.cfg.sleep(ctx, f.cfg.TransientWait)

	case ClassUnavailable:
		slog.Debug("platform overloaded, retrying", slog.String("endpoint", string(endpoint)), slog.Duration("wait", f.cfg.OverloadWait))
		return cred, f.cfg.sleep(ctx, f.cfg.OverloadWait)

	case ClassNotFound, ClassSuspended:
		return nil, &SubjectError{Subject: params.subject(), Reason: reasonFor(class), Err: cause}

	default:
		cred.RecordFailure()
		*unknown++
		if *unknown > f.cfg.UnknownRetries {
			return nil, fmt.Errorf("%s failed after %d attempts: %w", endpoint, *unknown, cause)
		}
		slog.Warn("unexpected platform error, retrying",
			slog.String("endpoint", string(endpoint)),
			slog.Int("attempt", *unknown),
			slog.Any("error", cause))
		return cred, f.cfg.sleep(ctx, f.cfg.UnknownBackoff.Duration(*unknown-1))
	}
}

func (f *Fetcher) acquire(ctx context.Context, endpoint Endpoint) (*Credential, error) {
	cred, err := f.pool.Acquire(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}
	return cred, nil
}

// migrate opens a paginator for cred positioned at state. When the position
// cannot be carried over the listing restarts from the first page.
func (f *Fetcher) migrate(cred *Credential, endpoint Endpoint, params Params, state CursorState) Paginator {
	pg := f.platform.Paginate(cred, endpoint, params)
	if err := pg.Restore(state); err != nil {
		slog.Warn("cursor migration failed, restarting listing",
			slog.String("endpoint", string(endpoint)),
			slog.String("credential", cred.Name),
			slog.Any("error", err))
		return f.platform.Paginate(cred, endpoint, params)
	}
	return pg
}
