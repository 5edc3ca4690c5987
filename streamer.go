package glass

import (
	"context"
	"fmt"
	"log/slog"
)

// Streamer keeps a live subscription open across disconnects, stale
// connections and credential failures.
type Streamer struct {
	platform Platform
	pool     *Pool
	cfg      Config
}

// NewStreamer returns a streamer subscribing through platform.
func NewStreamer(platform Platform, p *Pool, cfg Config) *Streamer {
	cfg.defaults()
	return &Streamer{platform: platform, pool: p, cfg: cfg}
}

// StreamFiltered delivers items matching filter to onItem. It blocks until
// onItem returns Stop, ctx is done, or an unrecoverable error occurs.
func (s *Streamer) StreamFiltered(ctx context.Context, filter Filter, onItem ItemFunc) error {
	cred := s.pool.Active()
	if cred == nil {
		return ErrNoCredentials
	}

	var unknown int
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		delivered, stopped, err := s.session(ctx, cred, filter, onItem)
		if stopped {
			return nil
		}
		if delivered > 0 {
			unknown = 0
		}
		if err == nil {
			slog.Debug("refreshing stream", slog.String("credential", cred.Name), slog.Int("delivered", delivered))
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		class := Classify(err)
		switch class {
		case ClassRateLimited, ClassDisconnected, ClassTimedOut, ClassTransient:
			cred.RecordFailure()
			slog.Debug("stream dropped, reconnecting",
				slog.String("reason", class.String()),
				slog.String("credential", cred.Name),
				slog.Any("error", err))
			if cred, err = s.pool.Rotate(cred); err != nil {
				return err
			}
			if err := s.cfg.sleep(ctx, s.cfg.ReconnectWait); err != nil {
				return err
			}

		case ClassUnavailable:
			if err := s.cfg.sleep(ctx, s.cfg.OverloadWait); err != nil {
				return err
			}

		case ClassUnauthorized:
			slog.Warn("stream credential rejected", slog.String("credential", cred.Name), slog.Any("error", err))
			if err := s.pool.Invalidate(cred); err != nil {
				return fmt.Errorf("stream: %w", err)
			}
			cred = s.pool.Active()

		case ClassNotFound, ClassSuspended:
			return &SubjectError{Subject: fmt.Sprint(filter.Users), Reason: reasonFor(class), Err: err}

		default:
			unknown++
			if unknown > s.cfg.UnknownRetries {
				return fmt.Errorf("stream failed after %d attempts: %w", unknown, err)
			}
			slog.Warn("unexpected stream error, reconnecting", slog.Int("attempt", unknown), slog.Any("error", err))
			if cred, err = s.pool.Rotate(cred); err != nil {
				return err
			}
			if err := s.cfg.sleep(ctx, s.cfg.UnknownBackoff.Duration(unknown-1)); err != nil {
				return err
			}
		}
	}
}

// session runs one subscription. A nil error with stopped false means the
// refresh interval elapsed and the caller should reconnect.
func (s *Streamer) session(ctx context.Context, cred *Credential, filter Filter, onItem ItemFunc) (delivered int, stopped bool, err error) {
	sctx, cancel := context.WithTimeout(ctx, s.cfg.StreamRefresh)
	defer cancel()

	sub, err := s.platform.Subscribe(sctx, cred, filter)
	if err != nil {
		if ctx.Err() == nil && sctx.Err() != nil {
			return 0, false, nil
		}
		return 0, false, err
	}
	defer sub.Close()

	for {
		item, err := sub.Recv(sctx)
		if err != nil {
			if ctx.Err() != nil {
				return delivered, false, ctx.Err()
			}
			if sctx.Err() != nil {
				return delivered, false, nil
			}
			return delivered, false, err
		}
		delivered++
		if onItem(item) == Stop {
			return delivered, true, nil
		}
	}
}
