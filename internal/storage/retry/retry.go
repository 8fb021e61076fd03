// Package retry wraps a RemoteStorage so transient backend failures are retried
// with exponential backoff.
package retry

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"time"

	"github.com/dl-alexandre/pullsync/internal/logging"
	"github.com/dl-alexandre/pullsync/internal/storage"
	"github.com/dl-alexandre/pullsync/internal/utils"
)

// Config bounds the retry loop.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultConfig mirrors the utils retry defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries: utils.DefaultMaxRetries,
		BaseDelay:  time.Duration(utils.DefaultRetryDelayMs) * time.Millisecond,
		MaxDelay:   time.Duration(utils.MaxRetryDelayMs) * time.Millisecond,
	}
}

// Store retries the calls of the wrapped backend that fail with storage.ErrTransient.
type Store struct {
	next   storage.RemoteStorage
	cfg    Config
	logger logging.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

var _ storage.RemoteStorage = (*Store)(nil)

func Wrap(next storage.RemoteStorage, cfg Config, logger logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Duration(utils.DefaultRetryDelayMs) * time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	return &Store{next: next, cfg: cfg, logger: logger, sleep: sleepContext}
}

// Unwrap returns the wrapped backend.
func (s *Store) Unwrap() storage.RemoteStorage {
	return s.next
}

func (s *Store) ListRecursive(ctx context.Context, p string) ([]storage.Entry, error) {
	return do(ctx, s, "list", p, func() ([]storage.Entry, error) {
		return s.next.ListRecursive(ctx, p)
	})
}

func (s *Store) Exists(ctx context.Context, p string) (bool, error) {
	return do(ctx, s, "exists", p, func() (bool, error) {
		return s.next.Exists(ctx, p)
	})
}

// ReadStream retries opening the stream only; a failure while reading surfaces to
// the caller, who owns the partial download.
func (s *Store) ReadStream(ctx context.Context, p string) (io.ReadCloser, error) {
	return do(ctx, s, "read", p, func() (io.ReadCloser, error) {
		return s.next.ReadStream(ctx, p)
	})
}

func (s *Store) ModifiedAt(ctx context.Context, p string) (int64, bool, error) {
	type stamp struct {
		ts int64
		ok bool
	}
	r, err := do(ctx, s, "mtime", p, func() (stamp, error) {
		ts, ok, err := s.next.ModifiedAt(ctx, p)
		return stamp{ts, ok}, err
	})
	return r.ts, r.ok, err
}

// Close closes the wrapped backend when it holds resources.
func (s *Store) Close() error {
	if c, ok := s.next.(storage.Closer); ok {
		return c.Close()
	}
	return nil
}

func do[T any](ctx context.Context, s *Store, op, p string, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error
	start := time.Now()

	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		result, lastErr = fn()
		if lastErr == nil {
			if attempt > 0 {
				s.logger.Info("Backend call recovered",
					logging.F("op", op),
					logging.F("path", p),
					logging.F("attempts", attempt+1),
					logging.F("duration_ms", time.Since(start).Milliseconds()))
			}
			return result, nil
		}
		if !errors.Is(lastErr, storage.ErrTransient) || ctx.Err() != nil {
			return result, lastErr
		}
		if attempt == s.cfg.MaxRetries {
			break
		}

		delay := backoff(s.cfg, attempt)
		s.logger.Warn("Backend call failed (retryable)",
			logging.F("op", op),
			logging.F("path", p),
			logging.F("attempt", attempt+1),
			logging.F("delay_ms", delay.Milliseconds()),
			logging.F("error", lastErr.Error()))
		if err := s.sleep(ctx, delay); err != nil {
			return result, err
		}
	}

	s.logger.Error("Backend call failed after max retries",
		logging.F("op", op),
		logging.F("path", p),
		logging.F("attempts", s.cfg.MaxRetries+1),
		logging.F("error", lastErr.Error()))
	return result, lastErr
}

// backoff is base * 2^attempt capped at MaxDelay, with +/-25% jitter.
func backoff(cfg Config, attempt int) time.Duration {
	delay := time.Duration(float64(cfg.BaseDelay) * math.Pow(2, float64(attempt)))
	if delay > cfg.MaxDelay || delay <= 0 {
		delay = cfg.MaxDelay
	}

	jitterRange := delay / 4
	if jitterRange > 0 {
		delay += time.Duration(rand.Int63n(int64(jitterRange*2))) - jitterRange
	}
	if delay < 0 {
		delay = cfg.BaseDelay
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
