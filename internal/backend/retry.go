// Package backend classifies inference-backend failures and drives the
// bounded retry loop shared by the diarization and transcription workers.
package backend

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// TransientError marks a failure worth retrying (network hiccup, rate limit,
// 5xx). Anything not wrapped in TransientError is treated as permanent.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ErrRetriesExhausted is returned once every attempt allowed by the policy
// has failed. Workers convert it into a degraded result, never a session
// failure.
var ErrRetriesExhausted = errors.New("backend retries exhausted")

// RetryPolicy bounds the retry loop around a backend call.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Backoff computes the jittered exponential delay before attempt (0-based
// retry index).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.BaseBackoff << uint(attempt)
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	if d <= 0 {
		return 0
	}
	// Up to 25% jitter to avoid thundering retries against a rate limit.
	return d + time.Duration(rand.Int63n(int64(d)/4+1))
}

// Retry invokes fn until it succeeds, fails permanently, or the policy is
// exhausted. Context cancellation is reported as ErrRetriesExhausted so
// callers apply the same degraded-result path as a dead backend.
func Retry(ctx context.Context, policy RetryPolicy, name string, fn func(ctx context.Context) error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(policy.Backoff(attempt - 1)):
			case <-ctx.Done():
				return fmt.Errorf("%w: %s cancelled after %d attempts: %v", ErrRetriesExhausted, name, attempt, ctx.Err())
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %s cancelled after %d attempts: %v", ErrRetriesExhausted, name, attempt+1, ctx.Err())
		}
		if !IsTransient(err) {
			return err
		}

		lastErr = err
		log.Warn().
			Err(err).
			Str("backend", name).
			Int("attempt", attempt+1).
			Int("max_attempts", attempts).
			Msg("Transient backend failure, will retry")
	}

	return fmt.Errorf("%w: %s: %v", ErrRetriesExhausted, name, lastErr)
}
