// Package resilience retries provider calls that were rejected with a
// rate-limit status.
//
// Only errors carrying status 429 are retried. Every other failure is handed
// back to the caller untouched on the first attempt. Waits between attempts
// grow geometrically: the wait before retry k is InitialBackoff*Multiplier^k.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/loqalabs/ellie/internal/observe"
)

// Policy is the retry budget and backoff schedule for one call site.
type Policy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	Multiplier     float64
}

// DefaultPolicy mirrors the production defaults: three retries starting at one
// second and doubling.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, InitialBackoff: time.Second, Multiplier: 2}
}

func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return errors.New("retry policy: max retries must be >= 0")
	}
	if p.InitialBackoff <= 0 {
		return errors.New("retry policy: initial backoff must be positive")
	}
	if p.Multiplier <= 1 {
		return errors.New("retry policy: multiplier must be greater than 1")
	}
	return nil
}

// Delay returns the wait before retry attempt k (0-indexed).
func (p Policy) Delay(k int) time.Duration {
	b := p.schedule()
	var d time.Duration
	for i := 0; i <= k; i++ {
		d = b.NextBackOff()
	}
	return d
}

func (p Policy) schedule() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxInterval = time.Duration(math.MaxInt64)
	b.Reset()
	return b
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Executor runs calls under a fixed Policy.
type Executor struct {
	policy  Policy
	logger  *slog.Logger
	sleep   Sleeper
	metrics *observe.Metrics
}

type Option func(*Executor)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithMetrics(m *observe.Metrics) Option {
	return func(e *Executor) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithSleeper replaces the timer-based wait, mainly for tests.
func WithSleeper(s Sleeper) Option {
	return func(e *Executor) {
		if s != nil {
			e.sleep = s
		}
	}
}

func NewExecutor(policy Policy, opts ...Option) (*Executor, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	e := &Executor{
		policy: policy,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e, nil
}

// Policy returns the retry budget and schedule the executor was built with.
func (e *Executor) Policy() Policy {
	return e.policy
}

// Run invokes fn until it succeeds, fails with a non-retryable error, or the
// retry budget runs out. call labels log lines and metrics.
//
// Run is a function rather than a method because methods cannot declare type
// parameters.
func Run[T any](ctx context.Context, e *Executor, call string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	schedule := e.policy.schedule()
	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if !IsRateLimited(err) {
			return zero, err
		}
		retriesLeft := e.policy.MaxRetries - attempt
		if retriesLeft <= 0 {
			return zero, &TerminalError{Err: err, Attempts: attempt + 1}
		}

		delay := schedule.NextBackOff()
		e.logger.Warn("rate limited, retrying",
			slog.String("call", call),
			slog.Duration("delay", delay),
			slog.Int("retries_left", retriesLeft))
		e.metrics.RecordRetry(ctx, call)
		if serr := e.sleep(ctx, delay); serr != nil {
			return zero, fmt.Errorf("retry wait interrupted: %w", errors.Join(serr, err))
		}
	}
}
