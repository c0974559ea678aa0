// Package retrier runs an operation again with capped exponential backoff until it succeeds,
// reports a permanent error or runs out of retries.
package retrier

import (
	"context"
	"math/rand"
	"time"
)

const (
	defaultInitialInterval = 1 * time.Second
	defaultMaxInterval     = 30 * time.Second
	defaultMultiplier      = 2.0
	defaultMaxRetries      = 5
	defaultJitter          = 0.1
)

// Policy is the backoff schedule.
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxRetries      int
	// Jitter spreads each wait by up to ±Jitter of its length.
	Jitter float64
}

// Retrier executes operations under a Policy.
type Retrier struct {
	policy  Policy
	retryIf func(error) bool
	onRetry func(retry int, err error, wait time.Duration)
	after   func(time.Duration) <-chan time.Time
}

type Option func(*Retrier)

func WithInitialInterval(d time.Duration) Option {
	return func(r *Retrier) { r.policy.InitialInterval = d }
}

func WithMaxInterval(d time.Duration) Option {
	return func(r *Retrier) { r.policy.MaxInterval = d }
}

func WithMultiplier(m float64) Option {
	return func(r *Retrier) { r.policy.Multiplier = m }
}

// WithMaxRetries caps the retries after the first attempt. Zero means a single attempt.
func WithMaxRetries(n int) Option {
	return func(r *Retrier) { r.policy.MaxRetries = n }
}

func WithJitter(j float64) Option {
	return func(r *Retrier) { r.policy.Jitter = j }
}

// WithRetryIf stops retrying as soon as fn reports the error as permanent.
func WithRetryIf(fn func(error) bool) Option {
	return func(r *Retrier) { r.retryIf = fn }
}

// WithOnRetry is called before every wait with the failed error and the upcoming pause.
func WithOnRetry(fn func(retry int, err error, wait time.Duration)) Option {
	return func(r *Retrier) { r.onRetry = fn }
}

// WithTimer replaces time.After, mostly for tests.
func WithTimer(after func(time.Duration) <-chan time.Time) Option {
	return func(r *Retrier) { r.after = after }
}

// New creates a Retrier with the default policy and optional overrides.
func New(opts ...Option) *Retrier {
	r := &Retrier{
		policy: Policy{
			InitialInterval: defaultInitialInterval,
			MaxInterval:     defaultMaxInterval,
			Multiplier:      defaultMultiplier,
			MaxRetries:      defaultMaxRetries,
			Jitter:          defaultJitter,
		},
		after: time.After,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.policy.MaxRetries < 0 {
		r.policy.MaxRetries = 0
	}

	return r
}

// Policy returns the effective schedule.
func (r *Retrier) Policy() Policy {
	return r.policy
}

// Backoff is the un-jittered wait before the given retry (1-based).
func (p Policy) Backoff(retry int) time.Duration {
	if retry < 1 {
		return 0
	}
	wait := float64(p.InitialInterval)
	for i := 1; i < retry; i++ {
		wait *= p.Multiplier
		if p.MaxInterval > 0 && wait >= float64(p.MaxInterval) {
			break
		}
	}
	if p.MaxInterval > 0 && wait > float64(p.MaxInterval) {
		return p.MaxInterval
	}
	return time.Duration(wait)
}

func (p Policy) jittered(retry int) time.Duration {
	wait := p.Backoff(retry)
	if p.Jitter <= 0 {
		return wait
	}
	spread := (rand.Float64()*2 - 1) * p.Jitter * float64(wait)
	if d := time.Duration(float64(wait) + spread); d > 0 {
		return d
	}
	return 0
}

// Do runs fn until it returns nil, retryIf rejects the error, retries run out or ctx is done.
// The last error from fn is returned unchanged.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	for retry := 1; err != nil && retry <= r.policy.MaxRetries; retry++ {
		if r.retryIf != nil && !r.retryIf(err) {
			return err
		}

		wait := r.policy.jittered(retry)
		if r.onRetry != nil {
			r.onRetry(retry, err, wait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.after(wait):
		}

		err = fn(ctx)
	}

	return err
}
