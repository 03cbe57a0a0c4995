package cooldown

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Store records attempts per key inside fixed windows. Take must count the
// attempt and report the resulting count atomically, so concurrent callers
// can never both observe the same count.
type Store interface {
	Take(ctx context.Context, key string, window time.Duration) (Window, error)
}

// Window is the state of one key's current window after an attempt.
type Window struct {
	Count    int
	ResetsAt time.Time
}

// Decision is the outcome of Admit.
type Decision struct {
	Limiter    string
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetsAt   time.Time
}

// Err returns nil for an admitted decision and a *DeniedError otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &DeniedError{Limiter: d.Limiter, RetryAfter: d.RetryAfter, ResetsAt: d.ResetsAt}
}

// Limiter admits at most limit operations per key per window.
type Limiter struct {
	name   string
	limit  int
	window time.Duration
	store  Store
	now    func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, used to compute RetryAfter.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a Limiter named name. The name only appears in decisions,
// errors and metrics.
func New(name string, limit int, window time.Duration, store Store, opts ...Option) (*Limiter, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidConfig, limit)
	}
	if window <= 0 {
		return nil, fmt.Errorf("%w: window must be positive, got %s", ErrInvalidConfig, window)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}

	l := &Limiter{
		name:   name,
		limit:  limit,
		window: window,
		store:  store,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Name returns the limiter name.
func (l *Limiter) Name() string { return l.name }

// Limit returns the number of operations admitted per window.
func (l *Limiter) Limit() int { return l.limit }

// Window returns the window length.
func (l *Limiter) Window() time.Duration { return l.window }

// Admit counts one attempt for key and decides whether it may proceed.
// Keys are namespaced by the limiter name, so limiters can share a store.
func (l *Limiter) Admit(ctx context.Context, key string) (Decision, error) {
	w, err := l.store.Take(ctx, Key(l.name, key), l.window)
	if err != nil {
		return Decision{}, fmt.Errorf("cooldown %s: %w", l.name, err)
	}

	d := Decision{
		Limiter:   l.name,
		Allowed:   w.Count <= l.limit,
		Limit:     l.limit,
		Remaining: max(l.limit-w.Count, 0),
		ResetsAt:  w.ResetsAt,
	}
	if !d.Allowed {
		d.RetryAfter = max(w.ResetsAt.Sub(l.now()), 0)
	}
	return d, nil
}

// Key joins the parts of a composite key.
func Key(parts ...string) string {
	return strings.Join(parts, "\x1f")
}
