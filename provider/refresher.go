package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	defaultRefreshAttempts = 3
	defaultBackoffBase     = 500 * time.Millisecond
	defaultBackoffCap      = 2 * time.Second
)

// Refresher exchanges a stored refresh token for a new access token. It owns
// the one retry policy every caller goes through: transient failures get
// bounded exponential backoff, a provider refusal is surfaced immediately
// and never retried.
type Refresher struct {
	provider IdentityProvider
	attempts int
	base     time.Duration
	cap      time.Duration
	logger   *slog.Logger
}

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

// WithRetryPolicy overrides the attempt count and backoff schedule.
func WithRetryPolicy(attempts int, base, cap time.Duration) RefresherOption {
	return func(r *Refresher) {
		if attempts > 0 {
			r.attempts = attempts
		}
		if base > 0 {
			r.base = base
		}
		if cap > 0 {
			r.cap = cap
		}
	}
}

// WithRefresherLogger sets a custom logger.
func WithRefresherLogger(logger *slog.Logger) RefresherOption {
	return func(r *Refresher) {
		r.logger = logger
	}
}

// NewRefresher wraps an identity provider with the retry policy.
func NewRefresher(p IdentityProvider, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		provider: p,
		attempts: defaultRefreshAttempts,
		base:     defaultBackoffBase,
		cap:      defaultBackoffCap,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Refresh attempts the token exchange up to the attempt budget.
//
// An error wrapping ErrInvalidGrant returns at once: the refresh token is
// dead and retrying cannot revive it. Every other failure is treated as
// transient; once the budget is exhausted the last error is surfaced as
// ErrProviderUnavailable so the caller knows the credential is intact.
func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (*Grant, error) {
	delay := r.base
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		grant, err := r.provider.Refresh(ctx, refreshToken)
		if err == nil {
			return grant, nil
		}
		if errors.Is(err, ErrInvalidGrant) {
			return nil, err
		}
		lastErr = err
		if attempt == r.attempts {
			break
		}
		r.logger.Warn("token refresh failed, backing off",
			"attempt", attempt,
			"delay", delay,
			"err", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay *= 2
		if delay > r.cap {
			delay = r.cap
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, lastErr)
}
