// Package ratelimiter throttles RPC requests per connection with a token
// bucket.
package ratelimiter

import (
	"context"
	"math"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket: tokens refill at a fixed rate up to burst, and
// each request consumes one. Safe for concurrent use.
type Limiter struct {
	limiter *rate.Limiter
}

// New returns a limiter admitting requestsPerSecond on average with bursts
// of up to burst. A zero rate disables limiting; a zero burst defaults to
// the rate.
func New(requestsPerSecond, burst uint) *Limiter {
	if requestsPerSecond == 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst == 0 {
		burst = requestsPerSecond
	}

	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst)),
	}
}

// Unlimited reports whether the limiter admits everything.
func (r *Limiter) Unlimited() bool {
	return r.limiter.Limit() == rate.Inf
}

// Allow consumes a token if one is available, without blocking.
func (r *Limiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (r *Limiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Admit takes a token, waiting if necessary. limited reports whether the
// caller had to wait, so it can be counted.
func (r *Limiter) Admit(ctx context.Context) (limited bool, err error) {
	if r.limiter.Allow() {
		return false, nil
	}
	return true, r.limiter.Wait(ctx)
}

// Tokens returns the tokens currently available.
func (r *Limiter) Tokens() float64 {
	if r.Unlimited() {
		return math.Inf(1)
	}
	return r.limiter.Tokens()
}
