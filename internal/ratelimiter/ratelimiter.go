// Package ratelimiter provides token-bucket rate limiting for the HTTP
// surface.
//
// The token bucket (golang.org/x/time/rate) adds tokens at a constant
// rate and lets bursts spend accumulated capacity. The API layer keys
// limiters per principal so one busy client cannot starve the rest.
package ratelimiter

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter wraps one token bucket.
//
// Thread safety: all methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a limiter allowing requestsPerSecond sustained with the
// given burst capacity. requestsPerSecond = 0 disables limiting.
func New(requestsPerSecond, burst uint) *RateLimiter {
	if requestsPerSecond == 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst == 0 {
		burst = requestsPerSecond
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst))}
}

// Allow reports whether a request may proceed, consuming one token.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Tokens returns the current bucket level, for monitoring.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}

// PerKey maintains one RateLimiter per key (typically per principal).
// Keys are created on first use and never expire; the table is bounded
// by the number of distinct principals.
type PerKey struct {
	requestsPerSecond uint
	burst             uint

	mu       sync.Mutex
	limiters map[string]*RateLimiter
}

// NewPerKey creates an empty per-key limiter table.
func NewPerKey(requestsPerSecond, burst uint) *PerKey {
	return &PerKey{
		requestsPerSecond: requestsPerSecond,
		burst:             burst,
		limiters:          make(map[string]*RateLimiter),
	}
}

// Allow consumes one token from key's bucket, creating it on first use.
func (p *PerKey) Allow(key string) bool {
	p.mu.Lock()
	l, ok := p.limiters[key]
	if !ok {
		l = New(p.requestsPerSecond, p.burst)
		p.limiters[key] = l
	}
	p.mu.Unlock()
	return l.Allow()
}
