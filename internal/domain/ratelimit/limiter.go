package ratelimit

import "context"

// RateLimiter decides whether a keyed request may proceed.
//
// Implementations use GCRA (Generic Cell Rate Algorithm), which spreads
// requests evenly over the period instead of resetting at window boundaries.
type RateLimiter interface {
	// Allow consumes one cell for key. When the request is refused,
	// Result.RetryAfter says when the next one will be accepted.
	Allow(ctx context.Context, key string, cfg Config) (Result, error)
}
