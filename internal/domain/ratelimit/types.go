// Package ratelimit provides rate limiting domain types for the inbound
// transports.
package ratelimit

import (
	"fmt"
	"time"
)

// Config defines the rate limiting parameters.
type Config struct {
	// Rate is the number of allowed events in the period.
	Rate int
	// Burst is the maximum number of events that can occur at once.
	Burst int
	// Period is the time window for the rate limit.
	Period time.Duration
}

// Enabled reports whether the config describes a usable limit.
func (c Config) Enabled() bool {
	return c.Rate > 0 && c.Period > 0
}

// Result contains the result of a rate limit check.
type Result struct {
	Allowed   bool
	Remaining int
	// RetryAfter is only meaningful when Allowed is false.
	RetryAfter time.Duration
	ResetAfter time.Duration
}

// KeyType identifies what a rate limit key is scoped to.
type KeyType string

const (
	// KeyTypeIP limits unauthenticated callers by remote address.
	KeyTypeIP KeyType = "ip"
	// KeyTypeCaller limits authenticated callers by identity.
	KeyTypeCaller KeyType = "caller"
)

// FormatKey returns "ratelimit:{type}:{value}".
func FormatKey(keyType KeyType, value string) string {
	return fmt.Sprintf("ratelimit:%s:%s", keyType, value)
}
