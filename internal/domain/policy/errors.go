package policy

import "errors"

// Rejection reasons. Engine errors wrap exactly one of these.
var (
	ErrUnauthorized           = errors.New("unauthorized")
	ErrMissingRole            = errors.New("missing required role")
	ErrInsufficientConfidence = errors.New("insufficient AI confidence")
	ErrExcessiveRisk          = errors.New("excessive AI risk")
	ErrInvalidRange           = errors.New("threshold out of range")
)

// ErrAlreadyInitialized is returned by a second Init.
var ErrAlreadyInitialized = errors.New("policy already initialized")

// ErrNotInitialized is returned by privileged operations before Init.
var ErrNotInitialized = errors.New("policy not initialized")

// Stable codes for the rejection reasons.
const (
	CodeUnauthorized           = "unauthorized"
	CodeMissingRole            = "missing_role"
	CodeInsufficientConfidence = "insufficient_confidence"
	CodeExcessiveRisk          = "excessive_risk"
	CodeInvalidRange           = "invalid_range"
	CodeAlreadyInitialized     = "already_initialized"
	CodeNotInitialized         = "not_initialized"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrUnauthorized, CodeUnauthorized},
	{ErrMissingRole, CodeMissingRole},
	{ErrInsufficientConfidence, CodeInsufficientConfidence},
	{ErrExcessiveRisk, CodeExcessiveRisk},
	{ErrInvalidRange, CodeInvalidRange},
	{ErrAlreadyInitialized, CodeAlreadyInitialized},
	{ErrNotInitialized, CodeNotInitialized},
}

// Code maps err to its stable code, or "" when err is not a policy rejection.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ""
}
