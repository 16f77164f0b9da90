package http

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/Sentinel-Gate/aipolicy/internal/ctxkey"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/auth"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/ratelimit"
	wire "github.com/Sentinel-Gate/aipolicy/pkg/rpc"
)

// requestIDContextKey is the type for the request ID context key.
type requestIDContextKey struct{}

// ipAddressContextKey is the type for the client IP context key.
type ipAddressContextKey struct{}

// RequestIDKey is the context key for the request ID.
var RequestIDKey = requestIDContextKey{}

// IPAddressKey is the context key for the client IP set by RealIPMiddleware.
var IPAddressKey = ipAddressContextKey{}

// LoggerKey is the context key for the enriched logger.
// Uses shared key type from ctxkey package to allow cross-package access without import cycles.
var LoggerKey = ctxkey.LoggerKey{}

// CallerKey is the context key for the authenticated identity.
var CallerKey = ctxkey.CallerKey{}

// Authenticator resolves a bearer credential to a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (*auth.Principal, error)
}

// RequestIDMiddleware extracts or generates a request ID and enriches the logger.
// The request ID is stored in context using RequestIDKey.
// An enriched logger with request_id field is stored using LoggerKey.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}

			enrichedLogger := logger.With("request_id", requestID)

			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
			ctx = context.WithValue(ctx, LoggerKey, enrichedLogger)

			w.Header().Set("X-Request-ID", requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerFromContext retrieves the enriched logger from context.
// Returns slog.Default() if no logger is in context.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// CallerFromContext returns the authenticated identity, or the anonymous
// identity when the request carried no credential.
func CallerFromContext(ctx context.Context) auth.Identity {
	if id, ok := ctx.Value(CallerKey).(auth.Identity); ok {
		return id
	}
	return auth.Anonymous
}

// DNSRebindingProtection validates Origin header against an allowlist.
// If allowedOrigins is empty, all requests with an Origin header are blocked (local-only mode).
// Requests without an Origin header are allowed (same-origin or non-browser).
func DNSRebindingProtection(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			if _, ok := allowed[origin]; !ok {
				http.Error(w, "Forbidden: origin not allowed", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// AuthMiddleware resolves the Authorization bearer credential to a caller
// identity stored under CallerKey. Requests without a credential continue as
// anonymous; the dispatcher refuses anonymous callers on mutating methods.
// A credential that does not resolve is answered with 401.
func AuthMiddleware(authenticator Authenticator, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" || authenticator == nil {
				next.ServeHTTP(w, r)
				return
			}

			credential, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || credential == "" {
				writeUnauthorized(w, r, metrics, "malformed authorization header")
				return
			}

			principal, err := authenticator.Authenticate(r.Context(), credential)
			if err != nil {
				LoggerFromContext(r.Context()).Debug("authentication failed", "error", err)
				writeUnauthorized(w, r, metrics, "invalid credentials")
				return
			}

			logger := LoggerFromContext(r.Context()).With("caller", principal.ID.String())
			ctx := context.WithValue(r.Context(), CallerKey, principal.ID)
			ctx = context.WithValue(ctx, LoggerKey, logger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, metrics *Metrics, msg string) {
	if metrics != nil {
		metrics.AuthFailuresTotal.Inc()
	}
	w.Header().Set("WWW-Authenticate", `Bearer realm="aipolicy"`)
	writeJSONRPCError(w, http.StatusUnauthorized, wire.CodeUnauthorized, msg)
}

// RateLimitMiddleware enforces cfg per caller, falling back to the client IP
// for anonymous requests. Limiter errors fail open.
func RateLimitMiddleware(limiter ratelimit.RateLimiter, cfg ratelimit.Config, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || !cfg.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			var key string
			if caller := CallerFromContext(ctx); !caller.IsAnonymous() {
				key = ratelimit.FormatKey(ratelimit.KeyTypeCaller, caller.String())
			} else {
				ip, _ := ctx.Value(IPAddressKey).(string)
				if ip == "" {
					ip = extractRealIP(r)
				}
				key = ratelimit.FormatKey(ratelimit.KeyTypeIP, ip)
			}

			result, err := limiter.Allow(ctx, key, cfg)
			if err != nil {
				LoggerFromContext(ctx).Error("rate limiter error, allowing request", "key", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			if !result.Allowed {
				LoggerFromContext(ctx).Warn("rate limit exceeded",
					"key", key,
					"retry_after", result.RetryAfter,
				)
				if metrics != nil {
					metrics.RateLimitedTotal.Inc()
				}
				seconds := int(result.RetryAfter.Seconds())
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				writeJSONRPCError(w, http.StatusTooManyRequests, wire.CodeRateLimited, "rate limit exceeded")
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			next.ServeHTTP(w, r)
		})
	}
}

// RealIPMiddleware extracts the client's real IP address for rate limiting.
// Only the first IP in X-Forwarded-For is trusted.
// The IP is stored in context using IPAddressKey.
func RealIPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := extractRealIP(r)
		ctx := context.WithValue(r.Context(), IPAddressKey, ip)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractRealIP extracts the client's real IP address from the request.
func extractRealIP(r *http.Request) string {
	// Format: X-Forwarded-For: client, proxy1, proxy2
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
