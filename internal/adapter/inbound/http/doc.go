// Package http provides the HTTP transport for the policy engine.
//
// The transport exposes the JSON-RPC method table of the rpc package on a
// single endpoint, identifies the caller from a bearer credential, and
// applies per-caller rate limits.
//
// # Usage
//
//	transport := http.NewHTTPTransport(dispatcher,
//	    http.WithAddr("127.0.0.1:8547"),
//	    http.WithAuthenticator(authenticator),
//	    http.WithRateLimit(limiter, ratelimit.Config{Rate: 50, Burst: 10, Period: time.Second}),
//	    http.WithLogger(logger),
//	)
//	err := transport.Start(ctx)
//
// # Endpoints
//
//	POST /rpc     - JSON-RPC 2.0 request, JSON-RPC response
//	GET  /health  - component health (503 when degraded)
//	GET  /metrics - Prometheus metrics
//
// # Request Headers
//
//	Authorization: Bearer <api-key or JWT> - caller identity; optional for views
//	X-Request-ID: <id>                     - correlation id, generated when absent
//
// # Errors
//
// Policy rejections are JSON-RPC errors with HTTP status 200:
//
//	-32001 unauthorized
//	-32002 missing role
//	-32003 insufficient confidence
//	-32004 excessive risk
//	-32005 threshold out of range
//
// Invalid credentials are answered with 401, rate limited callers with 429
// and a Retry-After header.
package http
