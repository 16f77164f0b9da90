// Package stdio serves the JSON-RPC method table over stdin/stdout, one
// message per line, for a single locally configured caller.
package stdio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/Sentinel-Gate/aipolicy/internal/domain/auth"
)

// MessageHandler processes one raw JSON-RPC message on behalf of caller and
// returns the encoded response, or nil for notifications.
type MessageHandler interface {
	HandleMessage(ctx context.Context, caller auth.Identity, data []byte) []byte
}

// StdioTransport reads newline-delimited requests and writes one response
// line per request.
type StdioTransport struct {
	handler MessageHandler
	caller  auth.Identity
	in      io.Reader
	out     io.Writer
	logger  *slog.Logger

	mu sync.Mutex // serializes writes to out
}

// Option configures a StdioTransport.
type Option func(*StdioTransport)

// WithIO replaces os.Stdin and os.Stdout.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(t *StdioTransport) {
		t.in = in
		t.out = out
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *StdioTransport) {
		t.logger = logger
	}
}

// NewStdioTransport creates a stdio transport. Every message is attributed
// to caller; an empty caller can only use read-only methods.
func NewStdioTransport(handler MessageHandler, caller auth.Identity, opts ...Option) *StdioTransport {
	t := &StdioTransport{
		handler: handler,
		caller:  caller,
		in:      os.Stdin,
		out:     os.Stdout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start processes messages until the input closes or ctx is cancelled.
// EOF is a normal shutdown and returns nil.
func (t *StdioTransport) Start(ctx context.Context) error {
	logger := t.logger.With("transport", "stdio", "caller", t.caller.String())
	logger.Info("serving JSON-RPC on stdio")

	scanner := bufio.NewScanner(t.in)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024) // 1MB max

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp := t.handler.HandleMessage(ctx, t.caller, line)
		if resp == nil {
			continue
		}
		if err := t.write(resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read request: %w", err)
	}
	logger.Debug("stdin closed")
	return nil
}

func (t *StdioTransport) write(resp []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.out.Write(resp); err != nil {
		return err
	}
	_, err := t.out.Write([]byte("\n"))
	return err
}

// Close is a no-op; Start returns when stdin closes.
func (t *StdioTransport) Close() error {
	return nil
}
