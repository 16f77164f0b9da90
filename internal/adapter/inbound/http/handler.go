package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/Sentinel-Gate/aipolicy/internal/domain/auth"
	wire "github.com/Sentinel-Gate/aipolicy/pkg/rpc"
)

// maxRequestBody limits POST bodies to 1MB.
const maxRequestBody = 1 << 20

// MessageHandler processes one raw JSON-RPC message on behalf of caller and
// returns the encoded response, or nil for notifications.
type MessageHandler interface {
	HandleMessage(ctx context.Context, caller auth.Identity, data []byte) []byte
}

// rpcHandler serves POST /rpc.
func rpcHandler(handler MessageHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
		case http.MethodOptions:
			w.Header().Set("Allow", "POST, OPTIONS")
			w.WriteHeader(http.StatusNoContent)
			return
		default:
			w.Header().Set("Allow", "POST, OPTIONS")
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		contentType := r.Header.Get("Content-Type")
		if contentType != "" && !strings.HasPrefix(contentType, "application/json") {
			writeJSONRPCError(w, http.StatusUnsupportedMediaType, wire.CodeInvalidRequest, "Content-Type must be application/json")
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSONRPCError(w, http.StatusRequestEntityTooLarge, wire.CodeInvalidRequest, "request body too large")
				return
			}
			writeJSONRPCError(w, http.StatusBadRequest, wire.CodeParseError, "failed to read request body")
			return
		}

		resp := handler.HandleMessage(r.Context(), CallerFromContext(r.Context()), body)
		if resp == nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(resp)
	})
}

// writeJSONRPCError writes a JSON-RPC error response with a null id.
func writeJSONRPCError(w http.ResponseWriter, status int, code int64, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(wire.MarshalError(code, message))
}

// healthHandler is the fallback /health handler when no checker is configured.
func healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})
}
