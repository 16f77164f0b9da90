package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/goleak"

	"github.com/Sentinel-Gate/aipolicy/internal/adapter/inbound/rpc"
	"github.com/Sentinel-Gate/aipolicy/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/auth"
	"github.com/Sentinel-Gate/aipolicy/internal/service"
	wire "github.com/Sentinel-Gate/aipolicy/pkg/rpc"
)

type rpcReply struct {
	Result json.RawMessage   `json:"result"`
	Error  *wire.ErrorObject `json:"error"`
}

type server struct {
	t       *testing.T
	handler http.Handler
	nextID  int
}

func newServer(t *testing.T, opts ...Option) *server {
	t.Helper()
	logger := discardLogger()

	store := memory.NewAuthStore()
	for _, id := range []auth.Identity{"owner", "oracle", "alice"} {
		store.AddPrincipal(&auth.Principal{ID: id, Name: string(id)})
		store.AddKey(&auth.APIKey{Key: auth.HashKey(string(id) + "-key"), IdentityID: id, Name: string(id)})
	}

	buffer := memory.NewNotificationBuffer(100)
	engine := service.NewPolicyEngine(memory.NewRoleStore(), memory.NewParameterStore(), memory.NewAuditLog(), buffer, logger)
	dispatcher := rpc.NewDispatcher(engine, buffer, logger)

	opts = append([]Option{
		WithLogger(logger),
		WithAuthenticator(auth.NewAuthenticator(store, nil)),
		WithHealthChecker(NewHealthChecker(engine, nil, nil, "test")),
	}, opts...)
	transport := NewHTTPTransport(dispatcher, opts...)
	return &server{t: t, handler: transport.Handler()}
}

func (s *server) post(credential, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *server) call(credential, method, params string) rpcReply {
	s.t.Helper()
	s.nextID++
	rec := s.post(credential, fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":%q,"params":%s}`, s.nextID, method, params))
	if rec.Code != http.StatusOK {
		s.t.Fatalf("%s: status %d: %s", method, rec.Code, rec.Body.String())
	}
	var reply rpcReply
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		s.t.Fatalf("%s: decode %q: %v", method, rec.Body.String(), err)
	}
	return reply
}

func (s *server) ok(credential, method, params string) json.RawMessage {
	s.t.Helper()
	reply := s.call(credential, method, params)
	if reply.Error != nil {
		s.t.Fatalf("%s: error %d: %s", method, reply.Error.Code, reply.Error.Message)
	}
	return reply.Result
}

func (s *server) fails(credential, method, params string, code int64) {
	s.t.Helper()
	reply := s.call(credential, method, params)
	if reply.Error == nil {
		s.t.Fatalf("%s succeeded, want error %d", method, code)
	}
	if reply.Error.Code != code {
		s.t.Fatalf("%s: error %d (%s), want %d", method, reply.Error.Code, reply.Error.Message, code)
	}
}

func TestHTTPTransport_TradeScenario(t *testing.T) {
	s := newServer(t)

	s.ok("owner-key", "init", `{"oracle":"oracle"}`)
	s.ok("owner-key", "grantRole", `{"user":"alice","role":"TRADER"}`)
	s.ok("alice-key", "executeAction", `{"roleRequired":"TRADER","action":"buy"}`)
	s.fails("alice-key", "executeAction", `{"roleRequired":"ADMIN","action":"wipe"}`, wire.CodeMissingRole)
	s.fails("alice-key", "grantRole", `{"user":"alice","role":"ADMIN"}`, wire.CodeUnauthorized)

	var roles struct {
		User  string   `json:"user"`
		Roles []string `json:"roles"`
	}
	if err := json.Unmarshal(s.ok("", "getRoles", `{"user":"alice"}`), &roles); err != nil {
		t.Fatal(err)
	}
	if len(roles.Roles) != 1 || roles.Roles[0] != "TRADER" {
		t.Errorf("roles = %v, want [TRADER]", roles.Roles)
	}
}

func TestHTTPTransport_AnonymousMutationRejected(t *testing.T) {
	s := newServer(t)
	s.ok("owner-key", "init", `{"oracle":"oracle"}`)

	s.fails("", "grantRole", `{"user":"alice","role":"TRADER"}`, wire.CodeUnauthorized)
	s.ok("", "getParameters", `{}`)
}

func TestHTTPTransport_InvalidCredential(t *testing.T) {
	s := newServer(t)
	rec := s.post("stolen-key", `{"jsonrpc":"2.0","id":1,"method":"getParameters"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestHTTPTransport_RequestHandling(t *testing.T) {
	s := newServer(t)

	t.Run("notification is accepted", func(t *testing.T) {
		rec := s.post("", `{"jsonrpc":"2.0","method":"getParameters"}`)
		if rec.Code != http.StatusAccepted {
			t.Errorf("status = %d, want 202", rec.Code)
		}
		if rec.Body.Len() != 0 {
			t.Errorf("body = %q, want empty", rec.Body.String())
		}
	})

	t.Run("parse error", func(t *testing.T) {
		rec := s.post("", `{not json`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var reply rpcReply
		if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
			t.Fatal(err)
		}
		if reply.Error == nil || reply.Error.Code != wire.CodeParseError {
			t.Errorf("error = %+v, want parse error", reply.Error)
		}
	})

	t.Run("wrong method", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rpc", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want 405", rec.Code)
		}
	})

	t.Run("preflight", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/rpc", nil))
		if rec.Code != http.StatusNoContent {
			t.Errorf("status = %d, want 204", rec.Code)
		}
	})

	t.Run("wrong content type", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "text/plain")
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnsupportedMediaType {
			t.Errorf("status = %d, want 415", rec.Code)
		}
	})

	t.Run("body too large", func(t *testing.T) {
		rec := s.post("", `{"pad":"`+strings.Repeat("x", maxRequestBody)+`"}`)
		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("status = %d, want 413", rec.Code)
		}
	})
}

func TestHTTPTransport_Endpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := newServer(t, WithMetrics(reg, NewMetrics(reg)))
	s.ok("owner-key", "init", `{"oracle":"oracle"}`)

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/health status = %d, want 200", rec.Code)
	}
	var health HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatal(err)
	}
	if health.Checks["audit_trail"] != "ok" {
		t.Errorf("audit_trail = %q, want ok", health.Checks["audit_trail"])
	}

	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `aipolicy_requests_total{method="POST",status="ok"} 1`) {
		t.Errorf("/metrics missing request counter:\n%s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/favicon.ico", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("/favicon.ico status = %d, want 204", rec.Code)
	}
}

func TestHTTPTransport_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	transport := NewHTTPTransport(nil, WithAddr("127.0.0.1:0"), WithLogger(discardLogger()))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- transport.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestHTTPTransport_CloseBeforeStart(t *testing.T) {
	transport := NewHTTPTransport(nil)
	if err := transport.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
}
