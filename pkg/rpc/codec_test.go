package rpc

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

func TestRequestRoundTrip(t *testing.T) {
	req, err := NewRequest(7, "hasRole", map[string]string{"user": "alice", "role": "trader"})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}

	data, err := EncodeMessage(req)
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	msg, err := DecodeMessage(data)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	got, ok := msg.(*jsonrpc.Request)
	if !ok {
		t.Fatalf("expected *jsonrpc.Request, got %T", msg)
	}
	if got.Method != "hasRole" {
		t.Errorf("method = %q", got.Method)
	}
	var params map[string]string
	if err := json.Unmarshal(got.Params, &params); err != nil {
		t.Fatal(err)
	}
	if params["user"] != "alice" {
		t.Errorf("params = %v", params)
	}
}

func TestDecodeResult(t *testing.T) {
	id, _ := jsonrpc.MakeID(float64(1))

	resp, err := NewResult(id, map[string]bool{"has_role": true})
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]bool
	if err := DecodeResult(resp, &out); err != nil {
		t.Fatalf("DecodeResult: %v", err)
	}
	if !out["has_role"] {
		t.Errorf("out = %v", out)
	}

	errResp := NewError(id, CodeMissingRole, "missing required role")
	data, err := EncodeMessage(errResp)
	if err != nil {
		t.Fatal(err)
	}
	msg, err := DecodeMessage(data)
	if err != nil {
		t.Fatal(err)
	}
	err = DecodeResult(msg.(*jsonrpc.Response), nil)
	var callErr *CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("DecodeResult error = %v, want *CallError", err)
	}
	if callErr.Code != CodeMissingRole || callErr.Message != "missing required role" {
		t.Errorf("CallError = %+v", callErr)
	}
}

func TestMarshalError(t *testing.T) {
	var resp ErrorResponse
	if err := json.Unmarshal(MarshalError(CodeParseError, "Parse error"), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.JSONRPC != "2.0" || resp.ID != nil || resp.Error.Code != CodeParseError {
		t.Errorf("resp = %+v", resp)
	}
}
