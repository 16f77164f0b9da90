// Package rpc provides the JSON-RPC 2.0 codec and error codes spoken by the
// aipolicy server, for the server itself and for Go clients.
package rpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Application error codes, one per policy rejection.
const (
	CodeUnauthorized           = -32001
	CodeMissingRole            = -32002
	CodeInsufficientConfidence = -32003
	CodeExcessiveRisk          = -32004
	CodeInvalidRange           = -32005
	CodeAlreadyInitialized     = -32006
	CodeNotInitialized         = -32007
	CodeRateLimited            = -32029
)

// EncodeMessage serializes a JSON-RPC message to its wire format.
func EncodeMessage(msg jsonrpc.Message) ([]byte, error) {
	return jsonrpc.EncodeMessage(msg)
}

// DecodeMessage parses wire data into a *jsonrpc.Request or *jsonrpc.Response.
func DecodeMessage(data []byte) (jsonrpc.Message, error) {
	return jsonrpc.DecodeMessage(data)
}

// NewRequest builds a call with a numeric id and params marshaled to JSON.
// A nil params omits the field.
func NewRequest(id int64, method string, params any) (*jsonrpc.Request, error) {
	rid, err := jsonrpc.MakeID(float64(id))
	if err != nil {
		return nil, err
	}
	req := &jsonrpc.Request{ID: rid, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = raw
	}
	return req, nil
}

// NewResult builds a successful response carrying v.
func NewResult(id jsonrpc.ID, v any) (*jsonrpc.Response, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &jsonrpc.Response{ID: id, Result: raw}, nil
}

// NewError builds an error response.
func NewError(id jsonrpc.ID, code int64, message string) *jsonrpc.Response {
	return &jsonrpc.Response{
		ID:    id,
		Error: &jsonrpc.Error{Code: code, Message: message},
	}
}

// ErrorResponse is the wire shape of an error response. It is used where the
// request id could not be parsed and must be written as null.
type ErrorResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      any         `json:"id"`
	Error   ErrorObject `json:"error"`
}

// ErrorObject is the error member of a response.
type ErrorObject struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

// MarshalError encodes an error response with a null id.
func MarshalError(code int64, message string) []byte {
	data, _ := json.Marshal(ErrorResponse{
		JSONRPC: "2.0",
		Error:   ErrorObject{Code: code, Message: message},
	})
	return data
}

// CallError is returned by clients when the server answers with an error.
type CallError struct {
	Code    int64
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// DecodeResult unmarshals a response's result into out, or returns a
// *CallError when the response carries an error.
func DecodeResult(resp *jsonrpc.Response, out any) error {
	if resp.Error != nil {
		var wire *jsonrpc.Error
		if errors.As(resp.Error, &wire) {
			return &CallError{Code: wire.Code, Message: wire.Message}
		}
		return &CallError{Code: CodeInternalError, Message: resp.Error.Error()}
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Result, out)
}
