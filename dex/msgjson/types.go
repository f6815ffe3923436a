// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package msgjson is the JSON envelope of the RPC server.
package msgjson

import (
	"encoding/json"
	"errors"
	"fmt"

	"decred.org/mmswap/dex"
)

// Error codes
const (
	RPCErrorUnspecified = iota // 0
	RPCParseError              // 1
	RPCUnknownRoute            // 2
	RPCInternal                // 3
	RPCArgumentsError          // 4
	RPCOrderError              // 5
	RPCUnknownOrder            // 6
	RPCNotCancellable          // 7
	RPCBalanceError            // 8
	RPCUnknownCoin             // 9
)

var errNullRespPayload = errors.New("null response payload")

// Bytes is the hex-encoded byte slice type.
type Bytes = dex.Bytes

// Error is returned as part of the Response to indicate that an error
// occurred during method execution.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error returns the error message. Satisfies the error interface.
func (e *Error) Error() string {
	return e.String()
}

// String satisfies the Stringer interface for pretty printing.
func (e Error) String() string {
	return fmt.Sprintf("error code %d: %s", e.Code, e.Message)
}

// NewError is a constructor for an Error.
func NewError(code int, format string, a ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, a...),
	}
}

// Request is an RPC call. Params is decoded by the method's handler.
type Request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// NewRequest encodes the params and creates a *Request.
func NewRequest(method string, params any) (*Request, error) {
	if method == "" {
		return nil, errors.New("empty method")
	}
	req := &Request{Method: method}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		req.Params = b
	}
	return req, nil
}

// DecodeRequest decodes a *Request from JSON-formatted bytes.
func DecodeRequest(b []byte) (*Request, error) {
	req := new(Request)
	if err := json.Unmarshal(b, req); err != nil {
		return nil, err
	}
	if req.Method == "" {
		return nil, errors.New("no method")
	}
	return req, nil
}

// Unmarshal decodes the params into v. Absent or null params leave v
// untouched.
func (req *Request) Unmarshal(v any) error {
	if len(req.Params) == 0 || string(req.Params) == "null" {
		return nil
	}
	return json.Unmarshal(req.Params, v)
}

// ResponsePayload is the response to a Request.
type ResponsePayload struct {
	// Result is the payload, if successful, else nil.
	Result json.RawMessage `json:"result,omitempty"`
	// Error is the error, or nil if none was encountered.
	Error *Error `json:"error,omitempty"`
}

// NewResponse encodes the result and creates a *ResponsePayload.
func NewResponse(result any, rpcErr *Error) (*ResponsePayload, error) {
	resp := &ResponsePayload{Error: rpcErr}
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return nil, err
		}
		resp.Result = b
	}
	return resp, nil
}

// DecodeResponse decodes a *ResponsePayload from JSON-formatted bytes.
func DecodeResponse(b []byte) (*ResponsePayload, error) {
	var resp *ResponsePayload
	if err := json.Unmarshal(b, &resp); err != nil {
		return nil, err
	}
	if resp == nil /* null JSON */ {
		return nil, errNullRespPayload
	}
	return resp, nil
}

// UnmarshalResult decodes the Result into v, or returns the Error.
func (resp *ResponsePayload) UnmarshalResult(v any) error {
	if resp.Error != nil {
		return fmt.Errorf("rpc error: %w", resp.Error)
	}
	return json.Unmarshal(resp.Result, v)
}
