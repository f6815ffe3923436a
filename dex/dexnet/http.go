// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package dexnet has JSON-over-HTTP helpers shared by the chain RPC clients.
package dexnet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultResponseSizeLimit = 1 << 22 // 4 MiB, blocks can be large
	defaultTimeout           = 30 * time.Second
)

// ErrNotFound is returned for HTTP 404 responses.
var ErrNotFound = errors.New("not found")

// RequestOption are optional arguments to Get, Post, or Do.
type RequestOption struct {
	responseSizeLimit int64
	header            *[2]string
	errThing          any
	limiter           *rate.Limiter
}

// WithSizeLimit sets a size limit for a response.
func WithSizeLimit(limit int64) *RequestOption {
	return &RequestOption{responseSizeLimit: limit}
}

// WithRequestHeader adds a header entry to the request.
func WithRequestHeader(k, v string) *RequestOption {
	h := [2]string{k, v}
	return &RequestOption{header: &h}
}

// WithErrorParsing adds parsing of response bodies for HTTP error responses.
func WithErrorParsing(thing any) *RequestOption {
	return &RequestOption{errThing: thing}
}

// WithLimiter waits on the limiter before sending the request.
func WithLimiter(l *rate.Limiter) *RequestOption {
	return &RequestOption{limiter: l}
}

// Post performs an HTTP POST of the JSON encoding of body. If thing is
// non-nil, the response will be JSON-unmarshaled into thing.
func Post(ctx context.Context, uri string, thing, body any, opts ...*RequestOption) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("error encoding request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("error constructing request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return Do(req, thing, opts...)
}

// Get performs an HTTP GET request. If thing is non-nil, the response will
// be JSON-unmarshaled into thing.
func Get(ctx context.Context, uri string, thing any, opts ...*RequestOption) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return fmt.Errorf("error constructing request: %w", err)
	}
	return Do(req, thing, opts...)
}

var client = &http.Client{Timeout: defaultTimeout}

// Do does the request and JSON-unmarshals the result into thing, if non-nil.
func Do(req *http.Request, thing any, opts ...*RequestOption) error {
	var sizeLimit int64 = defaultResponseSizeLimit
	var errThing any
	for _, opt := range opts {
		switch {
		case opt.responseSizeLimit > 0:
			sizeLimit = opt.responseSizeLimit
		case opt.header != nil:
			h := *opt.header
			req.Header.Add(h[0], h[1])
		case opt.errThing != nil:
			errThing = opt.errThing
		case opt.limiter != nil:
			if err := opt.limiter.Wait(req.Context()); err != nil {
				return fmt.Errorf("rate limiter: %w", err)
			}
		}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("error performing request: %w", err)
	}
	defer resp.Body.Close()
	reader := io.LimitReader(resp.Body, sizeLimit)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", req.URL.Path, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		if errThing != nil {
			if err = json.NewDecoder(reader).Decode(errThing); err != nil {
				return fmt.Errorf("HTTP error: %q (code %d). error encountered parsing error body: %w", resp.Status, resp.StatusCode, err)
			}
		}
		return fmt.Errorf("HTTP error: %q (code %d)", resp.Status, resp.StatusCode)
	}
	if thing == nil {
		return nil
	}
	if err = json.NewDecoder(reader).Decode(thing); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}
