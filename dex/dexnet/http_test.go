// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package dexnet

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/time/rate"
)

func TestErrorParsing(t *testing.T) {
	ctx := t.Context()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code": -150, "msg": "counter in the past"}`, http.StatusBadRequest)
	}))
	defer ts.Close()

	var errPayload struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := Get(ctx, ts.URL, nil, WithErrorParsing(&errPayload)); err == nil {
		t.Fatal("didn't get an http error")
	}
	if errPayload.Code != -150 || errPayload.Msg != "counter in the past" {
		t.Fatal("unexpected error body")
	}
}

func TestPostAndNotFound(t *testing.T) {
	ctx := t.Context()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		var in map[string]string
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(in["key"] + "!")
	}))
	defer ts.Close()

	var out string
	lim := rate.NewLimiter(100, 1)
	if err := Post(ctx, ts.URL, &out, map[string]string{"key": "value"}, WithLimiter(lim)); err != nil {
		t.Fatalf("Post error: %v", err)
	}
	if out != "value!" {
		t.Fatalf("wrong response %q", out)
	}
	if err := Get(ctx, ts.URL+"/missing", &out); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
