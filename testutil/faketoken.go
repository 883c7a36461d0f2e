package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// FakeTokenServer is a token endpoint that grants FakeToken to any
// well-formed jwt-bearer request.
type FakeTokenServer struct {
	Server *httptest.Server

	calls atomic.Int64
}

// NewFakeTokenServer starts a FakeTokenServer that is closed when tb ends.
func NewFakeTokenServer(tb testing.TB) *FakeTokenServer {
	tb.Helper()

	ts := &FakeTokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(ts.serve))
	tb.Cleanup(ts.Server.Close)

	return ts
}

// URL is the token endpoint to put in a service-account secret.
func (ts *FakeTokenServer) URL() string { return ts.Server.URL + "/token" }

// Calls returns how many exchanges were served.
func (ts *FakeTokenServer) Calls() int64 { return ts.calls.Load() }

func (ts *FakeTokenServer) serve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/token" {
		http.NotFound(w, r)
		return
	}

	if err := r.ParseForm(); err != nil ||
		r.PostForm.Get("grant_type") != "urn:ietf:params:oauth:grant-type:jwt-bearer" ||
		r.PostForm.Get("assertion") == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	ts.calls.Add(1)

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": FakeToken,
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
}
