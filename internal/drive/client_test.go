package drive

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/gdrive-upsert/testutil"
)

// noopSleep returns immediately, for fast tests.
func noopSleep(_ context.Context, _ time.Duration) error {
	return nil
}

// staticToken is a TokenSource that returns a fixed token.
type staticToken string

func (t staticToken) AccessToken(context.Context) (string, error) {
	return string(t), nil
}

// failingToken always fails.
type failingToken struct{ err error }

func (f failingToken) AccessToken(context.Context) (string, error) {
	return "", f.err
}

// rotatingToken hands out a stale token until invalidated.
type rotatingToken struct {
	invalidated atomic.Bool
}

func (r *rotatingToken) AccessToken(context.Context) (string, error) {
	if r.invalidated.Load() {
		return testutil.FakeToken, nil
	}

	return "stale", nil
}

func (r *rotatingToken) Invalidate() { r.invalidated.Store(true) }

// newTestClient points a Client at a plain httptest server.
func newTestClient(t *testing.T, url string) *Client {
	t.Helper()

	c := NewClient(url, url+"/upload", http.DefaultClient, staticToken("test-token"), nil, "test-agent")
	c.sleepFunc = noopSleep

	return c
}

// newFakeClient points a Client at a FakeDrive.
func newFakeClient(t *testing.T, fd *testutil.FakeDrive) *Client {
	t.Helper()

	c := NewClient(fd.APIURL(), fd.UploadURL(), http.DefaultClient, staticToken(testutil.FakeToken), nil, "test-agent")
	c.sleepFunc = noopSleep

	return c
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient("", "", nil, staticToken("x"), nil, "")

	assert.Equal(t, DefaultAPIURL, c.apiURL)
	assert.Equal(t, DefaultUploadURL, c.uploadURL)
	assert.Equal(t, http.DefaultClient, c.httpClient)
	assert.NotNil(t, c.logger)
}

func TestDo_SetsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := newTestClient(t, srv.URL).Do(t.Context(), http.MethodGet, "/about")
	require.NoError(t, err)
	resp.Body.Close()
}

func TestDo_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := newTestClient(t, srv.URL).Do(t.Context(), http.MethodGet, "/files")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"backend"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Do(t.Context(), http.MethodGet, "/files")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerError)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "backend")
	assert.Equal(t, int32(maxRetries+1), calls.Load())
}

func TestDo_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Do(t.Context(), http.MethodGet, "/files")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_RetryAfterHonored(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)

			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	var slept []time.Duration

	c.sleepFunc = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	resp, err := c.Do(t.Context(), http.MethodGet, "/files")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, []time.Duration{7 * time.Second}, slept)
}

func TestDo_NetworkErrorBecomesTransport(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestClient(t, url).Do(t.Context(), http.MethodGet, "/files")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.True(t, IsRetryable(err))
}

func TestDo_TokenFailureNotRetried(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	tokenErr := errors.New("no access token")
	c := NewClient(srv.URL, srv.URL, nil, failingToken{err: tokenErr}, nil, "")
	c.sleepFunc = noopSleep

	_, err := c.Do(t.Context(), http.MethodGet, "/files")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.ErrorIs(t, err, tokenErr)
	assert.Equal(t, int32(0), calls.Load())
}

func TestDo_ReauthenticatesOnceAfter401(t *testing.T) {
	fd := testutil.NewFakeDrive(t)
	tok := &rotatingToken{}

	c := NewClient(fd.APIURL(), fd.UploadURL(), nil, tok, nil, "")
	c.sleepFunc = noopSleep

	_, found, err := c.FindByName(t.Context(), "x.jpg", "folder")
	require.NoError(t, err)
	assert.False(t, found)
	assert.True(t, tok.invalidated.Load())
	assert.Len(t, fd.Requests(), 2)
}

func TestDo_CanceledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.sleepFunc = timeSleep

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Do(ctx, http.MethodGet, "/files")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCanceled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, IsRetryable(err))
}

func TestCalcBackoff_Bounds(t *testing.T) {
	c := newTestClient(t, "http://unused")

	for attempt := range 10 {
		d := c.calcBackoff(attempt)
		assert.Positive(t, d)
		assert.LessOrEqual(t, d, time.Duration(float64(maxBackoff)*(1+jitterFraction)))
	}
}
