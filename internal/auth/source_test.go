package auth

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// countingExchanger issues tokens without a network and counts calls.
type countingExchanger struct {
	calls atomic.Int32
	ttl   time.Duration
	err   error

	// gate, when set, blocks every exchange until it is closed or ctx ends.
	gate chan struct{}
}

func (c *countingExchanger) Exchange(ctx context.Context, a Assertion, _ string) (*oauth2.Token, error) {
	n := c.calls.Add(1)

	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return nil, &TokenError{Kind: ErrCanceled, Err: ctx.Err()}
		}
	}

	if c.err != nil {
		return nil, c.err
	}

	return &oauth2.Token{
		AccessToken: "tok-" + string(rune('0'+n)),
		Expiry:      time.Unix(a.Claims.IssuedAt, 0).Add(c.ttl),
	}, nil
}

func newTestSource(t *testing.T, ex exchanger, opts ...SourceOption) (*Source, *time.Time) {
	t.Helper()

	now := fixedNow
	s := newSource(testAccount(t, ""), ex, nil, opts...)
	s.nowFunc = func() time.Time { return now }

	return s, &now
}

func TestSource_CachesUntilLeeway(t *testing.T) {
	ex := &countingExchanger{ttl: time.Hour}
	s, now := newTestSource(t, ex)

	tok1, err := s.Token(t.Context())
	require.NoError(t, err)

	tok2, err := s.Token(t.Context())
	require.NoError(t, err)

	assert.Same(t, tok1, tok2)
	assert.Equal(t, int32(1), ex.calls.Load())

	// Inside the leeway window the token counts as expired.
	*now = fixedNow.Add(time.Hour - expiryLeeway + time.Second)

	tok3, err := s.Token(t.Context())
	require.NoError(t, err)
	assert.NotEqual(t, tok1.AccessToken, tok3.AccessToken)
	assert.Equal(t, int32(2), ex.calls.Load())
}

func TestSource_WithoutCache(t *testing.T) {
	ex := &countingExchanger{ttl: time.Hour}
	s, _ := newTestSource(t, ex, WithoutCache())

	for range 3 {
		_, err := s.Token(t.Context())
		require.NoError(t, err)
	}

	assert.Equal(t, int32(3), ex.calls.Load())
}

func TestSource_Invalidate(t *testing.T) {
	ex := &countingExchanger{ttl: time.Hour}
	s, _ := newTestSource(t, ex)

	_, err := s.Token(t.Context())
	require.NoError(t, err)

	s.Invalidate()

	_, err = s.Token(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int32(2), ex.calls.Load())
}

func TestSource_ConcurrentMissesShareOneExchange(t *testing.T) {
	ex := &countingExchanger{ttl: time.Hour, gate: make(chan struct{})}
	s, _ := newTestSource(t, ex)

	const n = 16

	var wg sync.WaitGroup

	tokens := make([]string, n)
	errs := make([]error, n)

	for i := range n {
		wg.Add(1)

		go func() {
			defer wg.Done()

			tokens[i], errs[i] = s.AccessToken(t.Context())
		}()
	}

	// Let the flight start, then release it.
	require.Eventually(t, func() bool { return ex.calls.Load() == 1 }, time.Second, time.Millisecond)
	close(ex.gate)
	wg.Wait()

	for i := range n {
		require.NoError(t, errs[i])
		assert.Equal(t, tokens[0], tokens[i])
	}

	assert.Equal(t, int32(1), ex.calls.Load())
}

func TestSource_FollowerRetriesAfterLeaderCanceled(t *testing.T) {
	ex := &countingExchanger{ttl: time.Hour, gate: make(chan struct{})}
	s, _ := newTestSource(t, ex)

	leaderCtx, cancelLeader := context.WithCancel(t.Context())

	leaderErr := make(chan error, 1)

	go func() {
		_, err := s.Token(leaderCtx)
		leaderErr <- err
	}()

	require.Eventually(t, func() bool { return ex.calls.Load() == 1 }, time.Second, time.Millisecond)

	followerTok := make(chan string, 1)

	go func() {
		tok, err := s.AccessToken(t.Context())
		assert.NoError(t, err)
		followerTok <- tok
	}()

	cancelLeader()
	assert.ErrorIs(t, <-leaderErr, ErrCanceled)

	// The follower flies again; let that second exchange through.
	require.Eventually(t, func() bool { return ex.calls.Load() == 2 }, time.Second, time.Millisecond)
	close(ex.gate)

	assert.NotEmpty(t, <-followerTok)
}

func TestSource_PropagatesExchangeError(t *testing.T) {
	ex := &countingExchanger{err: &TokenError{Kind: ErrNoAccessToken, StatusCode: 200}}
	s, _ := newTestSource(t, ex)

	_, err := s.Token(t.Context())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoAccessToken)

	// Failures are not cached.
	_, err = s.Token(t.Context())
	require.Error(t, err)
	assert.Equal(t, int32(2), ex.calls.Load())
}

func TestCache_OneSourcePerIdentity(t *testing.T) {
	c := NewCache(NewExchanger(nil, "", nil), nil)

	sa1 := testAccount(t, "")
	sa2 := testAccount(t, "")
	sa3 := testAccount(t, "https://example.test/token")

	assert.Same(t, c.Source(sa1), c.Source(sa2))
	assert.NotSame(t, c.Source(sa1), c.Source(sa3))
}
