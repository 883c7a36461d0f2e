package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/tonimelisma/gdrive-upsert/internal/credential"
)

// expiryLeeway treats tokens this close to expiry as already expired, so a
// token is never handed out just before the server would reject it.
const expiryLeeway = 30 * time.Second

// exchanger is the consumer-side view of Exchanger, so tests can count calls.
type exchanger interface {
	Exchange(ctx context.Context, a Assertion, tokenEndpoint string) (*oauth2.Token, error)
}

// Source mints access tokens for one service account. With caching enabled,
// a valid token is read without locking and concurrent misses share a
// single sign-and-exchange round trip.
type Source struct {
	sa        *credential.ServiceAccount
	exchanger exchanger
	cache     bool
	logger    *slog.Logger

	current atomic.Pointer[oauth2.Token]
	group   singleflight.Group

	nowFunc func() time.Time
}

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithoutCache makes every Token call sign and exchange a fresh assertion.
func WithoutCache() SourceOption {
	return func(s *Source) { s.cache = false }
}

// NewSource creates a caching token source for sa.
func NewSource(sa *credential.ServiceAccount, ex *Exchanger, logger *slog.Logger, opts ...SourceOption) *Source {
	return newSource(sa, ex, logger, opts...)
}

func newSource(sa *credential.ServiceAccount, ex exchanger, logger *slog.Logger, opts ...SourceOption) *Source {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Source{
		sa:        sa,
		exchanger: ex,
		cache:     true,
		logger:    logger,
		nowFunc:   time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Token returns a bearer token valid for at least expiryLeeway.
func (s *Source) Token(ctx context.Context) (*oauth2.Token, error) {
	if !s.cache {
		return s.fetch(ctx)
	}

	if tok := s.current.Load(); s.fresh(tok) {
		return tok, nil
	}

	for {
		ch := s.group.DoChan(s.sa.Identity(), func() (any, error) {
			// Another flight may have landed between our Load and DoChan.
			if tok := s.current.Load(); s.fresh(tok) {
				return tok, nil
			}

			tok, err := s.fetch(ctx)
			if err != nil {
				return nil, err
			}

			s.current.Store(tok)

			return tok, nil
		})

		select {
		case <-ctx.Done():
			return nil, &TokenError{Kind: ErrCanceled, Err: ctx.Err()}
		case res := <-ch:
			if res.Err == nil {
				tok, _ := res.Val.(*oauth2.Token) //nolint:errcheck // the flight only returns tokens

				return tok, nil
			}

			// A shared flight led by a caller whose context ended says
			// nothing about ours; fly again.
			if errors.Is(res.Err, ErrCanceled) && ctx.Err() == nil {
				s.logger.Debug("shared token refresh was canceled by its leader, retrying")

				continue
			}

			return nil, res.Err
		}
	}
}

// AccessToken adapts Source to the drive client's string-token interface.
func (s *Source) AccessToken(ctx context.Context) (string, error) {
	tok, err := s.Token(ctx)
	if err != nil {
		return "", err
	}

	return tok.AccessToken, nil
}

// Invalidate drops the cached token, e.g. after the API answered 401.
func (s *Source) Invalidate() {
	s.current.Store(nil)
}

func (s *Source) fresh(tok *oauth2.Token) bool {
	if tok == nil || tok.AccessToken == "" {
		return false
	}

	return s.nowFunc().Add(expiryLeeway).Before(tok.Expiry)
}

func (s *Source) fetch(ctx context.Context) (*oauth2.Token, error) {
	a, err := BuildAssertion(s.sa, s.nowFunc())
	if err != nil {
		return nil, err
	}

	tok, err := s.exchanger.Exchange(ctx, a, s.sa.TokenEndpoint())
	if err != nil {
		s.logger.Warn("token acquisition failed",
			slog.String("issuer", s.sa.IssuerEmail()),
			slog.String("error", err.Error()),
		)

		return nil, err
	}

	s.logger.Debug("token acquired",
		slog.String("issuer", s.sa.IssuerEmail()),
		slog.Time("expiry", tok.Expiry),
	)

	return tok, nil
}

// Cache hands out one Source per credential identity so every upsert signed
// by the same service account shares its token.
type Cache struct {
	exchanger *Exchanger
	logger    *slog.Logger
	opts      []SourceOption

	mu      sync.Mutex
	sources map[string]*Source
}

// NewCache creates an empty Cache. opts apply to every Source it creates.
func NewCache(ex *Exchanger, logger *slog.Logger, opts ...SourceOption) *Cache {
	return &Cache{
		exchanger: ex,
		logger:    logger,
		opts:      opts,
		sources:   make(map[string]*Source),
	}
}

// Source returns the shared Source for sa, creating it on first use.
func (c *Cache) Source(sa *credential.ServiceAccount) *Source {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.sources[sa.Identity()]; ok {
		return s
	}

	s := NewSource(sa, c.exchanger, c.logger, c.opts...)
	c.sources[sa.Identity()] = s

	return s
}
