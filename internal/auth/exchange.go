package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// maxTokenResponseBytes bounds how much of a token response is read.
const maxTokenResponseBytes = 1 << 20

// Exchanger posts assertions to a token endpoint. It does not retry;
// callers own the retry policy.
type Exchanger struct {
	httpClient *http.Client
	userAgent  string
	logger     *slog.Logger

	// nowFunc stamps token expiry. Tests pin it.
	nowFunc func() time.Time
}

// NewExchanger creates an Exchanger. A nil httpClient uses http.DefaultClient.
func NewExchanger(httpClient *http.Client, userAgent string, logger *slog.Logger) *Exchanger {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Exchanger{
		httpClient: httpClient,
		userAgent:  userAgent,
		logger:     logger,
		nowFunc:    time.Now,
	}
}

// tokenResponse is the subset of the token endpoint JSON we read.
// ExpiresIn is a json.Number because some servers send it as a string.
type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresIn   json.Number `json:"expires_in"`
}

// Exchange trades a signed assertion for an access token. A response without
// access_token is ErrNoAccessToken even on HTTP 200; the provider reports
// grant errors that way.
func (e *Exchanger) Exchange(ctx context.Context, a Assertion, tokenEndpoint string) (*oauth2.Token, error) {
	form := url.Values{}
	form.Set("grant_type", GrantType)
	form.Set("assertion", a.Token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &TokenError{Kind: ErrTransport, Err: fmt.Errorf("creating request: %w", err)}
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	if e.userAgent != "" {
		req.Header.Set("User-Agent", e.userAgent)
	}

	e.logger.Debug("exchanging assertion",
		slog.String("endpoint", tokenEndpoint),
		slog.String("issuer", a.Claims.Issuer),
	)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &TokenError{Kind: ErrCanceled, Err: ctx.Err()}
		}

		return nil, &TokenError{Kind: ErrTransport, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, &TokenError{Kind: ErrCanceled, StatusCode: resp.StatusCode, Err: ctx.Err()}
		}

		return nil, &TokenError{Kind: ErrTransport, StatusCode: resp.StatusCode, Err: fmt.Errorf("reading body: %w", err)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		e.logger.Warn("token endpoint returned non-JSON body",
			slog.Int("status", resp.StatusCode),
		)

		return nil, &TokenError{
			Kind:       ErrTransport,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			Err:        fmt.Errorf("decoding response: %w", err),
		}
	}

	if tr.AccessToken == "" {
		e.logger.Warn("token endpoint response has no access_token",
			slog.Int("status", resp.StatusCode),
		)

		return nil, &TokenError{
			Kind:       ErrNoAccessToken,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	tok := &oauth2.Token{
		AccessToken: tr.AccessToken,
		TokenType:   tr.TokenType,
		Expiry:      e.expiry(tr.ExpiresIn, a),
	}

	e.logger.Debug("access token issued",
		slog.Int("status", resp.StatusCode),
		slog.Time("expiry", tok.Expiry),
	)

	return tok, nil
}

// expiry derives the token deadline from expires_in, falling back to the
// assertion's own exp when the field is absent or unusable.
func (e *Exchanger) expiry(expiresIn json.Number, a Assertion) time.Time {
	if expiresIn != "" {
		if secs, err := expiresIn.Int64(); err == nil && secs > 0 {
			return e.nowFunc().Add(time.Duration(secs) * time.Second)
		}
	}

	return a.ExpiresAt()
}
