package auth

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tonimelisma/gdrive-upsert/internal/credential"
)

// Scope is the single OAuth scope requested: access to files this service
// account created or opened.
const Scope = "https://www.googleapis.com/auth/drive.file"

// AssertionLifetime is exp - iat for every assertion. The provider rejects
// lifetimes above one hour.
const AssertionLifetime = time.Hour

// GrantType is the grant_type form value for the JWT-Bearer grant.
const GrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// header is the JOSE header. Field order is the serialization order.
type header struct {
	Algorithm string `json:"alg"`
	Type      string `json:"typ"`
}

// Claims is the assertion payload.
type Claims struct {
	Issuer    string `json:"iss"`
	Scope     string `json:"scope"`
	Audience  string `json:"aud"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// Assertion is a signed JWT ready to be exchanged. It is single-use.
type Assertion struct {
	Token  string // header.payload.signature
	Claims Claims
}

// ExpiresAt returns the assertion's exp claim as a time.
func (a Assertion) ExpiresAt() time.Time {
	return time.Unix(a.Claims.ExpiresAt, 0)
}

// BuildAssertion signs a fresh assertion for sa at the given instant. It has
// no side effects; pass a fixed now for reproducible claims.
func BuildAssertion(sa *credential.ServiceAccount, now time.Time) (Assertion, error) {
	key, ok := sa.SigningKey().(*rsa.PrivateKey)
	if !ok {
		return Assertion{}, &SigningError{Err: fmt.Errorf("need an RSA key, got %T", sa.SigningKey())}
	}

	claims := Claims{
		Issuer:    sa.IssuerEmail(),
		Scope:     Scope,
		Audience:  sa.TokenEndpoint(),
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(AssertionLifetime).Unix(),
	}

	headerJSON, err := json.Marshal(header{Algorithm: "RS256", Type: "JWT"})
	if err != nil {
		return Assertion{}, fmt.Errorf("auth: encoding header: %w", err)
	}

	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return Assertion{}, fmt.Errorf("auth: encoding claims: %w", err)
	}

	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) + "." +
		base64.RawURLEncoding.EncodeToString(claimsJSON)

	sig, err := signRS256(key, signingInput)
	if err != nil {
		return Assertion{}, &SigningError{Err: err}
	}

	return Assertion{
		Token:  signingInput + "." + base64.RawURLEncoding.EncodeToString(sig),
		Claims: claims,
	}, nil
}

func signRS256(key *rsa.PrivateKey, signingInput string) ([]byte, error) {
	digest := sha256.Sum256([]byte(signingInput))

	return rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
}

// VerifyAssertion checks an RS256 token against pub and returns its claims.
func VerifyAssertion(token string, pub *rsa.PublicKey) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Claims{}, errors.New("auth: assertion must have three segments")
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return Claims{}, fmt.Errorf("auth: decoding signature: %w", err)
	}

	digest := sha256.Sum256([]byte(parts[0] + "." + parts[1]))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		return Claims{}, fmt.Errorf("auth: verifying signature: %w", err)
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Claims{}, fmt.Errorf("auth: decoding payload: %w", err)
	}

	var c Claims
	if err := json.Unmarshal(payload, &c); err != nil {
		return Claims{}, fmt.Errorf("auth: decoding claims: %w", err)
	}

	return c, nil
}
