// Package credential loads the service-account identity used to sign
// JWT-Bearer assertions. A ServiceAccount is built once at startup and passed
// explicitly to every component that needs it; nothing here is global.
package credential

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
)

// DefaultTokenEndpoint is used when the secret carries no token_uri.
const DefaultTokenEndpoint = "https://oauth2.googleapis.com/token"

// DefaultEnvVar is the environment variable the CLI reads the secret from.
const DefaultEnvVar = "GDRIVE_CRED"

// ServiceAccount is the immutable issuer identity: signing key, issuer email
// and token endpoint. Fields are unexported so a loaded value cannot be
// mutated by its consumers.
type ServiceAccount struct {
	signingKey    crypto.PrivateKey
	keyID         string
	issuerEmail   string
	tokenEndpoint string
}

// SigningKey returns the parsed private key. It is usually an *rsa.PrivateKey;
// PKCS#8 blobs may also carry EC or Ed25519 keys, which assertion signing rejects.
func (sa *ServiceAccount) SigningKey() crypto.PrivateKey { return sa.signingKey }

// KeyID returns the private_key_id field, or "" when absent.
func (sa *ServiceAccount) KeyID() string { return sa.keyID }

// IssuerEmail returns the client_email field.
func (sa *ServiceAccount) IssuerEmail() string { return sa.issuerEmail }

// TokenEndpoint returns the token endpoint URL.
func (sa *ServiceAccount) TokenEndpoint() string { return sa.tokenEndpoint }

// Identity is the cache key for tokens minted from this credential.
func (sa *ServiceAccount) Identity() string {
	return sa.issuerEmail + "|" + sa.tokenEndpoint
}

// New builds a ServiceAccount from already-parsed parts. Intended for callers
// that hold key material outside a JSON secret (and for tests).
func New(key crypto.PrivateKey, issuerEmail, tokenEndpoint string) (*ServiceAccount, error) {
	if key == nil {
		return nil, malformed("private_key", errors.New("missing"))
	}

	if strings.TrimSpace(issuerEmail) == "" {
		return nil, malformed("client_email", errors.New("missing"))
	}

	endpoint, err := normalizeEndpoint(tokenEndpoint)
	if err != nil {
		return nil, malformed("token_uri", err)
	}

	return &ServiceAccount{
		signingKey:    key,
		issuerEmail:   strings.TrimSpace(issuerEmail),
		tokenEndpoint: endpoint,
	}, nil
}

// secretFile mirrors the fields of a service-account JSON key we use.
// Other fields (project_id, client_id, ...) are ignored.
type secretFile struct {
	Type         string `json:"type"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	TokenURI     string `json:"token_uri"`
}

// Load parses a secret blob: either the service-account JSON document itself
// or its base64 encoding. Failures are *Error values wrapping ErrMalformed.
func Load(blob []byte) (*ServiceAccount, error) {
	doc, err := decodeBlob(blob)
	if err != nil {
		return nil, err
	}

	var sf secretFile
	if err := json.Unmarshal(doc, &sf); err != nil {
		return nil, malformed("json", err)
	}

	if strings.TrimSpace(sf.ClientEmail) == "" {
		return nil, malformed("client_email", errors.New("missing"))
	}

	if strings.TrimSpace(sf.PrivateKey) == "" {
		return nil, malformed("private_key", errors.New("missing"))
	}

	key, err := parsePrivateKey(sf.PrivateKey)
	if err != nil {
		return nil, malformed("private_key", err)
	}

	endpoint, err := normalizeEndpoint(sf.TokenURI)
	if err != nil {
		return nil, malformed("token_uri", err)
	}

	return &ServiceAccount{
		signingKey:    key,
		keyID:         sf.PrivateKeyID,
		issuerEmail:   strings.TrimSpace(sf.ClientEmail),
		tokenEndpoint: endpoint,
	}, nil
}

// LoadEnv reads the secret from the named environment variable.
// An unset or empty variable is ErrUnreadable.
func LoadEnv(name string) (*ServiceAccount, error) {
	raw, ok := os.LookupEnv(name)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, &Error{Kind: ErrUnreadable, Source: "env " + name, Err: errors.New("not set")}
	}

	sa, err := Load([]byte(raw))
	if err != nil {
		return nil, withSource(err, "env "+name)
	}

	return sa, nil
}

// LoadFile reads the secret from a file on disk.
func LoadFile(path string) (*ServiceAccount, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &Error{Kind: ErrUnreadable, Source: path, Err: errors.New("file does not exist")}
		}

		return nil, &Error{Kind: ErrUnreadable, Source: path, Err: err}
	}

	sa, err := Load(data)
	if err != nil {
		return nil, withSource(err, path)
	}

	return sa, nil
}

// decodeBlob returns the JSON document, base64-decoding it first when the
// blob does not look like JSON.
func decodeBlob(blob []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(blob)
	if len(trimmed) == 0 {
		return nil, malformed("secret", errors.New("empty"))
	}

	if trimmed[0] == '{' {
		return trimmed, nil
	}

	// Secrets pasted into env vars are often wrapped; strip whitespace first.
	compact := strings.Join(strings.Fields(string(trimmed)), "")

	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}

	for _, enc := range encodings {
		if doc, err := enc.DecodeString(compact); err == nil {
			return bytes.TrimSpace(doc), nil
		}
	}

	return nil, malformed("secret", errors.New("neither JSON nor base64"))
}

// parsePrivateKey accepts a PEM block holding a PKCS#8 or PKCS#1 key.
// Literal "\n" sequences (double-escaped secrets) are unescaped first.
func parsePrivateKey(raw string) (crypto.PrivateKey, error) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), `\n`, "\n")

	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, errors.New("invalid PEM block")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("unsupported private key format: %w", err)
	}

	return key, nil
}

func normalizeEndpoint(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultTokenEndpoint, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}

	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return "", fmt.Errorf("%q is not an absolute http(s) URL", raw)
	}

	return raw, nil
}

// IsRSA reports whether the credential holds an RSA key.
func (sa *ServiceAccount) IsRSA() bool {
	_, ok := sa.signingKey.(*rsa.PrivateKey)
	return ok
}
