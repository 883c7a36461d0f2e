// Package testutil provides shared test helpers: throwaway signing keys,
// service-account secrets built from them, and environment loading for the
// live e2e suite. It depends only on stdlib so that E2E tests (which cannot
// import internal/) can use it.
package testutil

import (
	"bufio"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// testKeyBits keeps generated keys valid for RS256 while staying fast.
const testKeyBits = 2048

var (
	rsaOnce sync.Once
	rsaKey  *rsa.PrivateKey
	rsaErr  error
)

// RSAKey returns a process-wide RSA key. Generating one per test would make
// the suite noticeably slower for no extra coverage.
func RSAKey(tb testing.TB) *rsa.PrivateKey {
	tb.Helper()

	rsaOnce.Do(func() {
		rsaKey, rsaErr = rsa.GenerateKey(rand.Reader, testKeyBits)
	})

	if rsaErr != nil {
		tb.Fatalf("generating RSA key: %v", rsaErr)
	}

	return rsaKey
}

// ECKey returns a fresh P-256 key, used to exercise non-RSA rejection.
func ECKey(tb testing.TB) *ecdsa.PrivateKey {
	tb.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		tb.Fatalf("generating EC key: %v", err)
	}

	return key
}

// PKCS8PEM encodes any supported private key as a "PRIVATE KEY" PEM block.
func PKCS8PEM(tb testing.TB, key any) string {
	tb.Helper()

	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		tb.Fatalf("marshaling PKCS#8 key: %v", err)
	}

	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

// PKCS1PEM encodes an RSA key as an "RSA PRIVATE KEY" PEM block.
func PKCS1PEM(key *rsa.PrivateKey) string {
	der := x509.MarshalPKCS1PrivateKey(key)

	return string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}))
}

// ServiceAccountJSON renders a service-account secret in the provider's key
// file layout. tokenURI may be empty to exercise the default endpoint.
func ServiceAccountJSON(tb testing.TB, keyPEM, email, tokenURI string) []byte {
	tb.Helper()

	doc := map[string]string{
		"type":           "service_account",
		"project_id":     "test-project",
		"private_key_id": "test-key-id",
		"private_key":    keyPEM,
		"client_email":   email,
		"client_id":      "1234567890",
	}

	if tokenURI != "" {
		doc["token_uri"] = tokenURI
	}

	data, err := json.Marshal(doc)
	if err != nil {
		tb.Fatalf("marshaling service account JSON: %v", err)
	}

	return data
}

// LoadDotEnv reads KEY=VALUE pairs from a .env file at the given path.
// Missing file is not an error (CI sets env vars directly).
// Existing env vars take precedence over .env values.
func LoadDotEnv(envPath string) {
	f, err := os.Open(envPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = strings.Trim(value, "\"'")

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}
