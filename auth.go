package main

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/gdrive-upsert/internal/auth"
)

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Check the service-account credential",
		Long: `Load the service-account secret, sign an assertion, check the signature
against the key's public half and exchange it for an access token. Prints the
issuer and the token expiry. The token itself is never printed.`,
		Args: cobra.NoArgs,
		RunE: runWhoami,
	}
}

// whoamiJSON is the JSON output schema of whoami.
type whoamiJSON struct {
	Issuer        string    `json:"issuer"`
	KeyID         string    `json:"key_id,omitempty"`
	KeyType       string    `json:"key_type"`
	TokenEndpoint string    `json:"token_endpoint"`
	Folder        string    `json:"folder"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger := buildLogger()

	s, err := NewSession(ctx, resolvedCfg, logger, false)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := selfCheck(s); err != nil {
		return err
	}

	tok, err := s.Tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("exchanging assertion: %w", err)
	}

	info := whoamiJSON{
		Issuer:        s.Account.IssuerEmail(),
		KeyID:         s.Account.KeyID(),
		KeyType:       "RSA",
		TokenEndpoint: s.Account.TokenEndpoint(),
		Folder:        s.FolderID,
		ExpiresAt:     tok.Expiry.UTC(),
	}

	if flagJSON {
		return printJSON(cmd.OutOrStdout(), info)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Issuer:         %s\n", info.Issuer)

	if info.KeyID != "" {
		fmt.Fprintf(out, "Key ID:         %s\n", info.KeyID)
	}

	fmt.Fprintf(out, "Key type:       %s\n", info.KeyType)
	fmt.Fprintf(out, "Token endpoint: %s\n", info.TokenEndpoint)
	fmt.Fprintf(out, "Folder:         %s\n", info.Folder)
	fmt.Fprintf(out, "Token expires:  %s (in %s)\n",
		info.ExpiresAt.Format(time.RFC3339), time.Until(info.ExpiresAt).Round(time.Second))

	return nil
}

// selfCheck signs a throwaway assertion and verifies it locally so a bad key
// is reported before anything is sent to the token endpoint.
func selfCheck(s *Session) error {
	if !s.Account.IsRSA() {
		return &auth.SigningError{Err: fmt.Errorf("need an RSA key, got %T", s.Account.SigningKey())}
	}

	a, err := auth.BuildAssertion(s.Account, time.Now())
	if err != nil {
		return err
	}

	key := s.Account.SigningKey().(*rsa.PrivateKey) //nolint:forcetypeassert // IsRSA checked above
	if _, err := auth.VerifyAssertion(a.Token, &key.PublicKey); err != nil {
		return fmt.Errorf("signed assertion does not verify: %w", err)
	}

	return nil
}
