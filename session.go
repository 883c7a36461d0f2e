package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tonimelisma/gdrive-upsert/internal/auth"
	"github.com/tonimelisma/gdrive-upsert/internal/config"
	"github.com/tonimelisma/gdrive-upsert/internal/credential"
	"github.com/tonimelisma/gdrive-upsert/internal/drive"
	"github.com/tonimelisma/gdrive-upsert/internal/history"
	"github.com/tonimelisma/gdrive-upsert/internal/uploader"
)

// historyDirPermissions keeps the ledger private to its owner.
const historyDirPermissions = 0o700

// Session holds the authenticated clients for one command invocation.
type Session struct {
	Account  *credential.ServiceAccount
	Tokens   *auth.Source
	Client   *drive.Client
	Uploader *uploader.Uploader
	History  *history.Store // nil when history is disabled
	FolderID string

	logger *slog.Logger
}

// loadAccount reads the service-account secret from the configured file,
// or from the configured environment variable when no file is set.
func loadAccount(cfg *config.Resolved) (*credential.ServiceAccount, error) {
	if cfg.Credential.File != "" {
		return credential.LoadFile(cfg.Credential.File)
	}

	return credential.LoadEnv(cfg.Credential.Env)
}

// NewSession loads the credential and wires token source, Drive client and
// uploader. withHistory opens the ledger when it is enabled in config.
func NewSession(ctx context.Context, cfg *config.Resolved, logger *slog.Logger, withHistory bool) (*Session, error) {
	sa, err := loadAccount(cfg)
	if err != nil {
		return nil, err
	}

	httpClient := newHTTPClient(cfg)
	ua := userAgent(cfg)

	var opts []auth.SourceOption
	if !cfg.Credential.TokenCache {
		opts = append(opts, auth.WithoutCache())
	}

	tokens := auth.NewCache(auth.NewExchanger(httpClient, ua, logger), logger, opts...).Source(sa)
	client := drive.NewClient(cfg.Drive.APIURL, cfg.Drive.UploadURL, httpClient, tokens, logger, ua)

	s := &Session{
		Account:  sa,
		Tokens:   tokens,
		Client:   client,
		FolderID: cfg.Drive.FolderID,
		logger:   logger,
	}

	var rec uploader.Recorder

	if withHistory && cfg.History.Enabled {
		store, err := openHistory(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}

		s.History = store
		rec = store
	}

	s.Uploader = uploader.New(drive.NewDispatcher(client, client, logger), rec, uploader.Options{
		Parent:          cfg.Drive.FolderID,
		MaxSize:         cfg.MaxUploadSize,
		InitialInterval: cfg.RetryInitialInterval,
		MaxElapsed:      cfg.RetryMaxElapsed,
	}, logger)

	logger.Debug("session ready",
		slog.String("issuer", sa.IssuerEmail()),
		slog.String("folder", cfg.Drive.FolderID),
		slog.Bool("history", s.History != nil),
	)

	return s, nil
}

func openHistory(ctx context.Context, cfg *config.Resolved, logger *slog.Logger) (*history.Store, error) {
	if cfg.HistoryPath == "" {
		return nil, fmt.Errorf("cannot determine history database path; set [history] db_path")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.HistoryPath), historyDirPermissions); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	return history.Open(ctx, cfg.HistoryPath, logger)
}

// Close releases the history database, if open.
func (s *Session) Close() {
	if s.History == nil {
		return
	}

	if err := s.History.Close(); err != nil {
		s.logger.Warn("closing history database", slog.String("error", err.Error()))
	}
}
