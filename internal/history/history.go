// Package history keeps a local ledger of completed upserts in SQLite.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	sqlInsertUpload = `INSERT INTO uploads
		(id, file_id, name, parent, action, size, sha256, source, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlRecentUploads = `SELECT id, file_id, name, parent, action, size, sha256, source, uploaded_at
		FROM uploads ORDER BY uploaded_at DESC, rowid DESC LIMIT ?`

	sqlLatestForName = `SELECT id, file_id, name, parent, action, size, sha256, source, uploaded_at
		FROM uploads WHERE parent = ? AND name = ?
		ORDER BY uploaded_at DESC, rowid DESC LIMIT 1`
)

// ErrNotFound is returned by Latest when nothing was recorded for a name.
var ErrNotFound = errors.New("history: no record")

// Entry is one completed upsert.
type Entry struct {
	ID         string    `json:"id"`
	FileID     string    `json:"file_id"`
	Name       string    `json:"name"`
	Parent     string    `json:"parent"`
	Action     string    `json:"action"`
	Size       int64     `json:"size"`
	SHA256     string    `json:"sha256"`
	Source     string    `json:"source,omitempty"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Store is the sole writer to the history database.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// Open opens (creating if needed) the database at dbPath and migrates it.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"+
			"&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("history store opened", slog.String("db_path", dbPath))

	return &Store{db: db, logger: logger, nowFunc: time.Now}, nil
}

func migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("history: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("history: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("history: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts e, filling ID and UploadedAt when unset, and returns the
// stored entry.
func (s *Store) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}

	if e.UploadedAt.IsZero() {
		e.UploadedAt = s.nowFunc()
	}

	_, err := s.db.ExecContext(ctx, sqlInsertUpload,
		e.ID, e.FileID, e.Name, e.Parent, e.Action, e.Size, e.SHA256, e.Source, e.UploadedAt.UnixNano(),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("history: recording upload of %s: %w", e.Name, err)
	}

	return e, nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, sqlRecentUploads, limit)
	if err != nil {
		return nil, fmt.Errorf("history: querying uploads: %w", err)
	}
	defer rows.Close()

	var out []Entry

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterating uploads: %w", err)
	}

	return out, nil
}

// Latest returns the newest entry for (parent, name), or ErrNotFound.
func (s *Store) Latest(ctx context.Context, parent, name string) (Entry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx, sqlLatestForName, parent, name))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}

	return e, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e  Entry
		at int64
	)

	if err := row.Scan(&e.ID, &e.FileID, &e.Name, &e.Parent, &e.Action, &e.Size, &e.SHA256, &e.Source, &at); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}

		return Entry{}, fmt.Errorf("history: scanning upload row: %w", err)
	}

	e.UploadedAt = time.Unix(0, at)

	return e, nil
}
