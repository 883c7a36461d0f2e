// Package uploader reads local files and upserts them with retries,
// recording each success in the history ledger.
package uploader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/gdrive-upsert/internal/auth"
	"github.com/tonimelisma/gdrive-upsert/internal/drive"
	"github.com/tonimelisma/gdrive-upsert/internal/history"
)

// ErrTooLarge means the file exceeds the configured upload limit.
var ErrTooLarge = errors.New("uploader: file too large")

// Upserter performs one create-or-update.
type Upserter interface {
	Upsert(ctx context.Context, content []byte, name, parent string) (*drive.Result, error)
}

// Recorder stores completed upserts. May be nil.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) (history.Entry, error)
}

// Options tune an Uploader.
type Options struct {
	Parent          string
	MaxSize         int64 // 0 means unlimited
	InitialInterval time.Duration
	MaxElapsed      time.Duration
}

// Uploader drives upserts for a single parent folder.
type Uploader struct {
	upserter Upserter
	recorder Recorder
	opts     Options
	logger   *slog.Logger

	newBackOff func() backoff.BackOff
}

// New creates an Uploader. rec may be nil to disable history.
func New(up Upserter, rec Recorder, opts Options, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}

	u := &Uploader{upserter: up, recorder: rec, opts: opts, logger: logger}
	u.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		if opts.InitialInterval > 0 {
			b.InitialInterval = opts.InitialInterval
		}

		if opts.MaxElapsed > 0 {
			b.MaxElapsedTime = opts.MaxElapsed
		}

		return b
	}

	return u
}

// Retryable reports whether a failed upsert is worth repeating: transport
// failures from lookup, upload or token exchange. Everything else is final.
func Retryable(err error) bool {
	if errors.Is(err, drive.ErrUnauthenticated) {
		return auth.IsRetryable(err)
	}

	return drive.IsRetryable(err)
}

// UploadFile upserts the file at path under name, which defaults to the
// file's base name.
func (u *Uploader) UploadFile(ctx context.Context, path, name string) (*drive.Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("uploader: %w", err)
	}

	if info.IsDir() {
		return nil, fmt.Errorf("uploader: %s is a directory", path)
	}

	if u.opts.MaxSize > 0 && info.Size() > u.opts.MaxSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrTooLarge, path, info.Size(), u.opts.MaxSize)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("uploader: reading %s: %w", path, err)
	}

	if name == "" {
		name = filepath.Base(path)
	}

	return u.upload(ctx, content, name, path)
}

// Upload upserts content under name.
func (u *Uploader) Upload(ctx context.Context, content []byte, name string) (*drive.Result, error) {
	return u.upload(ctx, content, name, "")
}

func (u *Uploader) upload(ctx context.Context, content []byte, name, source string) (*drive.Result, error) {
	// Composed and decomposed spellings must map to one remote file.
	name = norm.NFC.String(name)

	var (
		res      *drive.Result
		lastErr  error
		attempts int
	)

	op := func() error {
		attempts++

		r, err := u.upserter.Upsert(ctx, content, name, u.opts.Parent)
		if err != nil {
			lastErr = err
			if !Retryable(err) {
				return backoff.Permanent(err)
			}

			return err
		}

		res = r

		return nil
	}

	notify := func(err error, wait time.Duration) {
		u.logger.Warn("upsert failed, retrying",
			slog.String("name", name),
			slog.Int("attempt", attempts),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()),
		)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(u.newBackOff(), ctx), notify); err != nil {
		if ctx.Err() != nil && !errors.Is(err, drive.ErrCanceled) {
			if lastErr != nil {
				return nil, fmt.Errorf("%w after %d attempts: %w (last error: %v)", drive.ErrCanceled, attempts, ctx.Err(), lastErr)
			}

			return nil, fmt.Errorf("%w: %w", drive.ErrCanceled, ctx.Err())
		}

		return nil, err
	}

	u.record(ctx, res, content, source)

	return res, nil
}

// record stores a success. A failure here is logged, never returned: the
// remote write already happened.
func (u *Uploader) record(ctx context.Context, res *drive.Result, content []byte, source string) {
	if u.recorder == nil {
		return
	}

	sum := sha256.Sum256(content)

	_, err := u.recorder.Record(ctx, history.Entry{
		FileID: res.Resource.ID,
		Name:   res.Resource.Name,
		Parent: res.Resource.Parent,
		Action: string(res.Action),
		Size:   int64(len(content)),
		SHA256: hex.EncodeToString(sum[:]),
		Source: source,
	})
	if err != nil {
		u.logger.Warn("recording upload history failed",
			slog.String("name", res.Resource.Name),
			slog.String("error", err.Error()),
		)
	}
}
