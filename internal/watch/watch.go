// Package watch upserts files from a local directory as they appear or
// change. Events are debounced per path so a file still being written is
// uploaded once, after it settles.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/gdrive-upsert/internal/drive"
)

// Watcher error backoff, so a flood of watcher errors cannot spin the loop.
const (
	watchErrInitBackoff = 1 * time.Second
	watchErrMaxBackoff  = 30 * time.Second
	watchErrBackoffMult = 2

	defaultDebounce = 2 * time.Second
	readyQueueSize  = 256
)

// FileUploader upserts one local file.
type FileUploader interface {
	UploadFile(ctx context.Context, path, name string) (*drive.Result, error)
}

// FsWatcher is the subset of *fsnotify.Watcher the loop needs.
type FsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWatcher struct {
	w *fsnotify.Watcher
}

func (f fsnotifyWatcher) Add(name string) error         { return f.w.Add(name) }
func (f fsnotifyWatcher) Close() error                  { return f.w.Close() }
func (f fsnotifyWatcher) Events() <-chan fsnotify.Event { return f.w.Events }
func (f fsnotifyWatcher) Errors() <-chan error          { return f.w.Errors }

func newFsnotifyWatcher() (FsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return fsnotifyWatcher{w: w}, nil
}

// Options configure a Watcher.
type Options struct {
	// Patterns are shell globs matched case-insensitively against base names.
	// Empty matches every file.
	Patterns []string
	Debounce time.Duration
	Parallel int
	// InitialScan uploads matching files already present at start.
	InitialScan bool
	// OnResult, if set, is called after every upload attempt.
	OnResult func(path string, res *drive.Result, err error)
}

// Stats counts upload outcomes.
type Stats struct {
	Uploaded int64
	Failed   int64
}

// Watcher watches one directory.
type Watcher struct {
	uploader FileUploader
	opts     Options
	logger   *slog.Logger

	newWatcher func() (FsWatcher, error)

	mu      sync.Mutex
	pending map[string]*debounced
	gen     uint64

	uploaded atomic.Int64
	failed   atomic.Int64
}

// New creates a Watcher.
func New(up FileUploader, opts Options, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}

	if opts.Parallel <= 0 {
		opts.Parallel = 1
	}

	for _, p := range opts.Patterns {
		if _, err := filepath.Match(p, ""); err != nil {
			return nil, fmt.Errorf("watch: bad pattern %q: %w", p, err)
		}
	}

	return &Watcher{
		uploader:   up,
		opts:       opts,
		logger:     logger,
		newWatcher: newFsnotifyWatcher,
		pending:    make(map[string]*debounced),
	}, nil
}

// Stats returns the outcome counters so far.
func (w *Watcher) Stats() Stats {
	return Stats{Uploaded: w.uploaded.Load(), Failed: w.failed.Load()}
}

// Run watches dir until ctx ends, then lets uploads already in flight finish.
// Paths still waiting for their debounce are dropped. Upload failures are
// logged and counted; they do not stop the watch.
func (w *Watcher) Run(ctx context.Context, dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("watch: %s is not a directory", dir)
	}

	fsw, err := w.newWatcher()
	if err != nil {
		return fmt.Errorf("watch: creating watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("watch: watching %s: %w", dir, err)
	}

	w.logger.Info("watching directory",
		slog.String("dir", dir),
		slog.Any("patterns", w.opts.Patterns),
		slog.Duration("debounce", w.opts.Debounce),
	)

	// runCtx also ends when the watcher closes its channels.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ready := make(chan string, readyQueueSize)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		w.dispatch(gctx, ready)
		return nil
	})

	if w.opts.InitialScan {
		if err := w.scan(runCtx, dir, ready); err != nil {
			w.logger.Warn("initial scan failed", slog.String("error", err.Error()))
		}
	}

	w.loop(runCtx, fsw, ready)
	w.stopTimers()
	cancel()

	if err := g.Wait(); err != nil {
		return err
	}

	w.logger.Info("watch stopped",
		slog.Int64("uploaded", w.uploaded.Load()),
		slog.Int64("failed", w.failed.Load()),
	)

	return nil
}

// loop is the fsnotify select loop.
func (w *Watcher) loop(ctx context.Context, fsw FsWatcher, ready chan<- string) {
	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-fsw.Events():
			if !ok {
				return
			}

			w.handleEvent(ctx, ev, ready)

			errBackoff = watchErrInitBackoff

		case watchErr, ok := <-fsw.Errors():
			if !ok {
				return
			}

			w.logger.Warn("filesystem watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			if sleepErr := timeSleep(ctx, errBackoff); sleepErr != nil {
				return
			}

			errBackoff *= watchErrBackoffMult
			if errBackoff > watchErrMaxBackoff {
				errBackoff = watchErrMaxBackoff
			}
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, ev fsnotify.Event, ready chan<- string) {
	// Mode changes alone do not change content.
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	if !w.Matches(filepath.Base(ev.Name)) {
		return
	}

	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		w.schedule(ctx, ev.Name, ready)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.cancel(ev.Name)
	}
}

// debounced is a path waiting for its quiet period. gen identifies the
// timer that owns the entry; a timer whose entry was replaced or removed
// does nothing when it fires.
type debounced struct {
	timer *time.Timer
	gen   uint64
}

// schedule (re)starts the debounce timer for path.
func (w *Watcher) schedule(ctx context.Context, path string, ready chan<- string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if d, ok := w.pending[path]; ok {
		d.timer.Stop()
	}

	w.gen++
	gen := w.gen

	w.pending[path] = &debounced{
		gen:   gen,
		timer: time.AfterFunc(w.opts.Debounce, func() { w.fire(ctx, path, gen, ready) }),
	}
}

// fire queues path if the timer identified by gen still owns its entry.
func (w *Watcher) fire(ctx context.Context, path string, gen uint64, ready chan<- string) {
	w.mu.Lock()

	d, ok := w.pending[path]
	if !ok || d.gen != gen {
		w.mu.Unlock()
		return
	}

	delete(w.pending, path)
	w.mu.Unlock()

	select {
	case ready <- path:
	case <-ctx.Done():
	}
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if d, ok := w.pending[path]; ok {
		d.timer.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for path, d := range w.pending {
		d.timer.Stop()
		delete(w.pending, path)
	}
}

// dispatch uploads ready paths on a bounded pool until ctx ends, then
// waits for the uploads in flight. Uploads do not see ctx's cancellation.
func (w *Watcher) dispatch(ctx context.Context, ready <-chan string) {
	var pool errgroup.Group
	pool.SetLimit(w.opts.Parallel)

	uploadCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			_ = pool.Wait() //nolint:errcheck // workers never return errors
			return
		case path := <-ready:
			pool.Go(func() error {
				w.upload(uploadCtx, path)
				return nil
			})
		}
	}
}

func (w *Watcher) upload(ctx context.Context, path string) {
	name := norm.NFC.String(filepath.Base(path))

	res, err := w.uploader.UploadFile(ctx, path, name)
	if err != nil {
		w.failed.Add(1)

		if !errors.Is(err, context.Canceled) {
			w.logger.Error("upload failed",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
	} else {
		w.uploaded.Add(1)
		w.logger.Info("uploaded",
			slog.String("path", path),
			slog.String("id", res.Resource.ID),
			slog.String("action", string(res.Action)),
		)
	}

	if w.opts.OnResult != nil {
		w.opts.OnResult(path, res, err)
	}
}

// scan queues every matching regular file directly inside dir.
func (w *Watcher) scan(ctx context.Context, dir string, ready chan<- string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if !e.Type().IsRegular() || !w.Matches(e.Name()) {
			continue
		}

		select {
		case ready <- filepath.Join(dir, e.Name()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// Matches reports whether a base name is eligible for upload.
func (w *Watcher) Matches(name string) bool {
	if isTemporary(name) {
		return false
	}

	if len(w.opts.Patterns) == 0 {
		return true
	}

	lower := strings.ToLower(name)

	for _, p := range w.opts.Patterns {
		if ok, _ := filepath.Match(strings.ToLower(p), lower); ok { //nolint:errcheck // patterns validated in New
			return true
		}
	}

	return false
}

// isTemporary matches partial downloads and editor scratch files.
func isTemporary(name string) bool {
	lower := strings.ToLower(name)

	for _, ext := range []string{".partial", ".tmp", ".swp", ".crdownload"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}

	return strings.HasPrefix(name, "~") || strings.HasPrefix(name, ".")
}

func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
