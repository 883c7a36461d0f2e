package drive

import (
	"context"
	"fmt"
	"log/slog"
)

// Locator finds a file by name in a folder.
type Locator interface {
	FindByName(ctx context.Context, name, parent string) (id string, found bool, err error)
}

// Writer creates and updates files.
type Writer interface {
	Create(ctx context.Context, content []byte, name, parent string) (*Resource, error)
	Update(ctx context.Context, id string, content []byte, name string) (*Resource, error)
}

// Dispatcher performs create-or-update writes. Upserts of the same
// (parent, name) are serialized so that two callers can never both see
// "not found" and both create.
type Dispatcher struct {
	locator Locator
	writer  Writer
	locks   *KeyedMutex
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher. A *Client satisfies both interfaces.
func NewDispatcher(locator Locator, writer Writer, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		locator: locator,
		writer:  writer,
		locks:   NewKeyedMutex(),
		logger:  logger,
	}
}

// Upsert leaves exactly one file called name under parent holding content.
// A failed lookup aborts before any write.
func (d *Dispatcher) Upsert(ctx context.Context, content []byte, name, parent string) (*Result, error) {
	unlock, err := d.locks.Lock(ctx, lockKey(parent, name))
	if err != nil {
		return nil, &UploadError{
			Op: "lock", Name: name, Parent: parent, Kind: ErrCanceled,
			Err: fmt.Errorf("waiting for concurrent upload of the same name: %w", err),
		}
	}
	defer unlock()

	id, found, err := d.locator.FindByName(ctx, name, parent)
	if err != nil {
		return nil, err
	}

	var (
		res    *Resource
		action Action
	)

	if found {
		action = ActionUpdated

		res, err = d.writer.Update(ctx, id, content, name)
		if err != nil {
			return nil, err
		}

		// Updates never move the file.
		res.Parent = parent
	} else {
		action = ActionCreated

		res, err = d.writer.Create(ctx, content, name, parent)
		if err != nil {
			return nil, err
		}
	}

	d.logger.Info("upsert complete",
		slog.String("name", name),
		slog.String("parent", parent),
		slog.String("id", res.ID),
		slog.String("action", string(action)),
	)

	return &Result{Resource: *res, Action: action, Size: len(content)}, nil
}

// lockKey joins parent and name with a byte that cannot appear in either.
func lockKey(parent, name string) string {
	return parent + "\x00" + name
}
