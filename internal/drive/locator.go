package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

const (
	lookupFields = "files(id,name)"
	listFields   = "nextPageToken,files(id,name)"
)

// FindByName returns the ID of the live file called name directly under
// parent. A missing file is found == false with a nil error. More than one
// match is ErrDuplicateName: the folder is already inconsistent and no
// match can be picked safely.
func (c *Client) FindByName(ctx context.Context, name, parent string) (string, bool, error) {
	c.logger.Debug("looking up file",
		slog.String("name", name),
		slog.String("parent", parent),
	)

	files, _, err := c.listPage(ctx, listPath(nameQuery(name, parent), lookupFields, ""))
	if err != nil {
		return "", false, &LookupError{Name: name, Parent: parent, Kind: kindOf(ctx, err), Err: err}
	}

	switch len(files) {
	case 0:
		return "", false, nil
	case 1:
		return files[0].ID, true, nil
	default:
		ids := make([]string, len(files))
		for i := range files {
			ids[i] = files[i].ID
		}

		c.logger.Warn("duplicate names in folder",
			slog.String("name", name),
			slog.String("parent", parent),
			slog.String("ids", strings.Join(ids, ",")),
		)

		return "", false, &LookupError{
			Name:   name,
			Parent: parent,
			Kind:   ErrDuplicateName,
			Err:    fmt.Errorf("%d files share the name: %s", len(files), strings.Join(ids, ", ")),
		}
	}
}

// List returns every live file directly under parent, following pagination.
func (c *Client) List(ctx context.Context, parent string) ([]Resource, error) {
	c.logger.Info("listing folder", slog.String("parent", parent))

	var (
		out       []Resource
		pageToken string
		page      = 1
	)

	for {
		files, next, err := c.listPage(ctx, listPath(parentQuery(parent), listFields, pageToken))
		if err != nil {
			return nil, fmt.Errorf("drive: listing %s: %w", parent, err)
		}

		for _, f := range files {
			out = append(out, Resource{ID: f.ID, Name: f.Name, Parent: parent})
		}

		c.logger.Debug("fetched list page",
			slog.Int("page", page),
			slog.Int("count", len(files)),
		)

		if next == "" {
			break
		}

		pageToken = next
		page++
	}

	c.logger.Info("listed folder",
		slog.String("parent", parent),
		slog.Int("total_files", len(out)),
	)

	return out, nil
}

// listPage fetches one files.list page.
func (c *Client) listPage(ctx context.Context, path string) ([]fileEntry, string, error) {
	resp, err := c.Do(ctx, http.MethodGet, path)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		if ctx.Err() != nil {
			return nil, "", fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
		}

		return nil, "", fmt.Errorf("%w: decoding files list: %w", ErrMalformedResponse, err)
	}

	if lr.Files == nil {
		return nil, "", fmt.Errorf("%w: files list has no files array", ErrMalformedResponse)
	}

	for i, f := range *lr.Files {
		if f.ID == "" {
			return nil, "", fmt.Errorf("%w: files[%d] has no id", ErrMalformedResponse, i)
		}
	}

	return *lr.Files, lr.NextPageToken, nil
}
