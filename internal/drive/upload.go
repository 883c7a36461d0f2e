package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// createMetadata is the metadata part of a create. parents is a list on the
// wire even though a file here always has exactly one.
type createMetadata struct {
	Name    string   `json:"name"`
	Parents []string `json:"parents"`
}

// updateMetadata is the metadata part of an update. It has no parents field
// so the file never moves.
type updateMetadata struct {
	Name string `json:"name"`
}

// Create uploads content as a new file called name under parent.
func (c *Client) Create(ctx context.Context, content []byte, name, parent string) (*Resource, error) {
	c.logger.Info("creating file",
		slog.String("name", name),
		slog.String("parent", parent),
		slog.Int("size", len(content)),
	)

	endpoint := c.uploadURL + "/files?uploadType=multipart"

	wr, err := c.writeMultipart(ctx, http.MethodPost, endpoint, createMetadata{Name: name, Parents: []string{parent}}, content)
	if err != nil {
		return nil, &UploadError{Op: "create", Name: name, Parent: parent, Kind: kindOf(ctx, err), Err: err}
	}

	return &Resource{ID: wr.ID, Name: nameOr(wr.Name, name), Parent: parent}, nil
}

// Update replaces the content of file id in place, keeping its parent.
func (c *Client) Update(ctx context.Context, id string, content []byte, name string) (*Resource, error) {
	c.logger.Info("updating file",
		slog.String("id", id),
		slog.String("name", name),
		slog.Int("size", len(content)),
	)

	endpoint := c.uploadURL + "/files/" + url.PathEscape(id) + "?uploadType=multipart"

	wr, err := c.writeMultipart(ctx, http.MethodPatch, endpoint, updateMetadata{Name: name}, content)
	if err != nil {
		return nil, &UploadError{Op: "update", Name: name, ID: id, Kind: kindOf(ctx, err), Err: err}
	}

	return &Resource{ID: nameOr(wr.ID, id), Name: nameOr(wr.Name, name)}, nil
}

// writeMultipart sends one multipart/related write. Writes are not retried
// here: a create that timed out may still have landed, and only a fresh
// lookup can tell.
func (c *Client) writeMultipart(ctx context.Context, method, endpoint string, metadata any, content []byte) (*writeResponse, error) {
	body, contentType, err := encodeMultipart(metadata, content)
	if err != nil {
		return nil, err
	}

	reauthed := false

	for {
		resp, err := c.send(ctx, method, endpoint, contentType, body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
			}

			if errors.Is(err, ErrUnauthenticated) {
				return nil, err
			}

			c.logger.Error("upload request failed",
				slog.String("method", method),
				slog.String("error", err.Error()),
			)

			return nil, fmt.Errorf("%w: %w", ErrTransport, err)
		}

		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			apiErr := readAPIError(resp)

			// A rejected token means nothing was written, so one resend is safe.
			if resp.StatusCode == http.StatusUnauthorized && !reauthed && c.invalidateToken() {
				reauthed = true

				continue
			}

			c.logger.Warn("upload rejected",
				slog.String("method", method),
				slog.Int("status", apiErr.StatusCode),
			)

			return nil, apiErr
		}

		var wr writeResponse

		decErr := json.NewDecoder(resp.Body).Decode(&wr)
		resp.Body.Close()

		if decErr != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
			}

			return nil, fmt.Errorf("%w: decoding upload response: %w", ErrMalformedResponse, decErr)
		}

		if wr.ID == "" && method == http.MethodPost {
			return nil, fmt.Errorf("%w: upload response has no id", ErrMalformedResponse)
		}

		return &wr, nil
	}
}

// encodeMultipart renders the two-part multipart/related body: JSON
// metadata first, then the raw content.
func encodeMultipart(metadata any, content []byte) ([]byte, string, error) {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return nil, "", fmt.Errorf("drive: encoding metadata: %w", err)
	}

	var buf bytes.Buffer

	mw := multipart.NewWriter(&buf)
	if err := mw.SetBoundary("upsert-" + strings.ReplaceAll(uuid.NewString(), "-", "")); err != nil {
		return nil, "", fmt.Errorf("drive: setting boundary: %w", err)
	}

	parts := []struct {
		contentType string
		data        []byte
	}{
		{"application/json; charset=UTF-8", meta},
		{"application/octet-stream", content},
	}

	for _, p := range parts {
		w, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {p.contentType}})
		if err != nil {
			return nil, "", fmt.Errorf("drive: creating part: %w", err)
		}

		if _, err := w.Write(p.data); err != nil {
			return nil, "", fmt.Errorf("drive: writing part: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("drive: closing multipart body: %w", err)
	}

	return buf.Bytes(), "multipart/related; boundary=" + mw.Boundary(), nil
}

func nameOr(got, fallback string) string {
	if got == "" {
		return fallback
	}

	return got
}
