package drive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

// Download streams the content of file id to w and returns the bytes
// written. Only the request is retried; a stream that breaks midway is
// reported to the caller, who owns w.
func (c *Client) Download(ctx context.Context, id string, w io.Writer) (int64, error) {
	c.logger.Info("downloading file", slog.String("id", id))

	resp, err := c.Do(ctx, http.MethodGet, "/files/"+url.PathEscape(id)+"?alt=media")
	if err != nil {
		return 0, fmt.Errorf("drive: downloading %s: %w", id, err)
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		c.logger.Error("streaming download content failed",
			slog.String("id", id),
			slog.String("error", err.Error()),
			slog.Int64("bytes_before_error", n),
		)

		if ctx.Err() != nil {
			return n, fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
		}

		return n, fmt.Errorf("%w: streaming %s: %w", ErrTransport, id, err)
	}

	c.logger.Debug("download complete",
		slog.String("id", id),
		slog.Int64("bytes_written", n),
	)

	return n, nil
}
