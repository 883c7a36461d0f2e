package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/gdrive-upsert/internal/drive"
)

func newUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <local-path> [name]",
		Short: "Create or replace a file in the Drive folder",
		Long: `Upload a local file into the configured Drive folder. If a file with the
same name already exists there its content is replaced, otherwise a new file
is created. The name defaults to the local file's base name.

Prints the Drive file id.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runUpload,
	}
}

// uploadJSON is the JSON output schema of upload.
type uploadJSON struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Parent string `json:"parent"`
	Action string `json:"action"`
	Size   int    `json:"size"`
}

func runUpload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := buildLogger()

	localPath := args[0]

	name := ""
	if len(args) > 1 {
		name = args[1]
	}

	s, err := NewSession(ctx, resolvedCfg, logger, true)
	if err != nil {
		return err
	}
	defer s.Close()

	logger.Debug("upload", slog.String("local_path", localPath), slog.String("folder", s.FolderID))

	res, err := s.Uploader.UploadFile(ctx, localPath, name)
	if err != nil {
		return fmt.Errorf("uploading %s: %w", localPath, err)
	}

	return printUploadResult(cmd, res)
}

func printUploadResult(cmd *cobra.Command, res *drive.Result) error {
	out := cmd.OutOrStdout()

	if flagJSON {
		return printJSON(out, uploadJSON{
			ID:     res.Resource.ID,
			Name:   res.Resource.Name,
			Parent: res.Resource.Parent,
			Action: string(res.Action),
			Size:   res.Size,
		})
	}

	statusf("%s %s (%s)\n", res.Action, res.Resource.Name, formatSize(int64(res.Size)))
	fmt.Fprintln(out, res.Resource.ID)

	return nil
}
