package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/gdrive-upsert/internal/drive"
)

// pullDirPermissions is used when pull creates its target directory.
const pullDirPermissions = 0o755

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List files in the Drive folder",
		Args:  cobra.NoArgs,
		RunE:  runLs,
	}
}

func newPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull [dir]",
		Short: "Download every file of the Drive folder",
		Long: `Download every file of the configured Drive folder into dir (default: the
current directory). Files are written to <name>.partial and renamed into place
once complete, so an interrupted pull never leaves a truncated file behind.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runPull,
	}
}

func runLs(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger := buildLogger()

	s, err := NewSession(ctx, resolvedCfg, logger, false)
	if err != nil {
		return err
	}
	defer s.Close()

	files, err := s.Client.List(ctx, s.FolderID)
	if err != nil {
		return fmt.Errorf("listing folder %s: %w", s.FolderID, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	if flagJSON {
		return printJSON(cmd.OutOrStdout(), files)
	}

	rows := make([][]string, 0, len(files))
	for _, f := range files {
		rows = append(rows, []string{f.Name, f.ID})
	}

	printTable(cmd.OutOrStdout(), []string{"NAME", "ID"}, rows)

	return nil
}

// pullJSON is the JSON output schema for one pulled file.
type pullJSON struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Path  string `json:"path,omitempty"`
	Size  int64  `json:"size"`
	Error string `json:"error,omitempty"`
}

func runPull(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := buildLogger()

	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}

	if err := os.MkdirAll(dir, pullDirPermissions); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	s, err := NewSession(ctx, resolvedCfg, logger, false)
	if err != nil {
		return err
	}
	defer s.Close()

	files, err := s.Client.List(ctx, s.FolderID)
	if err != nil {
		return fmt.Errorf("listing folder %s: %w", s.FolderID, err)
	}

	results := make([]pullJSON, len(files))

	var failed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resolvedCfg.Transfers.ParallelUploads)

	for i, f := range files {
		g.Go(func() error {
			results[i] = pullJSON{ID: f.ID, Name: f.Name}

			n, path, err := pullFile(gctx, s.Client, f, dir)
			if err != nil {
				failed.Add(1)
				results[i].Error = err.Error()
				logger.Error("download failed", slog.String("name", f.Name), slog.String("error", err.Error()))

				return nil
			}

			results[i].Path = path
			results[i].Size = n
			statusf("Downloaded %s (%s)\n", path, formatSize(n))

			return nil
		})
	}

	_ = g.Wait() //nolint:errcheck // workers record failures in results

	if flagJSON {
		if err := printJSON(cmd.OutOrStdout(), results); err != nil {
			return err
		}
	}

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d downloads failed", n, len(files))
	}

	return ctx.Err()
}

// pullFile downloads one file to dir/<name>.partial and renames it into
// place. Names that would escape dir are refused.
func pullFile(ctx context.Context, client *drive.Client, f drive.Resource, dir string) (int64, string, error) {
	if !safeLocalName(f.Name) {
		return 0, "", fmt.Errorf("refusing unsafe file name %q", f.Name)
	}

	localPath := filepath.Join(dir, f.Name)
	partialPath := localPath + ".partial"

	out, err := os.Create(partialPath)
	if err != nil {
		return 0, "", fmt.Errorf("creating partial file for download: %w", err)
	}

	n, dlErr := client.Download(ctx, f.ID, out)
	closeErr := out.Close()

	if err := errors.Join(dlErr, closeErr); err != nil {
		os.Remove(partialPath)

		return 0, "", err
	}

	// Atomic rename: .partial -> target.
	if err := os.Rename(partialPath, localPath); err != nil {
		os.Remove(partialPath)

		return 0, "", fmt.Errorf("renaming download to %q: %w", localPath, err)
	}

	return n, localPath, nil
}

func safeLocalName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}

	return !strings.ContainsAny(name, `/\`) && !strings.ContainsRune(name, 0)
}
