package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/gdrive-upsert/internal/drive"
	"github.com/tonimelisma/gdrive-upsert/internal/watch"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Upsert files from a directory as they change",
		Long: `Watch a local directory and upsert every file matching the configured
patterns once it has been quiet for the debounce interval. Runs until
interrupted. A second interrupt forces exit.`,
		Args: cobra.ExactArgs(1),
		RunE: runWatch,
	}

	cmd.Flags().Bool("initial-scan", false, "upload matching files already present at start")
	cmd.Flags().StringSlice("pattern", nil, "glob to upload (repeatable; overrides [watch] patterns)")

	return cmd
}

// watchEventJSON is one line of watch --json output.
type watchEventJSON struct {
	Path   string `json:"path"`
	ID     string `json:"id,omitempty"`
	Action string `json:"action,omitempty"`
	Error  string `json:"error,omitempty"`
}

func runWatch(cmd *cobra.Command, args []string) error {
	logger := buildLogger()
	ctx, stop := shutdownContext(cmd.Context(), logger)
	defer stop()

	dir, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolving %s: %w", args[0], err)
	}

	initialScan, err := cmd.Flags().GetBool("initial-scan")
	if err != nil {
		return err
	}

	patterns := resolvedCfg.Watch.Patterns
	if cmd.Flags().Changed("pattern") {
		if patterns, err = cmd.Flags().GetStringSlice("pattern"); err != nil {
			return err
		}
	}

	s, err := NewSession(ctx, resolvedCfg, logger, true)
	if err != nil {
		return err
	}
	defer s.Close()

	var outMu sync.Mutex

	out := cmd.OutOrStdout()
	onResult := func(path string, res *drive.Result, uploadErr error) {
		outMu.Lock()
		defer outMu.Unlock()

		ev := watchEventJSON{Path: path}
		if uploadErr != nil {
			ev.Error = uploadErr.Error()
		} else {
			ev.ID = res.Resource.ID
			ev.Action = string(res.Action)
		}

		if flagJSON {
			if err := printJSON(out, ev); err != nil {
				logger.Warn("writing watch output", slog.String("error", err.Error()))
			}

			return
		}

		if uploadErr == nil {
			statusf("%s %s -> %s\n", res.Action, filepath.Base(path), res.Resource.ID)
		}
	}

	w, err := watch.New(s.Uploader, watch.Options{
		Patterns:    patterns,
		Debounce:    resolvedCfg.Debounce,
		Parallel:    resolvedCfg.Transfers.ParallelUploads,
		InitialScan: initialScan,
		OnResult:    onResult,
	}, logger)
	if err != nil {
		return err
	}

	release, err := acquireWatchLock(dir)
	if err != nil {
		return err
	}
	defer release()

	statusf("Watching %s (folder %s). Press Ctrl-C to stop.\n", dir, s.FolderID)

	if err := w.Run(ctx, dir); err != nil {
		return err
	}

	stats := w.Stats()
	statusf("Stopped: %d uploaded, %d failed\n", stats.Uploaded, stats.Failed)

	return nil
}
