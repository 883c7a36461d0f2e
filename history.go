package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/gdrive-upsert/internal/history"
)

const defaultHistoryLimit = 20

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent upserts from the local ledger",
		Long: `List the newest upserts recorded on this machine. With --name, show only
the latest upsert of that name into the configured folder.`,
		Args: cobra.NoArgs,
		RunE: runHistory,
	}

	cmd.Flags().IntP("limit", "n", defaultHistoryLimit, "number of entries to show")
	cmd.Flags().String("name", "", "show the latest upsert of this name only")

	return cmd
}

func runHistory(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger := buildLogger()

	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	if limit <= 0 {
		return errors.New("--limit must be positive")
	}

	if !resolvedCfg.History.Enabled {
		return errors.New("history is disabled; set [history] enabled = true")
	}

	store, err := openHistory(ctx, resolvedCfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	name, err := cmd.Flags().GetString("name")
	if err != nil {
		return err
	}

	var entries []history.Entry

	if name != "" {
		e, err := store.Latest(ctx, resolvedCfg.Drive.FolderID, norm.NFC.String(name))
		if errors.Is(err, history.ErrNotFound) {
			return fmt.Errorf("no upload of %s into folder %s recorded", name, resolvedCfg.Drive.FolderID)
		}

		if err != nil {
			return err
		}

		entries = []history.Entry{e}
	} else if entries, err = store.Recent(ctx, limit); err != nil {
		return err
	}

	if flagJSON {
		return printJSON(cmd.OutOrStdout(), entries)
	}

	rows := make([][]string, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		rows = append(rows, []string{
			formatTime(e.UploadedAt.Local()),
			e.Action,
			e.Name,
			formatSize(e.Size),
			e.FileID,
			strconv.Quote(e.Source),
		})
	}

	printTable(cmd.OutOrStdout(), []string{"WHEN", "ACTION", "NAME", "SIZE", "ID", "SOURCE"}, rows)

	return nil
}
