package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/gdrive-upsert/internal/occupancy"
)

const defaultReportName = "output.json"

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Build a parking occupancy report from detection labels",
		Long: `Pair every <base>.txt label file with the image <base>.jpg, read the lot
title and slot count from the image name (<title>_<slots>.jpg) and count one
detected car per label line. The report maps each title to its total and
open slots.

With --output the report is written atomically to a file; with --upload it is
also upserted into the Drive folder.`,
		Args: cobra.NoArgs,
		RunE: runReport,
	}

	cmd.Flags().String("images", "", "directory holding the images")
	cmd.Flags().String("labels", "", "directory holding the label files")
	cmd.Flags().StringP("output", "o", "", "write the report to this file instead of stdout")
	cmd.Flags().Bool("upload", false, "upsert the report into the Drive folder")
	cmd.Flags().String("name", defaultReportName, "Drive file name used with --upload")

	_ = cmd.MarkFlagRequired("images") //nolint:errcheck // flag defined above
	_ = cmd.MarkFlagRequired("labels") //nolint:errcheck // flag defined above

	return cmd
}

func runReport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger := buildLogger()
	flags := cmd.Flags()

	images, err := flags.GetString("images")
	if err != nil {
		return err
	}

	labels, err := flags.GetString("labels")
	if err != nil {
		return err
	}

	output, err := flags.GetString("output")
	if err != nil {
		return err
	}

	upload, err := flags.GetBool("upload")
	if err != nil {
		return err
	}

	name, err := flags.GetString("name")
	if err != nil {
		return err
	}

	report, err := occupancy.Build(images, labels, logger)
	if err != nil {
		return err
	}

	data, err := occupancy.Marshal(report)
	if err != nil {
		return err
	}

	if output == "" {
		if _, err := cmd.OutOrStdout().Write(data); err != nil {
			return err
		}
	} else {
		if err := occupancy.WriteFile(output, report); err != nil {
			return err
		}

		statusf("Wrote %s (%d lots)\n", output, len(report))
	}

	if !upload {
		return nil
	}

	s, err := NewSession(ctx, resolvedCfg, logger, true)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.Uploader.Upload(ctx, data, name)
	if err != nil {
		return fmt.Errorf("uploading report: %w", err)
	}

	statusf("%s %s -> %s\n", res.Action, res.Resource.Name, res.Resource.ID)

	return nil
}
