package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run a single fetch and convert cycle and report the outcome",
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := buildService(cfg, logger)
		if err != nil {
			return err
		}

		outcome := service.RunCycle(cmd.Context())
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "cycle %s: %s in %s\n", outcome.ID, outcome.Kind, outcome.Duration().Round(time.Millisecond))
		fmt.Fprintf(out, "  attempts=%d raw_bytes=%d decompressed_bytes=%d features=%d\n",
			outcome.Attempts, outcome.RawBytes, outcome.DecompressedBytes, outcome.Features)

		if !outcome.Succeeded() {
			return fmt.Errorf("refresh failed: %w", outcome.Err)
		}

		snap, err := service.Latest()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  data_timestamp=%s\n", snap.SourceTimestamp.Format(time.RFC3339))
		return nil
	},
}
