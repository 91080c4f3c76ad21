package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show cache usage, paused downloads, and pending edits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			out := cmd.OutOrStdout()

			usage := a.ledger.Usage()
			fmt.Fprintf(out, "cache: %d of %d bytes used (%d tiles)\n", usage.UsedBytes, usage.MaxBytes, usage.TileCount)

			paused, err := a.engine.RestorePaused(ctx)
			if err != nil {
				return err
			}
			if len(paused) == 0 {
				fmt.Fprintln(out, "downloads: none paused")
			}
			for _, cp := range paused {
				fmt.Fprintf(out, "download %s: %d of %d tiles (%s, resumable=%v)\n",
					cp.TripID, cp.CompletedTiles, cp.TotalTiles, cp.Reason, cp.Resumable)
			}

			pending, err := a.queue.PendingCount(ctx)
			if err != nil {
				return err
			}
			failed, err := a.queue.FailedCount(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "edits: %d pending, %d rejected\n", pending, failed)
			return nil
		},
	}
}
