package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/avolkovs/tripatlas/internal/models"
)

func newSyncCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push pending edits to the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			a.queue.SetNotifyFunc(printSyncEvents(cmd))

			if watch {
				fmt.Fprintln(cmd.OutOrStdout(), "watching for connectivity; Ctrl-C to stop")
				a.worker.Run(ctx)
				return nil
			}

			if err := a.queue.Flush(ctx); err != nil {
				return err
			}
			pending, err := a.queue.PendingCount(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d edits still pending\n", pending)
			return nil
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "Keep running and flush whenever the server is reachable")
	return cmd
}

func printSyncEvents(cmd *cobra.Command) func(models.Event) {
	out := cmd.OutOrStdout()
	return func(e models.Event) {
		switch ev := e.(type) {
		case models.SyncRejected:
			fmt.Fprintf(out, "rejected: %s %s: %s\n", ev.EntityKind, ev.EntityID, ev.Message)
		case models.EntityReverted:
			fmt.Fprintf(out, "reverted %s %s to its last synced values\n", ev.EntityKind, ev.EntityID)
		}
	}
}

func newRetryFailedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry-failed",
		Short: "Re-attempt every edit the server rejected",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			a.queue.SetNotifyFunc(printSyncEvents(cmd))

			if err := a.queue.RetryFailed(ctx); err != nil {
				return err
			}
			failed, err := a.queue.FailedCount(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d edits still rejected\n", failed)
			return nil
		},
	}
}

func newDiscardPendingCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "discard-pending",
		Short: "Discard all unsent edits and restore the last synced values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				ok, err := confirm(cmd, "Discard every unsent edit? Affected entities revert to their last synced values. (y/N) ")
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Discard cancelled")
					return nil
				}
			}

			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.queue.DiscardAll(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Discarded %d edits\n", n)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Skip confirmation prompt")
	return cmd
}
