package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/avolkovs/tripatlas/internal/common"
	"github.com/avolkovs/tripatlas/internal/download"
	"github.com/avolkovs/tripatlas/internal/models"
)

func newDownloadCmd() *cobra.Command {
	var (
		metadataOnly bool
		force        bool
	)

	cmd := &cobra.Command{
		Use:   "download <trip-id>",
		Short: "Download a trip and its map tiles for offline use",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tripID := args[0]
			ctx := context.Background()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			a.engine.Notify(printEvents(cmd))
			stop := pauseOnInterrupt(a, tripID)
			defer stop()

			err = a.engine.Start(ctx, tripID, download.StartOptions{
				IncludeTiles: !metadataOnly,
				Force:        force,
			})
			if errors.Is(err, common.ErrQuotaExceeded) {
				fmt.Fprintf(cmd.ErrOrStderr(), "%v\nre-run with --force to download anyway\n", err)
				return err
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&metadataOnly, "metadata-only", false, "Fetch trip entities without tiles")
	cmd.Flags().BoolVar(&force, "force", false, "Proceed even if the estimate exceeds the cache limit")

	return cmd
}

// printEvents renders engine events as terminal output.
func printEvents(cmd *cobra.Command) func(models.Event) {
	out := cmd.OutOrStdout()
	return func(e models.Event) {
		switch ev := e.(type) {
		case models.Progress:
			fmt.Fprintf(out, "\r%s (%.0f%%)", ev.Message, ev.Fraction*100)
		case models.Completed:
			fmt.Fprintf(out, "\ndone: %d tiles, %d bytes\n", ev.TilesDownloaded, ev.TotalBytes)
		case models.Paused:
			fmt.Fprintf(out, "\npaused (%s): %d of %d tiles done, resumable=%v\n", ev.Reason, ev.TilesCompleted, ev.TotalTiles, ev.CanResume)
		case models.Cancelled:
			fmt.Fprintf(out, "\ncancelled: %d tiles deleted\n", ev.TilesDeleted)
		case models.Failed:
			fmt.Fprintf(out, "\nfailed: %s\n", ev.Reason)
		case models.ThresholdCrossed:
			fmt.Fprintf(out, "\ncache usage %s: %d of %d bytes\n", ev.Level, ev.UsedBytes, ev.MaxBytes)
		}
	}
}

// pauseOnInterrupt turns Ctrl-C into a graceful pause: the engine stops at
// the next batch boundary and leaves a resumable checkpoint behind.
func pauseOnInterrupt(a *app, tripID string) (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		for range sigCh {
			a.engine.Pause(tripID)
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(sigCh)
	}
}

func newResumeCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "resume <trip-id>",
		Short: "Resume a paused download from its checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			a.engine.Notify(printEvents(cmd))
			stop := pauseOnInterrupt(a, args[0])
			defer stop()
			return a.engine.Resume(ctx, args[0], force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Proceed even if the remaining tiles exceed the cache limit")
	return cmd
}

func newCancelCmd() *cobra.Command {
	var (
		keepData bool
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "cancel <trip-id>",
		Short: "Cancel a download, deleting its partial tiles unless --keep-data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tripID := args[0]

			if !keepData && !force {
				ok, err := confirm(cmd, fmt.Sprintf("Delete all tiles downloaded so far for trip '%s'? (y/N) ", tripID))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Cancellation aborted")
					return nil
				}
			}

			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			a.engine.Notify(printEvents(cmd))
			return a.engine.Cancel(ctx, tripID, !keepData)
		},
	}

	cmd.Flags().BoolVar(&keepData, "keep-data", false, "Keep downloaded tiles; the download cannot be resumed later")
	cmd.Flags().BoolVar(&force, "force", false, "Skip confirmation prompt")

	return cmd
}
