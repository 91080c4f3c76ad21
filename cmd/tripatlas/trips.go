package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/avolkovs/tripatlas/internal/quota"
)

func newTripsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trips",
		Short: "Manage locally known trips",
	}
	cmd.AddCommand(newTripsListCmd())
	cmd.AddCommand(newTripsAvailableCmd())
	cmd.AddCommand(newTripsShowCmd())
	cmd.AddCommand(newTripsDeleteCmd())
	return cmd
}

func newTripsAvailableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "available",
		Short: "List trips available on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			summaries, err := a.client.ListTrips(ctx)
			if err != nil {
				return err
			}
			for _, s := range summaries {
				est := quota.EstimateTiles(s.Bounds, a.cfg.MinZoom, a.cfg.MaxZoom, a.cfg.AvgTileBytes)
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-24s ~%d tiles, ~%d bytes\n", s.ID, s.Name, est.TileCount, est.EstimatedBytes)
			}
			return nil
		},
	}
}

func newTripsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <trip-id>",
		Short: "Show a locally stored trip and its places",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			out := cmd.OutOrStdout()
			trip, err := a.trips.GetByID(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s (%s)\n", trip.Name, trip.LocalState)
			if trip.Notes != "" {
				fmt.Fprintln(out, trip.Notes)
			}

			places, err := a.entities.GetPlacesByTrip(ctx, trip.ID)
			if err != nil {
				return err
			}
			for _, p := range places {
				fmt.Fprintf(out, "  %-24s %.5f,%.5f", p.Name, p.Lat, p.Lon)
				if p.Notes != "" {
					fmt.Fprintf(out, "  %s", p.Notes)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
}

func newTripsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List locally known trips and their offline state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			all, err := a.trips.List(ctx)
			if err != nil {
				return err
			}
			if len(all) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no trips stored locally")
				return nil
			}
			for _, t := range all {
				tiles, err := a.tiles.CountByTrip(ctx, t.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-24s %s (%d tiles)\n", t.ID, t.Name, t.LocalState, tiles)
			}
			return nil
		},
	}
}

func newTripsDeleteCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <trip-id>",
		Short: "Delete a trip's offline data (entities, tiles, checkpoint)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tripID := args[0]

			if !force {
				ok, err := confirm(cmd, fmt.Sprintf("Delete all offline data for trip '%s'? (y/N) ", tripID))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Deletion cancelled")
					return nil
				}
			}

			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.engine.DeleteTrip(ctx, tripID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted offline data for trip '%s'\n", tripID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Skip confirmation prompt")
	return cmd
}
