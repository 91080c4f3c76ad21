package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/avolkovs/tripatlas/internal/models"
)

func newEditCmd() *cobra.Command {
	var tripID string

	cmd := &cobra.Command{
		Use:   "edit <kind> <entity-id> <field=value>...",
		Short: "Edit a trip entity; the change applies locally and syncs when possible",
		Long: "Edit applies field changes to the local offline copy immediately and queues\n" +
			"them for server sync. Kind is one of place, region, segment, area, trip.\n" +
			"Numeric values for lat/lon are parsed as floats.",
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := models.EntityKind(args[0])
			entityID := args[1]

			fields := make(map[string]any, len(args)-2)
			for _, pair := range args[2:] {
				name, value, ok := strings.Cut(pair, "=")
				if !ok {
					return fmt.Errorf("expected field=value, got %q", pair)
				}
				fields[name] = parseFieldValue(name, value)
			}

			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			a.queue.SetNotifyFunc(printSyncEvents(cmd))

			m, err := a.queue.Enqueue(ctx, kind, entityID, tripID, fields)
			if err != nil {
				return err
			}

			pending, err := a.queue.PendingCount(ctx)
			if err != nil {
				return err
			}
			if pending > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "edit %s applied locally, awaiting sync\n", m.ID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "edit %s synced\n", m.ID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tripID, "trip", "", "Trip the entity belongs to")

	return cmd
}

func parseFieldValue(name, value string) any {
	switch name {
	case "lat", "lon", "south", "west", "north", "east":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return value
}
