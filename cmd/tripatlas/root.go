package main

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     "tripatlas",
	Short:   "tripatlas - offline trip downloads for travelers",
	Long:    "tripatlas downloads trip itineraries and their covering map tiles for offline use, keeps local edits in a durable sync queue, and reconciles them with the server when connectivity allows.",
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(newDownloadCmd())
	rootCmd.AddCommand(newResumeCmd())
	rootCmd.AddCommand(newCancelCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newTripsCmd())
	rootCmd.AddCommand(newEditCmd())
	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newRetryFailedCmd())
	rootCmd.AddCommand(newDiscardPendingCmd())
}
