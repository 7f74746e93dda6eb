package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "supervisor",
	Short: "Watchlist supervisor: live detection, chunk capture and notifications",
	Long:  `Polls a watchlist of accounts, records their live broadcasts and publishes start/end notifications. Commands: serve, migrate.`,
	RunE:  runServe,
	// Errors are logged by the commands themselves.
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
