package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// client is the local API HTTP client, initialized in PersistentPreRunE.
	client *apiClient

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// serverAddr is the relayd local API address (scheme://host:port).
	serverAddr string
)

// rootCmd is the top-level cobra command for relayctl.
var rootCmd = &cobra.Command{
	Use:   "relayctl",
	Short: "CLI client for the relayd daemon",
	Long:  "relayctl talks to the relayd daemon's local HTTP API to inspect devices, files, and tags.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		client = newAPIClient(serverAddr)
		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "http://127.0.0.1:7890",
		"relayd local API address")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(deviceCmd())
	rootCmd.AddCommand(fileCmd())
	rootCmd.AddCommand(tagCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
