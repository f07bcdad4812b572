// Package cli implements the pledge command-line interface using Cobra.
// Each subcommand maps to one daemon capability (serve, run a pass, inspect).
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pledge",
	Short: "pledge: money on the line for your habits",
	Long: `pledge judges each habit period once it closes in the user's timezone,
records a penalty for every miss, charges users in aggregate and pays
recipients their share.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
