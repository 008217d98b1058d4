// Package cmd contains the lily command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "lily",
	Short: "Lily, the appliance parts and repairs assistant",
	Long: `Lily answers questions about refrigerator and dishwasher parts,
repairs, compatibility and installation, grounded in a parts catalog
and a searchable knowledge base of repair guides and articles.

Run "lily serve" to start the HTTP API, or "lily ask" for a one-shot
question from the terminal.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
