package main

import (
	"fmt"
	"os"

	"github.com/benvon/learning-stats/cmd/statsctl/commands"
	"github.com/spf13/cobra"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:          "statsctl",
		Short:        "Operator tool for the learning stats engine",
		Long:         "CLI tool for running migrations, inspecting stats records and replaying learning records",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(commands.NewMigrateCmd())
	rootCmd.AddCommand(commands.NewShowCmd())
	rootCmd.AddCommand(commands.NewReplayCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
