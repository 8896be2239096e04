// Package main provides the entry point for elytra-server, the control
// plane process that accepts worker connections, serves the dataset/job
// HTTP API, and reaps expired datasets.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/paulpriyanshu/elytra/cmd/elytra-server/commands"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "elytra-server",
		Short:         "Elytra control plane",
		Long:          "Elytra is a distributed compute control plane: it catalogs datasets, accepts worker connections, and coordinates job execution.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(commands.NewVersionCommand())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
