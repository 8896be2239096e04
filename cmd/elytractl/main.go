// Package main provides the entry point for elytractl, a thin operator CLI
// that talks to a running elytra-server over its HTTP API. It contains no
// scheduling logic of its own.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/paulpriyanshu/elytra/cmd/elytractl/commands"
)

func main() {
	var serverAddr string

	rootCmd := &cobra.Command{
		Use:           "elytractl",
		Short:         "Operator CLI for the Elytra control plane",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "http://localhost:8080", "elytra-server base URL")

	rootCmd.AddCommand(commands.NewDatasetsCommand(&serverAddr))
	rootCmd.AddCommand(commands.NewJobsCommand(&serverAddr))

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
