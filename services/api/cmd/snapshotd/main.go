package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "snapshotd",
		Short:         "Share storage, async share jobs and generation quota service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newRelayCommand())
	cmd.AddCommand(newWorkerCommand())
	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newInspectCommand())
	cmd.AddCommand(newTokenCommand())
	return cmd
}
