package main

import (
	"context"
	"os"

	"boardsim/cmd/boardsim/cmdutil"
	"boardsim/internal/logging"
	"boardsim/internal/tracing"

	"github.com/spf13/cobra"
)

func main() {
	shutdown := tracing.Install()
	defer func() {
		_ = shutdown(context.Background())
	}()

	var debug bool
	if err := logging.ConfigureForCLI(debug); err != nil {
		cmdutil.Stderr("configure logger: %v", err)
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:           "boardsim",
		Short:         "Discrete-event electric-circuit simulation and design sessions",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logging.ConfigureForCLI(debug)
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	root.AddCommand(initWorkspaceCmd())
	root.AddCommand(createSessionCmd())
	root.AddCommand(listSessionsCmd())
	root.AddCommand(destroySessionCmd())
	root.AddCommand(runTicksCmd())
	root.AddCommand(getStateCmd())
	root.AddCommand(exportNetlistCmd())
	root.AddCommand(branchCmd())
	root.AddCommand(applyEditCmd())
	root.AddCommand(lintCmd())
	root.AddCommand(timingSummaryCmd())
	root.AddCommand(depsCmd())
	root.AddCommand(graphPathCmd())
	root.AddCommand(transformCmd())
	root.AddCommand(retimingCmd())
	root.AddCommand(pipeliningCmd())
	root.AddCommand(debugCmd())

	if err := root.Execute(); err != nil {
		cmdutil.WriteParseError("boardsim", err)
	}
	os.Exit(cmdutil.ExitCode)
}
