package main

import (
	"github.com/spf13/cobra"

	"boardsim/cmd/boardsim/cmdutil"
	"boardsim/internal/circuit"
)

// applyEditCmd applies one declarative edit operation (spec §4.8) read from
// --op-file (or stdin), the same payload shape a design-session client
// would construct before sending it over the daemon RPC.
func applyEditCmd() *cobra.Command {
	var workspace, opFile string
	var sessionID int
	cmd := &cobra.Command{
		Use:   "apply-edit",
		Short: "Apply one edit operation to a session's current branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			var op circuit.EditOperation
			if err := cmdutil.ReadPlan(opFile, &op); err != nil {
				cmdutil.Fail("apply-edit-operation", err)
				return nil
			}
			svc, closeSvc, err := cmdutil.Open(workspace)
			if err != nil {
				cmdutil.Fail("apply-edit-operation", err)
				return nil
			}
			defer closeSvc()
			rev, err := svc.ApplyEditOperation(cmd.Context(), sessionID, op)
			cmdutil.Emit("apply-edit-operation", map[string]any{"head_revision": rev}, err)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace root directory")
	cmd.Flags().IntVar(&sessionID, "session-id", 0, "Session id")
	cmd.Flags().StringVar(&opFile, "op-file", "-", "Path to an edit-operation JSON file, or - for stdin")
	_ = cmd.MarkFlagRequired("workspace")
	_ = cmd.MarkFlagRequired("session-id")
	return cmd
}
