package main

import (
	"github.com/spf13/cobra"

	"boardsim/cmd/boardsim/cmdutil"
)

func runTicksCmd() *cobra.Command {
	var workspace string
	var sessionID, ticks int
	cmd := &cobra.Command{
		Use:   "run-ticks",
		Short: "Advance a session's current branch by N ticks",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeSvc, err := cmdutil.Open(workspace)
			if err != nil {
				cmdutil.Fail("run-ticks", err)
				return nil
			}
			defer closeSvc()
			result, err := svc.RunTicks(cmd.Context(), sessionID, ticks, cmdutil.NowISO())
			cmdutil.Emit("run-ticks", result, err)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace root directory")
	cmd.Flags().IntVar(&sessionID, "session-id", 0, "Session id")
	cmd.Flags().IntVar(&ticks, "ticks", 0, "Number of ticks to advance")
	_ = cmd.MarkFlagRequired("workspace")
	_ = cmd.MarkFlagRequired("session-id")
	_ = cmd.MarkFlagRequired("ticks")
	return cmd
}

func getStateCmd() *cobra.Command {
	var workspace string
	var sessionID int
	cmd := &cobra.Command{
		Use:   "get-state",
		Short: "Report a session's persisted metadata and live state hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeSvc, err := cmdutil.Open(workspace)
			if err != nil {
				cmdutil.Fail("get-state", err)
				return nil
			}
			defer closeSvc()
			result, err := svc.GetState(cmd.Context(), sessionID)
			cmdutil.Emit("get-state", result, err)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace root directory")
	cmd.Flags().IntVar(&sessionID, "session-id", 0, "Session id")
	_ = cmd.MarkFlagRequired("workspace")
	_ = cmd.MarkFlagRequired("session-id")
	return cmd
}

func exportNetlistCmd() *cobra.Command {
	var workspace, pcbID string
	var sessionID int
	cmd := &cobra.Command{
		Use:   "export-netlist",
		Short: "Render a session's current-branch circuit to a textual netlist",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeSvc, err := cmdutil.Open(workspace)
			if err != nil {
				cmdutil.Fail("export-netlist", err)
				return nil
			}
			defer closeSvc()
			path, text, err := svc.ExportNetlist(cmd.Context(), sessionID, pcbID)
			cmdutil.Emit("export-netlist", map[string]any{"path": path, "netlist": text}, err)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace root directory")
	cmd.Flags().IntVar(&sessionID, "session-id", 0, "Session id")
	cmd.Flags().StringVar(&pcbID, "pcb-id", "", "PCB id to export (defaults to \"main\")")
	_ = cmd.MarkFlagRequired("workspace")
	_ = cmd.MarkFlagRequired("session-id")
	return cmd
}
