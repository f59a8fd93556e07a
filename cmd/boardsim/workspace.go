package main

import (
	"github.com/spf13/cobra"

	"boardsim/cmd/boardsim/cmdutil"
)

func initWorkspaceCmd() *cobra.Command {
	var workspace string
	cmd := &cobra.Command{
		Use:   "init-workspace",
		Short: "Create (or reuse) a boardsim workspace directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeSvc, err := cmdutil.Open(workspace)
			if err != nil {
				cmdutil.Fail("init-workspace", err)
				return nil
			}
			defer closeSvc()
			ws, created, err := svc.InitWorkspace(cmd.Context(), cmdutil.NowISO())
			cmdutil.Emit("init-workspace", map[string]any{"workspace": ws, "created": created}, err)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace root directory")
	_ = cmd.MarkFlagRequired("workspace")
	return cmd
}

func createSessionCmd() *cobra.Command {
	var workspace, circuitFile string
	cmd := &cobra.Command{
		Use:   "create-session",
		Short: "Create a new design session from a circuit file",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeSvc, err := cmdutil.Open(workspace)
			if err != nil {
				cmdutil.Fail("create-session", err)
				return nil
			}
			defer closeSvc()
			meta, err := svc.CreateSession(cmd.Context(), circuitFile, cmdutil.NowISO())
			cmdutil.Emit("create-session", meta, err)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace root directory")
	cmd.Flags().StringVar(&circuitFile, "circuit-file", "", "Path to the circuit file to replay into the new session")
	_ = cmd.MarkFlagRequired("workspace")
	_ = cmd.MarkFlagRequired("circuit-file")
	return cmd
}

func listSessionsCmd() *cobra.Command {
	var workspace string
	cmd := &cobra.Command{
		Use:   "list-sessions",
		Short: "List every session in a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeSvc, err := cmdutil.Open(workspace)
			if err != nil {
				cmdutil.Fail("list-sessions", err)
				return nil
			}
			defer closeSvc()
			result, err := svc.ListSessions(cmd.Context())
			cmdutil.Emit("list-sessions", result, err)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace root directory")
	_ = cmd.MarkFlagRequired("workspace")
	return cmd
}

func destroySessionCmd() *cobra.Command {
	var workspace string
	var sessionID int
	cmd := &cobra.Command{
		Use:   "destroy-session",
		Short: "Permanently delete a session and its on-disk state",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeSvc, err := cmdutil.Open(workspace)
			if err != nil {
				cmdutil.Fail("destroy-session", err)
				return nil
			}
			defer closeSvc()
			err = svc.DestroySession(cmd.Context(), sessionID)
			cmdutil.Emit("destroy-session", nil, err)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace root directory")
	cmd.Flags().IntVar(&sessionID, "session-id", 0, "Session id to destroy")
	_ = cmd.MarkFlagRequired("workspace")
	_ = cmd.MarkFlagRequired("session-id")
	return cmd
}
