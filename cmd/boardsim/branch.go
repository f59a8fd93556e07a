package main

import (
	"github.com/spf13/cobra"

	"boardsim/cmd/boardsim/cmdutil"
)

// branchCmd groups the §4.9 branch operations under `boardsim branch ...`,
// matching the teacher's cluster.Cmd() subcommand-group pattern.
func branchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "branch",
		Short: "Manage a session's branches",
	}
	cmd.AddCommand(branchListCmd())
	cmd.AddCommand(branchCreateCmd())
	cmd.AddCommand(branchSwitchCmd())
	cmd.AddCommand(branchDeleteCmd())
	cmd.AddCommand(branchMergeCmd())
	return cmd
}

func branchListCmd() *cobra.Command {
	var workspace string
	var sessionID int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a session's branches",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeSvc, err := cmdutil.Open(workspace)
			if err != nil {
				cmdutil.Fail("branch-list", err)
				return nil
			}
			defer closeSvc()
			branches, err := svc.ListBranches(cmd.Context(), sessionID)
			cmdutil.Emit("branch-list", branches, err)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace root directory")
	cmd.Flags().IntVar(&sessionID, "session-id", 0, "Session id")
	_ = cmd.MarkFlagRequired("workspace")
	_ = cmd.MarkFlagRequired("session-id")
	return cmd
}

func branchCreateCmd() *cobra.Command {
	var workspace, name, fromBranch string
	var sessionID int
	var fromRevision int64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Fork a new branch from another branch's revision",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeSvc, err := cmdutil.Open(workspace)
			if err != nil {
				cmdutil.Fail("branch-create", err)
				return nil
			}
			defer closeSvc()
			b, err := svc.CreateBranch(cmd.Context(), sessionID, name, fromBranch, fromRevision)
			cmdutil.Emit("branch-create", b, err)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace root directory")
	cmd.Flags().IntVar(&sessionID, "session-id", 0, "Session id")
	cmd.Flags().StringVar(&name, "name", "", "New branch name")
	cmd.Flags().StringVar(&fromBranch, "from-branch", "main", "Branch to fork from")
	cmd.Flags().Int64Var(&fromRevision, "from-revision", -1, "Revision to fork from (-1 means the source branch's current head)")
	_ = cmd.MarkFlagRequired("workspace")
	_ = cmd.MarkFlagRequired("session-id")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func branchSwitchCmd() *cobra.Command {
	var workspace, name string
	var sessionID int
	cmd := &cobra.Command{
		Use:   "switch",
		Short: "Change a session's current branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeSvc, err := cmdutil.Open(workspace)
			if err != nil {
				cmdutil.Fail("branch-switch", err)
				return nil
			}
			defer closeSvc()
			err = svc.SwitchBranch(cmd.Context(), sessionID, name)
			cmdutil.Emit("branch-switch", nil, err)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace root directory")
	cmd.Flags().IntVar(&sessionID, "session-id", 0, "Session id")
	cmd.Flags().StringVar(&name, "name", "", "Branch to switch to")
	_ = cmd.MarkFlagRequired("workspace")
	_ = cmd.MarkFlagRequired("session-id")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func branchDeleteCmd() *cobra.Command {
	var workspace, name string
	var sessionID int
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a non-current, non-default branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeSvc, err := cmdutil.Open(workspace)
			if err != nil {
				cmdutil.Fail("branch-delete", err)
				return nil
			}
			defer closeSvc()
			err = svc.DeleteBranch(cmd.Context(), sessionID, name)
			cmdutil.Emit("branch-delete", nil, err)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace root directory")
	cmd.Flags().IntVar(&sessionID, "session-id", 0, "Session id")
	cmd.Flags().StringVar(&name, "name", "", "Branch to delete")
	_ = cmd.MarkFlagRequired("workspace")
	_ = cmd.MarkFlagRequired("session-id")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func branchMergeCmd() *cobra.Command {
	var workspace, source, target string
	var sessionID int
	var allowMerge bool
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge one branch into another",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeSvc, err := cmdutil.Open(workspace)
			if err != nil {
				cmdutil.Fail("branch-merge", err)
				return nil
			}
			defer closeSvc()
			result, err := svc.MergeBranches(cmd.Context(), sessionID, source, target, allowMerge)
			cmdutil.Emit("branch-merge", result, err)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace root directory")
	cmd.Flags().IntVar(&sessionID, "session-id", 0, "Session id")
	cmd.Flags().StringVar(&source, "source", "", "Source branch")
	cmd.Flags().StringVar(&target, "target", "main", "Target branch")
	cmd.Flags().BoolVar(&allowMerge, "allow-merge", false, "Allow a merge with conflicting ops to proceed, skipping the conflicting source ops")
	_ = cmd.MarkFlagRequired("workspace")
	_ = cmd.MarkFlagRequired("session-id")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}
