package main

import (
	"github.com/spf13/cobra"

	"boardsim/cmd/boardsim/cmdutil"
)

func lintCmd() *cobra.Command {
	var workspace, branch string
	var sessionID int
	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Run the graph analyzer's static checks against a branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeSvc, err := cmdutil.Open(workspace)
			if err != nil {
				cmdutil.Fail("lint", err)
				return nil
			}
			defer closeSvc()
			issues, err := svc.LintCircuit(cmd.Context(), sessionID, branch)
			cmdutil.Emit("lint", issues, err)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace root directory")
	cmd.Flags().IntVar(&sessionID, "session-id", 0, "Session id")
	cmd.Flags().StringVar(&branch, "branch", "", "Branch name (defaults to the session's current branch)")
	_ = cmd.MarkFlagRequired("workspace")
	_ = cmd.MarkFlagRequired("session-id")
	return cmd
}

func timingSummaryCmd() *cobra.Command {
	var workspace, branch string
	var sessionID, criticalN int
	cmd := &cobra.Command{
		Use:   "timing-summary",
		Short: "Report a branch's timing paths, critical paths, loops, and clock crossings",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeSvc, err := cmdutil.Open(workspace)
			if err != nil {
				cmdutil.Fail("timing-summary", err)
				return nil
			}
			defer closeSvc()
			summary, err := svc.TimingSummaryFor(cmd.Context(), sessionID, branch, criticalN)
			cmdutil.Emit("timing-summary", summary, err)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace root directory")
	cmd.Flags().IntVar(&sessionID, "session-id", 0, "Session id")
	cmd.Flags().StringVar(&branch, "branch", "", "Branch name (defaults to the session's current branch)")
	cmd.Flags().IntVar(&criticalN, "critical-n", 5, "How many of the longest paths to report as critical")
	_ = cmd.MarkFlagRequired("workspace")
	_ = cmd.MarkFlagRequired("session-id")
	return cmd
}

// depsCmd is SPEC_FULL.md's supplemented deps_max_depth-bounded dependency
// query (original_source's CommandOptions.deps_max_depth, default 128).
func depsCmd() *cobra.Command {
	var workspace, branch, componentID string
	var sessionID, maxDepth int
	var forward bool
	cmd := &cobra.Command{
		Use:   "deps",
		Short: "Walk a component's dependencies (or dependents) up to a bounded depth",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeSvc, err := cmdutil.Open(workspace)
			if err != nil {
				cmdutil.Fail("deps", err)
				return nil
			}
			defer closeSvc()
			ids, err := svc.DependenciesOf(cmd.Context(), sessionID, branch, componentID, maxDepth, forward)
			cmdutil.Emit("deps", ids, err)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace root directory")
	cmd.Flags().IntVar(&sessionID, "session-id", 0, "Session id")
	cmd.Flags().StringVar(&branch, "branch", "", "Branch name (defaults to the session's current branch)")
	cmd.Flags().StringVar(&componentID, "component-id", "", "Component id to walk from")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 128, "Maximum walk depth")
	cmd.Flags().BoolVar(&forward, "forward", false, "Walk dependents (forward) instead of dependencies (backward)")
	_ = cmd.MarkFlagRequired("workspace")
	_ = cmd.MarkFlagRequired("session-id")
	_ = cmd.MarkFlagRequired("component-id")
	return cmd
}

// graphPathCmd is SPEC_FULL.md's supplemented graph-path-by-kind query
// (original_source's graph_source_kind/graph_target_kind).
func graphPathCmd() *cobra.Command {
	var workspace, branch, from, toKind string
	var sessionID, maxDepth int
	cmd := &cobra.Command{
		Use:   "graph-path",
		Short: "Find derivation paths from a component to the nearest node of a given kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeSvc, err := cmdutil.Open(workspace)
			if err != nil {
				cmdutil.Fail("graph-path", err)
				return nil
			}
			defer closeSvc()
			paths, err := svc.GraphPath(cmd.Context(), sessionID, branch, from, toKind, maxDepth)
			cmdutil.Emit("graph-path", paths, err)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace root directory")
	cmd.Flags().IntVar(&sessionID, "session-id", 0, "Session id")
	cmd.Flags().StringVar(&branch, "branch", "", "Branch name (defaults to the session's current branch)")
	cmd.Flags().StringVar(&from, "from", "", "Starting component id")
	cmd.Flags().StringVar(&toKind, "to-kind", "", "Target component kind (e.g. Register)")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 128, "Maximum search depth")
	_ = cmd.MarkFlagRequired("workspace")
	_ = cmd.MarkFlagRequired("session-id")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to-kind")
	return cmd
}
