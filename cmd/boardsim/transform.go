package main

import (
	"github.com/spf13/cobra"

	"boardsim/cmd/boardsim/cmdutil"
	"boardsim/internal/transform"
)

// transformCmd groups the §4.10 transformation engine: propose plans
// against a branch's circuit, then apply one by feeding propose's output
// back in via --plan-file (or stdin).
func transformCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transform",
		Short: "Propose and apply behavior-preserving rewrite plans",
	}
	cmd.AddCommand(transformProposeCmd())
	cmd.AddCommand(transformApplyCmd())
	return cmd
}

func transformProposeCmd() *cobra.Command {
	var workspace, branch string
	var sessionID, maxPlans int
	cmd := &cobra.Command{
		Use:   "propose",
		Short: "Propose up to N rewrite plans for a branch's circuit",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeSvc, err := cmdutil.Open(workspace)
			if err != nil {
				cmdutil.Fail("propose-transformations", err)
				return nil
			}
			defer closeSvc()
			plans, err := svc.ProposeTransformations(cmd.Context(), sessionID, branch, maxPlans)
			cmdutil.Emit("propose-transformations", plans, err)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace root directory")
	cmd.Flags().IntVar(&sessionID, "session-id", 0, "Session id")
	cmd.Flags().StringVar(&branch, "branch", "", "Branch name (defaults to the session's current branch)")
	cmd.Flags().IntVar(&maxPlans, "max-plans", 5, "Maximum number of plans to propose")
	_ = cmd.MarkFlagRequired("workspace")
	_ = cmd.MarkFlagRequired("session-id")
	return cmd
}

func transformApplyCmd() *cobra.Command {
	var workspace, branch, planFile string
	var sessionID int
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a previously proposed rewrite plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			var plan transform.Plan
			if err := cmdutil.ReadPlan(planFile, &plan); err != nil {
				cmdutil.Fail("apply-transformation-plan", err)
				return nil
			}
			svc, closeSvc, err := cmdutil.Open(workspace)
			if err != nil {
				cmdutil.Fail("apply-transformation-plan", err)
				return nil
			}
			defer closeSvc()
			result, err := svc.ApplyTransformationPlan(cmd.Context(), sessionID, branch, plan)
			cmdutil.Emit("apply-transformation-plan", result, err)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace root directory")
	cmd.Flags().IntVar(&sessionID, "session-id", 0, "Session id")
	cmd.Flags().StringVar(&branch, "branch", "", "Branch name (defaults to the session's current branch)")
	cmd.Flags().StringVar(&planFile, "plan-file", "-", "Path to a plan JSON file, or - for stdin")
	_ = cmd.MarkFlagRequired("workspace")
	_ = cmd.MarkFlagRequired("session-id")
	return cmd
}
