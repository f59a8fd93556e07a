package main

import (
	"github.com/spf13/cobra"

	"boardsim/cmd/boardsim/cmdutil"
	"boardsim/internal/retiming"
)

// retimingCmd groups the §4.11 retiming engine: propose register-movement
// plans around one target node, then apply one.
func retimingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retiming",
		Short: "Propose and apply register-movement (retiming) plans",
	}
	cmd.AddCommand(retimingProposeCmd())
	cmd.AddCommand(retimingApplyCmd())
	return cmd
}

func retimingProposeCmd() *cobra.Command {
	var workspace, branch, target, objectiveKind string
	var sessionID, maxExtraRegisters, maxMoves, targetMaxDepth int
	cmd := &cobra.Command{
		Use:   "propose",
		Short: "Propose retiming plans around a target node",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeSvc, err := cmdutil.Open(workspace)
			if err != nil {
				cmdutil.Fail("propose-retiming-plans", err)
				return nil
			}
			defer closeSvc()
			objective := retiming.Objective{
				Kind:              retiming.ObjectiveKind(objectiveKind),
				MaxExtraRegisters: maxExtraRegisters,
				MaxMoves:          maxMoves,
				TargetMaxDepth:    targetMaxDepth,
			}
			plans, err := svc.ProposeRetimingPlans(cmd.Context(), sessionID, branch, target, objective)
			cmdutil.Emit("propose-retiming-plans", plans, err)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace root directory")
	cmd.Flags().IntVar(&sessionID, "session-id", 0, "Session id")
	cmd.Flags().StringVar(&branch, "branch", "", "Branch name (defaults to the session's current branch)")
	cmd.Flags().StringVar(&target, "target", "", "Target component id to retime around")
	cmd.Flags().StringVar(&objectiveKind, "objective", string(retiming.MinimizeMaxDepth), "MinimizeMaxDepth, MinimizeDepthWithBudget, or BalanceStages")
	cmd.Flags().IntVar(&maxExtraRegisters, "max-extra-registers", -1, "-1 means unbounded")
	cmd.Flags().IntVar(&maxMoves, "max-moves", -1, "-1 means unbounded")
	cmd.Flags().IntVar(&targetMaxDepth, "target-max-depth", -1, "-1 means unbounded")
	_ = cmd.MarkFlagRequired("workspace")
	_ = cmd.MarkFlagRequired("session-id")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func retimingApplyCmd() *cobra.Command {
	var workspace, branch, planFile string
	var sessionID, maxMoves int
	var applyOnlySafe, allowSuspicious bool
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a previously proposed retiming plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			var plan retiming.Plan
			if err := cmdutil.ReadPlan(planFile, &plan); err != nil {
				cmdutil.Fail("apply-retiming-plan", err)
				return nil
			}
			svc, closeSvc, err := cmdutil.Open(workspace)
			if err != nil {
				cmdutil.Fail("apply-retiming-plan", err)
				return nil
			}
			defer closeSvc()
			opts := retiming.ApplicationOptions{
				ApplyOnlySafeMoves:   applyOnlySafe,
				AllowSuspiciousMoves: allowSuspicious,
				MaxMoves:             maxMoves,
			}
			result, err := svc.ApplyRetimingPlan(cmd.Context(), sessionID, branch, plan, opts)
			cmdutil.Emit("apply-retiming-plan", result, err)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace root directory")
	cmd.Flags().IntVar(&sessionID, "session-id", 0, "Session id")
	cmd.Flags().StringVar(&branch, "branch", "", "Branch name (defaults to the session's current branch)")
	cmd.Flags().StringVar(&planFile, "plan-file", "-", "Path to a plan JSON file, or - for stdin")
	cmd.Flags().BoolVar(&applyOnlySafe, "apply-only-safe-moves", true, "Apply only moves the engine marked safe")
	cmd.Flags().BoolVar(&allowSuspicious, "allow-suspicious-moves", false, "Allow moves the engine flagged suspicious")
	cmd.Flags().IntVar(&maxMoves, "max-moves", -1, "-1 means unbounded")
	_ = cmd.MarkFlagRequired("workspace")
	_ = cmd.MarkFlagRequired("session-id")
	return cmd
}
