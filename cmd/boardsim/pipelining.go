package main

import (
	"github.com/spf13/cobra"

	"boardsim/cmd/boardsim/cmdutil"
	"boardsim/internal/retiming"
)

// pipeliningCmd groups the §4.12 global (subsystem-level) pipelining
// engine: propose plans spanning several blocks, then apply one.
func pipeliningCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipelining",
		Short: "Propose and apply subsystem-wide global pipelining plans",
	}
	cmd.AddCommand(pipeliningProposeCmd())
	cmd.AddCommand(pipeliningApplyCmd())
	return cmd
}

func pipeliningProposeCmd() *cobra.Command {
	var workspace, branch, subsystemID, strategyKind string
	var blockIDs []string
	var sessionID, targetStageCount, targetMaxDepth, maxExtraRegisters, maxTotalMoves int
	cmd := &cobra.Command{
		Use:   "propose",
		Short: "Propose global pipelining plans across a set of blocks",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeSvc, err := cmdutil.Open(workspace)
			if err != nil {
				cmdutil.Fail("propose-global-pipelining-plans", err)
				return nil
			}
			defer closeSvc()
			objective := retiming.GlobalPipeliningObjective{
				Kind:              retiming.GlobalPipeliningStrategyKind(strategyKind),
				TargetStageCount:  targetStageCount,
				TargetMaxDepth:    targetMaxDepth,
				MaxExtraRegisters: maxExtraRegisters,
				MaxTotalMoves:     maxTotalMoves,
			}
			plans, err := svc.ProposeGlobalPipeliningPlans(cmd.Context(), sessionID, branch, subsystemID, blockIDs, objective)
			cmdutil.Emit("propose-global-pipelining-plans", plans, err)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace root directory")
	cmd.Flags().IntVar(&sessionID, "session-id", 0, "Session id")
	cmd.Flags().StringVar(&branch, "branch", "", "Branch name (defaults to the session's current branch)")
	cmd.Flags().StringVar(&subsystemID, "subsystem-id", "", "Identifier for the proposed plan's subsystem")
	cmd.Flags().StringSliceVar(&blockIDs, "block-id", nil, "Block component ids to pipeline together (repeatable)")
	cmd.Flags().StringVar(&strategyKind, "strategy", string(retiming.GlobalBalanceStages), "BalanceStages or ReduceCriticalPath")
	cmd.Flags().IntVar(&targetStageCount, "target-stage-count", -1, "-1 means unbounded")
	cmd.Flags().IntVar(&targetMaxDepth, "target-max-depth", -1, "-1 means unbounded")
	cmd.Flags().IntVar(&maxExtraRegisters, "max-extra-registers", -1, "-1 means unbounded")
	cmd.Flags().IntVar(&maxTotalMoves, "max-total-moves", -1, "-1 means unbounded")
	_ = cmd.MarkFlagRequired("workspace")
	_ = cmd.MarkFlagRequired("session-id")
	_ = cmd.MarkFlagRequired("subsystem-id")
	_ = cmd.MarkFlagRequired("block-id")
	return cmd
}

func pipeliningApplyCmd() *cobra.Command {
	var workspace, branch, planFile string
	var sessionID, maxMoves int
	var applyOnlySafe, allowSuspicious bool
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a previously proposed global pipelining plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			var plan retiming.GlobalPipeliningPlan
			if err := cmdutil.ReadPlan(planFile, &plan); err != nil {
				cmdutil.Fail("apply-global-pipelining-plan", err)
				return nil
			}
			svc, closeSvc, err := cmdutil.Open(workspace)
			if err != nil {
				cmdutil.Fail("apply-global-pipelining-plan", err)
				return nil
			}
			defer closeSvc()
			opts := retiming.ApplicationOptions{
				ApplyOnlySafeMoves:   applyOnlySafe,
				AllowSuspiciousMoves: allowSuspicious,
				MaxMoves:             maxMoves,
			}
			result, err := svc.ApplyGlobalPipeliningPlan(cmd.Context(), sessionID, branch, plan, opts)
			cmdutil.Emit("apply-global-pipelining-plan", result, err)
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
