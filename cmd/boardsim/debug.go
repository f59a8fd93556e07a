package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"boardsim/cmd/boardsim/cmdutil"
	"boardsim/internal/proto"
	"boardsim/internal/service"
)

// debugCmd groups the §5 streaming debug endpoints. Unlike every other
// subcommand, these do not print one JSON envelope: per §6's CLI table
// their exit mode is "streaming" — line-delimited JSON events in temporal
// order, ending with an "end" or "error" event.
func debugCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Streaming debug endpoints over the simulation tick loop",
	}
	cmd.AddCommand(debugProcessLogsCmd())
	cmd.AddCommand(debugWebsocketStreamCmd())
	cmd.AddCommand(debugPollStreamCmd())
	cmd.AddCommand(debugTailCmd())
	return cmd
}

// streamTicks advances a session one tick at a time, handing each batch's
// result to emit, so every streaming debug endpoint shares one source of
// truth for what a "tick happened" event looks like.
func streamTicks(ctx context.Context, svc *service.Service, sessionID, ticks int, emit func(n int, result service.RunTicksResult)) error {
	for n := 1; n <= ticks; n++ {
		result, err := svc.RunTicks(ctx, sessionID, 1, cmdutil.NowISO())
		if err != nil {
			return err
		}
		emit(n, result)
	}
	return nil
}

func debugProcessLogsCmd() *cobra.Command {
	var workspace string
	var sessionID, ticks int
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Stream per-tick log events for a session",
	}
	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Stream per-tick log events for a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			emitter := proto.WriterEmitter{W: os.Stdout}
			svc, closeSvc, err := cmdutil.Open(workspace)
			if err != nil {
				_ = emitter.Emit(proto.NewErrorEvent(err))
				cmdutil.ExitCode = 1
				return nil
			}
			defer closeSvc()
			_ = emitter.Emit(proto.NewStatusEvent(map[string]any{"session_id": sessionID, "ticks_requested": ticks}))
			streamErr := streamTicks(cmd.Context(), svc, sessionID, ticks, func(n int, result service.RunTicksResult) {
				_ = emitter.Emit(proto.NewLogEvent(map[string]any{
					"session_id":  sessionID,
					"tick":        n,
					"fault_count": result.FaultCount,
					"degraded":    result.Degraded,
				}))
			})
			if streamErr != nil {
				_ = emitter.Emit(proto.NewErrorEvent(streamErr))
				cmdutil.ExitCode = 1
				return nil
			}
			_ = emitter.Emit(proto.NewEndEvent())
			return nil
		},
	}
	logsCmd.Flags().StringVar(&workspace, "workspace", "", "Workspace root directory")
	logsCmd.Flags().IntVar(&sessionID, "id", 0, "Session id")
	logsCmd.Flags().IntVar(&ticks, "ticks", 10, "Number of ticks to stream")
	_ = logsCmd.MarkFlagRequired("workspace")
	_ = logsCmd.MarkFlagRequired("id")
	cmd.AddCommand(logsCmd)
	return cmd
}

func debugWebsocketStreamCmd() *cobra.Command {
	var workspace string
	var sessionID, ticks int
	cmd := &cobra.Command{
		Use:   "websocket",
		Short: "Stream per-tick state-hash frames for a session",
	}
	streamCmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream per-tick state-hash frames for a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			emitter := proto.WriterEmitter{W: os.Stdout}
			svc, closeSvc, err := cmdutil.Open(workspace)
			if err != nil {
				_ = emitter.Emit(proto.NewErrorEvent(err))
				cmdutil.ExitCode = 1
				return nil
			}
			defer closeSvc()
			_ = emitter.Emit(proto.NewStatusEvent(map[string]any{"session_id": sessionID, "ticks_requested": ticks}))
			streamErr := streamTicks(cmd.Context(), svc, sessionID, ticks, func(n int, result service.RunTicksResult) {
				_ = emitter.Emit(proto.NewFrameEvent(map[string]any{
					"session_id": sessionID,
					"tick":       n,
					"state_hash": result.StateHash,
				}))
			})
			if streamErr != nil {
				_ = emitter.Emit(proto.NewErrorEvent(streamErr))
				cmdutil.ExitCode = 1
				return nil
			}
			_ = emitter.Emit(proto.NewEndEvent())
			return nil
		},
	}
	streamCmd.Flags().StringVar(&workspace, "workspace", "", "Workspace root directory")
	streamCmd.Flags().IntVar(&sessionID, "id", 0, "Session id")
	streamCmd.Flags().IntVar(&ticks, "ticks", 10, "Number of ticks to stream")
	_ = streamCmd.MarkFlagRequired("workspace")
	_ = streamCmd.MarkFlagRequired("id")
	cmd.AddCommand(streamCmd)
	return cmd
}

func debugPollStreamCmd() *cobra.Command {
	var workspace string
	var sessionID, ticks, intervalMs int
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Stream tick-count poll events for a session at a fixed interval",
	}
	streamCmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream tick-count poll events for a session at a fixed interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			emitter := proto.WriterEmitter{W: os.Stdout}
			svc, closeSvc, err := cmdutil.Open(workspace)
			if err != nil {
				_ = emitter.Emit(proto.NewErrorEvent(err))
				cmdutil.ExitCode = 1
				return nil
			}
			defer closeSvc()
			interval := time.Duration(intervalMs) * time.Millisecond
			_ = emitter.Emit(proto.NewStatusEvent(map[string]any{"session_id": sessionID, "ticks_requested": ticks}))
			streamErr := streamTicks(cmd.Context(), svc, sessionID, ticks, func(n int, result service.RunTicksResult) {
				_ = emitter.Emit(proto.NewPollEvent(map[string]any{
					"session_id":  sessionID,
					"total_ticks": result.TotalTicks,
				}))
				if interval > 0 && n < ticks {
					time.Sleep(interval)
				}
			})
			if streamErr != nil {
				_ = emitter.Emit(proto.NewErrorEvent(streamErr))
				cmdutil.ExitCode = 1
				return nil
			}
			_ = emitter.Emit(proto.NewEndEvent())
			return nil
		},
	}
	streamCmd.Flags().StringVar(&workspace, "workspace", "", "Workspace root directory")
	streamCmd.Flags().IntVar(&sessionID, "id", 0, "Session id")
	streamCmd.Flags().IntVar(&ticks, "ticks", 10, "Number of ticks to stream")
	streamCmd.Flags().IntVar(&intervalMs, "interval-ms", 200, "Delay between poll events")
	_ = streamCmd.MarkFlagRequired("workspace")
	_ = streamCmd.MarkFlagRequired("id")
	cmd.AddCommand(streamCmd)
	return cmd
}

var (
	tailHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	tailFaultStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	tailOkStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

// debugTailCmd is the SPEC_FULL.md-supplemented human-facing viewer: it
// drives the same tick stream as `debug process logs` in-process, but
// renders it with lipgloss instead of raw NDJSON, the way the teacher's
// cmd/ployz/ui renders checklist/status output.
func debugTailCmd() *cobra.Command {
	var workspace string
	var sessionID, ticks int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Interactively render a session's tick stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdutil.ConfigureInteraction()
			svc, closeSvc, err := cmdutil.Open(workspace)
			if err != nil {
				fmt.Fprintln(os.Stderr, tailFaultStyle.Render(err.Error()))
				cmdutil.ExitCode = 1
				return nil
			}
			defer closeSvc()
			fmt.Println(tailHeaderStyle.Render(fmt.Sprintf("session %d — streaming %d ticks", sessionID, ticks)))
			streamErr := streamTicks(cmd.Context(), svc, sessionID, ticks, func(n int, result service.RunTicksResult) {
				line := fmt.Sprintf("tick %-6d hash=%x", n, result.StateHash)
				if result.Degraded {
					fmt.Println(tailFaultStyle.Render(fmt.Sprintf("%s faults=%d", line, result.FaultCount)))
					return
				}
				fmt.Println(tailOkStyle.Render(line))
			})
			if streamErr != nil {
				fmt.Fprintln(os.Stderr, tailFaultStyle.Render(streamErr.Error()))
				cmdutil.ExitCode = 1
				return nil
			}
			fmt.Println(tailHeaderStyle.Render("done"))
			return nil
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace root directory")
	cmd.Flags().IntVar(&sessionID, "session-id", 0, "Session id")
	cmd.Flags().IntVar(&ticks, "ticks", 10, "Number of ticks to stream")
	_ = cmd.MarkFlagRequired("workspace")
	_ = cmd.MarkFlagRequired("session-id")
	return cmd
}
