// Package logging installs a process-wide structured logger.
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Configure installs a process-wide slog default logger at the given level.
// Supported levels: debug, info, warn, error (case-insensitive; empty means
// info).
func Configure(level string) error {
	parsed, err := parseLevel(level)
	if err != nil {
		return err
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parsed})
	slog.SetDefault(slog.New(h))
	return nil
}

// ConfigureForCLI maps boardsim's --debug bool flag convention (warn by
// default, debug when the flag is set) onto Configure, so every boardsim
// command shares one place that decides what --debug means instead of each
// cobra PersistentPreRunE re-deriving the same warn/debug switch.
func ConfigureForCLI(debug bool) error {
	level := LevelWarn
	if debug {
		level = LevelDebug
	}
	return Configure(level)
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", LevelInfo:
		return slog.LevelInfo, nil
	case LevelDebug:
		return slog.LevelDebug, nil
	case LevelWarn:
		return slog.LevelWarn, nil
	case LevelError:
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", level)
	}
}
