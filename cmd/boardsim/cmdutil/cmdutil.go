// Package cmdutil holds the plumbing shared by every boardsim subcommand:
// workspace/service wiring and the single-JSON-envelope output contract
// (spec §6).
package cmdutil

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"boardsim/internal/proto"
	"boardsim/internal/session"
	"boardsim/internal/session/index"
	"boardsim/internal/service"
)

// ExitCode is set by Emit and read by main after root.Execute returns, so
// that deferred cleanup (tracer shutdown) still runs before the process
// exits (mirrors the teacher's main.go, which defers tp.Shutdown around
// root.Execute()).
var ExitCode int

// NowISO returns the current UTC time in the ISO-8601 Z form every
// workspace/session timestamp field uses.
func NowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z")
}

// Open constructs a *service.Service rooted at workspace, with the
// secondary sqlite index wired in when it can be opened. The index is
// advisory (internal/service tolerates a nil one), so a failure to open it
// only disables list/filter acceleration, it never fails the command.
func Open(workspace string) (*service.Service, func(), error) {
	if workspace == "" {
		return nil, nil, proto.NewError(proto.ErrInvalidArgument, "--workspace is required")
	}
	store := session.Open(workspace)

	idx, err := index.Open(filepath.Join(workspace, "sessions.sqlite"))
	if err != nil {
		return service.New(store, nil), func() {}, nil
	}
	return service.New(store, idx), func() { _ = idx.Close() }, nil
}

// Emit prints exactly one JSON envelope to stdout and records the process
// exit code (0 iff ok), per spec §6.
func Emit(command string, data any, err error) {
	var env proto.Envelope
	if err != nil {
		env = proto.Fail(command, err)
	} else {
		env = proto.Ok(command, data)
	}
	b, marshalErr := json.Marshal(env)
	if marshalErr != nil {
		env = proto.Fail(command, proto.NewError(proto.ErrInternalError, "marshal result: %v", marshalErr))
		b, _ = json.Marshal(env)
	}
	fmt.Println(string(b))
	ExitCode = env.ExitCode()
}

// Fail is a convenience for commands that bail out before reaching the
// service call (e.g. flag validation).
func Fail(command string, err error) {
	Emit(command, nil, err)
}

// WriteParseError is used by main when cobra itself rejects the command
// line (unknown command, bad flag) before any RunE runs, so even that path
// still honors the one-JSON-envelope-to-stdout contract.
func WriteParseError(command string, err error) {
	Emit(command, nil, proto.NewError(proto.ErrCommandParseError, "%v", err))
}

// Stderr is used sparingly, only for conditions that happen before logging
// is configured (e.g. failing to configure logging itself).
func Stderr(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}

// ReadPlan unmarshals a propose-* plan (or edit operation) from --plan-file,
// or from stdin when path is "-" or empty. Transformation/retiming plans are
// proposed by one command and handed to another to apply, so the CLI never
// invents plan shapes itself — it only round-trips what propose-* already
// printed under "data".
func ReadPlan(path string, out any) error {
	var data []byte
	var err error
	if path == "" || path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return proto.NewError(proto.ErrInvalidArgument, "read plan: %v", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return proto.NewError(proto.ErrCommandParseError, "parse plan: %v", err)
	}
	return nil
}
