package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"boardsim/internal/circuit"
	"boardsim/internal/proto"
	"boardsim/internal/session"
	"boardsim/internal/session/index"
	"boardsim/internal/service"
)

// dispatcher caches one *service.Service per workspace path, mirroring the
// CLI's cmdutil.Open but kept alive across requests instead of opened once
// per process invocation (spec §5: "requests are processed one at a time
// per session; responses are written before the next request is read").
type dispatcher struct {
	mu   sync.Mutex
	svcs map[string]*serviceHandle
}

type serviceHandle struct {
	svc *service.Service
	idx *index.Index
}

func newDispatcher() *dispatcher {
	return &dispatcher{svcs: make(map[string]*serviceHandle)}
}

func (d *dispatcher) closeAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range d.svcs {
		if h.idx != nil {
			_ = h.idx.Close()
		}
	}
}

func (d *dispatcher) serviceFor(workspace string) *service.Service {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h, ok := d.svcs[workspace]; ok {
		return h.svc
	}
	store := session.Open(workspace)
	idx, err := index.Open(filepath.Join(workspace, "sessions.sqlite"))
	if err != nil {
		slog.Warn("secondary index unavailable", "workspace", workspace, "error", err)
		h := &serviceHandle{svc: service.New(store, nil)}
		d.svcs[workspace] = h
		return h.svc
	}
	h := &serviceHandle{svc: service.New(store, idx), idx: idx}
	d.svcs[workspace] = h
	return h.svc
}

// serveConn reads line-delimited JSON requests off rw and writes
// line-delimited JSON responses back, one at a time, until EOF or ctx is
// canceled.
func serveConn(ctx context.Context, d *dispatcher, rw io.ReadWriteCloser) {
	defer rw.Close()
	scanner := bufio.NewScanner(rw)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	enc := json.NewEncoder(rw)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req proto.Request
		if err := json.Unmarshal(line, &req); err != nil {
			_ = enc.Encode(proto.Response{OK: false, ErrorCode: proto.ErrCommandParseError, Error: err.Error()})
			continue
		}
		resp := dispatch(ctx, d, req)
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}

func nowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z")
}

func decodePayload(payload any, out any) error {
	if payload == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func dispatch(ctx context.Context, d *dispatcher, req proto.Request) proto.Response {
	svc := d.serviceFor(req.Workspace)
	sessionID := 0
	if req.SessionID != nil {
		sessionID = *req.SessionID
	}

	switch req.Command {
	case "init-workspace":
		ws, created, err := svc.InitWorkspace(ctx, nowISO())
		if err != nil {
			return proto.RespondErr(req, err)
		}
		return proto.RespondOk(req, map[string]any{"workspace": ws, "created": created})

	case "create-session":
		var p struct {
			CircuitFile string `json:"circuit_file"`
		}
		if err := decodePayload(req.Payload, &p); err != nil {
			return proto.RespondErr(req, proto.NewError(proto.ErrCommandParseError, "%v", err))
		}
		meta, err := svc.CreateSession(ctx, p.CircuitFile, nowISO())
		if err != nil {
			return proto.RespondErr(req, err)
		}
		return proto.RespondOk(req, meta)

	case "list-sessions":
		result, err := svc.ListSessions(ctx)
		if err != nil {
			return proto.RespondErr(req, err)
		}
		return proto.RespondOk(req, result)

	case "destroy-session":
		if err := svc.DestroySession(ctx, sessionID); err != nil {
			return proto.RespondErr(req, err)
		}
		return proto.RespondOk(req, nil)

	case "run-ticks":
		var p struct {
			Ticks int `json:"ticks"`
		}
		if err := decodePayload(req.Payload, &p); err != nil {
			return proto.RespondErr(req, proto.NewError(proto.ErrCommandParseError, "%v", err))
		}
		result, err := svc.RunTicks(ctx, sessionID, p.Ticks, nowISO())
		if err != nil {
			return proto.RespondErr(req, err)
		}
		return proto.RespondOk(req, result)

	case "get-state":
		result, err := svc.GetState(ctx, sessionID)
		if err != nil {
			return proto.RespondErr(req, err)
		}
		return proto.RespondOk(req, result)

	case "export-netlist":
		var p struct {
			PcbID string `json:"pcb_id"`
		}
		if err := decodePayload(req.Payload, &p); err != nil {
			return proto.RespondErr(req, proto.NewError(proto.ErrCommandParseError, "%v", err))
		}
		path, text, err := svc.ExportNetlist(ctx, sessionID, p.PcbID)
		if err != nil {
			return proto.RespondErr(req, err)
		}
		return proto.RespondOk(req, map[string]any{"path": path, "netlist": text})

	case "apply-edit-operation":
		var op circuit.EditOperation
		if err := decodePayload(req.Payload, &op); err != nil {
			return proto.RespondErr(req, proto.NewError(proto.ErrCommandParseError, "%v", err))
		}
		rev, err := svc.ApplyEditOperation(ctx, sessionID, op)
		if err != nil {
			return proto.RespondErr(req, err)
		}
		return proto.RespondOk(req, map[string]any{"head_revision": rev})

	case "branch-list":
		branches, err := svc.ListBranches(ctx, sessionID)
		if err != nil {
			return proto.RespondErr(req, err)
		}
		return proto.RespondOk(req, branches)

	case "branch-create":
		var p struct {
			Name         string `json:"name"`
			FromBranch   string `json:"from_branch"`
			FromRevision int64  `json:"from_revision"`
		}
		if err := decodePayload(req.Payload, &p); err != nil {
			return proto.RespondErr(req, proto.NewError(proto.ErrCommandParseError, "%v", err))
		}
		b, err := svc.CreateBranch(ctx, sessionID, p.Name, p.FromBranch, p.FromRevision)
		if err != nil {
			return proto.RespondErr(req, err)
		}
		return proto.RespondOk(req, b)

	case "branch-switch":
		var p struct {
			Name string `json:"name"`
		}
		if err := decodePayload(req.Payload, &p); err != nil {
			return proto.RespondErr(req, proto.NewError(proto.ErrCommandParseError, "%v", err))
		}
		if err := svc.SwitchBranch(ctx, sessionID, p.Name); err != nil {
			return proto.RespondErr(req, err)
		}
		return proto.RespondOk(req, nil)

	case "branch-delete":
		var p struct {
			Name string `json:"name"`
		}
		if err := decodePayload(req.Payload, &p); err != nil {
			return proto.RespondErr(req, proto.NewError(proto.ErrCommandParseError, "%v", err))
		}
		if err := svc.DeleteBranch(ctx, sessionID, p.Name); err != nil {
			return proto.RespondErr(req, err)
		}
		return proto.RespondOk(req, nil)

	case "branch-merge":
		var p struct {
			Source     string `json:"source"`
			Target     string `json:"target"`
			AllowMerge bool   `json:"allow_merge"`
		}
		if err := decodePayload(req.Payload, &p); err != nil {
			return proto.RespondErr(req, proto.NewError(proto.ErrCommandParseError, "%v", err))
		}
		result, err := svc.MergeBranches(ctx, sessionID, p.Source, p.Target, p.AllowMerge)
		if err != nil {
			return proto.RespondErr(req, err)
		}
		return proto.RespondOk(req, result)

	default:
		return proto.RespondErr(req, proto.NewError(proto.ErrCommandParseError, "unknown command %q", req.Command))
	}
}
