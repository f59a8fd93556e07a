package proto

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestEventMarshalFlattensFields(t *testing.T) {
	ev := NewLogEvent(map[string]any{"session_id": 3, "tick": 7})
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["event"] != EventLog {
		t.Fatalf("event = %v, want %v", m["event"], EventLog)
	}
	if _, present := m["timestamp"]; !present {
		t.Fatal("expected a timestamp field")
	}
	if m["session_id"] != float64(3) {
		t.Fatalf("session_id = %v, want 3", m["session_id"])
	}
}

func TestNewErrorEventCarriesMessage(t *testing.T) {
	ev := NewErrorEvent(errors.New("tick failed"))
	if ev.Kind != EventError {
		t.Fatalf("Kind = %q, want %q", ev.Kind, EventError)
	}
	if ev.Fields["error"] != "tick failed" {
		t.Fatalf("Fields[error] = %v, want %q", ev.Fields["error"], "tick failed")
	}
}

func TestNewEndEventHasNoFields(t *testing.T) {
	ev := NewEndEvent()
	if ev.Kind != EventEnd {
		t.Fatalf("Kind = %q, want %q", ev.Kind, EventEnd)
	}
	if len(ev.Fields) != 0 {
		t.Fatalf("expected no fields on an end event, got %v", ev.Fields)
	}
}

func TestWriterEmitterWritesOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	emitter := WriterEmitter{W: &buf}

	if err := emitter.Emit(NewStatusEvent(map[string]any{"ticks_requested": 5})); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if err := emitter.Emit(NewEndEvent()); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	lines := bytes.Split(bytes.TrimRight(buf.Bytes(), "\n"), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 NDJSON lines, got %d: %q", len(lines), buf.String())
	}
	var first map[string]any
	if err := json.Unmarshal(lines[0], &first); err != nil {
		t.Fatalf("unmarshal first line: %v", err)
	}
	if first["event"] != EventStatus {
		t.Fatalf("first line event = %v, want %v", first["event"], EventStatus)
	}
}

func TestChanEmitterDeliversEvent(t *testing.T) {
	c := make(chan Event, 1)
	emitter := ChanEmitter{C: c}
	ev := NewPollEvent(map[string]any{"total_ticks": 10})
	if err := emitter.Emit(ev); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	got := <-c
	if got.Kind != EventPoll {
		t.Fatalf("received event kind = %q, want %q", got.Kind, EventPoll)
	}
}
