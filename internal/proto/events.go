package proto

import (
	"encoding/json"
	"io"
	"time"
)

// EventKind enumerates the §5 streaming event shapes. Consumers treat
// unknown kinds as pass-through, so this list is not meant to be exhaustive
// at the type level — Event.Kind is a plain string.
const (
	EventStatus = "status"
	EventLog    = "log"
	EventFrame  = "frame"
	EventPoll   = "poll"
	EventEnd    = "end"
	EventError  = "error"
)

// Event is one line-delimited JSON event emitted by a streaming debug
// endpoint (spec §5): {event, timestamp, ...}.
type Event struct {
	Kind      string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Fields    map[string]any `json:"-"`
}

// MarshalJSON flattens Fields alongside Kind/Timestamp into one object.
func (e Event) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(e.Fields)+2)
	for k, v := range e.Fields {
		m[k] = v
	}
	m["event"] = e.Kind
	m["timestamp"] = e.Timestamp.Format(time.RFC3339Nano)
	return json.Marshal(m)
}

// EventEmitter writes events to an underlying stream without coupling the
// engine to a specific transport (design note §9: replace std::cout+sleep
// with a redirectable callback). Stdout, a socket, or an in-process channel
// can all implement this.
type EventEmitter interface {
	Emit(Event) error
}

// WriterEmitter emits newline-delimited JSON events to an io.Writer.
type WriterEmitter struct {
	W io.Writer
}

func (w WriterEmitter) Emit(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.W.Write(data)
	return err
}

// ChanEmitter emits events onto an in-process channel, useful for tests and
// for in-process consumers that don't want to round-trip through JSON.
type ChanEmitter struct {
	C chan<- Event
}

func (c ChanEmitter) Emit(ev Event) error {
	c.C <- ev
	return nil
}

func now() time.Time { return time.Now().UTC() }

// NewStatusEvent, NewLogEvent, etc. build events with the current timestamp
// filled in, matching the field conventions consumers expect.
func NewStatusEvent(fields map[string]any) Event { return Event{Kind: EventStatus, Timestamp: now(), Fields: fields} }
func NewLogEvent(fields map[string]any) Event    { return Event{Kind: EventLog, Timestamp: now(), Fields: fields} }
func NewFrameEvent(fields map[string]any) Event  { return Event{Kind: EventFrame, Timestamp: now(), Fields: fields} }
func NewPollEvent(fields map[string]any) Event   { return Event{Kind: EventPoll, Timestamp: now(), Fields: fields} }
func NewEndEvent() Event                         { return Event{Kind: EventEnd, Timestamp: now()} }
func NewErrorEvent(err error) Event {
	return Event{Kind: EventError, Timestamp: now(), Fields: map[string]any{"error": err.Error()}}
}
