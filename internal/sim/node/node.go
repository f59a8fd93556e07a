// Package node defines the Node/Connector/Link contract shared by every
// simulation element (spec §4.1). Concrete node kinds (gate, register, ALU,
// analog) live alongside this contract; the catalog here is intentionally
// thin — individual component families are catalog material, not core
// design (spec §1 Non-goals).
package node

import "fmt"

// Role classifies a Connector's direction.
type Role int

const (
	RoleSource Role = iota
	RoleSink
	RoleBidirectional
)

func (r Role) String() string {
	switch r {
	case RoleSource:
		return "source"
	case RoleSink:
		return "sink"
	case RoleBidirectional:
		return "bidirectional"
	default:
		return "unknown"
	}
}

// ProcessKind is the tag on Node.Process. Write is the only kind currently
// defined; others are reserved per spec §4.1.
type ProcessKind int

const (
	ProcessWrite ProcessKind = iota
)

// Connector is a named port on a Node. Identity is the stable integer Index
// assigned at construction in declaration order (spec §4.1).
type Connector struct {
	Index          int
	Name           string
	Role           Role
	MultiAllowed   bool
	WidthBits      int
	Links          []Link
}

// Link is a directed edge from this connector to a connector on another
// node, identified by the owning board's node index.
type Link struct {
	TargetNodeIndex int
	TargetConnIndex int
}

// FaultKind classifies a component-contract error (spec §4.1): these never
// abort a tick pass, they are recorded and the pass is marked degraded.
type FaultKind int

const (
	FaultConnIDOutOfRange FaultKind = iota
	FaultWidthMismatch
	FaultWriteToNonSource
	FaultInternal
)

// Fault is a component-contract error attributable to one node/connector.
type Fault struct {
	Kind    FaultKind
	NodeID  string
	ConnID  int
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("node %s conn %d: %s", f.NodeID, f.ConnID, f.Message)
}

// Value is the bit/value payload latched by Put. Digital nodes use Bits and
// WidthBits; analog nodes (spec §4.3) use Analog instead (or in addition).
type Value struct {
	Bits      uint64
	WidthBits int
	Analog    float64
	IsAnalog  bool
}

// Node is the contract every simulation element implements.
//
// Tick must be idempotent if called twice without Put changing any latched
// input (spec §4.1). Put latches a value on a sink/bidirectional connector.
// Process, when kind==Write, propagates this node's current output on
// connID to target.Put(...).
type Node interface {
	// ID is a stable, human-readable identifier assigned at construction.
	ID() string
	// ClassTag identifies the node's kind for snapshot encoding (spec §4.5).
	ClassTag() string
	// Connectors returns the node's connector table in declaration order.
	// Callers must not mutate the returned slice's connectors' Links other
	// than through the owning Board.
	Connectors() []*Connector

	Tick() error
	Put(connID int, v Value) error
	Process(kind ProcessKind, connID int, target Node, targetConnID int) error
}

// ConnectorRanges is implemented by node kinds whose connectors are
// partitioned into input/output/flag ranges, so that callers and the
// timing analyzer can classify connectors without hardcoding per-kind
// knowledge (spec §9 OQ1 decision, SPEC_FULL.md).
type ConnectorRanges interface {
	ConnectorRanges() (inputs, outputs, flags [2]int)
}

// Base provides the connector-table bookkeeping shared by every built-in
// node kind: stable IDs, width/role validation, link storage. Concrete
// kinds embed Base and implement Tick/Process on top of it.
type Base struct {
	id       string
	class    string
	conns    []*Connector
	byName   map[string]int
}

// NewBase constructs a Base with the given id/class and connector
// declarations (in the order given — declaration order is connector
// identity, per spec §4.1).
func NewBase(id, class string, decls []ConnectorDecl) *Base {
	b := &Base{id: id, class: class, byName: make(map[string]int, len(decls))}
	for i, d := range decls {
		b.conns = append(b.conns, &Connector{
			Index:        i,
			Name:         d.Name,
			Role:         d.Role,
			MultiAllowed: d.MultiAllowed,
			WidthBits:    d.WidthBits,
		})
		b.byName[d.Name] = i
	}
	return b
}

// ConnectorDecl describes one connector at construction time.
type ConnectorDecl struct {
	Name         string
	Role         Role
	MultiAllowed bool
	WidthBits    int
}

func (b *Base) ID() string              { return b.id }
func (b *Base) ClassTag() string        { return b.class }
func (b *Base) Connectors() []*Connector { return b.conns }

// ConnByName looks up a connector index by name; ok is false if absent.
func (b *Base) ConnByName(name string) (int, bool) {
	i, ok := b.byName[name]
	return i, ok
}

// CheckConn validates connID is in range; it does not check the
// connector's role. Returns a *Fault (not a plain error) so
// callers can decide whether to count it against the degraded-tick total.
func (b *Base) CheckConn(connID int) (*Connector, *Fault) {
	if connID < 0 || connID >= len(b.conns) {
		return nil, &Fault{Kind: FaultConnIDOutOfRange, NodeID: b.id, ConnID: connID, Message: "connector id out of range"}
	}
	return b.conns[connID], nil
}
