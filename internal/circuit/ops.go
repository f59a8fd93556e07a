package circuit

import (
	"fmt"
	"regexp"

	"boardsim/internal/proto"
)

// OpKind tags the edit-operation union (spec §3).
type OpKind string

const (
	OpAddComponent    OpKind = "AddComponent"
	OpRemoveComponent OpKind = "RemoveComponent"
	OpSetProperty     OpKind = "SetProperty"
	OpMoveComponent   OpKind = "MoveComponent"
	OpConnect         OpKind = "Connect"
	OpDisconnect      OpKind = "Disconnect"
	OpCreateNet       OpKind = "CreateNet"
	OpMergeNets       OpKind = "MergeNets"
	OpRenameEntity    OpKind = "RenameEntity"
	OpAddBlock        OpKind = "AddBlock"
	OpRemoveBlock     OpKind = "RemoveBlock"
)

// EntityKind is the target of a RenameEntity op.
type EntityKind string

const (
	EntityComponent EntityKind = "component"
	EntityPin       EntityKind = "pin"
	EntityNet       EntityKind = "net"
	EntityBlock     EntityKind = "block"
)

// EditOperation is the flat, all-fields tagged union of circuit mutations
// (spec §3). Only the fields relevant to Kind are populated; this mirrors
// the original's CommandOptions-style flat-struct convention
// (ProtoVMCLI/SessionTypes.h) rather than a Go sum-type-via-interfaces
// encoding, so the log round-trips through JSON without a custom
// marshaler per kind.
type EditOperation struct {
	Kind OpKind `json:"kind"`

	// AddComponent / RemoveComponent / MoveComponent / SetProperty
	ComponentID   string         `json:"component_id,omitempty"`
	ComponentKind string         `json:"component_kind,omitempty"`
	Properties    map[string]any `json:"properties,omitempty"`
	Cascade       bool           `json:"cascade,omitempty"`
	PropertyName  string         `json:"property_name,omitempty"`
	PropertyValue any            `json:"property_value,omitempty"`
	X, Y          float64        `json:"x,omitempty"`

	// Connect / Disconnect
	PinA string `json:"pin_a,omitempty"`
	PinB string `json:"pin_b,omitempty"`

	// CreateNet
	NetID        string   `json:"net_id,omitempty"`
	InitialPins  []string `json:"initial_pins,omitempty"`

	// MergeNets
	NetA string `json:"net_a,omitempty"`
	NetB string `json:"net_b,omitempty"`

	// RenameEntity
	EntityKind EntityKind `json:"entity_kind,omitempty"`
	OldName    string     `json:"old_name,omitempty"`
	NewName    string     `json:"new_name,omitempty"`

	// AddBlock / RemoveBlock
	BlockID       string   `json:"block_id,omitempty"`
	BlockName     string   `json:"block_name,omitempty"`
	BlockComps    []string `json:"block_components,omitempty"`
	BlockPorts    []string `json:"block_ports,omitempty"`
}

var entityNameRE = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)

// Apply validates op against the circuit's current state and, only if every
// precondition holds, mutates the circuit and appends op to the log,
// returning the new revision number. On any validation failure the circuit
// is returned unchanged (spec §8 invariant 5); all preconditions are
// checked before the first field is written.
func (c *Circuit) Apply(op EditOperation) (int64, error) {
	switch op.Kind {
	case OpAddComponent:
		if err := c.applyAddComponent(op); err != nil {
			return c.Revision, err
		}
	case OpRemoveComponent:
		if err := c.applyRemoveComponent(op); err != nil {
			return c.Revision, err
		}
	case OpSetProperty:
		if err := c.applySetProperty(op); err != nil {
			return c.Revision, err
		}
	case OpMoveComponent:
		if err := c.applyMoveComponent(op); err != nil {
			return c.Revision, err
		}
	case OpConnect:
		if err := c.applyConnect(op); err != nil {
			return c.Revision, err
		}
	case OpDisconnect:
		if err := c.applyDisconnect(op); err != nil {
			return c.Revision, err
		}
	case OpCreateNet:
		if err := c.applyCreateNet(op); err != nil {
			return c.Revision, err
		}
	case OpMergeNets:
		if err := c.applyMergeNets(op); err != nil {
			return c.Revision, err
		}
	case OpRenameEntity:
		if err := c.applyRenameEntity(op); err != nil {
			return c.Revision, err
		}
	case OpAddBlock:
		if err := c.applyAddBlock(op); err != nil {
			return c.Revision, err
		}
	case OpRemoveBlock:
		if err := c.applyRemoveBlock(op); err != nil {
			return c.Revision, err
		}
	default:
		return c.Revision, proto.NewError(proto.ErrInvalidEditOp, "unknown edit operation kind %q", op.Kind)
	}
	c.Ops = append(c.Ops, op)
	c.Revision++
	return c.Revision, nil
}

func (c *Circuit) applyAddComponent(op EditOperation) error {
	if op.ComponentID == "" {
		return proto.NewError(proto.ErrInvalidEditOp, "AddComponent requires a component_id")
	}
	if _, exists := c.Components[op.ComponentID]; exists {
		return proto.NewError(proto.ErrInvalidEditOp, "component %q already exists", op.ComponentID)
	}
	if !knownKinds[op.ComponentKind] {
		return proto.NewError(proto.ErrInvalidEditOp, "unknown component kind %q", op.ComponentKind)
	}
	specs, err := pinsForKind(op.ComponentKind, op.Properties)
	if err != nil {
		return proto.NewError(proto.ErrInvalidEditOp, "%v", err)
	}

	comp := &Component{ID: op.ComponentID, Kind: op.ComponentKind, Properties: cloneProps(op.Properties), X: op.X, Y: op.Y}
	c.Components[op.ComponentID] = comp
	for _, s := range specs {
		pid := pinID(op.ComponentID, s.Name)
		c.Pins[pid] = &Pin{ID: pid, ComponentID: op.ComponentID, Name: s.Name, Role: s.Role, MultiAllowed: s.MultiAllowed, WidthBits: s.WidthBits}
	}
	return nil
}

func cloneProps(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (c *Circuit) applyRemoveComponent(op EditOperation) error {
	comp, ok := c.Components[op.ComponentID]
	if !ok {
		return proto.NewError(proto.ErrInvalidEditOp, "component %q does not exist", op.ComponentID)
	}
	pins := c.ComponentPins(comp.ID)

	if !op.Cascade {
		for _, p := range pins {
			if net, ok := c.Nets[p.NetID]; ok && len(net.PinIDs) > 1 {
				return proto.NewError(proto.ErrInvalidEditOp, "component %q pin %q has outstanding links; pass cascade=true to remove them", comp.ID, p.Name)
			}
		}
	}

	for _, p := range pins {
		if p.NetID != "" {
			c.removePinFromNet(p.ID, p.NetID)
		}
		delete(c.Pins, p.ID)
	}
	for _, b := range c.Blocks {
		b.ComponentIDs = removeString(b.ComponentIDs, comp.ID)
	}
	delete(c.Components, comp.ID)
	return nil
}

// removePinFromNet removes pinID from netID's membership, deleting the net
// if it becomes empty or a singleton (a one-pin net carries no link, so the
// remaining pin is freed along with it).
func (c *Circuit) removePinFromNet(pinID, netID string) {
	net, ok := c.Nets[netID]
	if !ok {
		return
	}
	net.PinIDs = removeString(net.PinIDs, pinID)
	if p, ok := c.Pins[pinID]; ok {
		p.NetID = ""
	}
	switch len(net.PinIDs) {
	case 0:
		delete(c.Nets, netID)
	case 1:
		if p, ok := c.Pins[net.PinIDs[0]]; ok {
			p.NetID = ""
		}
		delete(c.Nets, netID)
	}
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

func (c *Circuit) applySetProperty(op EditOperation) error {
	comp, ok := c.Components[op.ComponentID]
	if !ok {
		return proto.NewError(proto.ErrInvalidEditOp, "component %q does not exist", op.ComponentID)
	}
	schema := propertySchema(comp.Kind)
	spec, ok := schema[op.PropertyName]
	if !ok {
		return proto.NewError(proto.ErrInvalidEditOp, "%q has no property %q", comp.Kind, op.PropertyName)
	}
	if err := validatePropertyValue(spec, op.PropertyValue); err != nil {
		return proto.NewError(proto.ErrInvalidEditOp, "%v", err)
	}
	if comp.Properties == nil {
		comp.Properties = make(map[string]any)
	}
	comp.Properties[op.PropertyName] = op.PropertyValue
	return nil
}

func validatePropertyValue(spec propertySpec, v any) error {
	switch spec.kind {
	case "int":
		n, ok := toInt(v)
		if !ok {
			return fmt.Errorf("value must be an integer")
		}
		if spec.hasInt && (n < spec.minInt || n > spec.maxInt) {
			return fmt.Errorf("value %d out of range [%d,%d]", n, spec.minInt, spec.maxInt)
		}
	case "float":
		switch v.(type) {
		case float64, float32:
		default:
			return fmt.Errorf("value must be a float")
		}
	case "string":
		if _, ok := v.(string); !ok {
			return fmt.Errorf("value must be a string")
		}
	case "bool":
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("value must be a bool")
		}
	}
	return nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func (c *Circuit) applyMoveComponent(op EditOperation) error {
	comp, ok := c.Components[op.ComponentID]
	if !ok {
		return proto.NewError(proto.ErrInvalidEditOp, "component %q does not exist", op.ComponentID)
	}
	comp.X, comp.Y = op.X, op.Y
	return nil
}

func (c *Circuit) applyConnect(op EditOperation) error {
	pa, ok := c.Pins[op.PinA]
	if !ok {
		return proto.NewError(proto.ErrInvalidEditOp, "pin %q does not exist", op.PinA)
	}
	pb, ok := c.Pins[op.PinB]
	if !ok {
		return proto.NewError(proto.ErrInvalidEditOp, "pin %q does not exist", op.PinB)
	}
	if pa.ID == pb.ID {
		return proto.NewError(proto.ErrInvalidEditOp, "cannot connect a pin to itself")
	}
	if pa.WidthBits != pb.WidthBits {
		return proto.NewError(proto.ErrInvalidEditOp, "width mismatch connecting %q (%d) to %q (%d)", pa.ID, pa.WidthBits, pb.ID, pb.WidthBits)
	}
	if pa.NetID != "" && pb.NetID != "" {
		if pa.NetID == pb.NetID {
			return proto.NewError(proto.ErrInvalidEditOp, "pins %q and %q are already connected", pa.ID, pb.ID)
		}
		return proto.NewError(proto.ErrInvalidEditOp, "pins %q and %q already belong to different nets; use MergeNets", pa.ID, pb.ID)
	}
	if !canAcceptAnotherLink(pa) || !canAcceptAnotherLink(pb) {
		return proto.NewError(proto.ErrInvalidEditOp, "connecting %q to %q would short a non-multi connector", pa.ID, pb.ID)
	}

	switch {
	case pa.NetID == "" && pb.NetID == "":
		netID := op.NetID
		if netID == "" {
			netID = "net_" + pa.ID + "_" + pb.ID
		}
		if _, exists := c.Nets[netID]; exists {
			return proto.NewError(proto.ErrInvalidEditOp, "net %q already exists", netID)
		}
		c.Nets[netID] = &Net{ID: netID, PinIDs: []string{pa.ID, pb.ID}}
		pa.NetID, pb.NetID = netID, netID
	case pa.NetID != "":
		net := c.Nets[pa.NetID]
		net.PinIDs = append(net.PinIDs, pb.ID)
		pb.NetID = pa.NetID
	default:
		net := c.Nets[pb.NetID]
		net.PinIDs = append(net.PinIDs, pa.ID)
		pa.NetID = pb.NetID
	}
	return nil
}

// canAcceptAnotherLink reports whether a pin may join one more net
// membership without violating its multi-conn-allowed flag (spec §3: "a
// non-multi connector has at most one link").
func canAcceptAnotherLink(p *Pin) bool {
	return p.NetID == "" || p.MultiAllowed
}

func (c *Circuit) applyDisconnect(op EditOperation) error {
	pa, ok := c.Pins[op.PinA]
	if !ok {
		return proto.NewError(proto.ErrInvalidEditOp, "pin %q does not exist", op.PinA)
	}
	pb, ok := c.Pins[op.PinB]
	if !ok {
		return proto.NewError(proto.ErrInvalidEditOp, "pin %q does not exist", op.PinB)
	}
	if pa.NetID == "" || pa.NetID != pb.NetID {
		return proto.NewError(proto.ErrInvalidEditOp, "no link exists between %q and %q", pa.ID, pb.ID)
	}
	c.removePinFromNet(pb.ID, pa.NetID)
	return nil
}

func (c *Circuit) applyCreateNet(op EditOperation) error {
	if op.NetID == "" {
		return proto.NewError(proto.ErrInvalidEditOp, "CreateNet requires a net_id")
	}
	if _, exists := c.Nets[op.NetID]; exists {
		return proto.NewError(proto.ErrInvalidEditOp, "net %q already exists", op.NetID)
	}
	seen := make(map[string]bool, len(op.InitialPins))
	width := -1
	for _, pid := range op.InitialPins {
		p, ok := c.Pins[pid]
		if !ok {
			return proto.NewError(proto.ErrInvalidEditOp, "pin %q does not exist", pid)
		}
		if p.NetID != "" {
			return proto.NewError(proto.ErrInvalidEditOp, "pin %q is already on a net", pid)
		}
		if seen[pid] {
			return proto.NewError(proto.ErrInvalidEditOp, "duplicate pin %q in CreateNet", pid)
		}
		if width == -1 {
			width = p.WidthBits
		} else if p.WidthBits != width {
			return proto.NewError(proto.ErrInvalidEditOp, "pin %q width %d does not match net width %d", pid, p.WidthBits, width)
		}
		seen[pid] = true
	}
	if len(op.InitialPins) > 2 {
		for _, pid := range op.InitialPins {
			if !c.Pins[pid].MultiAllowed {
				return proto.NewError(proto.ErrInvalidEditOp, "pin %q cannot join a multi-pin net (not multi-conn-allowed)", pid)
			}
		}
	}
	c.Nets[op.NetID] = &Net{ID: op.NetID, PinIDs: append([]string(nil), op.InitialPins...)}
	for _, pid := range op.InitialPins {
		c.Pins[pid].NetID = op.NetID
	}
	return nil
}

func (c *Circuit) applyMergeNets(op EditOperation) error {
	na, ok := c.Nets[op.NetA]
	if !ok {
		return proto.NewError(proto.ErrInvalidEditOp, "net %q does not exist", op.NetA)
	}
	nb, ok := c.Nets[op.NetB]
	if !ok {
		return proto.NewError(proto.ErrInvalidEditOp, "net %q does not exist", op.NetB)
	}
	if na.ID == nb.ID {
		return proto.NewError(proto.ErrInvalidEditOp, "cannot merge a net with itself")
	}
	if len(na.PinIDs) > 0 && len(nb.PinIDs) > 0 {
		wa, wb := c.Pins[na.PinIDs[0]].WidthBits, c.Pins[nb.PinIDs[0]].WidthBits
		if wa != wb {
			return proto.NewError(proto.ErrInvalidEditOp, "cannot merge nets of differing width (%d vs %d)", wa, wb)
		}
	}
	merged := len(na.PinIDs) + len(nb.PinIDs)
	if merged > 1 {
		for _, pid := range append(append([]string(nil), na.PinIDs...), nb.PinIDs...) {
			if !c.Pins[pid].MultiAllowed {
				return proto.NewError(proto.ErrInvalidEditOp, "merging %q and %q would short non-multi pin %q", op.NetA, op.NetB, pid)
			}
		}
	}
	for _, pid := range nb.PinIDs {
		c.Pins[pid].NetID = na.ID
		na.PinIDs = append(na.PinIDs, pid)
	}
	delete(c.Nets, nb.ID)
	return nil
}

func (c *Circuit) applyRenameEntity(op EditOperation) error {
	if !entityNameRE.MatchString(op.NewName) {
		return proto.NewError(proto.ErrInvalidEditOp, "new name %q does not match [A-Za-z0-9_-]{1,100}", op.NewName)
	}
	switch op.EntityKind {
	case EntityComponent:
		return c.renameComponent(op.OldName, op.NewName)
	case EntityNet:
		return c.renameNet(op.OldName, op.NewName)
	case EntityBlock:
		return c.renameBlock(op.OldName, op.NewName)
	case EntityPin:
		return c.renamePin(op.OldName, op.NewName)
	default:
		return proto.NewError(proto.ErrInvalidEditOp, "unknown rename entity_kind %q", op.EntityKind)
	}
}

// renameComponent cascades the id change to every pin id (which embeds the
// component id), every net's pin-id references, and every block's
// component-id and port-pin-id references — the "RenameEntity cascade
// bookkeeping" supplemented from the original source's rename handling.
func (c *Circuit) renameComponent(oldID, newID string) error {
	comp, ok := c.Components[oldID]
	if !ok {
		return proto.NewError(proto.ErrInvalidEditOp, "component %q does not exist", oldID)
	}
	if _, exists := c.Components[newID]; exists {
		return proto.NewError(proto.ErrInvalidEditOp, "component %q already exists", newID)
	}

	oldPins := c.ComponentPins(oldID)
	rename := make(map[string]string, len(oldPins))
	for _, p := range oldPins {
		rename[p.ID] = pinID(newID, p.Name)
	}

	comp.ID = newID
	delete(c.Components, oldID)
	c.Components[newID] = comp

	for _, p := range oldPins {
		newPinID := rename[p.ID]
		p.ID = newPinID
		p.ComponentID = newID
		delete(c.Pins, pinID(oldID, p.Name))
		c.Pins[newPinID] = p
		if p.NetID != "" {
			net := c.Nets[p.NetID]
			for i, pid := range net.PinIDs {
				if pid == pinID(oldID, p.Name) {
					net.PinIDs[i] = newPinID
				}
			}
		}
	}
	for _, b := range c.Blocks {
		for i, cid := range b.ComponentIDs {
			if cid == oldID {
				b.ComponentIDs[i] = newID
			}
		}
		for i, pid := range b.PortPinIDs {
			if newPinID, ok := rename[pid]; ok {
				b.PortPinIDs[i] = newPinID
			}
		}
	}
	return nil
}

func (c *Circuit) renameNet(oldID, newID string) error {
	net, ok := c.Nets[oldID]
	if !ok {
		return proto.NewError(proto.ErrInvalidEditOp, "net %q does not exist", oldID)
	}
	if _, exists := c.Nets[newID]; exists {
		return proto.NewError(proto.ErrInvalidEditOp, "net %q already exists", newID)
	}
	net.ID = newID
	delete(c.Nets, oldID)
	c.Nets[newID] = net
	for _, pid := range net.PinIDs {
		c.Pins[pid].NetID = newID
	}
	return nil
}

func (c *Circuit) renameBlock(oldID, newID string) error {
	b, ok := c.Blocks[oldID]
	if !ok {
		return proto.NewError(proto.ErrInvalidEditOp, "block %q does not exist", oldID)
	}
	if _, exists := c.Blocks[newID]; exists {
		return proto.NewError(proto.ErrInvalidEditOp, "block %q already exists", newID)
	}
	b.ID = newID
	delete(c.Blocks, oldID)
	c.Blocks[newID] = b
	return nil
}

// renamePin renames a pin's display Name without moving it between
// components; its ID keeps the stable "<component>.<name>" shape rebuilt
// from the new name to keep net/block references valid.
func (c *Circuit) renamePin(oldPinID, newName string) error {
	p, ok := c.Pins[oldPinID]
	if !ok {
		return proto.NewError(proto.ErrInvalidEditOp, "pin %q does not exist", oldPinID)
	}
	newPinID := pinID(p.ComponentID, newName)
	if _, exists := c.Pins[newPinID]; exists {
		return proto.NewError(proto.ErrInvalidEditOp, "pin %q already exists", newPinID)
	}
	delete(c.Pins, oldPinID)
	p.Name = newName
	p.ID = newPinID
	c.Pins[newPinID] = p
	if p.NetID != "" {
		net := c.Nets[p.NetID]
		for i, pid := range net.PinIDs {
			if pid == oldPinID {
				net.PinIDs[i] = newPinID
			}
		}
	}
	for _, b := range c.Blocks {
		for i, pid := range b.PortPinIDs {
			if pid == oldPinID {
				b.PortPinIDs[i] = newPinID
			}
		}
	}
	return nil
}

func (c *Circuit) applyAddBlock(op EditOperation) error {
	if op.BlockID == "" {
		return proto.NewError(proto.ErrInvalidEditOp, "AddBlock requires a block_id")
	}
	if _, exists := c.Blocks[op.BlockID]; exists {
		return proto.NewError(proto.ErrInvalidEditOp, "block %q already exists", op.BlockID)
	}
	for _, cid := range op.BlockComps {
		if _, ok := c.Components[cid]; !ok {
			return proto.NewError(proto.ErrInvalidEditOp, "block component %q does not exist", cid)
		}
	}
	for _, pid := range op.BlockPorts {
		if _, ok := c.Pins[pid]; !ok {
			return proto.NewError(proto.ErrInvalidEditOp, "block port pin %q does not exist", pid)
		}
	}
	c.Blocks[op.BlockID] = &Block{
		ID:           op.BlockID,
		Name:         op.BlockName,
		ComponentIDs: append([]string(nil), op.BlockComps...),
		PortPinIDs:   append([]string(nil), op.BlockPorts...),
	}
	return nil
}

func (c *Circuit) applyRemoveBlock(op EditOperation) error {
	if _, ok := c.Blocks[op.BlockID]; !ok {
		return proto.NewError(proto.ErrInvalidEditOp, "block %q does not exist", op.BlockID)
	}
	delete(c.Blocks, op.BlockID)
	return nil
}
