// Package transform implements the transformation engine (spec §4.10):
// discovering behavior-preserving rewrite opportunities over a Circuit,
// materializing them into pure edit-operation lists, applying them with
// append-on-success-only rollback, and verifying the result preserves
// observable connectivity. Grounded on
// original_source/src/ProtoVMCLI/Transformations.h's TransformationEngine
// surface and StructuralTransform.cpp's plan-building convention.
package transform

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"boardsim/internal/circuit"
	"boardsim/internal/circuit/graph"
	"boardsim/internal/proto"
)

// Kind is one of the five fixed transformation kinds (spec §4.10).
type Kind string

const (
	SimplifyDoubleInversion Kind = "SimplifyDoubleInversion"
	SimplifyRedundantGate   Kind = "SimplifyRedundantGate"
	ReplaceWithKnownBlock   Kind = "ReplaceWithKnownBlock"
	RewireFanoutTree        Kind = "RewireFanoutTree"
	MergeEquivalentBlocks   Kind = "MergeEquivalentBlocks"
)

// PreservationLevel is a guarantee a plan declares it upholds.
type PreservationLevel string

const (
	BehaviorKindPreserved      PreservationLevel = "BehaviorKindPreserved"
	IOContractPreserved        PreservationLevel = "IOContractPreserved"
	DependencyPatternPreserved PreservationLevel = "DependencyPatternPreserved"
)

// Target names what a plan rewrites.
type Target struct {
	SubjectID   string
	SubjectKind string // "Block", "Component", "Region"
}

// Step is one human-readable description of a plan's rewrite.
type Step struct {
	Description string
}

// Plan is a proposed rewrite (spec §4.10's TransformationPlan). Detail
// carries the pattern-specific identifiers Materialize needs to turn the
// plan back into edit operations — the original's TransformationStep
// comment explicitly allows "references to components/pins/nets as
// needed", so this is an extension of that same convention rather than a
// deviation from it.
type Plan struct {
	ID         string
	Kind       Kind
	Target     Target
	Guarantees []PreservationLevel
	Steps      []Step
	Detail     map[string]string
}

func newPlanID() string {
	return fmt.Sprintf("T_%s", uuid.NewString())
}

func normalizeMax(maxPlans int) int {
	if maxPlans <= 0 {
		return 1 << 20
	}
	return maxPlans
}

// Propose discovers every rewrite opportunity across the whole circuit,
// up to maxPlans (<=0 means unbounded), in a fixed, deterministic finder
// order.
func Propose(c *circuit.Circuit, maxPlans int) []Plan {
	budget := normalizeMax(maxPlans)
	finders := []func(*circuit.Circuit, int) []Plan{
		proposeDoubleInversion,
		proposeRedundantGate,
		proposeKnownBlockReplacement,
		proposeRewireFanoutTree,
		proposeMergeEquivalentBlocks,
	}
	var plans []Plan
	for _, find := range finders {
		if len(plans) >= budget {
			break
		}
		plans = append(plans, find(c, budget-len(plans))...)
	}
	if len(plans) > budget {
		plans = plans[:budget]
	}
	return plans
}

// ProposeForBlock scopes Propose's output to plans that touch a component
// belonging to blockID, or that target blockID directly.
func ProposeForBlock(c *circuit.Circuit, blockID string, maxPlans int) []Plan {
	block, ok := c.Blocks[blockID]
	if !ok {
		return nil
	}
	inBlock := make(map[string]bool, len(block.ComponentIDs))
	for _, id := range block.ComponentIDs {
		inBlock[id] = true
	}

	budget := normalizeMax(maxPlans)
	all := Propose(c, budget*4+16) // over-fetch unscoped, then filter down to budget
	var out []Plan
	for _, p := range all {
		if len(out) >= budget {
			break
		}
		switch p.Target.SubjectKind {
		case "Component":
			for _, id := range strings.Split(p.Target.SubjectID, ",") {
				if inBlock[id] {
					out = append(out, p)
					break
				}
			}
		case "Block":
			for _, id := range strings.Split(p.Target.SubjectID, ",") {
				if id == blockID {
					out = append(out, p)
					break
				}
			}
		}
	}
	return out
}

// splicePoint describes how to reconnect whatever remains attached to pin
// once pin's owning component is removed. If pin has no net, there is
// nothing upstream/downstream to splice onto and anchor is empty. If the
// net has exactly one other member, removing pin frees that member back to
// NetID=="" (per Circuit's singleton-net cleanup), so anchor names that
// freed pin and persists is false. If the net has more than one other
// member, the net survives pin's removal under its original id, so anchor
// names any one surviving member and persists is true.
type splicePoint struct {
	anchor   string
	persists bool
	netID    string
}

func findSplicePoint(c *circuit.Circuit, pin *circuit.Pin) splicePoint {
	return findSplicePointExcluding(c, pin, nil)
}

// findSplicePointExcluding is findSplicePoint but also excludes any pin
// named in excludeIDs from candidacy as the surviving anchor — needed when
// more than one pin of the component being removed shares pin's net (e.g.
// a redundant gate's shorted a/b inputs), since those other pins are being
// removed too and can't serve as the splice anchor.
func findSplicePointExcluding(c *circuit.Circuit, pin *circuit.Pin, excludeIDs []string) splicePoint {
	if pin == nil || pin.NetID == "" {
		return splicePoint{}
	}
	net := c.Nets[pin.NetID]
	if net == nil {
		return splicePoint{}
	}
	exclude := map[string]bool{pin.ID: true}
	for _, id := range excludeIDs {
		exclude[id] = true
	}
	var others []string
	for _, id := range net.PinIDs {
		if !exclude[id] {
			others = append(others, id)
		}
	}
	if len(others) == 0 {
		return splicePoint{}
	}
	sort.Strings(others)
	return splicePoint{anchor: others[0], persists: len(others) > 1, netID: pin.NetID}
}

// spliceOps emits the edit operations that reconnect two splice points left
// dangling by a component removal. When both sides collapse to freed pins
// (or one side does), a plain Connect joins them. When both sides survive
// as distinct, still-populated nets, only MergeNets can join them, subject
// to its own non-multi-short safety check.
func spliceOps(up, down splicePoint) []circuit.EditOperation {
	if up.anchor == "" || down.anchor == "" {
		return nil
	}
	if up.persists && down.persists {
		if up.netID == down.netID {
			return nil
		}
		return []circuit.EditOperation{{Kind: circuit.OpMergeNets, NetA: up.netID, NetB: down.netID}}
	}
	return []circuit.EditOperation{{Kind: circuit.OpConnect, PinA: up.anchor, PinB: down.anchor}}
}

func proposeDoubleInversion(c *circuit.Circuit, maxPlans int) []Plan {
	var plans []Plan
	for _, compID := range c.SortedComponentIDs() {
		if len(plans) >= maxPlans {
			break
		}
		g1 := c.Components[compID]
		if g1 == nil || g1.Kind != "GateNot" {
			continue
		}
		yPin := c.Pins[compID+".y"]
		if yPin == nil || yPin.NetID == "" {
			continue
		}
		midNet := c.Nets[yPin.NetID]
		if len(midNet.PinIDs) != 2 {
			continue // g1's output also feeds something besides a single inverter
		}
		var peerID string
		for _, p := range midNet.PinIDs {
			if p != yPin.ID {
				peerID = p
			}
		}
		peerPin := c.Pins[peerID]
		if peerPin == nil || peerPin.Name != "a" {
			continue
		}
		g2ID := peerPin.ComponentID
		g2 := c.Components[g2ID]
		if g2 == nil || g2.Kind != "GateNot" || g2ID == compID {
			continue
		}

		aPin := c.Pins[compID+".a"]
		g2yPin := c.Pins[g2ID+".y"]

		up := findSplicePoint(c, aPin)
		down := findSplicePoint(c, g2yPin)
		detail := map[string]string{"gate1": compID, "gate2": g2ID}
		encodeSplicePoint(detail, "upstream", up)
		encodeSplicePoint(detail, "downstream", down)

		plans = append(plans, Plan{
			ID:         newPlanID(),
			Kind:       SimplifyDoubleInversion,
			Target:     Target{SubjectID: compID + "," + g2ID, SubjectKind: "Component"},
			Guarantees: []PreservationLevel{BehaviorKindPreserved, IOContractPreserved},
			Steps: []Step{{Description: fmt.Sprintf(
				"remove double inversion %s -> %s, splicing its input directly to its output", compID, g2ID)}},
			Detail: detail,
		})
	}
	return plans
}

func materializeDoubleInversion(plan Plan) ([]circuit.EditOperation, error) {
	gate1, gate2 := plan.Detail["gate1"], plan.Detail["gate2"]
	if gate1 == "" || gate2 == "" {
		return nil, proto.NewError(proto.ErrInvalidEditOp, "SimplifyDoubleInversion plan missing gate1/gate2 detail")
	}
	ops := []circuit.EditOperation{
		{Kind: circuit.OpRemoveComponent, ComponentID: gate1, Cascade: true},
		{Kind: circuit.OpRemoveComponent, ComponentID: gate2, Cascade: true},
	}
	ops = append(ops, spliceOps(decodeSplicePoint(plan.Detail, "upstream"), decodeSplicePoint(plan.Detail, "downstream"))...)
	return ops, nil
}

func proposeRedundantGate(c *circuit.Circuit, maxPlans int) []Plan {
	var plans []Plan
	for _, compID := range c.SortedComponentIDs() {
		if len(plans) >= maxPlans {
			break
		}
		comp := c.Components[compID]
		if comp == nil || (comp.Kind != "GateAnd" && comp.Kind != "GateOr") {
			continue
		}
		aPin, bPin := c.Pins[compID+".a"], c.Pins[compID+".b"]
		if aPin == nil || bPin == nil || aPin.NetID == "" || aPin.NetID != bPin.NetID {
			continue
		}
		yPin := c.Pins[compID+".y"]
		up := findSplicePointExcluding(c, aPin, []string{bPin.ID})
		down := findSplicePoint(c, yPin)
		detail := map[string]string{"gate": compID}
		encodeSplicePoint(detail, "upstream", up)
		encodeSplicePoint(detail, "downstream", down)
		plans = append(plans, Plan{
			ID:         newPlanID(),
			Kind:       SimplifyRedundantGate,
			Target:     Target{SubjectID: compID, SubjectKind: "Component"},
			Guarantees: []PreservationLevel{BehaviorKindPreserved, IOContractPreserved},
			Steps: []Step{{Description: fmt.Sprintf(
				"%s's two inputs are tied to the same net; remove the redundant gate and splice its input directly to its output", compID)}},
			Detail: detail,
		})
	}
	return plans
}

func materializeRedundantGate(plan Plan) ([]circuit.EditOperation, error) {
	gate := plan.Detail["gate"]
	if gate == "" {
		return nil, proto.NewError(proto.ErrInvalidEditOp, "SimplifyRedundantGate plan missing gate detail")
	}
	ops := []circuit.EditOperation{{Kind: circuit.OpRemoveComponent, ComponentID: gate, Cascade: true}}
	ops = append(ops, spliceOps(decodeSplicePoint(plan.Detail, "upstream"), decodeSplicePoint(plan.Detail, "downstream"))...)
	return ops, nil
}

// encodeSplicePoint/decodeSplicePoint round-trip a splicePoint through a
// plan's flat string Detail map, keeping Materialize pure (spec §4.10).
func encodeSplicePoint(detail map[string]string, prefix string, sp splicePoint) {
	if sp.anchor == "" {
		return
	}
	detail[prefix+"_anchor"] = sp.anchor
	detail[prefix+"_net"] = sp.netID
	if sp.persists {
		detail[prefix+"_persists"] = "true"
	}
}

func decodeSplicePoint(detail map[string]string, prefix string) splicePoint {
	anchor := detail[prefix+"_anchor"]
	if anchor == "" {
		return splicePoint{}
	}
	return splicePoint{anchor: anchor, netID: detail[prefix+"_net"], persists: detail[prefix+"_persists"] == "true"}
}

// proposeKnownBlockReplacement flags a block that wraps exactly one
// Register with no surrounding structure — a trivial wrapper a catalog of
// known shapes would recognize as "just a Register" (spec §1 Non-goals
// keeps a real shape catalog out of scope; this is the thin representative
// that exercises the rewrite kind, same spirit as AnalyzeBlockStructure's
// deliberately thin matches_adder/matches_mux placeholders in the
// original).
func proposeKnownBlockReplacement(c *circuit.Circuit, maxPlans int) []Plan {
	var plans []Plan
	for _, blockID := range sortedBlockIDs(c) {
		if len(plans) >= maxPlans {
			break
		}
		block := c.Blocks[blockID]
		if len(block.ComponentIDs) != 1 {
			continue
		}
		comp := c.Components[block.ComponentIDs[0]]
		if comp == nil || comp.Kind != "Register" {
			continue
		}
		plans = append(plans, Plan{
			ID:         newPlanID(),
			Kind:       ReplaceWithKnownBlock,
			Target:     Target{SubjectID: blockID, SubjectKind: "Block"},
			Guarantees: []PreservationLevel{BehaviorKindPreserved, IOContractPreserved, DependencyPatternPreserved},
			Steps: []Step{{Description: fmt.Sprintf(
				"block %s wraps a single Register with no added structure; drop the wrapper and reference the component directly", blockID)}},
			Detail: map[string]string{"block": blockID},
		})
	}
	return plans
}

func materializeKnownBlockReplacement(plan Plan) ([]circuit.EditOperation, error) {
	block := plan.Detail["block"]
	if block == "" {
		return nil, proto.NewError(proto.ErrInvalidEditOp, "ReplaceWithKnownBlock plan missing block detail")
	}
	return []circuit.EditOperation{{Kind: circuit.OpRemoveBlock, BlockID: block}}, nil
}

// proposeMergeEquivalentBlocks flags pairs of blocks whose component kinds
// match in order — the same structural shape defined twice.
func proposeMergeEquivalentBlocks(c *circuit.Circuit, maxPlans int) []Plan {
	var plans []Plan
	seen := make(map[string]string)
	for _, blockID := range sortedBlockIDs(c) {
		if len(plans) >= maxPlans {
			break
		}
		sig := blockShapeSignature(c, c.Blocks[blockID])
		if sig == "" {
			continue
		}
		if first, ok := seen[sig]; ok {
			plans = append(plans, Plan{
				ID:         newPlanID(),
				Kind:       MergeEquivalentBlocks,
				Target:     Target{SubjectID: first + "," + blockID, SubjectKind: "Block"},
				Guarantees: []PreservationLevel{DependencyPatternPreserved},
				Steps: []Step{{Description: fmt.Sprintf(
					"block %s is structurally identical to %s; remove the duplicate definition", blockID, first)}},
				Detail: map[string]string{"keep_block": first, "remove_block": blockID},
			})
		} else {
			seen[sig] = blockID
		}
	}
	return plans
}

func materializeMergeEquivalentBlocks(plan Plan) ([]circuit.EditOperation, error) {
	remove := plan.Detail["remove_block"]
	if remove == "" {
		return nil, proto.NewError(proto.ErrInvalidEditOp, "MergeEquivalentBlocks plan missing remove_block detail")
	}
	return []circuit.EditOperation{{Kind: circuit.OpRemoveBlock, BlockID: remove}}, nil
}

// FanoutThreshold is the pin count above which a net is flagged for
// fanout-tree rewiring.
const FanoutThreshold = 4

// proposeRewireFanoutTree flags nets whose fanout exceeds FanoutThreshold.
// This catalog has no buffer/repeater component kind to actually split a
// physical fanout tree into stages, so materialization is a documented
// no-op: the proposal records the opportunity without fabricating
// hardware the catalog doesn't model (spec §1 Non-goals keeps specific
// component families out of scope).
func proposeRewireFanoutTree(c *circuit.Circuit, maxPlans int) []Plan {
	var plans []Plan
	for _, netID := range c.SortedNetIDs() {
		if len(plans) >= maxPlans {
			break
		}
		net := c.Nets[netID]
		if len(net.PinIDs) <= FanoutThreshold {
			continue
		}
		plans = append(plans, Plan{
			ID:         newPlanID(),
			Kind:       RewireFanoutTree,
			Target:     Target{SubjectID: netID, SubjectKind: "Region"},
			Guarantees: []PreservationLevel{DependencyPatternPreserved},
			Steps: []Step{{Description: fmt.Sprintf(
				"net %s drives %d sinks; no buffer component exists in this catalog to split the fanout tree, so this proposal is advisory only",
				netID, len(net.PinIDs)-1)}},
			Detail: map[string]string{"net": netID},
		})
	}
	return plans
}

func sortedBlockIDs(c *circuit.Circuit) []string {
	ids := make([]string, 0, len(c.Blocks))
	for id := range c.Blocks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func blockShapeSignature(c *circuit.Circuit, b *circuit.Block) string {
	kinds := make([]string, 0, len(b.ComponentIDs))
	for _, compID := range b.ComponentIDs {
		comp := c.Components[compID]
		if comp == nil {
			return ""
		}
		kinds = append(kinds, comp.Kind)
	}
	return strings.Join(kinds, ",")
}

// Materialize converts a plan into its edit-operation list. Materialize is
// pure: it never touches a live Circuit, only reads the plan's own Detail,
// so callers can preview, dry-run, or queue the result (spec §4.10).
func Materialize(plan Plan) ([]circuit.EditOperation, error) {
	switch plan.Kind {
	case SimplifyDoubleInversion:
		return materializeDoubleInversion(plan)
	case SimplifyRedundantGate:
		return materializeRedundantGate(plan)
	case ReplaceWithKnownBlock:
		return materializeKnownBlockReplacement(plan)
	case MergeEquivalentBlocks:
		return materializeMergeEquivalentBlocks(plan)
	case RewireFanoutTree:
		return nil, nil
	default:
		return nil, proto.NewError(proto.ErrInvalidEditOp, "unknown transformation kind %q", plan.Kind)
	}
}

// Apply materializes plan and appends its ops to c. If any op fails partway
// through, every op already appended for this plan is rolled back
// (append-on-success-only, spec §4.10) by replaying c's op log up to the
// point before this plan started.
func Apply(c *circuit.Circuit, plan Plan) (int64, error) {
	ops, err := Materialize(plan)
	if err != nil {
		return c.Revision, err
	}
	keep := len(c.Ops)
	for i, op := range ops {
		if _, err := c.Apply(op); err != nil {
			rollback(c, keep)
			return c.Revision, proto.NewError(proto.ErrInvalidEditOp,
				"transformation %s failed at step %d (%s): %v", plan.ID, i, op.Kind, err)
		}
	}
	return c.Revision, nil
}

func rollback(c *circuit.Circuit, keepOpsLen int) {
	replayed, err := circuit.Replay(c.Ops[:keepOpsLen])
	if err != nil {
		return // ops[:keepOpsLen] already applied successfully once; should never fail on replay
	}
	*c = *replayed
}

// VerifyBehaviorPreserved checks that every pin present in both before and
// after the transform still reaches exactly the same set of other
// surviving pins (spec §4.10's VerifyBehaviorPreserved). This is a
// structural connectivity check, not a live simulation-equivalence proof:
// it catches a rewrite that silently drops or rewires a surviving
// component's connections, which every one of the five transformation
// kinds above would otherwise risk when splicing nets back together.
func VerifyBehaviorPreserved(before, after *circuit.Circuit, plan Plan) (bool, string) {
	surviving := make(map[string]bool)
	for id := range before.Pins {
		if _, ok := after.Pins[id]; ok {
			surviving[id] = true
		}
	}
	ids := make([]string, 0, len(surviving))
	for id := range surviving {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, pin := range ids {
		br := intersectSurviving(graph.Reachable(before, pin), surviving)
		ar := intersectSurviving(graph.Reachable(after, pin), surviving)
		if !sameStringSet(br, ar) {
			return false, fmt.Sprintf(
				"pin %s's reachable set among surviving pins changed after %s: before=%v after=%v",
				pin, plan.ID, sortedSet(br), sortedSet(ar))
		}
	}
	return true, fmt.Sprintf("%d surviving pins retain identical connectivity after %s", len(ids), plan.ID)
}

func intersectSurviving(reach, surviving map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for p := range reach {
		if surviving[p] {
			out[p] = true
		}
	}
	return out
}

func sameStringSet(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func sortedSet(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
