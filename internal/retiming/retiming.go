// Package retiming implements the retiming engine (spec §4.11): proposing
// single-hop register-movement moves across an adjacent combinational gate,
// scoring candidate plans against a caller-supplied objective, and applying
// an accepted plan with the same append-on-success-only rollback discipline
// as internal/transform. Grounded on
// original_source/src/ProtoVMCLI/RetimingModel.h's Move/Plan/Objective/Score
// shapes and RetimingTransform.cpp's BuildTransformationPlanForRetiming /
// ApplyRetimingPlanInBranch eligibility-filtering and application sequence.
package retiming

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"boardsim/internal/circuit"
	"boardsim/internal/circuit/graph"
	"boardsim/internal/proto"
)

// MoveDirection is which way a register crosses its adjacent gate.
type MoveDirection string

const (
	MoveForward  MoveDirection = "Forward"
	MoveBackward MoveDirection = "Backward"
)

// MoveSafety classifies how confidently a move can be applied unattended.
type MoveSafety string

const (
	SafeIntraDomain MoveSafety = "SafeIntraDomain"
	Suspicious      MoveSafety = "Suspicious"
	Forbidden       MoveSafety = "Forbidden"
)

// Move is one proposed register relocation (spec §4.11's RetimingMove).
// Detail carries materialization-only identifiers, the same purity
// convention as transform.Plan.Detail, and is not part of the spec-facing
// shape so it is excluded from JSON.
type Move struct {
	MoveID            string            `json:"move_id"`
	SrcRegID          string            `json:"src_reg_id"`
	DstRegID          string            `json:"dst_reg_id"`
	Direction         MoveDirection     `json:"direction"`
	DomainID          string            `json:"domain_id"`
	SrcStageIndex     int               `json:"src_stage_index"`
	DstStageIndex     int               `json:"dst_stage_index"`
	BeforeCombDepth   int               `json:"before_comb_depth"`
	AfterCombDepthEst int               `json:"after_comb_depth_est"`
	Safety            MoveSafety        `json:"safety"`
	SafetyReason      string            `json:"safety_reason"`
	AffectedOps       []string          `json:"affected_ops"`
	Detail            map[string]string `json:"-"`
}

// Plan bundles one or more moves proposed together against a single target
// (spec §4.11's RetimingPlan).
type Plan struct {
	ID                      string
	TargetID                string
	Description             string
	Moves                   []Move
	EstimatedMaxDepthBefore int
	EstimatedMaxDepthAfter  int
	RespectsCdcFences       bool
}

// ObjectiveKind is the optimization goal a caller is retiming for.
type ObjectiveKind string

const (
	MinimizeMaxDepth       ObjectiveKind = "MinimizeMaxDepth"
	MinimizeDepthWithBudget ObjectiveKind = "MinimizeDepthWithBudget"
	BalanceStages          ObjectiveKind = "BalanceStages"
)

// Objective parameterizes proposal and scoring. A -1 field means unbounded.
type Objective struct {
	Kind              ObjectiveKind
	MaxExtraRegisters int
	MaxMoves          int
	TargetMaxDepth    int
}

// PlanScore is EvaluateRetimingPlans' per-plan verdict (spec §4.11's
// RetimingPlanScore). Cost is ascending: lower is better.
type PlanScore struct {
	PlanID                       string
	EstimatedMaxDepthBefore      int
	EstimatedMaxDepthAfter       int
	AppliedMoveCount             int
	SafeMoveCount                int
	SuspiciousMoveCount          int
	ForbiddenMoveCount           int
	EstimatedRegisterCountBefore int
	EstimatedRegisterCountAfter  int
	RespectsCdcFences            bool
	MeetsObjective               bool
	Cost                         float64
}

// ApplicationOptions governs ApplyRetimingPlanInBranch's eligibility filter
// (spec §4.11, mirroring RetimingTransform.cpp's ApplyRetimingPlanInBranch).
type ApplicationOptions struct {
	ApplyOnlySafeMoves   bool
	AllowSuspiciousMoves bool
	MaxMoves             int
}

// DefaultApplicationOptions matches the original's defaults: only safe
// moves apply, suspicious moves are excluded, no move-count cap.
func DefaultApplicationOptions() ApplicationOptions {
	return ApplicationOptions{ApplyOnlySafeMoves: true, MaxMoves: -1}
}

// ApplicationResult is what ApplyRetimingPlanInBranch returns (spec §4.11's
// RetimingApplicationResult). NewCircuitRevision is always the circuit's
// revision after exactly the applied moves were appended — every accepted
// plan increments head_revision by exactly the count of appended edit
// operations, correcting the original's own documented inconsistency (see
// DESIGN.md's Open Question decisions).
type ApplicationResult struct {
	PlanID                  string
	TargetID                string
	AppliedMoveIDs          []string
	SkippedMoveIDs          []string
	NewCircuitRevision      int64
	EstimatedMaxDepthBefore int
	EstimatedMaxDepthAfter  int
	AllMovesSafe            bool
}

func newMoveID() string {
	return fmt.Sprintf("RM_%s", uuid.NewString())
}

func newPlanID() string {
	return fmt.Sprintf("RP_%s", uuid.NewString())
}

// anchorOf returns some other pin sharing pin's net (excluding excludeIDs),
// preferring a MultiAllowed member since that one is guaranteed to tolerate
// being reconnected into by a later Connect. Returns "" if pin is
// unconnected or has no eligible peer.
func anchorOf(c *circuit.Circuit, pin *circuit.Pin, excludeIDs map[string]bool) string {
	if pin == nil || pin.NetID == "" {
		return ""
	}
	net := c.Nets[pin.NetID]
	if net == nil {
		return ""
	}
	var fallback string
	for _, id := range net.PinIDs {
		if id == pin.ID || excludeIDs[id] {
			continue
		}
		if p := c.Pins[id]; p != nil && p.MultiAllowed {
			return id
		}
		if fallback == "" {
			fallback = id
		}
	}
	return fallback
}

// ProposeRetimingPlans discovers single-hop register/gate moves. targetID
// scopes the search to a component, a block's components, or the whole
// circuit when targetID is "". Each eligible register yields at most one
// forward and one backward candidate, each its own single-move Plan.
func ProposeRetimingPlans(c *circuit.Circuit, targetID string, objective Objective) []Plan {
	scope := scopeComponents(c, targetID)
	before := graph.AnalyzeTimingPaths(c)
	beforeCdc := graph.DetectClockDomainCrossings(c)

	var plans []Plan
	for _, regID := range c.SortedComponentIDs() {
		if scope != nil && !scope[regID] {
			continue
		}
		reg := c.Components[regID]
		if reg == nil || reg.Kind != "Register" {
			continue
		}
		if m := proposeForwardMove(c, regID, before, beforeCdc); m != nil {
			plans = append(plans, planFromMove(c, regID, *m))
		}
		if m := proposeBackwardMove(c, regID, before, beforeCdc); m != nil {
			plans = append(plans, planFromMove(c, regID, *m))
		}
	}

	if objective.MaxMoves > 0 && len(plans) > objective.MaxMoves {
		plans = plans[:objective.MaxMoves]
	}
	return plans
}

func scopeComponents(c *circuit.Circuit, targetID string) map[string]bool {
	if targetID == "" {
		return nil
	}
	if _, ok := c.Components[targetID]; ok {
		return map[string]bool{targetID: true}
	}
	if block, ok := c.Blocks[targetID]; ok {
		m := make(map[string]bool, len(block.ComponentIDs))
		for _, id := range block.ComponentIDs {
			m[id] = true
		}
		return m
	}
	return map[string]bool{}
}

func planFromMove(c *circuit.Circuit, regID string, m Move) Plan {
	return Plan{
		ID:                      newPlanID(),
		TargetID:                regID,
		Description:             fmt.Sprintf("move register %s %s across %s", regID, m.Direction, m.Detail["gate"]),
		Moves:                   []Move{m},
		EstimatedMaxDepthBefore: m.BeforeCombDepth,
		EstimatedMaxDepthAfter:  m.AfterCombDepthEst,
		RespectsCdcFences:       m.Safety != Forbidden,
	}
}

// proposeForwardMove checks whether regID's q feeds, as its sole
// connection, the "a" pin of a GateNot — the pattern needed to shift the
// register across the gate without disturbing other fan-out of q. The
// fan-out of the gate's own output net is not checked.
func proposeForwardMove(c *circuit.Circuit, regID string, paths []graph.TimingPath, beforeCdc []graph.CdcReport) *Move {
	qPin := c.Pins[regID+".q"]
	if qPin == nil || qPin.NetID == "" {
		return nil
	}
	net := c.Nets[qPin.NetID]
	if net == nil || len(net.PinIDs) != 2 {
		return nil // q fans out beyond the candidate gate; out of scope for a single-hop move
	}
	gatePinID := otherMember(net, qPin.ID)
	gatePin := c.Pins[gatePinID]
	if gatePin == nil || gatePin.Name != "a" {
		return nil
	}
	gate := c.Components[gatePin.ComponentID]
	if gate == nil || gate.Kind != "GateNot" {
		return nil
	}
	gateID := gate.ID
	dPin := c.Pins[regID+".d"]
	upstream := anchorOf(c, dPin, map[string]bool{regID + ".d": true})
	gyPin := c.Pins[gateID+".y"]
	consumer := anchorOf(c, gyPin, map[string]bool{gateID + ".y": true})

	newReg := regID + "__retimed"
	detail := map[string]string{
		"direction": string(MoveForward),
		"src_reg":   regID,
		"gate":      gateID,
		"new_reg":   newReg,
	}
	if upstream != "" {
		detail["upstream"] = upstream
	}
	if consumer != "" {
		detail["consumer"] = consumer
	}
	encodeProps(detail, c.Components[regID].Properties)

	return buildMove(c, regID, newReg, gateID, MoveForward, detail, paths, beforeCdc)
}

// proposeBackwardMove is proposeForwardMove's mirror: regID's d is fed, as
// its sole connection, by the "y" pin of a GateNot.
func proposeBackwardMove(c *circuit.Circuit, regID string, paths []graph.TimingPath, beforeCdc []graph.CdcReport) *Move {
	dPin := c.Pins[regID+".d"]
	if dPin == nil || dPin.NetID == "" {
		return nil
	}
	net := c.Nets[dPin.NetID]
	if net == nil || len(net.PinIDs) != 2 {
		return nil
	}
	gatePinID := otherMember(net, dPin.ID)
	gatePin := c.Pins[gatePinID]
	if gatePin == nil || gatePin.Name != "y" {
		return nil
	}
	gate := c.Components[gatePin.ComponentID]
	if gate == nil || gate.Kind != "GateNot" {
		return nil
	}
	gateID := gate.ID
	gaPin := c.Pins[gateID+".a"]
	upstream := anchorOf(c, gaPin, map[string]bool{gateID + ".a": true})
	qPin := c.Pins[regID+".q"]
	if qPin != nil && qPin.NetID != "" {
		if qnet := c.Nets[qPin.NetID]; qnet != nil && len(qnet.PinIDs) > 2 {
			return nil // q fans out to more than one consumer; once removed, no member of that
			// net remains MultiAllowed for gate.y to rejoin it through, so this move is
			// out of scope (mirrors the symmetric restriction on proposeForwardMove's q net)
		}
	}
	consumer := anchorOf(c, qPin, map[string]bool{regID + ".q": true})

	newReg := regID + "__retimed"
	detail := map[string]string{
		"direction": string(MoveBackward),
		"src_reg":   regID,
		"gate":      gateID,
		"new_reg":   newReg,
	}
	if upstream != "" {
		detail["upstream"] = upstream
	}
	if consumer != "" {
		detail["consumer"] = consumer
	}
	encodeProps(detail, c.Components[regID].Properties)

	return buildMove(c, regID, newReg, gateID, MoveBackward, detail, paths, beforeCdc)
}

func otherMember(net *circuit.Net, pinID string) string {
	for _, id := range net.PinIDs {
		if id != pinID {
			return id
		}
	}
	return ""
}

func encodeProps(detail map[string]string, props map[string]any) {
	if len(props) == 0 {
		return
	}
	if b, err := json.Marshal(props); err == nil {
		detail["properties_json"] = string(b)
	}
}

// buildMove estimates depth before/after by materializing the candidate
// onto a scratch replay of c and re-running AnalyzeTimingPaths, so depth
// numbers reflect the real post-move graph rather than a guess, and
// classifies safety from clock-domain-crossing and CDC-fence analysis.
func buildMove(c *circuit.Circuit, srcReg, newReg, gateID string, dir MoveDirection, detail map[string]string, paths []graph.TimingPath, beforeCdc []graph.CdcReport) *Move {
	before := pathDepthForComponent(paths, srcReg)

	after := before
	if scratch, err := circuit.Replay(c.Ops); err == nil {
		if ops, err := materializeMove(Move{Detail: detail}); err == nil {
			if applyOpsInOrder(scratch, ops) == nil {
				afterPaths := graph.AnalyzeTimingPaths(scratch)
				after = pathDepthForComponent(afterPaths, newReg)
			}
		}
	}

	domain := graph.DomainOf(c, srcReg)
	safety, reason := classifySafety(c, gateID, srcReg, beforeCdc)

	return &Move{
		MoveID:            newMoveID(),
		SrcRegID:          srcReg,
		DstRegID:          newReg,
		Direction:         dir,
		DomainID:          domain,
		SrcStageIndex:     0,
		DstStageIndex:     1,
		BeforeCombDepth:   before,
		AfterCombDepthEst: after,
		Safety:            safety,
		SafetyReason:      reason,
		AffectedOps: []string{
			fmt.Sprintf("remove %s", srcReg),
			fmt.Sprintf("add %s", newReg),
			fmt.Sprintf("rewire across %s", gateID),
		},
		Detail: detail,
	}
}

func pathDepthForComponent(paths []graph.TimingPath, componentID string) int {
	best := 0
	for _, p := range paths {
		if len(p.Pins) == 0 {
			continue
		}
		first, last := componentOf(p.Pins[0]), componentOf(p.Pins[len(p.Pins)-1])
		if first == componentID || last == componentID {
			if p.Depth > best {
				best = p.Depth
			}
		}
	}
	return best
}

func componentOf(pinID string) string {
	for i := len(pinID) - 1; i >= 0; i-- {
		if pinID[i] == '.' {
			return pinID[:i]
		}
	}
	return pinID
}

// classifySafety flags a move Forbidden when the gate it crosses is marked
// as a clock-domain-crossing fence ("cdc_fence" property), Suspicious when
// the move's register sits on a reported clock-domain crossing already,
// and SafeIntraDomain otherwise.
func classifySafety(c *circuit.Circuit, gateID, srcReg string, beforeCdc []graph.CdcReport) (MoveSafety, string) {
	if gate := c.Components[gateID]; gate != nil {
		if v, ok := gate.Properties["cdc_fence"]; ok {
			if b, ok := v.(bool); ok && b {
				return Forbidden, fmt.Sprintf("gate %s is a declared clock-domain-crossing fence; retiming across it is disallowed", gateID)
			}
		}
	}
	for _, r := range beforeCdc {
		if r.ProducerComponent == srcReg || r.ConsumerComponent == srcReg {
			return Suspicious, fmt.Sprintf("register %s already sits on a clock-domain crossing (%s -> %s); verify before applying", srcReg, r.ProducerComponent, r.ConsumerComponent)
		}
	}
	return SafeIntraDomain, ""
}

// EvaluateRetimingPlans scores each plan against objective and returns them
// sorted by ascending cost (spec §4.11's EvaluateRetimingPlans). It counts
// each plan's moves by safety class without filtering any of them; cost is
// the estimated depth after plus 1000 per Forbidden and 10 per Suspicious
// move. Eligibility filtering happens in eligibleMoves at apply time.
func EvaluateRetimingPlans(plans []Plan, objective Objective) []PlanScore {
	scores := make([]PlanScore, 0, len(plans))
	for _, p := range plans {
		var safe, suspicious, forbidden int
		for _, m := range p.Moves {
			switch m.Safety {
			case SafeIntraDomain:
				safe++
			case Suspicious:
				suspicious++
			case Forbidden:
				forbidden++
			}
		}
		meets := true
		if objective.TargetMaxDepth > 0 && p.EstimatedMaxDepthAfter > objective.TargetMaxDepth {
			meets = false
		}
		if objective.MaxExtraRegisters == 0 && len(p.Moves) > 0 {
			meets = false
		}
		cost := float64(p.EstimatedMaxDepthAfter) + float64(forbidden)*1000 + float64(suspicious)*10
		scores = append(scores, PlanScore{
			PlanID:                       p.ID,
			EstimatedMaxDepthBefore:      p.EstimatedMaxDepthBefore,
			EstimatedMaxDepthAfter:       p.EstimatedMaxDepthAfter,
			SafeMoveCount:                safe,
			SuspiciousMoveCount:          suspicious,
			ForbiddenMoveCount:           forbidden,
			EstimatedRegisterCountBefore: len(p.Moves),
			EstimatedRegisterCountAfter:  len(p.Moves),
			RespectsCdcFences:            p.RespectsCdcFences,
			MeetsObjective:               meets,
			Cost:                         cost,
		})
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].Cost < scores[j].Cost })
	return scores
}

// eligibleMoves replicates RetimingTransform.cpp's exact filter order: a
// move is eligible if safe, or if suspicious and suspicious moves are
// allowed; then, if apply_only_safe_moves is set, any non-safe move is
// excluded again even if it was just let in. max_moves then truncates.
func eligibleMoves(moves []Move, opts ApplicationOptions) []Move {
	var eligible []Move
	for _, m := range moves {
		isEligible := m.Safety == SafeIntraDomain || (opts.AllowSuspiciousMoves && m.Safety == Suspicious)
		if isEligible && opts.ApplyOnlySafeMoves && m.Safety != SafeIntraDomain {
			isEligible = false
		}
		if isEligible {
			eligible = append(eligible, m)
		}
	}
	if opts.MaxMoves >= 0 && len(eligible) > opts.MaxMoves {
		eligible = eligible[:opts.MaxMoves]
	}
	return eligible
}

// ApplyRetimingPlanInBranch applies plan's eligible moves to c in order,
// rolling back every move appended so far if one fails partway
// (append-on-success-only, same discipline as transform.Apply).
func ApplyRetimingPlanInBranch(c *circuit.Circuit, plan Plan, opts ApplicationOptions) (ApplicationResult, error) {
	eligible := eligibleMoves(plan.Moves, opts)
	eligibleIDs := make(map[string]bool, len(eligible))
	for _, m := range eligible {
		eligibleIDs[m.MoveID] = true
	}

	result := ApplicationResult{
		PlanID:                  plan.ID,
		TargetID:                plan.TargetID,
		EstimatedMaxDepthBefore: plan.EstimatedMaxDepthBefore,
		EstimatedMaxDepthAfter:  plan.EstimatedMaxDepthAfter,
		AllMovesSafe:            true,
	}
	for _, m := range plan.Moves {
		if !eligibleIDs[m.MoveID] {
			result.SkippedMoveIDs = append(result.SkippedMoveIDs, m.MoveID)
			continue
		}
	}

	keep := len(c.Ops)
	for _, m := range eligible {
		ops, err := materializeMove(m)
		if err != nil {
			rollback(c, keep)
			return ApplicationResult{}, proto.NewError(proto.ErrInvalidEditOp, "retiming move %s: %v", m.MoveID, err)
		}
		if err := applyOpsInOrder(c, ops); err != nil {
			rollback(c, keep)
			return ApplicationResult{}, proto.NewError(proto.ErrInvalidEditOp, "retiming move %s failed: %v", m.MoveID, err)
		}
		result.AppliedMoveIDs = append(result.AppliedMoveIDs, m.MoveID)
		if m.Safety != SafeIntraDomain {
			result.AllMovesSafe = false
		}
	}
	result.NewCircuitRevision = c.Revision
	return result, nil
}

func applyOpsInOrder(c *circuit.Circuit, ops []circuit.EditOperation) error {
	for _, op := range ops {
		if _, err := c.Apply(op); err != nil {
			return err
		}
	}
	return nil
}

func rollback(c *circuit.Circuit, keepOpsLen int) {
	replayed, err := circuit.Replay(c.Ops[:keepOpsLen])
	if err != nil {
		return // ops[:keepOpsLen] already applied successfully once; should never fail on replay
	}
	*c = *replayed
}

// materializeMove converts a move into its edit-operation list, reading
// only m.Detail (never a live Circuit) so ApplyRetimingPlanInBranch's
// rollback path can call it repeatedly without side effects.
func materializeMove(m Move) ([]circuit.EditOperation, error) {
	srcReg, gate, newReg := m.Detail["src_reg"], m.Detail["gate"], m.Detail["new_reg"]
	if srcReg == "" || gate == "" || newReg == "" {
		return nil, proto.NewError(proto.ErrInvalidEditOp, "retiming move missing src_reg/gate/new_reg detail")
	}
	var props map[string]any
	if raw := m.Detail["properties_json"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &props); err != nil {
			return nil, proto.NewError(proto.ErrInvalidEditOp, "retiming move has corrupt properties_json: %v", err)
		}
	}

	ops := []circuit.EditOperation{
		{Kind: circuit.OpRemoveComponent, ComponentID: srcReg, Cascade: true},
		{Kind: circuit.OpAddComponent, ComponentID: newReg, ComponentKind: "Register", Properties: props},
	}

	upstream, consumer := m.Detail["upstream"], m.Detail["consumer"]
	switch MoveDirection(m.Detail["direction"]) {
	case MoveForward:
		if consumer != "" {
			ops = append(ops, circuit.EditOperation{Kind: circuit.OpDisconnect, PinA: gate + ".y", PinB: consumer})
		}
		if upstream != "" {
			ops = append(ops, circuit.EditOperation{Kind: circuit.OpConnect, PinA: upstream, PinB: gate + ".a"})
		}
		ops = append(ops, circuit.EditOperation{Kind: circuit.OpConnect, PinA: gate + ".y", PinB: newReg + ".d"})
		if consumer != "" {
			ops = append(ops, circuit.EditOperation{Kind: circuit.OpConnect, PinA: newReg + ".q", PinB: consumer})
		}
	case MoveBackward:
		if upstream != "" {
			ops = append(ops, circuit.EditOperation{Kind: circuit.OpDisconnect, PinA: upstream, PinB: gate + ".a"})
		}
		if upstream != "" {
			ops = append(ops, circuit.EditOperation{Kind: circuit.OpConnect, PinA: upstream, PinB: newReg + ".d"})
		}
		ops = append(ops, circuit.EditOperation{Kind: circuit.OpConnect, PinA: newReg + ".q", PinB: gate + ".a"})
		if consumer != "" {
			ops = append(ops, circuit.EditOperation{Kind: circuit.OpConnect, PinA: gate + ".y", PinB: consumer})
		}
	default:
		return nil, proto.NewError(proto.ErrInvalidEditOp, "retiming move has unknown direction %q", m.Detail["direction"])
	}
	return ops, nil
}
