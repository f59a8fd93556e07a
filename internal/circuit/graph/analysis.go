package graph

import (
	"sort"

	"boardsim/internal/circuit"
	"boardsim/internal/sim/node"
)

// DefaultMaxDepth bounds dependency-walk and path queries so a cyclic or
// very deep circuit can never make a query run unbounded (mirrors
// ProtoVMCLI::SessionTypes.h's CommandOptions deps_max_depth default).
const DefaultMaxDepth = 128

// LintIssue is one topology problem found by Lint.
type LintIssue struct {
	Kind        string
	Message     string
	ComponentID string
	PinID       string
	NetID       string
}

const (
	LintDanglingPin          = "DanglingPin"
	LintShortedSource        = "ShortedSource"
	LintWidthMismatch        = "WidthMismatch"
	LintUnreachableComponent = "UnreachableComponent"
)

// Lint runs the topology checks of spec §4.7: dangling pins, shorted
// sources on a non-multi net, width mismatches, and unreachable
// components. Issues are returned in a deterministic order (by kind, then
// by the sorted id they're anchored on).
func Lint(c *circuit.Circuit) []LintIssue {
	var issues []LintIssue

	for _, pinID := range sortedPinIDs(c) {
		if c.Pins[pinID].NetID == "" {
			issues = append(issues, LintIssue{
				Kind:        LintDanglingPin,
				Message:     "pin has no net connection",
				ComponentID: c.Pins[pinID].ComponentID,
				PinID:       pinID,
			})
		}
	}

	for _, netID := range c.SortedNetIDs() {
		net := c.Nets[netID]
		var sources []string
		var widths []int
		for _, pinID := range net.PinIDs {
			p := c.Pins[pinID]
			if p.Role == node.RoleSource && !p.MultiAllowed {
				sources = append(sources, pinID)
			}
			if p.WidthBits > 0 {
				widths = append(widths, p.WidthBits)
			}
		}
		if len(sources) > 1 {
			sort.Strings(sources)
			issues = append(issues, LintIssue{
				Kind:    LintShortedSource,
				Message: "more than one non-multi source drives net " + netID,
				NetID:   netID,
				PinID:   sources[0],
			})
		}
		for _, w := range widths[1:] {
			if w != widths[0] {
				issues = append(issues, LintIssue{
					Kind:    LintWidthMismatch,
					Message: "net mixes pins of differing widths",
					NetID:   netID,
				})
				break
			}
		}
	}

	for _, compID := range c.SortedComponentIDs() {
		pins := c.ComponentPins(compID)
		reachable := false
		for _, p := range pins {
			if p.NetID != "" {
				reachable = true
				break
			}
		}
		if !reachable && len(pins) > 0 {
			issues = append(issues, LintIssue{
				Kind:        LintUnreachableComponent,
				Message:     "component has no connected pins",
				ComponentID: compID,
			})
		}
	}

	return issues
}

// TimingPath is one combinational path between two timing boundaries — a
// register q output, register d input, or an unconnected primary pin
// (spec §4.7, grounded on ProtoVM::TimingAnalyzer's TimingPath / path
// discovery over TimedComponent fan-in/fan-out).
type TimingPath struct {
	Pins  []string
	Depth int // number of combinational component hops
}

// isBoundaryStart reports whether pinID begins a timing path: a register's
// q pin always does (each tick re-injects state, so a register is never a
// pass-through); otherwise any pin with no driving edge but at least one
// outgoing edge does (an unconnected sink feeding downstream logic, or a
// floating source).
func isBoundaryStart(c *circuit.Circuit, pinID string, hasIn, hasOut map[string]bool) bool {
	p := c.Pins[pinID]
	if isRegister(c, p.ComponentID) && p.Role == node.RoleSource {
		return true
	}
	return !hasIn[pinID] && hasOut[pinID]
}

// isBoundaryEnd is the mirror of isBoundaryStart: a register's d pin
// always ends a path; otherwise any pin with an incoming edge but no
// outgoing edge does.
func isBoundaryEnd(c *circuit.Circuit, pinID string, hasIn, hasOut map[string]bool) bool {
	p := c.Pins[pinID]
	if isRegister(c, p.ComponentID) && p.Role == node.RoleSink {
		return true
	}
	return hasIn[pinID] && !hasOut[pinID]
}

// AnalyzeTimingPaths discovers every path from a start boundary to an end
// boundary, walking the full graph so a register wired directly to
// another register (no combinational logic between them) is reported as
// a zero-depth path. Depth counts only the non-register (combinational)
// components crossed, since the two boundary registers themselves are
// never "hops".
func AnalyzeTimingPaths(c *circuit.Circuit) []TimingPath {
	g := Build(c)
	adj := g.adjacency(nil)

	hasIn := make(map[string]bool)
	hasOut := make(map[string]bool)
	for from, tos := range adj {
		hasOut[from] = true
		for _, to := range tos {
			hasIn[to] = true
		}
	}

	var starts []string
	for _, pinID := range g.PinIDs {
		if isBoundaryStart(c, pinID, hasIn, hasOut) {
			starts = append(starts, pinID)
		}
	}
	sort.Strings(starts)

	var paths []TimingPath
	for _, start := range starts {
		visited := map[string]bool{start: true}
		walkTimingPaths(c, adj, start, []string{start}, hasIn, hasOut, visited, &paths)
	}
	sort.Slice(paths, func(i, j int) bool {
		if paths[i].Depth != paths[j].Depth {
			return paths[i].Depth > paths[j].Depth
		}
		return paths[i].Pins[0] < paths[j].Pins[0]
	})
	return paths
}

// Reachable returns every pin reachable from pinID via the full graph (both
// combinational and sequential edges), not including pinID itself. Used by
// internal/transform's behavior-preservation check to compare connectivity
// before and after a rewrite.
func Reachable(c *circuit.Circuit, pinID string) map[string]bool {
	g := Build(c)
	adj := g.adjacency(nil)
	visited := map[string]bool{pinID: true}
	queue := []string{pinID}
	reached := make(map[string]bool)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if visited[next] {
				continue
			}
			visited[next] = true
			reached[next] = true
			queue = append(queue, next)
		}
	}
	return reached
}

func walkTimingPaths(c *circuit.Circuit, adj map[string][]string, cur string, path []string, hasIn, hasOut map[string]bool, visited map[string]bool, out *[]TimingPath) {
	if isBoundaryEnd(c, cur, hasIn, hasOut) && len(path) > 1 {
		cp := append([]string(nil), path...)
		*out = append(*out, TimingPath{Pins: cp, Depth: combHopDepth(c, cp)})
		return
	}
	for _, next := range adj[cur] {
		if visited[next] {
			continue // cycle guard; loop detection reports these separately
		}
		visited[next] = true
		walkTimingPaths(c, adj, next, append(path, next), hasIn, hasOut, visited, out)
		visited[next] = false
	}
}

// combHopDepth counts the distinct non-register components traversed
// along a pin path; the boundary registers at either end are never
// counted as hops.
func combHopDepth(c *circuit.Circuit, pins []string) int {
	seen := make(map[string]bool)
	for _, p := range pins {
		comp := componentOf(p)
		if isRegister(c, comp) {
			continue
		}
		seen[comp] = true
	}
	return len(seen)
}

func componentOf(pinID string) string {
	for i := len(pinID) - 1; i >= 0; i-- {
		if pinID[i] == '.' {
			return pinID[:i]
		}
	}
	return pinID
}

// CriticalPaths returns the n paths with the greatest combinational depth.
func CriticalPaths(paths []TimingPath, n int) []TimingPath {
	if n < 0 || n > len(paths) {
		n = len(paths)
	}
	return paths[:n]
}

// DetectCombinationalLoops finds cycles that exist using only
// combinational edges. A cycle that requires at least one sequential
// (register-crossing) edge is legitimate feedback, not a hazard, and is
// never reported here.
func DetectCombinationalLoops(c *circuit.Circuit) [][]string {
	g := Build(c)
	f := false
	adj := g.adjacency(&f)

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)
	var cycles [][]string

	var stack []string
	var visit func(string)
	visit = func(n string) {
		color[n] = gray
		stack = append(stack, n)
		for _, next := range adj[n] {
			switch color[next] {
			case white:
				visit(next)
			case gray:
				start := 0
				for i, s := range stack {
					if s == next {
						start = i
						break
					}
				}
				cyc := append([]string(nil), stack[start:]...)
				cycles = append(cycles, normalizeCycle(cyc))
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
	}

	for _, n := range g.PinIDs {
		if color[n] == white {
			visit(n)
		}
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i][0] < cycles[j][0] })
	return dedupeCycles(cycles)
}

func normalizeCycle(cyc []string) []string {
	minIdx := 0
	for i, s := range cyc {
		if s < cyc[minIdx] {
			minIdx = i
		}
	}
	out := make([]string, len(cyc))
	copy(out, cyc[minIdx:])
	copy(out[len(cyc)-minIdx:], cyc[:minIdx])
	return out
}

func dedupeCycles(cycles [][]string) [][]string {
	seen := make(map[string]bool)
	var out [][]string
	for _, cyc := range cycles {
		key := ""
		for _, p := range cyc {
			key += p + ">"
		}
		if !seen[key] {
			seen[key] = true
			out = append(out, cyc)
		}
	}
	return out
}

// DomainOf returns a register component's clock-domain id, defaulting to
// "default" when its "clock_domain" property is unset (spec is silent on
// an explicit clock/net concept, so domain assignment is a per-component
// property — a documented, undictated design decision, see DESIGN.md).
func DomainOf(c *circuit.Circuit, componentID string) string {
	comp, ok := c.Components[componentID]
	if !ok {
		return "default"
	}
	if v, ok := comp.Properties["clock_domain"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "default"
}

// CdcReport is one clock-domain-crossing finding (spec §4.7).
type CdcReport struct {
	ProducerComponent string
	ConsumerComponent string
	ProducerDomain     string
	ConsumerDomain     string
	Hazard             string
	Path               []string
}

const HazardUnsynchronizedCrossing = "UnsynchronizedCrossing"

// DetectClockDomainCrossings walks every timing path that starts and ends
// at a register and reports those whose endpoints sit in different clock
// domains.
func DetectClockDomainCrossings(c *circuit.Circuit) []CdcReport {
	var reports []CdcReport
	for _, path := range AnalyzeTimingPaths(c) {
		startPin, endPin := path.Pins[0], path.Pins[len(path.Pins)-1]
		startComp, endComp := componentOf(startPin), componentOf(endPin)
		if !isRegister(c, startComp) || !isRegister(c, endComp) {
			continue
		}
		pd, cd := DomainOf(c, startComp), DomainOf(c, endComp)
		if pd != cd {
			reports = append(reports, CdcReport{
				ProducerComponent: startComp,
				ConsumerComponent: endComp,
				ProducerDomain:    pd,
				ConsumerDomain:    cd,
				Hazard:            HazardUnsynchronizedCrossing,
				Path:              path.Pins,
			})
		}
	}
	sort.Slice(reports, func(i, j int) bool {
		if reports[i].ProducerComponent != reports[j].ProducerComponent {
			return reports[i].ProducerComponent < reports[j].ProducerComponent
		}
		return reports[i].ConsumerComponent < reports[j].ConsumerComponent
	})
	return reports
}

// DependenciesOf walks the full graph (combinational and sequential edges)
// backward from componentID's sink pins, returning every component id
// reached within maxDepth hops (<=0 uses DefaultMaxDepth). This is a
// supplemented query not named in the distilled spec but present in
// original_source's CommandOptions.deps_max_depth-bounded traversal
// helpers.
func DependenciesOf(c *circuit.Circuit, componentID string, maxDepth int) []string {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	g := Build(c)
	rev := make(map[string][]string)
	for _, e := range g.Edges {
		rev[e.To] = append(rev[e.To], e.From)
	}

	visited := make(map[string]bool)
	var comps []string
	type item struct {
		pin   string
		depth int
	}
	var queue []item
	for _, p := range c.ComponentPins(componentID) {
		if p.Role == node.RoleSink {
			queue = append(queue, item{pin: p.ID, depth: 0})
			visited[p.ID] = true
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}
		for _, prev := range rev[cur.pin] {
			if visited[prev] {
				continue
			}
			visited[prev] = true
			if compID := componentOf(prev); compID != componentID {
				comps = append(comps, compID)
			}
			queue = append(queue, item{pin: prev, depth: cur.depth + 1})
		}
	}
	comps = dedupeStrings(comps)
	sort.Strings(comps)
	return comps
}

// DependentsOf walks the full graph forward from componentID's source pins,
// returning every component id that (transitively, within maxDepth hops)
// consumes one of its outputs. The forward half of the deps_max_depth
// traversal DependenciesOf covers backward (SPEC_FULL.md supplemented
// feature 2).
func DependentsOf(c *circuit.Circuit, componentID string, maxDepth int) []string {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	g := Build(c)
	fwd := make(map[string][]string)
	for _, e := range g.Edges {
		fwd[e.From] = append(fwd[e.From], e.To)
	}

	visited := make(map[string]bool)
	var comps []string
	type item struct {
		pin   string
		depth int
	}
	var queue []item
	for _, p := range c.ComponentPins(componentID) {
		if p.Role == node.RoleSource {
			queue = append(queue, item{pin: p.ID, depth: 0})
			visited[p.ID] = true
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}
		for _, next := range fwd[cur.pin] {
			if visited[next] {
				continue
			}
			visited[next] = true
			if compID := componentOf(next); compID != componentID {
				comps = append(comps, compID)
			}
			queue = append(queue, item{pin: next, depth: cur.depth + 1})
		}
	}
	comps = dedupeStrings(comps)
	sort.Strings(comps)
	return comps
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// PathsToKind discovers every forward path, bounded by maxDepth pin-to-pin
// graph edges (<=0 uses DefaultMaxDepth), from fromComponentID's source pins to
// any pin owned by a component of the given kind. A supplemented named-kind
// query, useful for e.g. "what paths lead from this input to the nearest
// Register".
func PathsToKind(c *circuit.Circuit, fromComponentID, kind string, maxDepth int) [][]string {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	g := Build(c)
	adj := make(map[string][]string)
	for _, e := range g.Edges {
		adj[e.From] = append(adj[e.From], e.To)
	}

	var results [][]string
	for _, p := range c.ComponentPins(fromComponentID) {
		if p.Role != node.RoleSource {
			continue
		}
		visited := map[string]bool{p.ID: true}
		walkToKind(c, adj, p.ID, []string{p.ID}, kind, maxDepth, visited, &results)
	}
	sort.Slice(results, func(i, j int) bool { return results[i][len(results[i])-1] < results[j][len(results[j])-1] })
	return results
}

func walkToKind(c *circuit.Circuit, adj map[string][]string, cur string, path []string, kind string, depthLeft int, visited map[string]bool, out *[][]string) {
	comp := c.Components[componentOf(cur)]
	if comp != nil && comp.Kind == kind && len(path) > 1 {
		*out = append(*out, append([]string(nil), path...))
		return
	}
	if depthLeft <= 0 {
		return
	}
	for _, next := range adj[cur] {
		if visited[next] {
			continue
		}
		visited[next] = true
		walkToKind(c, adj, next, append(path, next), kind, depthLeft-1, visited, out)
		visited[next] = false
	}
}
