package service

import (
	"context"

	"boardsim/internal/circuit/graph"
)

// LintCircuit runs the graph analyzer's static checks (spec §4.7) against a
// branch's current circuit.
func (s *Service) LintCircuit(ctx context.Context, id int, branchName string) ([]graph.LintIssue, error) {
	cs, err := s.acquire(id)
	if err != nil {
		return nil, err
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	_, end := startSpan(ctx, "lint-circuit", id, branchName)
	defer end()

	c, err := cs.circuitFor(branchName)
	if err != nil {
		return nil, err
	}
	return graph.Lint(c), nil
}

// TimingSummary is one branch's full timing/CDC picture.
type TimingSummary struct {
	Paths              []graph.TimingPath
	CriticalPaths      []graph.TimingPath
	CombinationalLoops [][]string
	ClockCrossings     []graph.CdcReport
}

// TimingSummaryFor computes a branch's full timing/CDC summary in one pass,
// so a caller needs one service call instead of four (spec §4.7).
func (s *Service) TimingSummaryFor(ctx context.Context, id int, branchName string, criticalN int) (TimingSummary, error) {
	cs, err := s.acquire(id)
	if err != nil {
		return TimingSummary{}, err
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	_, end := startSpan(ctx, "timing-summary", id, branchName)
	defer end()

	c, err := cs.circuitFor(branchName)
	if err != nil {
		return TimingSummary{}, err
	}
	paths := graph.AnalyzeTimingPaths(c)
	return TimingSummary{
		Paths:              paths,
		CriticalPaths:      graph.CriticalPaths(paths, criticalN),
		CombinationalLoops: graph.DetectCombinationalLoops(c),
		ClockCrossings:     graph.DetectClockDomainCrossings(c),
	}, nil
}

// DependenciesOf runs the deps_max_depth-bounded dependency walk
// (SPEC_FULL.md supplemented feature 2) from componentID in the given
// direction.
func (s *Service) DependenciesOf(ctx context.Context, id int, branchName, componentID string, maxDepth int, forward bool) ([]string, error) {
	cs, err := s.acquire(id)
	if err != nil {
		return nil, err
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	_, end := startSpan(ctx, "deps", id, branchName)
	defer end()

	c, err := cs.circuitFor(branchName)
	if err != nil {
		return nil, err
	}
	if forward {
		return graph.DependentsOf(c, componentID, maxDepth), nil
	}
	return graph.DependenciesOf(c, componentID, maxDepth), nil
}

// GraphPath finds a derivation path between two named graph nodes of the
// given kind (SPEC_FULL.md supplemented feature 3).
func (s *Service) GraphPath(ctx context.Context, id int, branchName, fromComponentID, toKind string, maxDepth int) ([][]string, error) {
	cs, err := s.acquire(id)
	if err != nil {
		return nil, err
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	_, end := startSpan(ctx, "graph-path", id, branchName)
	defer end()

	c, err := cs.circuitFor(branchName)
	if err != nil {
		return nil, err
	}
	return graph.PathsToKind(c, fromComponentID, toKind, maxDepth), nil
}
