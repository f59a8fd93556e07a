package service

import (
	"context"

	"boardsim/internal/session"
)

// ListBranches returns a session's branch list.
func (s *Service) ListBranches(ctx context.Context, id int) ([]session.Branch, error) {
	cs, err := s.acquire(id)
	if err != nil {
		return nil, err
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	_, end := startSpan(ctx, "list-branches", id, cs.meta.CurrentBranch)
	defer end()
	return session.ListBranches(cs.meta), nil
}

// CreateBranch forks a new branch and persists the session (spec §4.9, §8
// scenario S3).
func (s *Service) CreateBranch(ctx context.Context, id int, name, fromBranch string, fromRevision int64) (session.Branch, error) {
	cs, err := s.acquire(id)
	if err != nil {
		return session.Branch{}, err
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	_, end := startSpan(ctx, "branch-create", id, name)
	defer end()

	b, err := session.CreateBranch(&cs.meta, name, fromBranch, fromRevision)
	if err != nil {
		return session.Branch{}, err
	}
	if err := s.saveSession(cs); err != nil {
		return session.Branch{}, err
	}
	return b, nil
}

// SwitchBranch changes a session's current_branch.
func (s *Service) SwitchBranch(ctx context.Context, id int, name string) error {
	cs, err := s.acquire(id)
	if err != nil {
		return err
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	_, end := startSpan(ctx, "branch-switch", id, name)
	defer end()

	if err := session.SwitchBranch(&cs.meta, name); err != nil {
		return err
	}
	return s.saveSession(cs)
}

// DeleteBranch removes a non-current, non-default branch (spec §8 invariant
// 15) and drops any cached Circuit/Machine for it.
func (s *Service) DeleteBranch(ctx context.Context, id int, name string) error {
	cs, err := s.acquire(id)
	if err != nil {
		return err
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	_, end := startSpan(ctx, "branch-delete", id, name)
	defer end()

	if err := session.DeleteBranch(&cs.meta, name); err != nil {
		return err
	}
	cs.invalidateBranch(name)
	return s.saveSession(cs)
}

// MergeBranches three-way merges sourceBranch into targetBranch (spec
// §4.9). On success both the source and target branches' cached Circuit and
// Machine are invalidated, since the target's head (and, for a
// fast-forward, possibly the source's underlying nodes) may now disagree
// with what was materialized before the merge.
func (s *Service) MergeBranches(ctx context.Context, id int, sourceBranch, targetBranch string, allowMerge bool) (session.MergeResult, error) {
	cs, err := s.acquire(id)
	if err != nil {
		return session.MergeResult{}, err
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	_, end := startSpan(ctx, "branch-merge", id, targetBranch)
	defer end()

	result, err := session.Merge(&cs.graph, &cs.meta, sourceBranch, targetBranch, allowMerge)
	if err != nil {
		return result, err
	}
	cs.invalidateBranch(sourceBranch)
	cs.invalidateBranch(targetBranch)
	if saveErr := s.saveSession(cs); saveErr != nil {
		return session.MergeResult{}, saveErr
	}
	if target := cs.meta.BranchByName(targetBranch); target != nil {
		// A merge can rewrite targetBranch's head to a revision that some of
		// its existing on-disk snapshots are no longer an ancestor of (spec
		// §9 OQ4); drop those so a later resume never restores stale state.
		_ = s.store.InvalidateSnapshotsNotAncestorOf(id, targetBranch, &cs.graph, target.HeadRevision)
	}
	return result, nil
}
