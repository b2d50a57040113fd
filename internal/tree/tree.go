// Package tree is the read-only structural view over sponsor edges:
// ancestor chains, breadth-first subtree rollups and depth, plus the
// ancestor-path guard applied before any sponsor reassignment.
package tree

import (
	"context"
	"errors"
	"fmt"

	"refnet.org/internal/member"
)

var (
	// ErrIntegrity means a node was reached twice during a traversal: the
	// sponsor graph contains a cycle and the walk aborted.
	ErrIntegrity = errors.New("sponsor graph integrity violation: cycle detected")
	// ErrWouldCreateCycle rejects a sponsor assignment that would make the
	// new sponsor a descendant of the member being reassigned.
	ErrWouldCreateCycle = errors.New("sponsor assignment would create a cycle")
)

// maxTraversalDepth bounds every walk. Any forest deeper than this is
// treated as corrupt.
const maxTraversalDepth = 10_000

// Ancestor is one entry in a member's upline, level 1 = direct sponsor.
type Ancestor struct {
	member.Member
	Level int
}

// Aggregate is the rollup over a member's descendants.
type Aggregate struct {
	TeamSize     int   `json:"team_size"`
	TeamEarnings int64 `json:"team_earnings"`
}

// Walker runs traversals against a Store. It holds no state between calls.
type Walker struct {
	store member.Store
}

func NewWalker(store member.Store) *Walker {
	return &Walker{store: store}
}

// Ancestors returns up to maxLevels ancestors of the member, nearest first.
// The chain includes inactive members; callers decide whether an inactive
// link is skipped or truncates their operation. A repeated visit aborts
// with ErrIntegrity.
func (w *Walker) Ancestors(ctx context.Context, memberID string, maxLevels int) ([]Ancestor, error) {
	m, err := w.store.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}

	visited := map[string]struct{}{m.ID: {}}
	var out []Ancestor
	cur := m
	for level := 1; level <= maxLevels; level++ {
		if cur.SponsorID == "" {
			break
		}
		if _, seen := visited[cur.SponsorID]; seen {
			return nil, fmt.Errorf("member %s: %w", cur.SponsorID, ErrIntegrity)
		}
		parent, err := w.store.GetMember(ctx, cur.SponsorID)
		if err != nil {
			if errors.Is(err, member.ErrNotFound) {
				// Dangling edge ends the chain.
				break
			}
			return nil, err
		}
		visited[parent.ID] = struct{}{}
		out = append(out, Ancestor{Member: parent, Level: level})
		cur = parent
	}
	return out, nil
}

// SubtreeAggregate rolls up team size and team earnings over every
// descendant of the member. The walk is breadth-first with one batched
// store read per level, so round trips are O(depth), not O(nodes), and no
// call stack grows with the tree.
func (w *Walker) SubtreeAggregate(ctx context.Context, memberID string) (Aggregate, error) {
	if _, err := w.store.GetMember(ctx, memberID); err != nil {
		return Aggregate{}, err
	}

	var agg Aggregate
	visited := map[string]struct{}{memberID: {}}
	frontier := []string{memberID}
	for depth := 0; len(frontier) > 0; depth++ {
		if depth > maxTraversalDepth {
			return Aggregate{}, ErrIntegrity
		}
		children, err := w.store.ListBySponsorIDs(ctx, frontier)
		if err != nil {
			return Aggregate{}, err
		}
		frontier = frontier[:0]
		for _, c := range children {
			if _, seen := visited[c.ID]; seen {
				return Aggregate{}, fmt.Errorf("member %s: %w", c.ID, ErrIntegrity)
			}
			visited[c.ID] = struct{}{}
			agg.TeamSize++
			agg.TeamEarnings += c.TotalEarnings
			frontier = append(frontier, c.ID)
		}
	}
	return agg, nil
}

// MaxDepth returns the greatest root-to-leaf path length over the whole
// forest, counting a lone root as depth 1. Levels are fetched one batched
// read at a time.
func (w *Walker) MaxDepth(ctx context.Context) (int, error) {
	roots, err := w.store.ListRoots(ctx)
	if err != nil {
		return 0, err
	}
	if len(roots) == 0 {
		return 0, nil
	}

	visited := make(map[string]struct{}, len(roots))
	frontier := make([]string, 0, len(roots))
	for _, r := range roots {
		visited[r.ID] = struct{}{}
		frontier = append(frontier, r.ID)
	}

	depth := 0
	for len(frontier) > 0 {
		depth++
		if depth > maxTraversalDepth {
			return 0, ErrIntegrity
		}
		children, err := w.store.ListBySponsorIDs(ctx, frontier)
		if err != nil {
			return 0, err
		}
		frontier = frontier[:0]
		for _, c := range children {
			if _, seen := visited[c.ID]; seen {
				return 0, fmt.Errorf("member %s: %w", c.ID, ErrIntegrity)
			}
			visited[c.ID] = struct{}{}
			frontier = append(frontier, c.ID)
		}
	}
	return depth, nil
}

// ValidateSponsorChange checks that assigning newSponsorID as the sponsor
// of memberID keeps the graph a forest. The new sponsor must not be the
// member itself nor any of its descendants, which is established by
// climbing the new sponsor's ancestor path.
func (w *Walker) ValidateSponsorChange(ctx context.Context, memberID, newSponsorID string) error {
	if newSponsorID == "" {
		return nil
	}
	if memberID == newSponsorID {
		return ErrWouldCreateCycle
	}
	if _, err := w.store.GetMember(ctx, memberID); err != nil {
		return err
	}
	cur, err := w.store.GetMember(ctx, newSponsorID)
	if err != nil {
		return err
	}

	visited := map[string]struct{}{cur.ID: {}}
	for cur.SponsorID != "" {
		if cur.SponsorID == memberID {
			return ErrWouldCreateCycle
		}
		if _, seen := visited[cur.SponsorID]; seen {
			return fmt.Errorf("member %s: %w", cur.SponsorID, ErrIntegrity)
		}
		parent, err := w.store.GetMember(ctx, cur.SponsorID)
		if err != nil {
			if errors.Is(err, member.ErrNotFound) {
				return nil
			}
			return err
		}
		visited[parent.ID] = struct{}{}
		cur = parent
	}
	return nil
}
