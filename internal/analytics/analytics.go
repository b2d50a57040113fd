// Package analytics is the read side of the referral network: aggregate
// stats and bounded-depth subtree views built on the tree walker. Nothing
// here mutates state, so it is safe to run concurrently with settlement.
package analytics

import (
	"context"
	"time"

	"refnet.org/internal/member"
	"refnet.org/internal/tree"
)

// TopEarner is one entry of the network leaderboard.
type TopEarner struct {
	MemberID      string `json:"member_id"`
	Name          string `json:"name"`
	TotalEarnings int64  `json:"total_earnings"`
}

// NetworkStats is the whole-forest summary for the reporting collaborator.
type NetworkStats struct {
	TotalMembers  int         `json:"total_members"`
	ActiveMembers int         `json:"active_members"`
	MaxDepth      int         `json:"max_depth"`
	TopEarners    []TopEarner `json:"top_earners"`
	AsOf          time.Time   `json:"as_of"`
}

// Node is one member in a bounded-depth network view, annotated with its
// direct-referral count and team rollup.
type Node struct {
	MemberID        string  `json:"member_id"`
	Name            string  `json:"name"`
	Plan            string  `json:"plan,omitempty"`
	Status          string  `json:"status"`
	Level           int     `json:"level"`
	DirectReferrals int     `json:"direct_referrals"`
	TeamSize        int     `json:"team_size"`
	TeamEarnings    int64   `json:"team_earnings"`
	Children        []*Node `json:"children,omitempty"`
}

// Service computes network analytics.
type Service struct {
	store  member.Store
	walker *tree.Walker
}

func NewService(store member.Store, walker *tree.Walker) *Service {
	return &Service{store: store, walker: walker}
}

// NetworkStats returns member counts, the forest's maximum depth and the
// top-N earners by total earnings.
func (s *Service) NetworkStats(ctx context.Context, topN int) (NetworkStats, error) {
	total, active, err := s.store.CountMembers(ctx)
	if err != nil {
		return NetworkStats{}, err
	}
	depth, err := s.walker.MaxDepth(ctx)
	if err != nil {
		return NetworkStats{}, err
	}
	top, err := s.store.TopEarners(ctx, topN)
	if err != nil {
		return NetworkStats{}, err
	}
	earners := make([]TopEarner, 0, len(top))
	for _, m := range top {
		earners = append(earners, TopEarner{MemberID: m.ID, Name: m.Name, TotalEarnings: m.TotalEarnings})
	}
	return NetworkStats{
		TotalMembers:  total,
		ActiveMembers: active,
		MaxDepth:      depth,
		TopEarners:    earners,
		AsOf:          time.Now().UTC(),
	}, nil
}

// MemberNetwork returns the member's subtree down to maxDepth levels,
// each node annotated with its direct-referral count and full-subtree team
// rollup. The whole subtree is loaded into an arena level by level (one
// batched read per level) and the rollups are folded bottom-up in memory,
// so store round trips stay O(depth) regardless of team size.
func (s *Service) MemberNetwork(ctx context.Context, memberID string, maxDepth int) (*Node, error) {
	root, err := s.store.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}

	type entry struct {
		m     member.Member
		level int
	}
	arena := map[string]*entry{root.ID: {m: root}}
	order := []string{root.ID} // BFS order; reversed it is a valid fold order
	frontier := []string{root.ID}
	for level := 1; len(frontier) > 0; level++ {
		children, err := s.store.ListBySponsorIDs(ctx, frontier)
		if err != nil {
			return nil, err
		}
		frontier = frontier[:0]
		for _, c := range children {
			if _, seen := arena[c.ID]; seen {
				return nil, tree.ErrIntegrity
			}
			arena[c.ID] = &entry{m: c, level: level}
			order = append(order, c.ID)
			frontier = append(frontier, c.ID)
		}
	}

	nodes := make(map[string]*Node, len(arena))
	for id, e := range arena {
		nodes[id] = &Node{
			MemberID: id,
			Name:     e.m.Name,
			Plan:     e.m.MembershipPlan,
			Status:   string(e.m.MembershipStatus),
			Level:    e.level,
		}
	}
	// Children fold into parents deepest-first.
	for i := len(order) - 1; i > 0; i-- {
		child := nodes[order[i]]
		parent := nodes[arena[order[i]].m.SponsorID]
		parent.DirectReferrals++
		parent.TeamSize += child.TeamSize + 1
		parent.TeamEarnings += child.TeamEarnings + arena[order[i]].m.TotalEarnings
		if child.Level <= maxDepth {
			parent.Children = append(parent.Children, child)
		}
	}
	// Detach anything below the requested depth from the visible view.
	for _, n := range nodes {
		if n.Level >= maxDepth {
			n.Children = nil
		}
	}
	return nodes[root.ID], nil
}
