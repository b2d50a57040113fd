package analytics

import (
	"context"
	"errors"
	"testing"

	"refnet.org/internal/member"
	"refnet.org/internal/tree"
)

// seedNetwork builds:
//
//	root(40) -> a(100) -> a1(25)
//	         -> b(50)  -> b1(10) -> b2(5)
func seedNetwork(t *testing.T, s *member.InMemory) map[string]string {
	t.Helper()
	ctx := context.Background()
	ids := map[string]string{}
	add := func(name, sponsor string, earnings int64, active bool) {
		status := member.StatusNone
		if active {
			status = member.StatusActive
		}
		m, err := s.CreateMember(ctx, member.Member{
			Name:             name,
			SponsorID:        ids[sponsor],
			IsActive:         true,
			TotalEarnings:    earnings,
			MembershipStatus: status,
		})
		if err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
		ids[name] = m.ID
	}
	add("root", "", 40, true)
	add("a", "root", 100, true)
	add("b", "root", 50, false)
	add("a1", "a", 25, true)
	add("b1", "b", 10, false)
	add("b2", "b1", 5, false)
	return ids
}

func TestNetworkStats(t *testing.T) {
	s := member.NewInMemory()
	ids := seedNetwork(t, s)
	svc := NewService(s, tree.NewWalker(s))

	stats, err := svc.NetworkStats(context.Background(), 3)
	if err != nil {
		t.Fatalf("NetworkStats: %v", err)
	}
	if stats.TotalMembers != 6 || stats.ActiveMembers != 3 {
		t.Fatalf("counts: total=%d active=%d", stats.TotalMembers, stats.ActiveMembers)
	}
	if stats.MaxDepth != 4 {
		t.Fatalf("max depth: %d", stats.MaxDepth)
	}
	if len(stats.TopEarners) != 3 {
		t.Fatalf("top earners: %d", len(stats.TopEarners))
	}
	if stats.TopEarners[0].MemberID != ids["a"] || stats.TopEarners[0].TotalEarnings != 100 {
		t.Fatalf("leaderboard head: %+v", stats.TopEarners[0])
	}
	if stats.TopEarners[1].MemberID != ids["b"] {
		t.Fatalf("leaderboard second: %+v", stats.TopEarners[1])
	}
	if stats.AsOf.IsZero() {
		t.Fatalf("missing as-of timestamp")
	}
}

func TestMemberNetworkRollup(t *testing.T) {
	s := member.NewInMemory()
	ids := seedNetwork(t, s)
	svc := NewService(s, tree.NewWalker(s))

	node, err := svc.MemberNetwork(context.Background(), ids["root"], 10)
	if err != nil {
		t.Fatalf("MemberNetwork: %v", err)
	}
	if node.DirectReferrals != 2 {
		t.Fatalf("root direct referrals: %d", node.DirectReferrals)
	}
	if node.TeamSize != 5 {
		t.Fatalf("root team size: %d", node.TeamSize)
	}
	if node.TeamEarnings != 100+50+25+10+5 {
		t.Fatalf("root team earnings: %d", node.TeamEarnings)
	}

	var b *Node
	for _, child := range node.Children {
		if child.MemberID == ids["b"] {
			b = child
		}
	}
	if b == nil {
		t.Fatalf("child b missing from view")
	}
	if b.TeamSize != 2 || b.TeamEarnings != 15 {
		t.Fatalf("b rollup: size=%d earnings=%d", b.TeamSize, b.TeamEarnings)
	}
}

func TestMemberNetworkDepthBound(t *testing.T) {
	s := member.NewInMemory()
	ids := seedNetwork(t, s)
	svc := NewService(s, tree.NewWalker(s))

	node, err := svc.MemberNetwork(context.Background(), ids["root"], 1)
	if err != nil {
		t.Fatalf("MemberNetwork: %v", err)
	}
	if len(node.Children) != 2 {
		t.Fatalf("expected 2 visible children, got %d", len(node.Children))
	}
	for _, child := range node.Children {
		if child.Children != nil {
			t.Fatalf("grandchildren leaked past the depth bound")
		}
	}
	// The rollup still covers the whole subtree.
	if node.TeamSize != 5 {
		t.Fatalf("depth bound truncated the rollup: %d", node.TeamSize)
	}
}

func TestMemberNetworkUnknownMember(t *testing.T) {
	s := member.NewInMemory()
	svc := NewService(s, tree.NewWalker(s))
	_, err := svc.MemberNetwork(context.Background(), "missing", 3)
	if !errors.Is(err, member.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
