package plan

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Source loads the full plan set from wherever plans are administered
// (a table, a config service). Implementations must return a consistent
// snapshot tagged with a version.
type Source interface {
	LoadPlans(ctx context.Context) (plans []Plan, version string, err error)
}

// Snapshot is one immutable version of the catalog. Settlement resolves a
// snapshot per call so an admin update never mutates an in-flight climb.
type Snapshot struct {
	Version string
	byName  map[string]Plan
}

// Lookup resolves a plan by name (case-insensitive).
func (s *Snapshot) Lookup(name string) (Plan, error) {
	p, ok := s.byName[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return Plan{}, ErrUnknownPlan
	}
	return p, nil
}

// Plans returns the snapshot's plans ordered by tier.
func (s *Snapshot) Plans() []Plan {
	out := make([]Plan, 0, len(s.byName))
	for _, p := range s.byName {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tier < out[j].Tier })
	return out
}

// Catalog caches Snapshots from a Source with an explicit TTL and an
// invalidation hook. Never a bare process-wide mutable: every read goes
// through Current, which returns a versioned immutable value.
type Catalog struct {
	source Source
	ttl    time.Duration

	mu       sync.RWMutex
	current  *Snapshot
	loadedAt time.Time
}

// NewCatalog wraps a Source. A non-positive ttl disables caching and loads
// on every call.
func NewCatalog(source Source, ttl time.Duration) *Catalog {
	return &Catalog{source: source, ttl: ttl}
}

// Current returns the cached snapshot, reloading from the Source when the
// TTL has elapsed or nothing is cached yet.
func (c *Catalog) Current(ctx context.Context) (*Snapshot, error) {
	c.mu.RLock()
	snap, loadedAt := c.current, c.loadedAt
	c.mu.RUnlock()
	if snap != nil && c.ttl > 0 && time.Since(loadedAt) < c.ttl {
		return snap, nil
	}

	plans, version, err := c.source.LoadPlans(ctx)
	if err != nil {
		if snap != nil {
			// Serve the stale snapshot rather than failing a settlement
			// on a transient catalog read error.
			return snap, nil
		}
		return nil, err
	}
	next := buildSnapshot(plans, version)

	c.mu.Lock()
	c.current = next
	c.loadedAt = time.Now()
	c.mu.Unlock()
	return next, nil
}

// Invalidate drops the cached snapshot so the next Current reloads.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.current = nil
	c.loadedAt = time.Time{}
	c.mu.Unlock()
}

func buildSnapshot(plans []Plan, version string) *Snapshot {
	byName := make(map[string]Plan, len(plans))
	for _, p := range plans {
		byName[strings.ToUpper(p.Name)] = p
	}
	return &Snapshot{Version: version, byName: byName}
}

// StaticSource serves a fixed plan set. Used by tests and the smoke binary.
type StaticSource struct {
	Version string
	Set     []Plan
}

func (s StaticSource) LoadPlans(ctx context.Context) ([]Plan, string, error) {
	version := s.Version
	if version == "" {
		version = "static"
	}
	return s.Set, version, nil
}

// Defaults returns the stock three-tier plan set. Amounts are minor units.
func Defaults() []Plan {
	return []Plan{
		{
			Name: "BASIC", Tier: TierBasic,
			Price: 1000, DailyTaskEarning: 50,
			MaxEarningDays: 30, ExtendedEarningDays: 60,
			MinimumWithdrawal: 500, VoucherAmount: 100,
			Commissions: []CommissionLevel{
				{Level: 1, Amount: 200, IsActive: true},
				{Level: 2, Amount: 100, IsActive: true},
				{Level: 3, Amount: 50, IsActive: true},
				{Level: 4, Amount: 25, IsActive: true},
				{Level: 5, Amount: 10, IsActive: true},
			},
		},
		{
			Name: "STANDARD", Tier: TierStandard,
			Price: 3000, DailyTaskEarning: 150,
			MaxEarningDays: 30, ExtendedEarningDays: 60,
			MinimumWithdrawal: 1000, VoucherAmount: 300,
			Commissions: []CommissionLevel{
				{Level: 1, Amount: 600, IsActive: true},
				{Level: 2, Amount: 300, IsActive: true},
				{Level: 3, Amount: 150, IsActive: true},
				{Level: 4, Amount: 75, IsActive: true},
				{Level: 5, Amount: 30, IsActive: true},
			},
		},
		{
			Name: "PREMIUM", Tier: TierPremium,
			Price: 5000, DailyTaskEarning: 300,
			MaxEarningDays: 30, ExtendedEarningDays: 60,
			MinimumWithdrawal: 2000, VoucherAmount: 500,
			Commissions: []CommissionLevel{
				{Level: 1, Amount: 1000, IsActive: true},
				{Level: 2, Amount: 500, IsActive: true},
				{Level: 3, Amount: 250, IsActive: true},
				{Level: 4, Amount: 125, IsActive: true},
				{Level: 5, Amount: 50, IsActive: true},
			},
		},
	}
}
