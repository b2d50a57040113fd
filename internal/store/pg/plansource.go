package pg

import (
	"context"
	"sort"

	"refnet.org/internal/plan"
)

// PlanSource loads the plan catalog from the plans tables. Implements
// plan.Source; the snapshot version is derived from the rows so an admin
// edit produces a new version string.
type PlanSource struct {
	store *Store
}

func NewPlanSource(store *Store) *PlanSource { return &PlanSource{store: store} }

var _ plan.Source = (*PlanSource)(nil)

func (p *PlanSource) LoadPlans(ctx context.Context) ([]plan.Plan, string, error) {
	rows, err := p.store.db.QueryContext(ctx, `
		select name, tier, price, daily_task_earning, max_earning_days,
		       extended_earning_days, minimum_withdrawal, voucher_amount, version
		from plans
		order by tier
	`)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	byName := make(map[string]*plan.Plan)
	var order []string
	version := ""
	for rows.Next() {
		var (
			pl      plan.Plan
			tierRaw int
			rowVer  string
		)
		if err := rows.Scan(&pl.Name, &tierRaw, &pl.Price, &pl.DailyTaskEarning, &pl.MaxEarningDays,
			&pl.ExtendedEarningDays, &pl.MinimumWithdrawal, &pl.VoucherAmount, &rowVer); err != nil {
			return nil, "", err
		}
		pl.Tier = plan.Tier(tierRaw)
		byName[pl.Name] = &pl
		order = append(order, pl.Name)
		if rowVer > version {
			version = rowVer
		}
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	crows, err := p.store.db.QueryContext(ctx, `
		select plan, level, amount, is_active from plan_commissions order by plan, level
	`)
	if err != nil {
		return nil, "", err
	}
	defer crows.Close()

	for crows.Next() {
		var (
			name string
			c    plan.CommissionLevel
		)
		if err := crows.Scan(&name, &c.Level, &c.Amount, &c.IsActive); err != nil {
			return nil, "", err
		}
		if pl, ok := byName[name]; ok {
			pl.Commissions = append(pl.Commissions, c)
		}
	}
	if err := crows.Err(); err != nil {
		return nil, "", err
	}

	sort.Strings(order)
	out := make([]plan.Plan, 0, len(order))
	seen := make(map[string]struct{}, len(order))
	for _, name := range order {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, *byName[name])
	}
	return out, version, nil
}
