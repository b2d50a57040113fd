package plan

import (
	"errors"
	"strings"
)

// MaxCommissionLevels is how far up the sponsor chain a settlement climbs.
const MaxCommissionLevels = 5

var (
	ErrUnknownPlan = errors.New("unknown plan")
	ErrUnknownTier = errors.New("unknown tier")
)

// Tier orders membership plans. A sponsor's earning window is only extended
// by referrals whose tier is at least the sponsor's own.
type Tier int

const (
	TierBasic Tier = iota + 1
	TierStandard
	TierPremium
)

func (t Tier) String() string {
	switch t {
	case TierBasic:
		return "BASIC"
	case TierStandard:
		return "STANDARD"
	case TierPremium:
		return "PREMIUM"
	default:
		return "UNKNOWN"
	}
}

// ParseTier maps a plan name to its tier.
func ParseTier(name string) (Tier, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "BASIC":
		return TierBasic, nil
	case "STANDARD":
		return TierStandard, nil
	case "PREMIUM":
		return TierPremium, nil
	default:
		return 0, ErrUnknownTier
	}
}

// CommissionLevel is one row of a plan's commission table: the fixed amount
// (minor units) paid to the ancestor at that level. Inactive levels are
// skipped during settlement without breaking the climb.
type CommissionLevel struct {
	Level    int   `json:"level"`
	Amount   int64 `json:"amount"`
	IsActive bool  `json:"is_active"`
}

// Plan is an immutable-per-version membership tier definition.
// All amounts are minor units; no floats.
type Plan struct {
	Name                string            `json:"name"`
	Tier                Tier              `json:"tier"`
	Price               int64             `json:"price"`
	DailyTaskEarning    int64             `json:"daily_task_earning"`
	MaxEarningDays      int               `json:"max_earning_days"`
	ExtendedEarningDays int               `json:"extended_earning_days"`
	MinimumWithdrawal   int64             `json:"minimum_withdrawal"`
	VoucherAmount       int64             `json:"voucher_amount"`
	Commissions         []CommissionLevel `json:"commissions"`
}

// CommissionAt returns the configured amount for a 1-based level.
// A zero amount or an inactive level yields (0, false).
func (p Plan) CommissionAt(level int) (int64, bool) {
	for _, c := range p.Commissions {
		if c.Level == level {
			if !c.IsActive || c.Amount <= 0 {
				return 0, false
			}
			return c.Amount, true
		}
	}
	return 0, false
}
