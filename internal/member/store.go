package member

import (
	"context"
	"time"
)

// MembershipUpdate carries the field set written by a membership activation.
// The write also appends a PAYMENT_RECEIVED transaction row.
type MembershipUpdate struct {
	Plan                  string
	Status                MembershipStatus
	StartDate             time.Time
	EndDate               time.Time
	EarningsContinueUntil time.Time
	IncrementRenewal      bool
	AmountPaid            int64
}

// CommissionCredit is one atomic settlement credit to a single ancestor.
type CommissionCredit struct {
	BeneficiaryID      string
	TriggeringMemberID string
	Plan               string
	Level              int
	Amount             int64
}

// DailyCredit is one atomic daily task-earning credit.
type DailyCredit struct {
	MemberID         string
	Plan             string
	Amount           int64
	Day              time.Time // UTC calendar date of the credit
	IsExtendedPeriod bool
}

// Store is the transactional ledger store the engine runs against.
//
// Every balance-mutating method executes as a single atomic read-modify-write
// serialized on the affected member's row, with its append-only history rows
// written in the same transaction. Implementations enforce the settlement
// idempotency key (triggering member, plan, level) with a uniqueness
// constraint and surface conflicts as ErrDuplicateSettlement.
type Store interface {
	CreateMember(ctx context.Context, m Member) (Member, error)
	GetMember(ctx context.Context, id string) (Member, error)

	// ListBySponsorIDs returns the direct children of every given sponsor in
	// one batched read. Level-wise tree walks are built on this.
	ListBySponsorIDs(ctx context.Context, sponsorIDs []string) ([]Member, error)
	// ListRoots returns members with no sponsor.
	ListRoots(ctx context.Context) ([]Member, error)

	UpdateSponsor(ctx context.Context, memberID, sponsorID string) error

	ActivateMembership(ctx context.Context, memberID string, up MembershipUpdate) (Member, error)
	CreditCommission(ctx context.Context, c CommissionCredit) (CommissionEvent, error)
	CreditDailyEarning(ctx context.Context, c DailyCredit) (Member, TaskEarningEvent, error)
	// ExtendEarningWindow applies until only when it is later than the
	// member's current deadline and reports whether anything changed.
	ExtendEarningWindow(ctx context.Context, memberID string, until time.Time) (bool, error)

	// ListExpired returns ACTIVE members whose earning window elapsed before now.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]Member, error)
	MarkExpired(ctx context.Context, memberID string) error
	// ListExpiringWithin returns ACTIVE, un-notified members whose window ends
	// within the given number of days from now.
	ListExpiringWithin(ctx context.Context, now time.Time, days int) ([]Member, error)
	MarkExpiryNotified(ctx context.Context, memberID string, days int) error

	CountMembers(ctx context.Context) (total, active int, err error)
	TopEarners(ctx context.Context, n int) ([]Member, error)

	ListCommissionEvents(ctx context.Context, beneficiaryID string, limit int) ([]CommissionEvent, error)
	ListTaskEarnings(ctx context.Context, memberID string, limit int) ([]TaskEarningEvent, error)
	ListTransactions(ctx context.Context, memberID string, limit int) ([]Transaction, error)
}
