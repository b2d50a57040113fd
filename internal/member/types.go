package member

import (
	"errors"
	"time"
)

// MembershipStatus tracks the membership lifecycle of a member.
type MembershipStatus string

const (
	StatusNone    MembershipStatus = "NONE"
	StatusActive  MembershipStatus = "ACTIVE"
	StatusExpired MembershipStatus = "EXPIRED"
)

// Member is one node in the sponsor tree. All money fields are minor units.
type Member struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	SponsorID string    `json:"sponsor_id,omitempty"` // empty for root members
	IsActive  bool      `json:"is_active"`            // account-level flag; inactive links earn nothing but stay in the chain
	CreatedAt time.Time `json:"created_at"`

	Balance           int64 `json:"balance"`
	TotalEarnings     int64 `json:"total_earnings"`
	TaskEarnings      int64 `json:"task_earnings"`
	ReferralEarnings  int64 `json:"referral_earnings"`
	PendingCommission int64 `json:"pending_commission"`

	MembershipPlan        string           `json:"membership_plan,omitempty"`
	MembershipStatus      MembershipStatus `json:"membership_status"`
	MembershipStartDate   *time.Time       `json:"membership_start_date,omitempty"`
	MembershipEndDate     *time.Time       `json:"membership_end_date,omitempty"`
	EarningsContinueUntil *time.Time       `json:"earnings_continue_until,omitempty"`
	RenewalCount          int              `json:"renewal_count"`

	LastTaskCompletionDate *time.Time `json:"last_task_completion_date,omitempty"` // date only
	DailyTasksCompleted    int        `json:"daily_tasks_completed"`

	// Advisory expiry notices, sent at most once per window. Reset on renewal.
	Notified7Day bool `json:"notified_7_day"`
	Notified3Day bool `json:"notified_3_day"`
}

// CommissionEvent is one append-only settlement row. Rows are written once
// per (triggering member, plan, level); the store enforces uniqueness.
type CommissionEvent struct {
	ID                 string    `json:"id"`
	BeneficiaryID      string    `json:"beneficiary_id"`
	TriggeringMemberID string    `json:"triggering_member_id"`
	Plan               string    `json:"plan"`
	Level              int       `json:"level"`
	Amount             int64     `json:"amount"`
	CreatedAt          time.Time `json:"created_at"`
}

// TaskEarningEvent is one append-only daily credit row.
type TaskEarningEvent struct {
	ID               string    `json:"id"`
	MemberID         string    `json:"member_id"`
	Plan             string    `json:"plan"`
	Amount           int64     `json:"amount"`
	TasksCompleted   int       `json:"tasks_completed"`
	Date             time.Time `json:"date"` // date only
	IsExtendedPeriod bool      `json:"is_extended_period"`
}

// TransactionKind classifies ledger transaction rows.
type TransactionKind string

const (
	TxReferralCommission TransactionKind = "REFERRAL_COMMISSION"
	TxTaskEarning        TransactionKind = "TASK_EARNING"
	TxPaymentReceived    TransactionKind = "PAYMENT_RECEIVED"
	TxRefund             TransactionKind = "REFUND"
)

// Transaction is one append-only row of the generic financial audit trail.
type Transaction struct {
	ID          string          `json:"id"`
	MemberID    string          `json:"member_id"`
	Kind        TransactionKind `json:"kind"`
	Amount      int64           `json:"amount"`
	Description string          `json:"description"`
	Status      string          `json:"status"`
	Reference   string          `json:"reference,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

var (
	ErrNotFound             = errors.New("member not found")
	ErrAlreadyExists        = errors.New("member already exists")
	ErrDuplicateSettlement  = errors.New("settlement already recorded")
	ErrAlreadyCreditedToday = errors.New("already credited today")
	ErrInvalidState         = errors.New("invalid membership state")
)

// Day truncates a timestamp to its UTC calendar date. The once-per-day
// earning guard compares Day values, never raw timestamps.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether two timestamps fall on the same UTC calendar date.
func SameDay(a, b time.Time) bool {
	return Day(a).Equal(Day(b))
}
