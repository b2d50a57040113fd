// Package pg implements the ledger store on PostgreSQL. Every
// balance-mutating operation runs in a serializable transaction that locks
// the affected member's row before writing, and the settlement idempotency
// key is a unique index on commission_events, so duplicate settlement
// attempts fail at the store even if two writers race past the application
// check.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"refnet.org/internal/ids"
	"refnet.org/internal/member"
)

type Store struct {
	db *sql.DB
}

var _ member.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle. Used by tests and cmd wiring.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

const memberColumns = `id, name, sponsor_id, is_active, created_at,
	balance, total_earnings, task_earnings, referral_earnings, pending_commission,
	membership_plan, membership_status, membership_start_date, membership_end_date,
	earnings_continue_until, renewal_count, last_task_completion_date,
	daily_tasks_completed, notified_7_day, notified_3_day`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMember(row rowScanner) (member.Member, error) {
	var (
		m         member.Member
		sponsor   sql.NullString
		planName  sql.NullString
		start     sql.NullTime
		end       sql.NullTime
		until     sql.NullTime
		lastTask  sql.NullTime
		statusRaw string
	)
	err := row.Scan(
		&m.ID, &m.Name, &sponsor, &m.IsActive, &m.CreatedAt,
		&m.Balance, &m.TotalEarnings, &m.TaskEarnings, &m.ReferralEarnings, &m.PendingCommission,
		&planName, &statusRaw, &start, &end,
		&until, &m.RenewalCount, &lastTask,
		&m.DailyTasksCompleted, &m.Notified7Day, &m.Notified3Day,
	)
	if err != nil {
		return member.Member{}, err
	}
	m.SponsorID = sponsor.String
	m.MembershipPlan = planName.String
	m.MembershipStatus = member.MembershipStatus(statusRaw)
	if start.Valid {
		t := start.Time
		m.MembershipStartDate = &t
	}
	if end.Valid {
		t := end.Time
		m.MembershipEndDate = &t
	}
	if until.Valid {
		t := until.Time
		m.EarningsContinueUntil = &t
	}
	if lastTask.Valid {
		t := member.Day(lastTask.Time)
		m.LastTaskCompletionDate = &t
	}
	return m, nil
}

func (s *Store) CreateMember(ctx context.Context, m member.Member) (member.Member, error) {
	if m.ID == "" {
		m.ID = ids.NewWithPrefix("mem")
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.MembershipStatus == "" {
		m.MembershipStatus = member.StatusNone
	}
	_, err := s.db.ExecContext(ctx, `
		insert into members (id, name, sponsor_id, is_active, created_at, membership_status)
		values ($1, $2, nullif($3, ''), $4, $5, $6)
	`, m.ID, m.Name, m.SponsorID, m.IsActive, m.CreatedAt, string(m.MembershipStatus))
	if err != nil {
		if isUniqueViolation(err) {
			return member.Member{}, member.ErrAlreadyExists
		}
		if isForeignKeyViolation(err) {
			return member.Member{}, fmt.Errorf("sponsor %s: %w", m.SponsorID, member.ErrNotFound)
		}
		return member.Member{}, err
	}
	return m, nil
}

func (s *Store) GetMember(ctx context.Context, id string) (member.Member, error) {
	row := s.db.QueryRowContext(ctx, `select `+memberColumns+` from members where id=$1`, id)
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return member.Member{}, member.ErrNotFound
	}
	return m, err
}

func (s *Store) ListBySponsorIDs(ctx context.Context, sponsorIDs []string) ([]member.Member, error) {
	if len(sponsorIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(sponsorIDs))
	args := make([]any, len(sponsorIDs))
	for i, id := range sponsorIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := `select ` + memberColumns + ` from members
		where sponsor_id in (` + strings.Join(placeholders, ",") + `) order by id`
	return s.listMembers(ctx, query, args...)
}

func (s *Store) ListRoots(ctx context.Context) ([]member.Member, error) {
	return s.listMembers(ctx, `select `+memberColumns+` from members where sponsor_id is null order by id`)
}

func (s *Store) listMembers(ctx context.Context, query string, args ...any) ([]member.Member, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []member.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) UpdateSponsor(ctx context.Context, memberID, sponsorID string) error {
	res, err := s.db.ExecContext(ctx, `
		update members set sponsor_id = nullif($2, '') where id = $1
	`, memberID, sponsorID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("sponsor %s: %w", sponsorID, member.ErrNotFound)
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return member.ErrNotFound
	}
	return nil
}

func (s *Store) ActivateMembership(ctx context.Context, memberID string, up member.MembershipUpdate) (member.Member, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return member.Member{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var dummy int
	if err := tx.QueryRowContext(ctx, `select 1 from members where id=$1 for update`, memberID).Scan(&dummy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return member.Member{}, member.ErrNotFound
		}
		return member.Member{}, err
	}

	renewalDelta := 0
	if up.IncrementRenewal {
		renewalDelta = 1
	}
	if _, err := tx.ExecContext(ctx, `
		update members set
			membership_plan = $2,
			membership_status = $3,
			membership_start_date = $4,
			membership_end_date = $5,
			earnings_continue_until = $6,
			renewal_count = renewal_count + $7,
			notified_7_day = false,
			notified_3_day = false
		where id = $1
	`, memberID, up.Plan, string(up.Status), up.StartDate, up.EndDate, up.EarningsContinueUntil, renewalDelta); err != nil {
		return member.Member{}, err
	}

	if err := insertTransaction(ctx, tx, member.Transaction{
		MemberID:    memberID,
		Kind:        member.TxPaymentReceived,
		Amount:      up.AmountPaid,
		Description: "membership activation: " + up.Plan,
		Status:      "completed",
	}); err != nil {
		return member.Member{}, err
	}

	row := tx.QueryRowContext(ctx, `select `+memberColumns+` from members where id=$1`, memberID)
	m, err := scanMember(row)
	if err != nil {
		return member.Member{}, err
	}
	if err := tx.Commit(); err != nil {
		return member.Member{}, err
	}
	return m, nil
}

func (s *Store) CreditCommission(ctx context.Context, c member.CommissionCredit) (member.CommissionEvent, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return member.CommissionEvent{}, err
	}
	defer func() { _ = tx.Rollback() }()

	// Serialize on the beneficiary's row.
	var dummy int
	if err := tx.QueryRowContext(ctx, `select 1 from members where id=$1 for update`, c.BeneficiaryID).Scan(&dummy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return member.CommissionEvent{}, member.ErrNotFound
		}
		return member.CommissionEvent{}, err
	}

	ev := member.CommissionEvent{
		ID:                 ids.NewWithPrefix("cev"),
		BeneficiaryID:      c.BeneficiaryID,
		TriggeringMemberID: c.TriggeringMemberID,
		Plan:               c.Plan,
		Level:              c.Level,
		Amount:             c.Amount,
		CreatedAt:          time.Now().UTC(),
	}
	// The unique index on (triggering_member_id, plan, level) is the
	// idempotency key; a conflict means this settlement already ran.
	res, err := tx.ExecContext(ctx, `
		insert into commission_events (id, beneficiary_id, triggering_member_id, plan, level, amount, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)
		on conflict (triggering_member_id, plan, level) do nothing
	`, ev.ID, ev.BeneficiaryID, ev.TriggeringMemberID, ev.Plan, ev.Level, ev.Amount, ev.CreatedAt)
	if err != nil {
		return member.CommissionEvent{}, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return member.CommissionEvent{}, err
	}
	if inserted == 0 {
		return member.CommissionEvent{}, member.ErrDuplicateSettlement
	}

	if _, err := tx.ExecContext(ctx, `
		update members set
			referral_earnings = referral_earnings + $2,
			total_earnings = total_earnings + $2,
			balance = balance + $2
		where id = $1
	`, c.BeneficiaryID, c.Amount); err != nil {
		return member.CommissionEvent{}, err
	}

	if err := insertTransaction(ctx, tx, member.Transaction{
		MemberID:    c.BeneficiaryID,
		Kind:        member.TxReferralCommission,
		Amount:      c.Amount,
		Description: fmt.Sprintf("level %d referral commission", c.Level),
		Status:      "completed",
		Reference:   ev.ID,
	}); err != nil {
		return member.CommissionEvent{}, err
	}

	if err := tx.Commit(); err != nil {
		return member.CommissionEvent{}, err
	}
	return ev, nil
}

func (s *Store) CreditDailyEarning(ctx context.Context, c member.DailyCredit) (member.Member, member.TaskEarningEvent, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return member.Member{}, member.TaskEarningEvent{}, err
	}
	defer func() { _ = tx.Rollback() }()

	day := member.Day(c.Day)

	// Lock the row and re-check the once-per-day guard inside the
	// transaction: two concurrent calls must not both pass.
	var lastTask sql.NullTime
	err = tx.QueryRowContext(ctx, `
		select last_task_completion_date from members where id=$1 for update
	`, c.MemberID).Scan(&lastTask)
	if errors.Is(err, sql.ErrNoRows) {
		return member.Member{}, member.TaskEarningEvent{}, member.ErrNotFound
	}
	if err != nil {
		return member.Member{}, member.TaskEarningEvent{}, err
	}
	if lastTask.Valid && member.SameDay(lastTask.Time, day) {
		return member.Member{}, member.TaskEarningEvent{}, member.ErrAlreadyCreditedToday
	}

	if _, err := tx.ExecContext(ctx, `
		update members set
			task_earnings = task_earnings + $2,
			total_earnings = total_earnings + $2,
			balance = balance + $2,
			daily_tasks_completed = daily_tasks_completed + 1,
			last_task_completion_date = $3
		where id = $1
	`, c.MemberID, c.Amount, day); err != nil {
		return member.Member{}, member.TaskEarningEvent{}, err
	}

	ev := member.TaskEarningEvent{
		ID:               ids.NewWithPrefix("tev"),
		MemberID:         c.MemberID,
		Plan:             c.Plan,
		Amount:           c.Amount,
		TasksCompleted:   1,
		Date:             day,
		IsExtendedPeriod: c.IsExtendedPeriod,
	}
	// The unique index on (member_id, earned_on) backs the guard at the store.
	if _, err := tx.ExecContext(ctx, `
		insert into task_earning_events (id, member_id, plan, amount, tasks_completed, earned_on, is_extended_period)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, ev.ID, ev.MemberID, ev.Plan, ev.Amount, ev.TasksCompleted, ev.Date, ev.IsExtendedPeriod); err != nil {
		if isUniqueViolation(err) {
			return member.Member{}, member.TaskEarningEvent{}, member.ErrAlreadyCreditedToday
		}
		return member.Member{}, member.TaskEarningEvent{}, err
	}

	if err := insertTransaction(ctx, tx, member.Transaction{
		MemberID:    c.MemberID,
		Kind:        member.TxTaskEarning,
		Amount:      c.Amount,
		Description: "daily task earning",
		Status:      "completed",
		Reference:   ev.ID,
	}); err != nil {
		return member.Member{}, member.TaskEarningEvent{}, err
	}

	row := tx.QueryRowContext(ctx, `select `+memberColumns+` from members where id=$1`, c.MemberID)
	m, err := scanMember(row)
	if err != nil {
		return member.Member{}, member.TaskEarningEvent{}, err
	}
	if err := tx.Commit(); err != nil {
		return member.Member{}, member.TaskEarningEvent{}, err
	}
	return m, ev, nil
}

func (s *Store) ExtendEarningWindow(ctx context.Context, memberID string, until time.Time) (bool, error) {
	// Monotone apply: the predicate makes a smaller extension a no-op.
	res, err := s.db.ExecContext(ctx, `
		update members set earnings_continue_until = $2
		where id = $1
		  and (earnings_continue_until is null or earnings_continue_until < $2)
	`, memberID, until)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	var dummy int
	if err := s.db.QueryRowContext(ctx, `select 1 from members where id=$1`, memberID).Scan(&dummy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, member.ErrNotFound
		}
		return false, err
	}
	return false, nil
}

func (s *Store) ListExpired(ctx context.Context, now time.Time, limit int) ([]member.Member, error) {
	if limit <= 0 {
		limit = 500
	}
	return s.listMembers(ctx, `
		select `+memberColumns+` from members
		where membership_status = 'ACTIVE' and earnings_continue_until < $1
		order by earnings_continue_until
		limit $2
	`, now, limit)
}

func (s *Store) MarkExpired(ctx context.Context, memberID string) error {
	res, err := s.db.ExecContext(ctx, `
		update members set membership_status = 'EXPIRED'
		where id = $1 and membership_status = 'ACTIVE'
	`, memberID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var dummy int
		if err := s.db.QueryRowContext(ctx, `select 1 from members where id=$1`, memberID).Scan(&dummy); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return member.ErrNotFound
			}
			return err
		}
		return member.ErrInvalidState
	}
	return nil
}

func (s *Store) ListExpiringWithin(ctx context.Context, now time.Time, days int) ([]member.Member, error) {
	flag := "notified_7_day"
	if days <= 3 {
		flag = "notified_3_day"
	}
	deadline := now.Add(time.Duration(days) * 24 * time.Hour)
	return s.listMembers(ctx, `
		select `+memberColumns+` from members
		where membership_status = 'ACTIVE'
		  and earnings_continue_until >= $1
		  and earnings_continue_until < $2
		  and not `+flag+`
		order by earnings_continue_until
	`, now, deadline)
}

func (s *Store) MarkExpiryNotified(ctx context.Context, memberID string, days int) error {
	flag := "notified_7_day"
	if days <= 3 {
		flag = "notified_3_day"
	}
	res, err := s.db.ExecContext(ctx, `update members set `+flag+` = true where id = $1`, memberID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return member.ErrNotFound
	}
	return nil
}

func (s *Store) CountMembers(ctx context.Context) (int, int, error) {
	var total, active int
	err := s.db.QueryRowContext(ctx, `
		select count(*), count(*) filter (where membership_status = 'ACTIVE')
		from members
	`).Scan(&total, &active)
	return total, active, err
}

func (s *Store) TopEarners(ctx context.Context, n int) ([]member.Member, error) {
	if n <= 0 {
		n = 10
	}
	return s.listMembers(ctx, `
		select `+memberColumns+` from members
		order by total_earnings desc, id
		limit $1
	`, n)
}

func (s *Store) ListCommissionEvents(ctx context.Context, beneficiaryID string, limit int) ([]member.CommissionEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, beneficiary_id, triggering_member_id, plan, level, amount, created_at
		from commission_events
		where $1 = '' or beneficiary_id = $1
		order by created_at desc
		limit $2
	`, beneficiaryID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []member.CommissionEvent
	for rows.Next() {
		var ev member.CommissionEvent
		if err := rows.Scan(&ev.ID, &ev.BeneficiaryID, &ev.TriggeringMemberID, &ev.Plan, &ev.Level, &ev.Amount, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) ListTaskEarnings(ctx context.Context, memberID string, limit int) ([]member.TaskEarningEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, member_id, plan, amount, tasks_completed, earned_on, is_extended_period
		from task_earning_events
		where $1 = '' or member_id = $1
		order by earned_on desc
		limit $2
	`, memberID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []member.TaskEarningEvent
	for rows.Next() {
		var ev member.TaskEarningEvent
		if err := rows.Scan(&ev.ID, &ev.MemberID, &ev.Plan, &ev.Amount, &ev.TasksCompleted, &ev.Date, &ev.IsExtendedPeriod); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) ListTransactions(ctx context.Context, memberID string, limit int) ([]member.Transaction, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, member_id, kind, amount, description, status, coalesce(reference, ''), created_at
		from transactions
		where $1 = '' or member_id = $1
		order by created_at desc
		limit $2
	`, memberID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []member.Transaction
	for rows.Next() {
		var t member.Transaction
		var kind string
		if err := rows.Scan(&t.ID, &t.MemberID, &kind, &t.Amount, &t.Description, &t.Status, &t.Reference, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Kind = member.TransactionKind(kind)
		out = append(out, t)
	}
	return out, rows.Err()
}

func insertTransaction(ctx context.Context, tx *sql.Tx, t member.Transaction) error {
	if t.ID == "" {
		t.ID = ids.NewWithPrefix("txn")
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := tx.ExecContext(ctx, `
		insert into transactions (id, member_id, kind, amount, description, status, reference, created_at)
		values ($1, $2, $3, $4, $5, $6, nullif($7, ''), $8)
	`, t.ID, t.MemberID, string(t.Kind), t.Amount, t.Description, t.Status, t.Reference, t.CreatedAt)
	return err
}

// Postgres error classes, matched on SQLSTATE prefixes without importing
// driver internals.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23503")
}
