package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/earnhub/backend/internal/models"
	"github.com/lib/pq"
)

// uniqueViolation is the Postgres SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// insertErr maps a duplicate key onto ErrAlreadyExists.
func insertErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, pqErr.Constraint)
	}
	return err
}

const accountColumns = `id, referrer_id, wallet_balance, click_earnings, direct_referral_earnings,
	indirect_referral_earnings, shared_earnings, total_withdrawn, daily_click_count,
	daily_click_earnings, last_click_reset, last_click_at, clicking_task_activated,
	is_active, approval_status, version, created_at, updated_at`

const packageColumns = `id, account_id, package_type, principal_amount, remaining_principal,
	daily_income_rate, start_date, end_date, last_accrual_at, accrued_earnings,
	earnings_withdrawn, status, claimed, claimed_at, version, created_at, updated_at`

const withdrawalColumns = `id, account_id, amount, source_bucket, method,
	destination_account_number, destination_account_name, status, allocations,
	requested_at, processed_at, version`

const transactionColumns = `id, account_id, type, amount, related_account_id,
	related_withdrawal_id, related_package_id, referral_level, reference, description,
	status, created_at`

// PostgresStore implements Store on database/sql.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// WithinTx runs fn in a database transaction, committing when fn returns nil.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(&postgresTx{tx: tx}); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1`, id))
}

func (s *PostgresStore) GetPackage(ctx context.Context, id string) (*models.Package, error) {
	return scanPackage(s.db.QueryRowContext(ctx, `
		SELECT `+packageColumns+`
		FROM packages
		WHERE id = $1`, id))
}

func (s *PostgresStore) ListPackagesByAccount(ctx context.Context, accountID string) ([]*models.Package, error) {
	return queryPackages(ctx, s.db, `
		SELECT `+packageColumns+`
		FROM packages
		WHERE account_id = $1
		ORDER BY created_at, id`, accountID)
}

func (s *PostgresStore) ListActivePackageIDs(ctx context.Context) ([]string, error) {
	return queryIDs(ctx, s.db, `
		SELECT id FROM packages
		WHERE status = $1
		ORDER BY created_at, id`, models.PackageStatusActive)
}

func (s *PostgresStore) ListMaturedPackageIDs(ctx context.Context, now time.Time) ([]string, error) {
	return queryIDs(ctx, s.db, `
		SELECT id FROM packages
		WHERE status = $1 AND end_date <= $2
		ORDER BY end_date, id`, models.PackageStatusActive, now)
}

func (s *PostgresStore) GetWithdrawal(ctx context.Context, id string) (*models.Withdrawal, error) {
	return scanWithdrawal(s.db.QueryRowContext(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawals
		WHERE id = $1`, id))
}

func (s *PostgresStore) ListWithdrawals(ctx context.Context, status string) ([]*models.Withdrawal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawals
		WHERE $1 = '' OR status = $1
		ORDER BY requested_at, id`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListTransactions(ctx context.Context, accountID string) ([]*models.LedgerTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM ledger_transactions
		WHERE account_id = $1
		ORDER BY created_at, id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.LedgerTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) CreateAccount(ctx context.Context, a *models.Account) error {
	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		a.ID, a.ReferrerID, a.WalletBalance, a.ClickEarnings, a.DirectReferralEarnings,
		a.IndirectReferralEarnings, a.SharedEarnings, a.TotalWithdrawn, a.DailyClickCount,
		a.DailyClickEarnings, a.LastClickReset, a.LastClickAt, a.ClickingTaskActivated,
		a.IsActive, a.ApprovalStatus, a.Version, a.CreatedAt, a.UpdatedAt)
	return insertErr(err)
}

func (t *postgresTx) LockAccount(ctx context.Context, id string) (*models.Account, error) {
	return scanAccount(t.tx.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1
		FOR UPDATE`, id))
}

func (t *postgresTx) UpdateAccount(ctx context.Context, a *models.Account) error {
	now := time.Now()
	result, err := t.tx.ExecContext(ctx, `
		UPDATE accounts
		SET wallet_balance = $1, click_earnings = $2, direct_referral_earnings = $3,
			indirect_referral_earnings = $4, shared_earnings = $5, total_withdrawn = $6,
			daily_click_count = $7, daily_click_earnings = $8, last_click_reset = $9,
			last_click_at = $10, clicking_task_activated = $11, is_active = $12,
			approval_status = $13, version = version + 1, updated_at = $14
		WHERE id = $15 AND version = $16`,
		a.WalletBalance, a.ClickEarnings, a.DirectReferralEarnings, a.IndirectReferralEarnings,
		a.SharedEarnings, a.TotalWithdrawn, a.DailyClickCount, a.DailyClickEarnings,
		a.LastClickReset, a.LastClickAt, a.ClickingTaskActivated, a.IsActive, a.ApprovalStatus,
		now, a.ID, a.Version)
	if err := checkVersioned(result, err, "account", a.ID); err != nil {
		return err
	}
	a.Version++
	a.UpdatedAt = now
	return nil
}

func (t *postgresTx) InsertPackage(ctx context.Context, p *models.Package) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO packages (`+packageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		p.ID, p.AccountID, p.PackageType, p.PrincipalAmount, p.RemainingPrincipal,
		p.DailyIncomeRate, p.StartDate, p.EndDate, p.LastAccrualAt, p.AccruedEarnings,
		p.EarningsWithdrawn, p.Status, p.Claimed, p.ClaimedAt, p.Version, p.CreatedAt, p.UpdatedAt)
	return insertErr(err)
}

func (t *postgresTx) LockPackage(ctx context.Context, id string) (*models.Package, error) {
	return scanPackage(t.tx.QueryRowContext(ctx, `
		SELECT `+packageColumns+`
		FROM packages
		WHERE id = $1
		FOR UPDATE`, id))
}

func (t *postgresTx) LockAccountPackages(ctx context.Context, accountID string) ([]*models.Package, error) {
	return queryPackages(ctx, t.tx, `
		SELECT `+packageColumns+`
		FROM packages
		WHERE account_id = $1
		ORDER BY created_at, id
		FOR UPDATE`, accountID)
}

func (t *postgresTx) UpdatePackage(ctx context.Context, p *models.Package) error {
	now := time.Now()
	result, err := t.tx.ExecContext(ctx, `
		UPDATE packages
		SET remaining_principal = $1, last_accrual_at = $2, accrued_earnings = $3,
			earnings_withdrawn = $4, status = $5, claimed = $6, claimed_at = $7,
			version = version + 1, updated_at = $8
		WHERE id = $9 AND version = $10`,
		p.RemainingPrincipal, p.LastAccrualAt, p.AccruedEarnings, p.EarningsWithdrawn,
		p.Status, p.Claimed, p.ClaimedAt, now, p.ID, p.Version)
	if err := checkVersioned(result, err, "package", p.ID); err != nil {
		return err
	}
	p.Version++
	p.UpdatedAt = now
	return nil
}

func (t *postgresTx) InsertWithdrawal(ctx context.Context, w *models.Withdrawal) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO withdrawals (`+withdrawalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		w.ID, w.AccountID, w.Amount, w.SourceBucket, w.Method, w.DestinationAccountNumber,
		w.DestinationAccountName, w.Status, w.Allocations, w.RequestedAt, w.ProcessedAt, w.Version)
	return insertErr(err)
}

func (t *postgresTx) LockWithdrawal(ctx context.Context, id string) (*models.Withdrawal, error) {
	return scanWithdrawal(t.tx.QueryRowContext(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawals
		WHERE id = $1
		FOR UPDATE`, id))
}

func (t *postgresTx) UpdateWithdrawal(ctx context.Context, w *models.Withdrawal) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE withdrawals
		SET status = $1, processed_at = $2, allocations = $3, version = version + 1
		WHERE id = $4 AND version = $5`,
		w.Status, w.ProcessedAt, w.Allocations, w.ID, w.Version)
	if err := checkVersioned(result, err, "withdrawal", w.ID); err != nil {
		return err
	}
	w.Version++
	return nil
}

func (t *postgresTx) InsertTransaction(ctx context.Context, lt *models.LedgerTransaction) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO ledger_transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		lt.ID, lt.AccountID, lt.Type, lt.Amount, lt.RelatedAccountID, lt.RelatedWithdrawalID,
		lt.RelatedPackageID, lt.ReferralLevel, lt.Reference, lt.Description, lt.Status, lt.CreatedAt)
	return insertErr(err)
}

func (t *postgresTx) LockTransactionByReference(ctx context.Context, reference string) (*models.LedgerTransaction, error) {
	lt, err := scanTransaction(t.tx.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM ledger_transactions
		WHERE reference = $1
		FOR UPDATE`, reference))
	return lt, err
}

func (t *postgresTx) UpdateTransactionStatus(ctx context.Context, id, status string) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE ledger_transactions
		SET status = $1
		WHERE id = $2`, status, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.ReferrerID, &a.WalletBalance, &a.ClickEarnings,
		&a.DirectReferralEarnings, &a.IndirectReferralEarnings, &a.SharedEarnings,
		&a.TotalWithdrawn, &a.DailyClickCount, &a.DailyClickEarnings, &a.LastClickReset,
		&a.LastClickAt, &a.ClickingTaskActivated, &a.IsActive, &a.ApprovalStatus,
		&a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func scanPackage(row rowScanner) (*models.Package, error) {
	var p models.Package
	err := row.Scan(&p.ID, &p.AccountID, &p.PackageType, &p.PrincipalAmount,
		&p.RemainingPrincipal, &p.DailyIncomeRate, &p.StartDate, &p.EndDate, &p.LastAccrualAt,
		&p.AccruedEarnings, &p.EarningsWithdrawn, &p.Status, &p.Claimed, &p.ClaimedAt,
		&p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func scanWithdrawal(row rowScanner) (*models.Withdrawal, error) {
	var w models.Withdrawal
	err := row.Scan(&w.ID, &w.AccountID, &w.Amount, &w.SourceBucket, &w.Method,
		&w.DestinationAccountNumber, &w.DestinationAccountName, &w.Status, &w.Allocations,
		&w.RequestedAt, &w.ProcessedAt, &w.Version)
	if err != nil {
		return nil, notFound(err)
	}
	return &w, nil
}

func scanTransaction(row rowScanner) (*models.LedgerTransaction, error) {
	var lt models.LedgerTransaction
	err := row.Scan(&lt.ID, &lt.AccountID, &lt.Type, &lt.Amount, &lt.RelatedAccountID,
		&lt.RelatedWithdrawalID, &lt.RelatedPackageID, &lt.ReferralLevel, &lt.Reference,
		&lt.Description, &lt.Status, &lt.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &lt, nil
}

func queryPackages(ctx context.Context, q queryer, query string, args ...any) ([]*models.Package, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Package
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func queryIDs(ctx context.Context, q queryer, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func checkVersioned(result sql.Result, err error, entity, id string) error {
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%w for %s %s", ErrOptimisticLock, entity, id)
	}

	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
