package services

import (
	"context"
	"errors"
	"time"

	"github.com/earnhub/backend/internal/audit"
	"github.com/earnhub/backend/internal/config"
	"github.com/earnhub/backend/internal/database"
	"github.com/earnhub/backend/internal/models"
	"github.com/earnhub/backend/internal/monitoring"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type WithdrawalRequest struct {
	AccountID                string          `json:"-" validate:"required"`
	Amount                   decimal.Decimal `json:"amount" validate:"-"`
	SourceBucket             string          `json:"source_bucket" validate:"required"`
	Method                   string          `json:"method" validate:"required,max=32"`
	DestinationAccountNumber string          `json:"destination_account_number" validate:"required,max=34"`
	DestinationAccountName   string          `json:"destination_account_name" validate:"required,max=128"`
}

// settlementStrategy decides when a withdrawal touches account balances.
type settlementStrategy interface {
	name() string
	// reserve runs at request time with the account locked.
	reserve(ctx context.Context, tx database.Tx, cfg *config.EarningsConfig, account *models.Account, w *models.Withdrawal, now time.Time) error
	// complete runs at approval.
	complete(ctx context.Context, tx database.Tx, account *models.Account, w *models.Withdrawal) error
	// release runs at rejection.
	release(ctx context.Context, tx database.Tx, account *models.Account, w *models.Withdrawal) error
	// requestDelta and settleDelta are the signed bucket movements written to the ledger.
	requestDelta(w *models.Withdrawal) decimal.Decimal
	settleDelta(w *models.Withdrawal) decimal.Decimal
}

// reserveAtRequest takes the funds when the withdrawal is requested.
// Approval only changes status; rejection puts the funds back.
type reserveAtRequest struct{}

func (reserveAtRequest) name() string { return "reserve_at_request" }

func (reserveAtRequest) reserve(ctx context.Context, tx database.Tx, cfg *config.EarningsConfig, account *models.Account, w *models.Withdrawal, now time.Time) error {
	switch w.SourceBucket {
	case models.SourceClickEarnings:
		if err := account.Debit(models.BucketClickEarnings, w.Amount); err != nil {
			return bucketErr(err)
		}
		w.Allocations = models.Allocations{{Bucket: models.BucketClickEarnings, Component: models.ComponentBucket, Amount: w.Amount}}
		return nil

	case models.SourceDirectIndirect:
		if account.ReferralEarnings().LessThan(w.Amount) {
			return ErrInsufficientBalance
		}
		fromDirect := decimal.Min(account.DirectReferralEarnings, w.Amount)
		fromIndirect := w.Amount.Sub(fromDirect)
		var allocs models.Allocations
		if fromDirect.IsPositive() {
			if err := account.Debit(models.BucketDirectReferral, fromDirect); err != nil {
				return bucketErr(err)
			}
			allocs = append(allocs, models.Allocation{Bucket: models.BucketDirectReferral, Component: models.ComponentBucket, Amount: fromDirect})
		}
		if fromIndirect.IsPositive() {
			if err := account.Debit(models.BucketIndirectReferral, fromIndirect); err != nil {
				return bucketErr(err)
			}
			allocs = append(allocs, models.Allocation{Bucket: models.BucketIndirectReferral, Component: models.ComponentBucket, Amount: fromIndirect})
		}
		w.Allocations = allocs
		return nil

	case models.SourceSharedCapital:
		return reserveSharedCapital(ctx, tx, cfg, account, w, now)
	}
	return ErrInvalidSource
}

// reserveSharedCapital draws from the account's packages oldest first,
// earnings before principal, and then from shared earnings. Accrual is
// brought current first so the balance matches what the account can see.
func reserveSharedCapital(ctx context.Context, tx database.Tx, cfg *config.EarningsConfig, account *models.Account, w *models.Withdrawal, now time.Time) error {
	pkgs, err := tx.LockAccountPackages(ctx, account.ID)
	if err != nil {
		return storeErr(err, nil)
	}

	dirty := make(map[string]bool)
	available := account.SharedEarnings
	for _, pkg := range pkgs {
		if tier, ok := cfg.Tier(pkg.PackageType); ok && accruePackage(pkg, tier, now) {
			dirty[pkg.ID] = true
		}
		available = available.Add(pkg.Withdrawable())
	}
	if available.LessThan(w.Amount) {
		return ErrInsufficientBalance
	}

	remaining := w.Amount
	var allocs models.Allocations
	for _, pkg := range pkgs {
		if !remaining.IsPositive() {
			break
		}
		if !pkg.Withdrawable().IsPositive() {
			continue
		}

		if take := decimal.Min(remaining, pkg.AccruedEarnings); take.IsPositive() {
			pkg.AccruedEarnings = pkg.AccruedEarnings.Sub(take)
			pkg.EarningsWithdrawn = pkg.EarningsWithdrawn.Add(take)
			remaining = remaining.Sub(take)
			allocs = append(allocs, models.Allocation{PackageID: pkg.ID, Component: models.ComponentEarnings, Amount: take})
			dirty[pkg.ID] = true
		}
		if take := decimal.Min(remaining, pkg.RemainingPrincipal); take.IsPositive() {
			pkg.RemainingPrincipal = pkg.RemainingPrincipal.Sub(take)
			remaining = remaining.Sub(take)
			allocs = append(allocs, models.Allocation{PackageID: pkg.ID, Component: models.ComponentPrincipal, Amount: take})
			dirty[pkg.ID] = true
		}
	}
	if remaining.IsPositive() {
		if err := account.Debit(models.BucketSharedEarnings, remaining); err != nil {
			return bucketErr(err)
		}
		allocs = append(allocs, models.Allocation{Bucket: models.BucketSharedEarnings, Component: models.ComponentBucket, Amount: remaining})
	}

	for _, pkg := range pkgs {
		if !dirty[pkg.ID] {
			continue
		}
		if err := tx.UpdatePackage(ctx, pkg); err != nil {
			return storeErr(err, nil)
		}
	}
	w.Allocations = allocs
	return nil
}

func (reserveAtRequest) complete(ctx context.Context, tx database.Tx, account *models.Account, w *models.Withdrawal) error {
	return nil
}

func (reserveAtRequest) release(ctx context.Context, tx database.Tx, account *models.Account, w *models.Withdrawal) error {
	switch w.SourceBucket {
	case models.SourceClickEarnings:
		return bucketErr(account.Credit(models.BucketClickEarnings, w.Amount))

	case models.SourceDirectIndirect:
		// the split taken at request time is not restored; half goes back to
		// each bucket and an odd cent goes to direct
		indirect := w.Amount.Div(decimal.NewFromInt(2)).RoundDown(2)
		direct := w.Amount.Sub(indirect)
		if err := account.Credit(models.BucketDirectReferral, direct); err != nil {
			return bucketErr(err)
		}
		return bucketErr(account.Credit(models.BucketIndirectReferral, indirect))

	case models.SourceSharedCapital:
		return releaseSharedCapital(ctx, tx, account, w)
	}
	return ErrInvalidSource
}

// releaseSharedCapital replays the allocations in reverse. Funds drawn from a
// package that has been claimed since go to shared earnings, where the
// claim moved the rest of that package.
func releaseSharedCapital(ctx context.Context, tx database.Tx, account *models.Account, w *models.Withdrawal) error {
	locked := make(map[string]*models.Package)
	var order []string

	for i := len(w.Allocations) - 1; i >= 0; i-- {
		al := w.Allocations[i]
		if al.PackageID == "" {
			if err := account.Credit(al.Bucket, al.Amount); err != nil {
				return bucketErr(err)
			}
			continue
		}

		pkg, ok := locked[al.PackageID]
		if !ok {
			p, err := tx.LockPackage(ctx, al.PackageID)
			if err != nil {
				return storeErr(err, ErrPackageNotFound)
			}
			pkg = p
			locked[al.PackageID] = p
			order = append(order, p.ID)
		}

		if pkg.Claimed {
			if err := account.Credit(models.BucketSharedEarnings, al.Amount); err != nil {
				return bucketErr(err)
			}
			continue
		}
		switch al.Component {
		case models.ComponentEarnings:
			pkg.AccruedEarnings = pkg.AccruedEarnings.Add(al.Amount)
			pkg.EarningsWithdrawn = pkg.EarningsWithdrawn.Sub(al.Amount)
		case models.ComponentPrincipal:
			pkg.RemainingPrincipal = pkg.RemainingPrincipal.Add(al.Amount)
		}
	}

	for _, id := range order {
		if err := tx.UpdatePackage(ctx, locked[id]); err != nil {
			return storeErr(err, nil)
		}
	}
	return nil
}

func (reserveAtRequest) requestDelta(w *models.Withdrawal) decimal.Decimal { return w.Amount.Neg() }
func (reserveAtRequest) settleDelta(w *models.Withdrawal) decimal.Decimal  { return decimal.Zero }

// debitOnApprove leaves the wallet untouched until an admin approves.
type debitOnApprove struct{}

func (debitOnApprove) name() string { return "debit_on_approve" }

func (debitOnApprove) reserve(ctx context.Context, tx database.Tx, cfg *config.EarningsConfig, account *models.Account, w *models.Withdrawal, now time.Time) error {
	if account.WalletBalance.LessThan(w.Amount) {
		return ErrInsufficientBalance
	}
	return nil
}

func (debitOnApprove) complete(ctx context.Context, tx database.Tx, account *models.Account, w *models.Withdrawal) error {
	return bucketErr(account.Debit(models.BucketWallet, w.Amount))
}

func (debitOnApprove) release(ctx context.Context, tx database.Tx, account *models.Account, w *models.Withdrawal) error {
	return nil
}

func (debitOnApprove) requestDelta(w *models.Withdrawal) decimal.Decimal { return decimal.Zero }
func (debitOnApprove) settleDelta(w *models.Withdrawal) decimal.Decimal  { return w.Amount.Neg() }

func strategyFor(source string) (settlementStrategy, error) {
	switch source {
	case models.SourceDirectIndirect, models.SourceClickEarnings, models.SourceSharedCapital:
		return reserveAtRequest{}, nil
	case models.SourceWallet:
		return debitOnApprove{}, nil
	}
	return nil, ErrInvalidSource
}

type WithdrawalService struct {
	store     database.Store
	settings  config.EarningsProvider
	notifier  EarningsNotifier
	audit     *audit.Logger
	logger    zerolog.Logger
	validator *ValidationHelper
	now       func() time.Time
}

func NewWithdrawalService(store database.Store, settings config.EarningsProvider, notifier EarningsNotifier, auditLogger *audit.Logger, logger zerolog.Logger) *WithdrawalService {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &WithdrawalService{
		store:     store,
		settings:  settings,
		notifier:  notifier,
		audit:     auditLogger,
		logger:    logger.With().Str("component", "WithdrawalService").Logger(),
		validator: NewValidationHelper(),
		now:       time.Now,
	}
}

func (s *WithdrawalService) validate(req WithdrawalRequest) error {
	if !req.Amount.IsPositive() || !req.Amount.Equal(req.Amount.Round(2)) {
		return ErrInvalidAmount
	}
	if _, err := strategyFor(req.SourceBucket); err != nil {
		return err
	}
	if err := s.validator.ValidateStruct(req); err != nil {
		return wrapErr(ErrValidation, err)
	}
	return nil
}

// Request creates a pending withdrawal. For reserved sources the funds are
// taken in the same transaction that inserts the withdrawal.
func (s *WithdrawalService) Request(ctx context.Context, req WithdrawalRequest) (*models.Withdrawal, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	strategy, _ := strategyFor(req.SourceBucket)

	cfg, err := s.settings.Current(ctx)
	if err != nil {
		return nil, configErr(err)
	}

	now := s.now()
	w := &models.Withdrawal{
		ID:                       uuid.NewString(),
		AccountID:                req.AccountID,
		Amount:                   req.Amount,
		SourceBucket:             req.SourceBucket,
		Method:                   req.Method,
		DestinationAccountNumber: req.DestinationAccountNumber,
		DestinationAccountName:   req.DestinationAccountName,
		Status:                   models.WithdrawalPending,
		RequestedAt:              now,
	}

	err = s.store.WithinTx(ctx, func(tx database.Tx) error {
		account, err := tx.LockAccount(ctx, req.AccountID)
		if err != nil {
			return storeErr(err, ErrAccountNotFound)
		}
		if err := strategy.reserve(ctx, tx, cfg, account, w, now); err != nil {
			return err
		}
		if err := tx.InsertWithdrawal(ctx, w); err != nil {
			return storeErr(err, nil)
		}
		if err := tx.UpdateAccount(ctx, account); err != nil {
			return storeErr(err, nil)
		}

		lt := newLedgerTransaction(account.ID, models.TxWithdrawalRequest, strategy.requestDelta(w), now,
			"Withdrawal of %s from %s requested", w.Amount.StringFixed(2), w.SourceBucket)
		lt.RelatedWithdrawalID = strPtr(w.ID)
		return recordTransaction(ctx, tx, lt)
	})
	monitoring.ObserveOperation("withdrawal_request", err)
	if err != nil {
		return nil, err
	}

	monitoring.WithdrawalTransitionsTotal.WithLabelValues(w.SourceBucket, w.Status).Inc()
	s.audit.LogDebit(w.ID, w.AccountID, w.SourceBucket, strategy.requestDelta(w).Neg())
	s.logger.Info().Str("withdrawal_id", w.ID).Str("account_id", w.AccountID).Str("source", w.SourceBucket).
		Str("strategy", strategy.name()).Str("amount", w.Amount.String()).Msg("Withdrawal requested")
	return w, nil
}

// Approve completes a pending withdrawal.
func (s *WithdrawalService) Approve(ctx context.Context, withdrawalID string, now time.Time) (*models.Withdrawal, error) {
	return s.settle(ctx, withdrawalID, now, models.WithdrawalCompleted)
}

// Reject releases a pending withdrawal back to the source buckets.
func (s *WithdrawalService) Reject(ctx context.Context, withdrawalID string, now time.Time) (*models.Withdrawal, error) {
	return s.settle(ctx, withdrawalID, now, models.WithdrawalRejected)
}

func (s *WithdrawalService) settle(ctx context.Context, withdrawalID string, now time.Time, status string) (*models.Withdrawal, error) {
	pending, err := s.store.GetWithdrawal(ctx, withdrawalID)
	if err != nil {
		return nil, storeErr(err, ErrWithdrawalNotFound)
	}
	if pending.Status != models.WithdrawalPending {
		return nil, ErrNotPending
	}
	strategy, err := strategyFor(pending.SourceBucket)
	if err != nil {
		return nil, err
	}

	var (
		result  *models.Withdrawal
		account *models.Account
	)
	err = s.store.WithinTx(ctx, func(tx database.Tx) error {
		a, err := tx.LockAccount(ctx, pending.AccountID)
		if err != nil {
			return storeErr(err, ErrAccountNotFound)
		}
		w, err := tx.LockWithdrawal(ctx, withdrawalID)
		if err != nil {
			return storeErr(err, ErrWithdrawalNotFound)
		}
		if w.Status != models.WithdrawalPending {
			return ErrNotPending
		}

		var (
			txType models.TransactionType
			delta  decimal.Decimal
		)
		if status == models.WithdrawalCompleted {
			if err := strategy.complete(ctx, tx, a, w); err != nil {
				return err
			}
			a.TotalWithdrawn = a.TotalWithdrawn.Add(w.Amount)
			txType, delta = models.TxWithdrawalCompleted, strategy.settleDelta(w)
		} else {
			if err := strategy.release(ctx, tx, a, w); err != nil {
				return err
			}
			txType, delta = models.TxWithdrawalRejected, strategy.requestDelta(w).Neg()
		}
		if err := tx.UpdateAccount(ctx, a); err != nil {
			return storeErr(err, nil)
		}

		processed := now
		w.Status = status
		w.ProcessedAt = &processed
		if err := tx.UpdateWithdrawal(ctx, w); err != nil {
			return storeErr(err, nil)
		}

		lt := newLedgerTransaction(a.ID, txType, delta, now, "Withdrawal of %s %s", w.Amount.StringFixed(2), status)
		lt.RelatedWithdrawalID = strPtr(w.ID)
		if err := recordTransaction(ctx, tx, lt); err != nil {
			return err
		}
		result, account = w, a
		return nil
	})
	monitoring.ObserveOperation("withdrawal_"+status, err)
	if err != nil {
		return nil, err
	}

	monitoring.WithdrawalTransitionsTotal.WithLabelValues(result.SourceBucket, status).Inc()
	s.audit.LogOperation(result.ID, result.AccountID, "WITHDRAWAL_"+status, result.Amount.String())
	if status == models.WithdrawalRejected {
		notify(ctx, s.notifier, s.logger, account, models.TxWithdrawalRejected)
	}
	return result, nil
}

// AvailableBalance reports what a withdrawal from source could draw right now.
func (s *WithdrawalService) AvailableBalance(ctx context.Context, accountID, source string, now time.Time) (decimal.Decimal, error) {
	if _, err := strategyFor(source); err != nil {
		return decimal.Zero, err
	}
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, storeErr(err, ErrAccountNotFound)
	}

	switch source {
	case models.SourceDirectIndirect:
		return account.ReferralEarnings(), nil
	case models.SourceClickEarnings:
		return account.ClickEarnings, nil
	case models.SourceWallet:
		return account.WalletBalance, nil
	}

	cfg, err := s.settings.Current(ctx)
	if err != nil {
		return decimal.Zero, configErr(err)
	}
	pkgs, err := s.store.ListPackagesByAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, storeErr(err, nil)
	}
	available := account.SharedEarnings
	for _, pkg := range pkgs {
		if tier, ok := cfg.Tier(pkg.PackageType); ok {
			accruePackage(pkg, tier, now)
		}
		available = available.Add(pkg.Withdrawable())
	}
	return available, nil
}

func (s *WithdrawalService) GetWithdrawal(ctx context.Context, id string) (*models.Withdrawal, error) {
	w, err := s.store.GetWithdrawal(ctx, id)
	if err != nil {
		return nil, storeErr(err, ErrWithdrawalNotFound)
	}
	return w, nil
}

func (s *WithdrawalService) ListWithdrawals(ctx context.Context, status string) ([]*models.Withdrawal, error) {
	ws, err := s.store.ListWithdrawals(ctx, status)
	if err != nil {
		return nil, storeErr(err, nil)
	}
	return ws, nil
}

// ValidationErrors extracts field errors from a request validation failure.
func ValidationErrors(err error) validator.ValidationErrors {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return verrs
	}
	return nil
}
