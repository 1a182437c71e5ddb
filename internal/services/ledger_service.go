package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/earnhub/backend/internal/audit"
	"github.com/earnhub/backend/internal/database"
	"github.com/earnhub/backend/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// LedgerService owns account lifecycle and the shared bucket mutation path.
type LedgerService struct {
	store  database.Store
	audit  *audit.Logger
	logger zerolog.Logger
	now    func() time.Time
}

func NewLedgerService(store database.Store, auditLogger *audit.Logger, logger zerolog.Logger) *LedgerService {
	return &LedgerService{
		store:  store,
		audit:  auditLogger,
		logger: logger.With().Str("component", "LedgerService").Logger(),
		now:    time.Now,
	}
}

type OpenAccountRequest struct {
	ID         string  `json:"id" validate:"omitempty,max=64"`
	ReferrerID *string `json:"referrer_id,omitempty" validate:"omitempty,max=64"`
}

// OpenAccount registers a new account in the pending, inactive state.
func (s *LedgerService) OpenAccount(ctx context.Context, req OpenAccountRequest) (*models.Account, error) {
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	if req.ReferrerID != nil && *req.ReferrerID == id {
		return nil, withDetail(ErrValidation, "account cannot refer itself")
	}

	now := s.now()
	account := &models.Account{
		ID:             id,
		ReferrerID:     req.ReferrerID,
		ApprovalStatus: models.ApprovalPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := s.store.WithinTx(ctx, func(tx database.Tx) error {
		if req.ReferrerID != nil {
			if _, err := tx.LockAccount(ctx, *req.ReferrerID); err != nil {
				return storeErr(err, withDetail(ErrAccountNotFound, "referrer %s", *req.ReferrerID))
			}
		}
		if err := tx.CreateAccount(ctx, account); err != nil {
			if errors.Is(err, database.ErrAlreadyExists) {
				return withDetail(ErrAccountExists, "%s", account.ID)
			}
			return storeErr(err, nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.LogOperation(account.ID, account.ID, "ACCOUNT_OPENED", "pending approval")
	return account, nil
}

// SetApproval moves an account between approval states. Approved accounts are active.
func (s *LedgerService) SetApproval(ctx context.Context, accountID, status string) (*models.Account, error) {
	switch status {
	case models.ApprovalPending, models.ApprovalApproved, models.ApprovalRejected:
	default:
		return nil, withDetail(ErrValidation, "unknown approval status %q", status)
	}

	var account *models.Account
	err := s.store.WithinTx(ctx, func(tx database.Tx) error {
		a, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return storeErr(err, ErrAccountNotFound)
		}
		a.ApprovalStatus = status
		a.IsActive = status == models.ApprovalApproved
		if err := tx.UpdateAccount(ctx, a); err != nil {
			return storeErr(err, nil)
		}
		account = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.LogOperation(accountID, accountID, "ACCOUNT_APPROVAL", status)
	return account, nil
}

func (s *LedgerService) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	a, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, storeErr(err, ErrAccountNotFound)
	}
	return a, nil
}

func (s *LedgerService) ListTransactions(ctx context.Context, accountID string) ([]*models.LedgerTransaction, error) {
	if _, err := s.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	txs, err := s.store.ListTransactions(ctx, accountID)
	if err != nil {
		return nil, storeErr(err, nil)
	}
	return txs, nil
}

// creditBucket credits an already locked account and persists it.
func creditBucket(ctx context.Context, tx database.Tx, account *models.Account, bucket models.Bucket, amount decimal.Decimal) error {
	if err := account.Credit(bucket, amount); err != nil {
		return bucketErr(err)
	}
	return storeErr(tx.UpdateAccount(ctx, account), nil)
}

// debitBucket debits an already locked account and persists it. Nothing is
// written when the bucket holds less than amount.
func debitBucket(ctx context.Context, tx database.Tx, account *models.Account, bucket models.Bucket, amount decimal.Decimal) error {
	if err := account.Debit(bucket, amount); err != nil {
		return bucketErr(err)
	}
	return storeErr(tx.UpdateAccount(ctx, account), nil)
}

func newLedgerTransaction(accountID string, txType models.TransactionType, amount decimal.Decimal, now time.Time, format string, args ...any) *models.LedgerTransaction {
	return &models.LedgerTransaction{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		Type:        txType,
		Amount:      amount,
		Description: fmt.Sprintf(format, args...),
		Status:      models.TxStatusCompleted,
		CreatedAt:   now,
	}
}

func recordTransaction(ctx context.Context, tx database.Tx, lt *models.LedgerTransaction) error {
	return storeErr(tx.InsertTransaction(ctx, lt), nil)
}

func strPtr(s string) *string {
	return &s
}

func intPtr(i int) *int {
	return &i
}
