package services

import (
	"context"
	"time"

	"github.com/earnhub/backend/internal/audit"
	"github.com/earnhub/backend/internal/database"
	"github.com/earnhub/backend/internal/gateway"
	"github.com/earnhub/backend/internal/models"
	"github.com/earnhub/backend/internal/monitoring"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PaymentGateway is the opaque payment-intent provider behind wallet top-ups.
type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, accountID string, amount decimal.Decimal) (*gateway.PaymentIntent, error)
	GetStatus(ctx context.Context, intentID string) (string, error)
}

type TopUpService struct {
	store    database.Store
	gateway  PaymentGateway
	notifier EarningsNotifier
	audit    *audit.Logger
	logger   zerolog.Logger
	now      func() time.Time
}

func NewTopUpService(store database.Store, gw PaymentGateway, notifier EarningsNotifier, auditLogger *audit.Logger, logger zerolog.Logger) *TopUpService {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &TopUpService{
		store:    store,
		gateway:  gw,
		notifier: notifier,
		audit:    auditLogger,
		logger:   logger.With().Str("component", "TopUpService").Logger(),
		now:      time.Now,
	}
}

// CreateTopUp opens a payment intent and records a pending wallet top-up
// keyed by the intent id.
func (s *TopUpService) CreateTopUp(ctx context.Context, accountID string, amount decimal.Decimal) (*gateway.PaymentIntent, error) {
	if !amount.IsPositive() || !amount.Equal(amount.Round(2)) {
		return nil, ErrInvalidAmount
	}
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return nil, storeErr(err, ErrAccountNotFound)
	}

	intent, err := s.gateway.CreatePaymentIntent(ctx, accountID, amount)
	if err != nil {
		s.logger.Error().Err(err).Str("account_id", accountID).Msg("Payment intent creation failed")
		return nil, wrapErr(ErrUpstream, err)
	}

	err = s.store.WithinTx(ctx, func(tx database.Tx) error {
		lt := newLedgerTransaction(accountID, models.TxWalletTopUp, amount, s.now(), "Wallet top-up via payment gateway")
		lt.Status = models.TxStatusPending
		lt.Reference = strPtr(intent.ID)
		return recordTransaction(ctx, tx, lt)
	})
	monitoring.ObserveOperation("topup_create", err)
	if err != nil {
		return nil, err
	}
	return intent, nil
}

// ConfirmTopUp checks the intent with the gateway and credits the wallet on
// success. Confirming an already settled top-up returns its final status.
// A reference owned by another account is reported as not found and left
// untouched.
func (s *TopUpService) ConfirmTopUp(ctx context.Context, accountID, reference string) (*models.LedgerTransaction, error) {
	status, err := s.gateway.GetStatus(ctx, reference)
	if err != nil {
		s.logger.Error().Err(err).Str("reference", reference).Msg("Payment status lookup failed")
		return nil, wrapErr(ErrUpstream, err)
	}

	var (
		result  *models.LedgerTransaction
		account *models.Account
	)
	err = s.store.WithinTx(ctx, func(tx database.Tx) error {
		lt, err := tx.LockTransactionByReference(ctx, reference)
		if err != nil {
			return storeErr(err, ErrTopUpNotFound)
		}
		if lt.Type != models.TxWalletTopUp || lt.AccountID != accountID {
			return ErrTopUpNotFound
		}
		result = lt
		if lt.Status != models.TxStatusPending {
			return nil
		}

		switch status {
		case gateway.StatusSucceeded:
			a, err := tx.LockAccount(ctx, lt.AccountID)
			if err != nil {
				return storeErr(err, ErrAccountNotFound)
			}
			if err := creditBucket(ctx, tx, a, models.BucketWallet, lt.Amount); err != nil {
				return err
			}
			if err := tx.UpdateTransactionStatus(ctx, lt.ID, models.TxStatusCompleted); err != nil {
				return storeErr(err, nil)
			}
			lt.Status = models.TxStatusCompleted
			account = a
		case gateway.StatusFailed:
			if err := tx.UpdateTransactionStatus(ctx, lt.ID, models.TxStatusFailed); err != nil {
				return storeErr(err, nil)
			}
			lt.Status = models.TxStatusFailed
		}
		return nil
	})
	monitoring.ObserveOperation("topup_confirm", err)
	if err != nil {
		return nil, err
	}

	if account != nil {
		s.audit.LogCredit(reference, account.ID, string(models.BucketWallet), result.Amount)
		notify(ctx, s.notifier, s.logger, account, models.TxWalletTopUp)
	}
	return result, nil
}
