package services

import (
	"context"
	"time"

	"github.com/earnhub/backend/internal/audit"
	"github.com/earnhub/backend/internal/config"
	"github.com/earnhub/backend/internal/database"
	"github.com/earnhub/backend/internal/models"
	"github.com/earnhub/backend/internal/monitoring"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ClickResult is the outcome of one click. Hitting the daily cap is a
// result, not an error.
type ClickResult struct {
	RewardGranted     bool            `json:"reward_granted"`
	DailyLimitReached bool            `json:"daily_limit_reached"`
	Reward            decimal.Decimal `json:"reward"`
	DailyCount        int             `json:"daily_count"`
	DailyEarnings     decimal.Decimal `json:"daily_earnings"`
	ClickEarnings     decimal.Decimal `json:"click_earnings"`
}

type ClickService struct {
	store       database.Store
	settings    config.EarningsProvider
	commissions *CommissionService
	notifier    EarningsNotifier
	audit       *audit.Logger
	logger      zerolog.Logger
	now         func() time.Time
}

func NewClickService(store database.Store, settings config.EarningsProvider, commissions *CommissionService, notifier EarningsNotifier, auditLogger *audit.Logger, logger zerolog.Logger) *ClickService {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &ClickService{
		store:       store,
		settings:    settings,
		commissions: commissions,
		notifier:    notifier,
		audit:       auditLogger,
		logger:      logger.With().Str("component", "ClickService").Logger(),
		now:         time.Now,
	}
}

// sameDay compares calendar days in loc.
func sameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// RecordClick grants one click reward unless the daily cap would be exceeded.
func (s *ClickService) RecordClick(ctx context.Context, accountID string, now time.Time) (*ClickResult, error) {
	cfg, err := s.settings.Current(ctx)
	if err != nil {
		return nil, configErr(err)
	}
	reward := cfg.ClickRewardPerClick

	var (
		result  ClickResult
		account *models.Account
	)
	err = s.store.WithinTx(ctx, func(tx database.Tx) error {
		a, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return storeErr(err, ErrAccountNotFound)
		}
		if !a.ClickingTaskActivated {
			return ErrClickingNotActivated
		}

		if a.LastClickReset == nil || !sameDay(*a.LastClickReset, now, cfg.Location()) {
			a.DailyClickCount = 0
			a.DailyClickEarnings = decimal.Zero
			reset := now
			a.LastClickReset = &reset
		}

		if a.DailyClickEarnings.Add(reward).GreaterThan(cfg.DailyClickCap) {
			result = ClickResult{
				DailyLimitReached: true,
				DailyCount:        a.DailyClickCount,
				DailyEarnings:     a.DailyClickEarnings,
				ClickEarnings:     a.ClickEarnings,
			}
			return nil
		}

		a.DailyClickCount++
		a.DailyClickEarnings = a.DailyClickEarnings.Add(reward)
		clicked := now
		a.LastClickAt = &clicked
		if err := creditBucket(ctx, tx, a, models.BucketClickEarnings, reward); err != nil {
			return err
		}

		lt := newLedgerTransaction(accountID, models.TxClickReward, reward, now, "Click reward %d", a.DailyClickCount)
		if err := recordTransaction(ctx, tx, lt); err != nil {
			return err
		}

		result = ClickResult{
			RewardGranted: true,
			Reward:        reward,
			DailyCount:    a.DailyClickCount,
			DailyEarnings: a.DailyClickEarnings,
			ClickEarnings: a.ClickEarnings,
		}
		account = a
		return nil
	})
	monitoring.ObserveOperation("record_click", err)
	if err != nil {
		return nil, err
	}

	if result.RewardGranted {
		notify(ctx, s.notifier, s.logger, account, models.TxClickReward)
	} else {
		s.logger.Debug().Str("account_id", accountID).Int("daily_count", result.DailyCount).Msg("Daily click limit reached")
	}
	return &result, nil
}

// ActivateClickingTask charges the activation fee, enables clicking and pays
// the activation bonus to the direct referrer.
func (s *ClickService) ActivateClickingTask(ctx context.Context, accountID string) (*models.Account, error) {
	cfg, err := s.settings.Current(ctx)
	if err != nil {
		return nil, configErr(err)
	}

	now := s.now()
	var account *models.Account
	err = s.store.WithinTx(ctx, func(tx database.Tx) error {
		a, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return storeErr(err, ErrAccountNotFound)
		}
		if a.ClickingTaskActivated {
			return ErrAlreadyActivated
		}
		if err := a.Debit(models.BucketWallet, cfg.ActivationFee); err != nil {
			return bucketErr(err)
		}
		a.ClickingTaskActivated = true
		if err := tx.UpdateAccount(ctx, a); err != nil {
			return storeErr(err, nil)
		}

		lt := newLedgerTransaction(accountID, models.TxClickingActivation, cfg.ActivationFee.Neg(), now,
			"Clicking task activation fee")
		if err := recordTransaction(ctx, tx, lt); err != nil {
			return err
		}
		account = a
		return nil
	})
	monitoring.ObserveOperation("activate_clicking", err)
	if err != nil {
		return nil, err
	}

	s.audit.LogDebit(accountID, accountID, string(models.BucketWallet), cfg.ActivationFee)

	if s.commissions != nil && cfg.ActivationBonus.IsPositive() {
		if _, err := s.commissions.Propagate(ctx, account, cfg.ActivationBonus, EventClickingActivation); err != nil {
			return account, err
		}
	}
	return account, nil
}
