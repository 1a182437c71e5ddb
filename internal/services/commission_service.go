package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/earnhub/backend/internal/audit"
	"github.com/earnhub/backend/internal/config"
	"github.com/earnhub/backend/internal/database"
	"github.com/earnhub/backend/internal/models"
	"github.com/earnhub/backend/internal/monitoring"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// CommissionEvent is the qualifying event behind a referral walk.
type CommissionEvent int

const (
	EventClickingActivation CommissionEvent = iota + 1
	EventPackagePurchase
)

func (e CommissionEvent) String() string {
	switch e {
	case EventClickingActivation:
		return "clicking_activation"
	case EventPackagePurchase:
		return "package_purchase"
	}
	return "unknown"
}

// Reasons a referral walk ended.
const (
	StopNoReferrer    = "no_referrer"
	StopMissing       = "referrer_missing"
	StopInactive      = "referrer_inactive"
	StopCycle         = "cycle_detected"
	StopMaxDepth      = "max_depth"
	StopDirectOnly    = "direct_only"
	StopPersistFailed = "persistence_failure"
)

type CommissionCredit struct {
	Level         int             `json:"level"`
	AccountID     string          `json:"account_id"`
	Amount        decimal.Decimal `json:"amount"`
	TransactionID string          `json:"transaction_id"`
}

type PropagationResult struct {
	Event        string             `json:"event"`
	LevelsWalked int                `json:"levels_walked"`
	Credits      []CommissionCredit `json:"credits"`
	StopReason   string             `json:"stop_reason"`
}

// Total is the sum of all credits paid by the walk.
func (r *PropagationResult) Total() decimal.Decimal {
	total := decimal.Zero
	for _, c := range r.Credits {
		total = total.Add(c.Amount)
	}
	return total
}

// CommissionError reports a walk aborted part way. Credits already paid are
// kept and listed in Credited.
type CommissionError struct {
	Level      int
	ReferrerID string
	Credited   []CommissionCredit
	Err        error
}

func (e *CommissionError) Error() string {
	return fmt.Sprintf("commission propagation aborted at level %d (referrer %s) after %d credits: %v",
		e.Level, e.ReferrerID, len(e.Credited), e.Err)
}

func (e *CommissionError) Unwrap() error {
	return e.Err
}

type CommissionService struct {
	store    database.Store
	settings config.EarningsProvider
	notifier EarningsNotifier
	audit    *audit.Logger
	logger   zerolog.Logger
	now      func() time.Time
}

func NewCommissionService(store database.Store, settings config.EarningsProvider, notifier EarningsNotifier, auditLogger *audit.Logger, logger zerolog.Logger) *CommissionService {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &CommissionService{
		store:    store,
		settings: settings,
		notifier: notifier,
		audit:    auditLogger,
		logger:   logger.With().Str("component", "CommissionService").Logger(),
		now:      time.Now,
	}
}

// Propagate walks the referral chain above origin and credits commission.
// The walk is bounded by config.MaxCommissionLevels and guarded against
// cycles. Every credited level commits on its own; a storage failure stops
// the walk without undoing earlier levels.
func (s *CommissionService) Propagate(ctx context.Context, origin *models.Account, base decimal.Decimal, event CommissionEvent) (*PropagationResult, error) {
	result := &PropagationResult{Event: event.String()}
	if origin.ReferrerID == nil || *origin.ReferrerID == "" {
		result.StopReason = StopNoReferrer
		return result, nil
	}

	cfg, err := s.settings.Current(ctx)
	if err != nil {
		return result, configErr(err)
	}

	// purchases only pay out when the buyer has activated clicking; the
	// chain is still walked so levels are consumed
	pay := event == EventClickingActivation || origin.ClickingTaskActivated

	visited := map[string]bool{origin.ID: true}
	candidate := *origin.ReferrerID
	result.StopReason = StopMaxDepth

	for level := 1; level <= config.MaxCommissionLevels; level++ {
		if candidate == "" {
			result.StopReason = StopNoReferrer
			break
		}
		if visited[candidate] {
			s.logger.Warn().Str("origin", origin.ID).Str("referrer", candidate).Int("level", level).Msg("Referral cycle detected")
			result.StopReason = StopCycle
			break
		}
		visited[candidate] = true

		amount := decimal.Zero
		if pay {
			amount = s.levelAmount(cfg, base, level, event)
		}

		referrer, credit, stop, err := s.visitLevel(ctx, origin, candidate, level, amount)
		if err != nil {
			result.StopReason = StopPersistFailed
			s.logger.Error().Err(err).Str("origin", origin.ID).Str("referrer", candidate).Int("level", level).
				Msg("Commission walk aborted")
			s.audit.LogError(origin.ID, candidate, err)
			return result, &CommissionError{Level: level, ReferrerID: candidate, Credited: result.Credits, Err: err}
		}
		if stop != "" {
			result.StopReason = stop
			break
		}

		result.LevelsWalked = level
		if credit != nil {
			result.Credits = append(result.Credits, *credit)
			monitoring.CommissionCreditsTotal.WithLabelValues(strconv.Itoa(level)).Inc()
			notify(ctx, s.notifier, s.logger, referrer, models.TxReferralCommission)
		}

		if event == EventClickingActivation {
			result.StopReason = StopDirectOnly
			break
		}

		candidate = ""
		if referrer.ReferrerID != nil {
			candidate = *referrer.ReferrerID
		}
	}

	s.logger.Info().Str("origin", origin.ID).Str("event", event.String()).Int("levels", result.LevelsWalked).
		Int("credits", len(result.Credits)).Str("stop_reason", result.StopReason).Msg("Commission propagated")
	return result, nil
}

// levelAmount is rate-scaled for purchases, kept at the stored NUMERIC(18,4)
// precision so each level gets exactly base x rate. The activation bonus is a
// flat amount paid to the direct referrer.
func (s *CommissionService) levelAmount(cfg *config.EarningsConfig, base decimal.Decimal, level int, event CommissionEvent) decimal.Decimal {
	if event == EventClickingActivation {
		return base
	}
	rate, ok := cfg.CommissionRate(level)
	if !ok {
		return decimal.Zero
	}
	return base.Mul(rate).Round(4)
}

// visitLevel reads (and when amount is positive, credits) one referrer.
// A non-empty stop reason ends the walk without error.
func (s *CommissionService) visitLevel(ctx context.Context, origin *models.Account, referrerID string, level int, amount decimal.Decimal) (*models.Account, *CommissionCredit, string, error) {
	if !amount.IsPositive() {
		referrer, err := s.store.GetAccount(ctx, referrerID)
		if errors.Is(err, database.ErrNotFound) {
			return nil, nil, StopMissing, nil
		}
		if err != nil {
			return nil, nil, "", storeErr(err, nil)
		}
		if !referrer.IsActive {
			return nil, nil, StopInactive, nil
		}
		return referrer, nil, "", nil
	}

	bucket := models.BucketIndirectReferral
	if level == 1 {
		bucket = models.BucketDirectReferral
	}

	var (
		referrer *models.Account
		credit   *CommissionCredit
		stop     string
	)
	err := s.store.WithinTx(ctx, func(tx database.Tx) error {
		a, err := tx.LockAccount(ctx, referrerID)
		if errors.Is(err, database.ErrNotFound) {
			stop = StopMissing
			return nil
		}
		if err != nil {
			return storeErr(err, nil)
		}
		if !a.IsActive {
			stop = StopInactive
			return nil
		}

		if err := creditBucket(ctx, tx, a, bucket, amount); err != nil {
			return err
		}

		lt := newLedgerTransaction(a.ID, models.TxReferralCommission, amount, s.now(),
			"Level %d referral commission from %s", level, origin.ID)
		lt.RelatedAccountID = strPtr(origin.ID)
		lt.ReferralLevel = intPtr(level)
		if err := recordTransaction(ctx, tx, lt); err != nil {
			return err
		}

		referrer = a
		credit = &CommissionCredit{Level: level, AccountID: a.ID, Amount: amount, TransactionID: lt.ID}
		return nil
	})
	if err != nil {
		return nil, nil, "", err
	}
	if credit != nil {
		s.audit.LogCredit(credit.TransactionID, referrer.ID, string(bucket), amount)
	}
	return referrer, credit, stop, nil
}
