package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/earnhub/backend/internal/audit"
	"github.com/earnhub/backend/internal/config"
	"github.com/earnhub/backend/internal/database"
	"github.com/earnhub/backend/internal/models"
	"github.com/earnhub/backend/internal/monitoring"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const day = 24 * time.Hour

type PurchaseRequest struct {
	PackageType int             `json:"package_type" validate:"required,min=1"`
	Amount      decimal.Decimal `json:"amount" validate:"-"`
}

// SweepResult summarises one maturity sweep.
type SweepResult struct {
	Scanned int `json:"scanned"`
	Matured int `json:"matured"`
	Failed  int `json:"failed"`
}

// PackageService runs the package lifecycle: purchase, daily accrual,
// maturity and claim.
type PackageService struct {
	store       database.Store
	settings    config.EarningsProvider
	commissions *CommissionService
	notifier    EarningsNotifier
	audit       *audit.Logger
	logger      zerolog.Logger
	now         func() time.Time

	sweepWorkers int
}

func NewPackageService(store database.Store, settings config.EarningsProvider, commissions *CommissionService, notifier EarningsNotifier, auditLogger *audit.Logger, logger zerolog.Logger) *PackageService {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &PackageService{
		store:        store,
		settings:     settings,
		commissions:  commissions,
		notifier:     notifier,
		audit:        auditLogger,
		logger:       logger.With().Str("component", "PackageService").Logger(),
		now:          time.Now,
		sweepWorkers: 1,
	}
}

// SetSweepConcurrency bounds the number of packages matured in parallel.
func (s *PackageService) SetSweepConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	s.sweepWorkers = n
}

// Purchase debits the wallet and opens a package. Commission is propagated
// after the purchase commits; if that fails the package is still returned
// together with a *CommissionError.
func (s *PackageService) Purchase(ctx context.Context, accountID string, packageType int, principal decimal.Decimal) (*models.Package, error) {
	cfg, err := s.settings.Current(ctx)
	if err != nil {
		return nil, configErr(err)
	}

	tier, ok := cfg.Tier(packageType)
	if !ok {
		return nil, withDetail(ErrInvalidPackageParameters, "unknown package type %d", packageType)
	}
	if principal.LessThan(tier.MinAmount) {
		return nil, withDetail(ErrInvalidPackageParameters, "minimum for type %d is %s", packageType, tier.MinAmount.StringFixed(2))
	}
	if !principal.Equal(principal.Round(2)) {
		return nil, withDetail(ErrInvalidPackageParameters, "amount has more than two decimal places")
	}

	now := s.now()
	pkg := &models.Package{
		ID:                 uuid.NewString(),
		AccountID:          accountID,
		PackageType:        packageType,
		PrincipalAmount:    principal,
		RemainingPrincipal: principal,
		DailyIncomeRate:    tier.DailyRate(principal),
		StartDate:          now,
		EndDate:            now.Add(tier.Duration()),
		LastAccrualAt:      now,
		AccruedEarnings:    decimal.Zero,
		EarningsWithdrawn:  decimal.Zero,
		Status:             models.PackageStatusActive,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	var buyer *models.Account
	err = s.store.WithinTx(ctx, func(tx database.Tx) error {
		account, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return storeErr(err, ErrAccountNotFound)
		}
		if err := debitBucket(ctx, tx, account, models.BucketWallet, principal); err != nil {
			return err
		}
		if err := tx.InsertPackage(ctx, pkg); err != nil {
			return storeErr(err, nil)
		}

		lt := newLedgerTransaction(accountID, models.TxPackagePurchase, principal.Neg(), now,
			"Purchased type %d package", packageType)
		lt.RelatedPackageID = strPtr(pkg.ID)
		if err := recordTransaction(ctx, tx, lt); err != nil {
			return err
		}
		buyer = account
		return nil
	})
	monitoring.ObserveOperation("package_purchase", err)
	if err != nil {
		return nil, err
	}

	s.audit.LogDebit(pkg.ID, accountID, string(models.BucketWallet), principal)
	s.logger.Info().Str("account_id", accountID).Str("package_id", pkg.ID).Int("package_type", packageType).
		Str("principal", principal.String()).Msg("Package purchased")

	if s.commissions != nil {
		if _, err := s.commissions.Propagate(ctx, buyer, principal, EventPackagePurchase); err != nil {
			return pkg, err
		}
	}
	return pkg, nil
}

// accruePackage adds whole elapsed days of income, clamped to the cap.
// It reports whether anything changed.
func accruePackage(pkg *models.Package, tier config.PackageTier, now time.Time) bool {
	if pkg.Status != models.PackageStatusActive {
		return false
	}
	maxEarnings := tier.MaxEarnings(pkg.PrincipalAmount)
	cumulative := pkg.CumulativeAccrued()
	if !cumulative.LessThan(maxEarnings) {
		return false
	}

	days := int64(now.Sub(pkg.LastAccrualAt) / day)
	if days < 1 {
		return false
	}

	add := pkg.DailyIncomeRate.Mul(decimal.NewFromInt(days))
	if cumulative.Add(add).GreaterThan(maxEarnings) {
		add = maxEarnings.Sub(cumulative)
	}
	pkg.AccruedEarnings = pkg.AccruedEarnings.Add(add)
	pkg.LastAccrualAt = pkg.LastAccrualAt.Add(time.Duration(days) * day)
	return true
}

// Accrue brings one package's earnings up to now. Calling it again for the
// same day changes nothing.
func (s *PackageService) Accrue(ctx context.Context, packageID string, now time.Time) (*models.Package, error) {
	pkg, _, err := s.accrueOne(ctx, packageID, now)
	return pkg, err
}

func (s *PackageService) accrueOne(ctx context.Context, packageID string, now time.Time) (*models.Package, bool, error) {
	cfg, err := s.settings.Current(ctx)
	if err != nil {
		return nil, false, configErr(err)
	}

	var (
		result  *models.Package
		changed bool
	)
	err = s.store.WithinTx(ctx, func(tx database.Tx) error {
		pkg, err := tx.LockPackage(ctx, packageID)
		if err != nil {
			return storeErr(err, ErrPackageNotFound)
		}
		tier, ok := cfg.Tier(pkg.PackageType)
		if !ok {
			return withDetail(ErrInvalidPackageParameters, "unknown package type %d", pkg.PackageType)
		}
		if accruePackage(pkg, tier, now) {
			if err := tx.UpdatePackage(ctx, pkg); err != nil {
				return storeErr(err, nil)
			}
			changed = true
		}
		result = pkg
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, changed, nil
}

// AccrueAll accrues every active package and returns how many changed.
// Failures on single packages are logged and reported together.
func (s *PackageService) AccrueAll(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.store.ListActivePackageIDs(ctx)
	if err != nil {
		return 0, storeErr(err, nil)
	}

	var (
		count int
		errs  []error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		_, changed, err := s.accrueOne(ctx, id, now)
		if err != nil {
			s.logger.Error().Err(err).Str("package_id", id).Msg("Accrual failed")
			errs = append(errs, err)
			continue
		}
		if changed {
			count++
		}
	}
	monitoring.ObserveOperation("accrue_all", errors.Join(errs...))
	return count, errors.Join(errs...)
}

// MatureSweep completes every active package whose end date has passed and
// closes its earnings to the exact cap. Packages already completed are
// skipped, so the sweep can be repeated or run concurrently.
func (s *PackageService) MatureSweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var result SweepResult

	cfg, err := s.settings.Current(ctx)
	if err != nil {
		return result, configErr(err)
	}

	ids, err := s.store.ListMaturedPackageIDs(ctx, now)
	if err != nil {
		return result, storeErr(err, nil)
	}
	result.Scanned = len(ids)

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		errs []error
	)
	semaphore := make(chan struct{}, s.sweepWorkers)

	for _, id := range ids {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(packageID string) {
			defer wg.Done()
			defer func() { <-semaphore }()

			matured, err := s.matureOne(ctx, cfg, packageID, now)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Failed++
				errs = append(errs, err)
				s.logger.Error().Err(err).Str("package_id", packageID).Msg("Maturity sweep failed for package")
			case matured:
				result.Matured++
				monitoring.PackagesMaturedTotal.Inc()
			}
		}(id)
	}
	wg.Wait()

	s.logger.Info().Int("scanned", result.Scanned).Int("matured", result.Matured).Int("failed", result.Failed).
		Msg("Maturity sweep finished")
	monitoring.ObserveOperation("mature_sweep", errors.Join(errs...))
	return result, errors.Join(errs...)
}

func (s *PackageService) matureOne(ctx context.Context, cfg *config.EarningsConfig, packageID string, now time.Time) (bool, error) {
	matured := false
	err := s.store.WithinTx(ctx, func(tx database.Tx) error {
		pkg, err := tx.LockPackage(ctx, packageID)
		if err != nil {
			return storeErr(err, ErrPackageNotFound)
		}
		if pkg.Status != models.PackageStatusActive || !pkg.IsMatured(now) {
			return nil
		}
		tier, ok := cfg.Tier(pkg.PackageType)
		if !ok {
			return withDetail(ErrInvalidPackageParameters, "unknown package type %d", pkg.PackageType)
		}

		closing := closeEarnings(pkg, tier)
		pkg.Status = models.PackageStatusCompleted
		pkg.LastAccrualAt = pkg.EndDate
		if err := tx.UpdatePackage(ctx, pkg); err != nil {
			return storeErr(err, nil)
		}

		lt := newLedgerTransaction(pkg.AccountID, models.TxPackageMatured, closing, now,
			"Type %d package matured", pkg.PackageType)
		lt.RelatedPackageID = strPtr(pkg.ID)
		if err := recordTransaction(ctx, tx, lt); err != nil {
			return err
		}
		matured = true
		return nil
	})
	return matured, err
}

// closeEarnings sets accrued earnings so the cumulative total equals the cap
// exactly and returns the adjustment.
func closeEarnings(pkg *models.Package, tier config.PackageTier) decimal.Decimal {
	target := tier.MaxEarnings(pkg.PrincipalAmount).Sub(pkg.EarningsWithdrawn)
	if target.IsNegative() {
		target = decimal.Zero
	}
	delta := target.Sub(pkg.AccruedEarnings)
	pkg.AccruedEarnings = target
	return delta
}

// Claim pays out a matured package into shared earnings exactly once. The
// payout uses the closed-form return rather than the accrual trail.
func (s *PackageService) Claim(ctx context.Context, accountID, packageID string, now time.Time) (decimal.Decimal, error) {
	cfg, err := s.settings.Current(ctx)
	if err != nil {
		return decimal.Zero, configErr(err)
	}

	var (
		credited decimal.Decimal
		account  *models.Account
	)
	err = s.store.WithinTx(ctx, func(tx database.Tx) error {
		a, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return storeErr(err, ErrAccountNotFound)
		}
		pkg, err := tx.LockPackage(ctx, packageID)
		if err != nil {
			return storeErr(err, ErrPackageNotFound)
		}
		if pkg.AccountID != accountID {
			return ErrPackageNotFound
		}
		if pkg.Claimed {
			return ErrAlreadyClaimed
		}
		if !pkg.IsMatured(now) {
			return ErrPackageNotMatured
		}
		if pkg.Status == models.PackageStatusRejected {
			return ErrPackageNotClaimable
		}
		tier, ok := cfg.Tier(pkg.PackageType)
		if !ok {
			return withDetail(ErrInvalidPackageParameters, "unknown package type %d", pkg.PackageType)
		}

		closeEarnings(pkg, tier)
		credited = pkg.RemainingPrincipal.Add(pkg.AccruedEarnings)

		pkg.Status = models.PackageStatusCompleted
		pkg.Claimed = true
		pkg.ClaimedAt = &now
		pkg.LastAccrualAt = pkg.EndDate
		if err := tx.UpdatePackage(ctx, pkg); err != nil {
			return storeErr(err, nil)
		}
		if err := creditBucket(ctx, tx, a, models.BucketSharedEarnings, credited); err != nil {
			return err
		}

		lt := newLedgerTransaction(accountID, models.TxPackageClaim, credited, now,
			"Claimed type %d package", pkg.PackageType)
		lt.RelatedPackageID = strPtr(pkg.ID)
		if err := recordTransaction(ctx, tx, lt); err != nil {
			return err
		}
		account = a
		return nil
	})
	monitoring.ObserveOperation("package_claim", err)
	if err != nil {
		return decimal.Zero, err
	}

	s.audit.LogCredit(packageID, accountID, string(models.BucketSharedEarnings), credited)
	notify(ctx, s.notifier, s.logger, account, models.TxPackageClaim)
	return credited, nil
}

func (s *PackageService) ListPackages(ctx context.Context, accountID string) ([]*models.Package, error) {
	pkgs, err := s.store.ListPackagesByAccount(ctx, accountID)
	if err != nil {
		return nil, storeErr(err, nil)
	}
	return pkgs, nil
}

func (s *PackageService) GetPackage(ctx context.Context, accountID, packageID string) (*models.Package, error) {
	pkg, err := s.store.GetPackage(ctx, packageID)
	if err != nil {
		return nil, storeErr(err, ErrPackageNotFound)
	}
	if pkg.AccountID != accountID {
		return nil, ErrPackageNotFound
	}
	return pkg, nil
}
