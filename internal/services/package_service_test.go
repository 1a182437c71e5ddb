package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/earnhub/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got.String())
}

func TestPackageService_Purchase(t *testing.T) {
	ctx := context.Background()

	t.Run("debits wallet and opens package", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedAccount(t, "buyer", nil, "500")

		pkg, err := env.packages.Purchase(ctx, "buyer", 1, dec("100"))
		require.NoError(t, err)

		assert.Equal(t, models.PackageStatusActive, pkg.Status)
		assertDec(t, "1.6667", pkg.DailyIncomeRate)
		assertDec(t, "100", pkg.RemainingPrincipal)
		assert.Equal(t, env.clock.Add(12*24*time.Hour), pkg.EndDate)
		assertDec(t, "400", env.account(t, "buyer").WalletBalance)

		purchases := env.transactions(t, "buyer", models.TxPackagePurchase)
		require.Len(t, purchases, 1)
		assertDec(t, "-100", purchases[0].Amount)
		assert.Equal(t, pkg.ID, *purchases[0].RelatedPackageID)
	})

	t.Run("invalid parameters", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedAccount(t, "buyer", nil, "5000")

		_, err := env.packages.Purchase(ctx, "buyer", 4, dec("100"))
		assert.ErrorIs(t, err, ErrInvalidPackageParameters)

		_, err = env.packages.Purchase(ctx, "buyer", 2, dec("499.99"))
		assert.ErrorIs(t, err, ErrInvalidPackageParameters)
		assert.Equal(t, KindValidation, KindOf(err))

		_, err = env.packages.Purchase(ctx, "buyer", 1, dec("100.001"))
		assert.ErrorIs(t, err, ErrInvalidPackageParameters)

		assertDec(t, "5000", env.account(t, "buyer").WalletBalance)
	})

	t.Run("insufficient wallet", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedAccount(t, "buyer", nil, "99")

		_, err := env.packages.Purchase(ctx, "buyer", 1, dec("100"))
		assert.ErrorIs(t, err, ErrInsufficientBalance)

		pkgs, err := env.packages.ListPackages(ctx, "buyer")
		require.NoError(t, err)
		assert.Empty(t, pkgs)
		assertDec(t, "99", env.account(t, "buyer").WalletBalance)
	})

	t.Run("unknown account", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.packages.Purchase(ctx, "nobody", 1, dec("100"))
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})
}

func TestPackageService_Accrue(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedAccount(t, "buyer", nil, "100")
	pkg, err := env.packages.Purchase(ctx, "buyer", 1, dec("100"))
	require.NoError(t, err)
	start := env.clock

	t.Run("less than a day does nothing", func(t *testing.T) {
		p, err := env.packages.Accrue(ctx, pkg.ID, start.Add(23*time.Hour))
		require.NoError(t, err)
		assert.True(t, p.AccruedEarnings.IsZero())
	})

	t.Run("whole days only and idempotent", func(t *testing.T) {
		at := start.Add(5*24*time.Hour + 3*time.Hour)
		p, err := env.packages.Accrue(ctx, pkg.ID, at)
		require.NoError(t, err)
		assertDec(t, "8.3335", p.AccruedEarnings)

		p, err = env.packages.Accrue(ctx, pkg.ID, at)
		require.NoError(t, err)
		assertDec(t, "8.3335", p.AccruedEarnings)
		assert.Equal(t, start.Add(5*24*time.Hour), p.LastAccrualAt)
	})

	t.Run("clamped to cap", func(t *testing.T) {
		p, err := env.packages.Accrue(ctx, pkg.ID, start.Add(40*24*time.Hour))
		require.NoError(t, err)
		assertDec(t, "20", p.AccruedEarnings)

		p, err = env.packages.Accrue(ctx, pkg.ID, start.Add(41*24*time.Hour))
		require.NoError(t, err)
		assertDec(t, "20", p.AccruedEarnings)
	})

	t.Run("missing package", func(t *testing.T) {
		_, err := env.packages.Accrue(ctx, "missing", start)
		assert.ErrorIs(t, err, ErrPackageNotFound)
	})
}

func TestPackageService_AccrueAll(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedAccount(t, "buyer", nil, "1500")

	p1, err := env.packages.Purchase(ctx, "buyer", 1, dec("100"))
	require.NoError(t, err)
	p2, err := env.packages.Purchase(ctx, "buyer", 2, dec("500"))
	require.NoError(t, err)

	count, err := env.packages.AccrueAll(ctx, env.clock.Add(2*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assertDec(t, "3.3334", env.pkg(t, p1.ID).AccruedEarnings)
	assertDec(t, "25", env.pkg(t, p2.ID).AccruedEarnings)

	count, err = env.packages.AccrueAll(ctx, env.clock.Add(2*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestPackageService_MatureSweep(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedAccount(t, "buyer", nil, "100")
	pkg, err := env.packages.Purchase(ctx, "buyer", 1, dec("100"))
	require.NoError(t, err)
	start := env.clock

	t.Run("not yet matured", func(t *testing.T) {
		result, err := env.packages.MatureSweep(ctx, start.Add(11*24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 0, result.Scanned)
		assert.Equal(t, models.PackageStatusActive, env.pkg(t, pkg.ID).Status)
	})

	t.Run("closes to exact cap at day 12", func(t *testing.T) {
		_, err := env.packages.Accrue(ctx, pkg.ID, start.Add(11*24*time.Hour))
		require.NoError(t, err)
		assertDec(t, "18.3337", env.pkg(t, pkg.ID).AccruedEarnings)

		result, err := env.packages.MatureSweep(ctx, start.Add(12*24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, result.Matured)

		p := env.pkg(t, pkg.ID)
		assertDec(t, "20.00", p.AccruedEarnings)
		assert.Equal(t, models.PackageStatusCompleted, p.Status)
		assert.False(t, p.Claimed)

		matured := env.transactions(t, "buyer", models.TxPackageMatured)
		require.Len(t, matured, 1)
		assertDec(t, "1.6663", matured[0].Amount)
	})

	t.Run("second run is a no-op", func(t *testing.T) {
		before := env.pkg(t, pkg.ID)

		result, err := env.packages.MatureSweep(ctx, start.Add(13*24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 0, result.Matured)

		after := env.pkg(t, pkg.ID)
		assert.Equal(t, before.Version, after.Version)
		assert.True(t, before.AccruedEarnings.Equal(after.AccruedEarnings))
		assert.Len(t, env.transactions(t, "buyer", models.TxPackageMatured), 1)
	})
}

func TestPackageService_MatureSweepConcurrent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedAccount(t, "buyer", nil, "1000")
	for i := 0; i < 5; i++ {
		_, err := env.packages.Purchase(ctx, "buyer", 1, dec("100"))
		require.NoError(t, err)
	}
	env.packages.SetSweepConcurrency(3)
	at := env.clock.Add(12 * 24 * time.Hour)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := env.packages.MatureSweep(ctx, at)
			assert.NoError(t, err)
			mu.Lock()
			total += result.Matured
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, total)
	assert.Len(t, env.transactions(t, "buyer", models.TxPackageMatured), 5)
}

func TestPackageService_Claim(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*testEnv, *models.Package) {
		env := newTestEnv(t)
		env.seedAccount(t, "buyer", nil, "100")
		pkg, err := env.packages.Purchase(ctx, "buyer", 1, dec("100"))
		require.NoError(t, err)
		return env, pkg
	}

	t.Run("not matured", func(t *testing.T) {
		env, pkg := setup(t)
		_, err := env.packages.Claim(ctx, "buyer", pkg.ID, env.clock.Add(11*24*time.Hour))
		assert.ErrorIs(t, err, ErrPackageNotMatured)
		assert.Equal(t, KindStateConflict, KindOf(err))
	})

	t.Run("credits closed-form payout exactly once", func(t *testing.T) {
		env, pkg := setup(t)
		at := env.clock.Add(12 * 24 * time.Hour)
		_, err := env.packages.MatureSweep(ctx, at)
		require.NoError(t, err)

		credited, err := env.packages.Claim(ctx, "buyer", pkg.ID, at)
		require.NoError(t, err)
		assertDec(t, "120.00", credited)

		_, err = env.packages.Claim(ctx, "buyer", pkg.ID, at)
		assert.ErrorIs(t, err, ErrAlreadyClaimed)

		assertDec(t, "120", env.account(t, "buyer").SharedEarnings)
		p := env.pkg(t, pkg.ID)
		assert.True(t, p.Claimed)
		assert.Equal(t, models.PackageStatusCompleted, p.Status)
		assert.Len(t, env.transactions(t, "buyer", models.TxPackageClaim), 1)
	})

	t.Run("claim without prior sweep", func(t *testing.T) {
		env, pkg := setup(t)
		credited, err := env.packages.Claim(ctx, "buyer", pkg.ID, env.clock.Add(30*24*time.Hour))
		require.NoError(t, err)
		assertDec(t, "120", credited)
		assertDec(t, "20", env.pkg(t, pkg.ID).AccruedEarnings)
	})

	t.Run("concurrent claims pay once", func(t *testing.T) {
		env, pkg := setup(t)
		at := env.clock.Add(12 * 24 * time.Hour)

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			conflicts int
		)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := env.packages.Claim(ctx, "buyer", pkg.ID, at)
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					successes++
				} else if errors.Is(err, ErrAlreadyClaimed) {
					conflicts++
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, successes)
		assert.Equal(t, 9, conflicts)
		assertDec(t, "120", env.account(t, "buyer").SharedEarnings)
	})

	t.Run("rolls back when the ledger write fails", func(t *testing.T) {
		env, pkg := setup(t)
		env.store.FailOn = func(op, id string) error {
			if op == "InsertTransaction" {
				return errors.New("disk full")
			}
			return nil
		}

		_, err := env.packages.Claim(ctx, "buyer", pkg.ID, env.clock.Add(12*24*time.Hour))
		assert.ErrorIs(t, err, ErrPersistence)
		assert.Equal(t, KindPersistence, KindOf(err))

		env.store.FailOn = nil
		assert.False(t, env.pkg(t, pkg.ID).Claimed)
		assert.True(t, env.account(t, "buyer").SharedEarnings.IsZero())

		credited, err := env.packages.Claim(ctx, "buyer", pkg.ID, env.clock.Add(12*24*time.Hour))
		require.NoError(t, err)
		assertDec(t, "120", credited)
	})

	t.Run("package of another account", func(t *testing.T) {
		env, pkg := setup(t)
		env.seedAccount(t, "other", nil, "0")
		_, err := env.packages.Claim(ctx, "other", pkg.ID, env.clock.Add(12*24*time.Hour))
		assert.ErrorIs(t, err, ErrPackageNotFound)
	})
}

func TestPackageService_AccrualNeverExceedsCap(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedAccount(t, "buyer", nil, "5000")

	amounts := []struct {
		packageType int
		principal   string
		cap         string
	}{
		{1, "100", "20"},
		{1, "333.33", "66.67"},
		{2, "777.77", "388.89"},
		{3, "1234.56", "2469.12"},
	}

	var ids []string
	for _, a := range amounts {
		p, err := env.packages.Purchase(ctx, "buyer", a.packageType, dec(a.principal))
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}

	for d := 1; d <= 35; d++ {
		_, err := env.packages.AccrueAll(ctx, env.clock.Add(time.Duration(d)*24*time.Hour))
		require.NoError(t, err)
		for i, id := range ids {
			p := env.pkg(t, id)
			assert.False(t, p.AccruedEarnings.IsNegative())
			assert.True(t, p.AccruedEarnings.LessThanOrEqual(dec(amounts[i].cap)), "day %d package %d: %s", d, i, p.AccruedEarnings)
		}
	}

	_, err := env.packages.MatureSweep(ctx, env.clock.Add(35*24*time.Hour))
	require.NoError(t, err)
	for i, id := range ids {
		assertDec(t, amounts[i].cap, env.pkg(t, id).AccruedEarnings)
	}
}
