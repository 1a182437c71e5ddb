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

func withdrawalRequest(accountID, source, amount string) WithdrawalRequest {
	return WithdrawalRequest{
		AccountID:                accountID,
		Amount:                   decimal.RequireFromString(amount),
		SourceBucket:             source,
		Method:                   "bank_transfer",
		DestinationAccountNumber: "0123456789",
		DestinationAccountName:   "Ada Obi",
	}
}

func TestWithdrawalService_RequestValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedAccount(t, "user", nil, "100", func(a *models.Account) { a.ClickEarnings = dec("10") })

	for _, amount := range []string{"0", "-5", "1.005"} {
		_, err := env.withdrawals.Request(ctx, withdrawalRequest("user", models.SourceClickEarnings, amount))
		assert.ErrorIs(t, err, ErrInvalidAmount, amount)
	}

	_, err := env.withdrawals.Request(ctx, withdrawalRequest("user", "savings", "5"))
	assert.ErrorIs(t, err, ErrInvalidSource)

	req := withdrawalRequest("user", models.SourceClickEarnings, "5")
	req.DestinationAccountNumber = ""
	_, err = env.withdrawals.Request(ctx, req)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.NotNil(t, ValidationErrors(err))

	_, err = env.withdrawals.Request(ctx, withdrawalRequest("ghost", models.SourceClickEarnings, "5"))
	assert.ErrorIs(t, err, ErrAccountNotFound)

	ws, err := env.withdrawals.ListWithdrawals(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, ws)
}

func TestWithdrawalService_ClickEarnings(t *testing.T) {
	ctx := context.Background()

	t.Run("reserve then reject restores exactly", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedAccount(t, "user", nil, "0", func(a *models.Account) { a.ClickEarnings = dec("10") })

		w, err := env.withdrawals.Request(ctx, withdrawalRequest("user", models.SourceClickEarnings, "4"))
		require.NoError(t, err)
		assert.Equal(t, models.WithdrawalPending, w.Status)
		assertDec(t, "6", env.account(t, "user").ClickEarnings)

		_, err = env.withdrawals.Request(ctx, withdrawalRequest("user", models.SourceClickEarnings, "6.01"))
		assert.ErrorIs(t, err, ErrInsufficientBalance)

		rejected, err := env.withdrawals.Reject(ctx, w.ID, env.clock)
		require.NoError(t, err)
		assert.Equal(t, models.WithdrawalRejected, rejected.Status)
		require.NotNil(t, rejected.ProcessedAt)
		assertDec(t, "10", env.account(t, "user").ClickEarnings)
		assert.True(t, env.account(t, "user").TotalWithdrawn.IsZero())

		_, err = env.withdrawals.Reject(ctx, w.ID, env.clock)
		assert.ErrorIs(t, err, ErrNotPending)
		_, err = env.withdrawals.Approve(ctx, w.ID, env.clock)
		assert.ErrorIs(t, err, ErrNotPending)
	})

	t.Run("approve only changes status", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedAccount(t, "user", nil, "0", func(a *models.Account) { a.ClickEarnings = dec("10") })

		w, err := env.withdrawals.Request(ctx, withdrawalRequest("user", models.SourceClickEarnings, "4"))
		require.NoError(t, err)

		approved, err := env.withdrawals.Approve(ctx, w.ID, env.clock)
		require.NoError(t, err)
		assert.Equal(t, models.WithdrawalCompleted, approved.Status)

		a := env.account(t, "user")
		assertDec(t, "6", a.ClickEarnings)
		assertDec(t, "4", a.TotalWithdrawn)

		assert.Len(t, env.transactions(t, "user", models.TxWithdrawalRequest), 1)
		assert.Len(t, env.transactions(t, "user", models.TxWithdrawalCompleted), 1)

		_, err = env.withdrawals.Approve(ctx, w.ID, env.clock)
		assert.ErrorIs(t, err, ErrNotPending)
	})
}

func TestWithdrawalService_ConcurrentRequests(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedAccount(t, "user", nil, "0", func(a *models.Account) { a.ClickEarnings = dec("10") })

	const workers = 10
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		accepted     int
		insufficient int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.withdrawals.Request(ctx, withdrawalRequest("user", models.SourceClickEarnings, "3"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, ErrInsufficientBalance):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, accepted)
	assert.Equal(t, workers-3, insufficient)

	a := env.account(t, "user")
	assertDec(t, "1", a.ClickEarnings)
	assert.False(t, a.ClickEarnings.IsNegative())

	ws, err := env.withdrawals.ListWithdrawals(ctx, models.WithdrawalPending)
	require.NoError(t, err)
	assert.Len(t, ws, 3)
	assert.Len(t, env.transactions(t, "user", models.TxWithdrawalRequest), 3)
}

func TestWithdrawalService_DirectIndirect(t *testing.T) {
	ctx := context.Background()

	t.Run("deducts direct before indirect", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedAccount(t, "user", nil, "0", func(a *models.Account) {
			a.DirectReferralEarnings = dec("3")
			a.IndirectReferralEarnings = dec("7")
		})

		w, err := env.withdrawals.Request(ctx, withdrawalRequest("user", models.SourceDirectIndirect, "5"))
		require.NoError(t, err)

		a := env.account(t, "user")
		assert.True(t, a.DirectReferralEarnings.IsZero())
		assertDec(t, "5", a.IndirectReferralEarnings)
		require.Len(t, w.Allocations, 2)
		assert.Equal(t, models.BucketDirectReferral, w.Allocations[0].Bucket)
		assertDec(t, "3", w.Allocations[0].Amount)
		assertDec(t, "2", w.Allocations[1].Amount)

		_, err = env.withdrawals.Reject(ctx, w.ID, env.clock)
		require.NoError(t, err)

		// restored half and half, so the total matches but the split may not
		a = env.account(t, "user")
		assertDec(t, "2.50", a.DirectReferralEarnings)
		assertDec(t, "7.50", a.IndirectReferralEarnings)
		assertDec(t, "10", a.ReferralEarnings())
	})

	t.Run("odd cent goes to direct", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedAccount(t, "user", nil, "0", func(a *models.Account) { a.IndirectReferralEarnings = dec("0.05") })

		w, err := env.withdrawals.Request(ctx, withdrawalRequest("user", models.SourceDirectIndirect, "0.05"))
		require.NoError(t, err)
		_, err = env.withdrawals.Reject(ctx, w.ID, env.clock)
		require.NoError(t, err)

		a := env.account(t, "user")
		assertDec(t, "0.03", a.DirectReferralEarnings)
		assertDec(t, "0.02", a.IndirectReferralEarnings)
	})

	t.Run("insufficient", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedAccount(t, "user", nil, "0", func(a *models.Account) {
			a.DirectReferralEarnings = dec("3")
			a.IndirectReferralEarnings = dec("7")
		})
		_, err := env.withdrawals.Request(ctx, withdrawalRequest("user", models.SourceDirectIndirect, "10.01"))
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assertDec(t, "3", env.account(t, "user").DirectReferralEarnings)
	})
}

func TestWithdrawalService_WalletDebitOnApprove(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedAccount(t, "user", nil, "300")

	w, err := env.withdrawals.Request(ctx, withdrawalRequest("user", models.SourceWallet, "200"))
	require.NoError(t, err)
	assertDec(t, "300", env.account(t, "user").WalletBalance)

	// spend the wallet before approval
	_, err = env.packages.Purchase(ctx, "user", 1, dec("150"))
	require.NoError(t, err)

	_, err = env.withdrawals.Approve(ctx, w.ID, env.clock)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	pending, err := env.withdrawals.GetWithdrawal(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalPending, pending.Status)

	w2, err := env.withdrawals.Request(ctx, withdrawalRequest("user", models.SourceWallet, "100"))
	require.NoError(t, err)
	_, err = env.withdrawals.Approve(ctx, w2.ID, env.clock)
	require.NoError(t, err)

	a := env.account(t, "user")
	assertDec(t, "50", a.WalletBalance)
	assertDec(t, "100", a.TotalWithdrawn)

	completed := env.transactions(t, "user", models.TxWithdrawalCompleted)
	require.Len(t, completed, 1)
	assertDec(t, "-100", completed[0].Amount)

	_, err = env.withdrawals.Reject(ctx, w.ID, env.clock)
	require.NoError(t, err)
	assertDec(t, "50", env.account(t, "user").WalletBalance)
}

// sharedCapitalEnv buys two type 2 packages of 500 one hour apart and moves
// the clock four days on, so each has accrued 50.
func sharedCapitalEnv(t *testing.T) (*testEnv, *models.Package, *models.Package) {
	t.Helper()
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedAccount(t, "user", nil, "1000")

	p1, err := env.packages.Purchase(ctx, "user", 2, dec("500"))
	require.NoError(t, err)
	env.clock = env.clock.Add(time.Hour)
	p2, err := env.packages.Purchase(ctx, "user", 2, dec("500"))
	require.NoError(t, err)

	env.clock = env.clock.Add(4 * 24 * time.Hour)
	_, err = env.packages.AccrueAll(ctx, env.clock)
	require.NoError(t, err)
	return env, p1, p2
}

func TestWithdrawalService_SharedCapital(t *testing.T) {
	ctx := context.Background()

	t.Run("available balance", func(t *testing.T) {
		env, _, _ := sharedCapitalEnv(t)
		available, err := env.withdrawals.AvailableBalance(ctx, "user", models.SourceSharedCapital, env.clock)
		require.NoError(t, err)
		assertDec(t, "1100", available)
	})

	t.Run("oldest package first, earnings before principal", func(t *testing.T) {
		env, p1, p2 := sharedCapitalEnv(t)

		w, err := env.withdrawals.Request(ctx, withdrawalRequest("user", models.SourceSharedCapital, "120"))
		require.NoError(t, err)

		require.Len(t, w.Allocations, 2)
		assert.Equal(t, models.Allocation{PackageID: p1.ID, Component: models.ComponentEarnings, Amount: w.Allocations[0].Amount}, w.Allocations[0])
		assertDec(t, "50", w.Allocations[0].Amount)
		assert.Equal(t, models.ComponentPrincipal, w.Allocations[1].Component)
		assertDec(t, "70", w.Allocations[1].Amount)

		first := env.pkg(t, p1.ID)
		assert.True(t, first.AccruedEarnings.IsZero())
		assertDec(t, "50", first.EarningsWithdrawn)
		assertDec(t, "430", first.RemainingPrincipal)
		assertDec(t, "500", first.PrincipalAmount)

		second := env.pkg(t, p2.ID)
		assertDec(t, "50", second.AccruedEarnings)
		assertDec(t, "500", second.RemainingPrincipal)
	})

	t.Run("request then reject restores exact state", func(t *testing.T) {
		env, p1, p2 := sharedCapitalEnv(t)
		before1, before2 := env.pkg(t, p1.ID), env.pkg(t, p2.ID)
		beforeShared := env.account(t, "user").SharedEarnings

		w, err := env.withdrawals.Request(ctx, withdrawalRequest("user", models.SourceSharedCapital, "620"))
		require.NoError(t, err)
		_, err = env.withdrawals.Reject(ctx, w.ID, env.clock)
		require.NoError(t, err)

		for _, pair := range [][2]*models.Package{{before1, env.pkg(t, p1.ID)}, {before2, env.pkg(t, p2.ID)}} {
			assert.True(t, pair[0].AccruedEarnings.Equal(pair[1].AccruedEarnings))
			assert.True(t, pair[0].RemainingPrincipal.Equal(pair[1].RemainingPrincipal))
			assert.True(t, pair[0].EarningsWithdrawn.Equal(pair[1].EarningsWithdrawn))
		}
		assert.True(t, beforeShared.Equal(env.account(t, "user").SharedEarnings))
	})

	t.Run("exceeding available creates nothing and mutates nothing", func(t *testing.T) {
		env, p1, p2 := sharedCapitalEnv(t)
		before1, before2 := env.pkg(t, p1.ID), env.pkg(t, p2.ID)

		_, err := env.withdrawals.Request(ctx, withdrawalRequest("user", models.SourceSharedCapital, "1100.01"))
		assert.ErrorIs(t, err, ErrInsufficientBalance)

		ws, err := env.withdrawals.ListWithdrawals(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, ws)
		assert.Equal(t, before1.Version, env.pkg(t, p1.ID).Version)
		assert.Equal(t, before2.Version, env.pkg(t, p2.ID).Version)
		assert.Empty(t, env.transactions(t, "user", models.TxWithdrawalRequest))
	})

	t.Run("withdrawn earnings count against the cap", func(t *testing.T) {
		env, p1, _ := sharedCapitalEnv(t)
		w, err := env.withdrawals.Request(ctx, withdrawalRequest("user", models.SourceSharedCapital, "120"))
		require.NoError(t, err)
		_, err = env.withdrawals.Approve(ctx, w.ID, env.clock)
		require.NoError(t, err)

		maturity := env.pkg(t, p1.ID).EndDate
		_, err = env.packages.MatureSweep(ctx, maturity)
		require.NoError(t, err)
		assertDec(t, "200", env.pkg(t, p1.ID).AccruedEarnings)

		credited, err := env.packages.Claim(ctx, "user", p1.ID, maturity)
		require.NoError(t, err)
		assertDec(t, "630", credited)
		// 120 withdrawn plus 630 claimed is the full 1.5x return
		assertDec(t, "120", env.account(t, "user").TotalWithdrawn)
	})

	t.Run("draws shared earnings after packages", func(t *testing.T) {
		env, p1, p2 := sharedCapitalEnv(t)
		maturity := env.pkg(t, p1.ID).EndDate
		_, err := env.packages.Claim(ctx, "user", p1.ID, maturity)
		require.NoError(t, err)
		assertDec(t, "750", env.account(t, "user").SharedEarnings)

		// p2 started an hour later, so it has 19 whole days accrued
		env.clock = maturity
		available, err := env.withdrawals.AvailableBalance(ctx, "user", models.SourceSharedCapital, env.clock)
		require.NoError(t, err)
		assertDec(t, "1487.50", available)

		w, err := env.withdrawals.Request(ctx, withdrawalRequest("user", models.SourceSharedCapital, "1487.50"))
		require.NoError(t, err)
		require.Len(t, w.Allocations, 3)
		assert.Equal(t, p2.ID, w.Allocations[0].PackageID)
		assertDec(t, "237.5", w.Allocations[0].Amount)
		assertDec(t, "500", w.Allocations[1].Amount)
		assert.Equal(t, models.BucketSharedEarnings, w.Allocations[2].Bucket)
		assertDec(t, "750", w.Allocations[2].Amount)
		assert.True(t, env.account(t, "user").SharedEarnings.IsZero())

		_, err = env.withdrawals.Request(ctx, withdrawalRequest("user", models.SourceSharedCapital, "0.01"))
		assert.ErrorIs(t, err, ErrInsufficientBalance)
	})

	t.Run("rejecting after the package was claimed credits shared earnings", func(t *testing.T) {
		env, p1, _ := sharedCapitalEnv(t)
		w, err := env.withdrawals.Request(ctx, withdrawalRequest("user", models.SourceSharedCapital, "120"))
		require.NoError(t, err)

		maturity := env.pkg(t, p1.ID).EndDate
		credited, err := env.packages.Claim(ctx, "user", p1.ID, maturity)
		require.NoError(t, err)
		assertDec(t, "630", credited)

		_, err = env.withdrawals.Reject(ctx, w.ID, maturity)
		require.NoError(t, err)
		assertDec(t, "750", env.account(t, "user").SharedEarnings)
	})
}
