package services

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/earnhub/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClickService_RecordClick(t *testing.T) {
	ctx := context.Background()

	t.Run("requires activation", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedAccount(t, "user", nil, "0")

		_, err := env.clicks.RecordClick(ctx, "user", env.clock)
		assert.ErrorIs(t, err, ErrClickingNotActivated)
		assert.Equal(t, KindStateConflict, KindOf(err))
	})

	t.Run("fifty clicks per day then limit", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedAccount(t, "user", nil, "0", activated)

		for i := 1; i <= 50; i++ {
			result, err := env.clicks.RecordClick(ctx, "user", env.clock.Add(time.Duration(i)*time.Minute))
			require.NoError(t, err)
			require.True(t, result.RewardGranted, "click %d", i)
			assert.Equal(t, i, result.DailyCount)
		}

		result, err := env.clicks.RecordClick(ctx, "user", env.clock.Add(2*time.Hour))
		require.NoError(t, err)
		assert.False(t, result.RewardGranted)
		assert.True(t, result.DailyLimitReached)
		assert.Equal(t, 50, result.DailyCount)

		a := env.account(t, "user")
		assertDec(t, "10.00", a.ClickEarnings)
		assertDec(t, "10.00", a.DailyClickEarnings)
		assert.Len(t, env.transactions(t, "user", models.TxClickReward), 50)
	})

	t.Run("new calendar day resets the counter", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedAccount(t, "user", nil, "0", activated)

		for i := 0; i < 50; i++ {
			_, err := env.clicks.RecordClick(ctx, "user", env.clock)
			require.NoError(t, err)
		}

		result, err := env.clicks.RecordClick(ctx, "user", env.clock.Add(24*time.Hour))
		require.NoError(t, err)
		assert.True(t, result.RewardGranted)
		assert.Equal(t, 1, result.DailyCount)
		assertDec(t, "0.20", result.DailyEarnings)
		assertDec(t, "10.20", result.ClickEarnings)
	})

	t.Run("calendar day follows the configured time zone", func(t *testing.T) {
		env := newTestEnv(t)
		env.cfg.Timezone = "Africa/Lagos"
		require.NoError(t, env.cfg.Validate())
		env.seedAccount(t, "user", nil, "0", activated)

		// 22:30 UTC is 23:30 in Lagos; 23:30 UTC is already the next day there
		first := time.Date(2025, 3, 1, 22, 30, 0, 0, time.UTC)
		_, err := env.clicks.RecordClick(ctx, "user", first)
		require.NoError(t, err)

		result, err := env.clicks.RecordClick(ctx, "user", first.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, result.DailyCount)
	})
}

func TestClickService_ActivateClickingTask(t *testing.T) {
	ctx := context.Background()

	t.Run("charges fee and pays direct referrer", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedAccount(t, "grand", nil, "0")
		env.seedAccount(t, "parent", strPtr("grand"), "0")
		env.seedAccount(t, "user", strPtr("parent"), "150")

		a, err := env.clicks.ActivateClickingTask(ctx, "user")
		require.NoError(t, err)
		assert.True(t, a.ClickingTaskActivated)
		assertDec(t, "50", env.account(t, "user").WalletBalance)

		fees := env.transactions(t, "user", models.TxClickingActivation)
		require.Len(t, fees, 1)
		assertDec(t, "-100", fees[0].Amount)

		assertDec(t, "10", env.account(t, "parent").DirectReferralEarnings)
		assert.True(t, env.account(t, "grand").ReferralEarnings().IsZero())

		_, err = env.clicks.ActivateClickingTask(ctx, "user")
		assert.ErrorIs(t, err, ErrAlreadyActivated)
		assertDec(t, "50", env.account(t, "user").WalletBalance)
	})

	t.Run("insufficient wallet", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedAccount(t, "user", nil, "99.99")

		_, err := env.clicks.ActivateClickingTask(ctx, "user")
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.Equal(t, KindInsufficientBalance, KindOf(err))

		a := env.account(t, "user")
		assert.False(t, a.ClickingTaskActivated)
		assertDec(t, "99.99", a.WalletBalance)
	})
}
