package services

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/earnhub/backend/internal/audit"
	"github.com/earnhub/backend/internal/gateway"
	"github.com/earnhub/backend/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTopUpService(env *testEnv, gw PaymentGateway) *TopUpService {
	logger := zerolog.New(io.Discard)
	s := NewTopUpService(env.store, gw, nil, audit.NewLogger(logger), logger)
	s.now = func() time.Time { return env.clock }
	return s
}

func TestTopUpService_CreateAndConfirm(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeded intent credits the wallet once", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedAccount(t, "user", nil, "10")

		gw := &MockPaymentGateway{}
		gw.On("CreatePaymentIntent", ctx, "user", dec("250")).
			Return(&gateway.PaymentIntent{ID: "pi_1", Status: gateway.StatusPending}, nil).Once()
		gw.On("GetStatus", ctx, "pi_1").Return(gateway.StatusSucceeded, nil)
		s := newTopUpService(env, gw)

		intent, err := s.CreateTopUp(ctx, "user", dec("250"))
		require.NoError(t, err)
		assert.Equal(t, "pi_1", intent.ID)

		pending := env.transactions(t, "user", models.TxWalletTopUp)
		require.Len(t, pending, 1)
		assert.Equal(t, models.TxStatusPending, pending[0].Status)
		assertDec(t, "10", env.account(t, "user").WalletBalance)

		lt, err := s.ConfirmTopUp(ctx, "user", "pi_1")
		require.NoError(t, err)
		assert.Equal(t, models.TxStatusCompleted, lt.Status)
		assertDec(t, "260", env.account(t, "user").WalletBalance)

		again, err := s.ConfirmTopUp(ctx, "user", "pi_1")
		require.NoError(t, err)
		assert.Equal(t, models.TxStatusCompleted, again.Status)
		assertDec(t, "260", env.account(t, "user").WalletBalance)

		completed := env.transactions(t, "user", models.TxWalletTopUp)
		require.Len(t, completed, 1)
		assert.Equal(t, models.TxStatusCompleted, completed[0].Status)
		gw.AssertExpectations(t)
	})

	t.Run("another account cannot settle the top-up", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedAccount(t, "user", nil, "10")
		env.seedAccount(t, "intruder", nil, "0")

		gw := &MockPaymentGateway{}
		gw.On("CreatePaymentIntent", ctx, "user", dec("40")).
			Return(&gateway.PaymentIntent{ID: "pi_4", Status: gateway.StatusPending}, nil)
		gw.On("GetStatus", ctx, "pi_4").Return(gateway.StatusSucceeded, nil)
		s := newTopUpService(env, gw)

		_, err := s.CreateTopUp(ctx, "user", dec("40"))
		require.NoError(t, err)

		_, err = s.ConfirmTopUp(ctx, "intruder", "pi_4")
		assert.ErrorIs(t, err, ErrTopUpNotFound)

		pending := env.transactions(t, "user", models.TxWalletTopUp)
		require.Len(t, pending, 1)
		assert.Equal(t, models.TxStatusPending, pending[0].Status)
		assertDec(t, "10", env.account(t, "user").WalletBalance)
		assert.True(t, env.account(t, "intruder").WalletBalance.IsZero())

		lt, err := s.ConfirmTopUp(ctx, "user", "pi_4")
		require.NoError(t, err)
		assert.Equal(t, models.TxStatusCompleted, lt.Status)
		assertDec(t, "50", env.account(t, "user").WalletBalance)
	})

	t.Run("failed intent marks the top-up failed", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedAccount(t, "user", nil, "0")

		gw := &MockPaymentGateway{}
		gw.On("CreatePaymentIntent", ctx, "user", dec("50")).
			Return(&gateway.PaymentIntent{ID: "pi_2", Status: gateway.StatusPending}, nil)
		gw.On("GetStatus", ctx, "pi_2").Return(gateway.StatusFailed, nil)
		s := newTopUpService(env, gw)

		_, err := s.CreateTopUp(ctx, "user", dec("50"))
		require.NoError(t, err)

		lt, err := s.ConfirmTopUp(ctx, "user", "pi_2")
		require.NoError(t, err)
		assert.Equal(t, models.TxStatusFailed, lt.Status)
		assert.True(t, env.account(t, "user").WalletBalance.IsZero())
	})

	t.Run("still pending leaves everything unchanged", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedAccount(t, "user", nil, "0")

		gw := &MockPaymentGateway{}
		gw.On("CreatePaymentIntent", ctx, "user", dec("50")).
			Return(&gateway.PaymentIntent{ID: "pi_3", Status: gateway.StatusPending}, nil)
		gw.On("GetStatus", ctx, "pi_3").Return(gateway.StatusPending, nil)
		s := newTopUpService(env, gw)

		_, err := s.CreateTopUp(ctx, "user", dec("50"))
		require.NoError(t, err)

		lt, err := s.ConfirmTopUp(ctx, "user", "pi_3")
		require.NoError(t, err)
		assert.Equal(t, models.TxStatusPending, lt.Status)
		assert.True(t, env.account(t, "user").WalletBalance.IsZero())
	})
}

func TestTopUpService_Errors(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedAccount(t, "user", nil, "0")

	gw := &MockPaymentGateway{}
	gw.On("CreatePaymentIntent", ctx, "user", mock.Anything).Return(nil, errors.New("gateway timeout"))
	gw.On("GetStatus", ctx, "pi_unknown").Return(gateway.StatusSucceeded, nil)
	gw.On("GetStatus", ctx, "pi_broken").Return("", errors.New("gateway timeout"))
	s := newTopUpService(env, gw)

	_, err := s.CreateTopUp(ctx, "user", dec("0"))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = s.CreateTopUp(ctx, "ghost", dec("10"))
	assert.ErrorIs(t, err, ErrAccountNotFound)

	_, err = s.CreateTopUp(ctx, "user", dec("10"))
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Equal(t, KindUpstream, KindOf(err))
	assert.Empty(t, env.transactions(t, "user", models.TxWalletTopUp))

	_, err = s.ConfirmTopUp(ctx, "user", "pi_unknown")
	assert.ErrorIs(t, err, ErrTopUpNotFound)

	_, err = s.ConfirmTopUp(ctx, "user", "pi_broken")
	assert.Equal(t, KindUpstream, KindOf(err))
}
