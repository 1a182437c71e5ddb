package services

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/earnhub/backend/internal/audit"
	"github.com/earnhub/backend/internal/config"
	"github.com/earnhub/backend/internal/database"
	"github.com/earnhub/backend/internal/gateway"
	"github.com/earnhub/backend/internal/models"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPaymentGateway struct {
	mock.Mock
}

func (m *MockPaymentGateway) CreatePaymentIntent(ctx context.Context, accountID string, amount decimal.Decimal) (*gateway.PaymentIntent, error) {
	args := m.Called(ctx, accountID, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.PaymentIntent), args.Error(1)
}

func (m *MockPaymentGateway) GetStatus(ctx context.Context, intentID string) (string, error) {
	args := m.Called(ctx, intentID)
	return args.String(0), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) OnEarningsChanged(ctx context.Context, accountID string, summary EarningsSummary) error {
	args := m.Called(ctx, accountID, summary)
	return args.Error(0)
}

func commissionSummary(accountID string) any {
	return mock.MatchedBy(func(s EarningsSummary) bool {
		return s.AccountID == accountID && s.Event == string(models.TxReferralCommission)
	})
}

// testEnv wires every service on one MemoryStore with default settings.
type testEnv struct {
	store       *database.MemoryStore
	cfg         *config.EarningsConfig
	ledger      *LedgerService
	commissions *CommissionService
	packages    *PackageService
	clicks      *ClickService
	withdrawals *WithdrawalService
	clock       time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.DefaultEarningsConfig()
	provider, err := config.NewStaticProvider(cfg)
	require.NoError(t, err)

	logger := zerolog.New(io.Discard)
	auditLogger := audit.NewLogger(logger)
	store := database.NewMemoryStore()

	env := &testEnv{
		store: store,
		cfg:   cfg,
		clock: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	env.ledger = NewLedgerService(store, auditLogger, logger)
	env.commissions = NewCommissionService(store, provider, nil, auditLogger, logger)
	env.packages = NewPackageService(store, provider, env.commissions, nil, auditLogger, logger)
	env.clicks = NewClickService(store, provider, env.commissions, nil, auditLogger, logger)
	env.withdrawals = NewWithdrawalService(store, provider, nil, auditLogger, logger)

	now := func() time.Time { return env.clock }
	env.ledger.now = now
	env.commissions.now = now
	env.packages.now = now
	env.clicks.now = now
	env.withdrawals.now = now
	return env
}

// seedAccount stores an approved account with the given wallet balance.
func (e *testEnv) seedAccount(t *testing.T, id string, referrerID *string, wallet string, mutate ...func(a *models.Account)) *models.Account {
	t.Helper()
	a := &models.Account{
		ID:             id,
		ReferrerID:     referrerID,
		WalletBalance:  decimal.RequireFromString(wallet),
		IsActive:       true,
		ApprovalStatus: models.ApprovalApproved,
	}
	for _, fn := range mutate {
		fn(a)
	}
	err := e.store.WithinTx(context.Background(), func(tx database.Tx) error {
		return tx.CreateAccount(context.Background(), a)
	})
	require.NoError(t, err)
	return a
}

func (e *testEnv) account(t *testing.T, id string) *models.Account {
	t.Helper()
	a, err := e.store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return a
}

func (e *testEnv) pkg(t *testing.T, id string) *models.Package {
	t.Helper()
	p, err := e.store.GetPackage(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (e *testEnv) transactions(t *testing.T, accountID string, txType models.TransactionType) []*models.LedgerTransaction {
	t.Helper()
	all, err := e.store.ListTransactions(context.Background(), accountID)
	require.NoError(t, err)
	var out []*models.LedgerTransaction
	for _, lt := range all {
		if lt.Type == txType {
			out = append(out, lt)
		}
	}
	return out
}

func activated(a *models.Account) {
	a.ClickingTaskActivated = true
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
