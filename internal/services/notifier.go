package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/earnhub/backend/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// EarningsSummary is the balance snapshot sent after a credit or restore.
type EarningsSummary struct {
	AccountID                string          `json:"account_id"`
	Event                    string          `json:"event"`
	WalletBalance            decimal.Decimal `json:"wallet_balance"`
	ClickEarnings            decimal.Decimal `json:"click_earnings"`
	DirectReferralEarnings   decimal.Decimal `json:"direct_referral_earnings"`
	IndirectReferralEarnings decimal.Decimal `json:"indirect_referral_earnings"`
	SharedEarnings           decimal.Decimal `json:"shared_earnings"`
	TotalWithdrawn           decimal.Decimal `json:"total_withdrawn"`
}

func summaryOf(a *models.Account, event models.TransactionType) EarningsSummary {
	return EarningsSummary{
		AccountID:                a.ID,
		Event:                    string(event),
		WalletBalance:            a.WalletBalance,
		ClickEarnings:            a.ClickEarnings,
		DirectReferralEarnings:   a.DirectReferralEarnings,
		IndirectReferralEarnings: a.IndirectReferralEarnings,
		SharedEarnings:           a.SharedEarnings,
		TotalWithdrawn:           a.TotalWithdrawn,
	}
}

// EarningsNotifier is told about committed balance changes.
type EarningsNotifier interface {
	OnEarningsChanged(ctx context.Context, accountID string, summary EarningsSummary) error
}

type NoopNotifier struct{}

func (NoopNotifier) OnEarningsChanged(ctx context.Context, accountID string, summary EarningsSummary) error {
	return nil
}

// RedisNotifier publishes summaries on the earnings:<accountID> channel.
type RedisNotifier struct {
	client *redis.Client
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func EarningsChannel(accountID string) string {
	return "earnings:" + accountID
}

func (n *RedisNotifier) OnEarningsChanged(ctx context.Context, accountID string, summary EarningsSummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode earnings summary: %w", err)
	}
	if err := n.client.Publish(ctx, EarningsChannel(accountID), string(payload)).Err(); err != nil {
		return fmt.Errorf("failed to publish earnings update: %w", err)
	}
	return nil
}

// notify fires the hook after a commit. Failures are logged only.
func notify(ctx context.Context, n EarningsNotifier, logger zerolog.Logger, a *models.Account, event models.TransactionType) {
	if n == nil || a == nil {
		return
	}
	if err := n.OnEarningsChanged(ctx, a.ID, summaryOf(a, event)); err != nil {
		logger.Warn().Err(err).Str("account_id", a.ID).Str("event", string(event)).Msg("Earnings notification failed")
	}
}
