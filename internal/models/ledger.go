package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Approval states for an account
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

// Bucket names one of the earning balances held on an account.
type Bucket string

const (
	BucketWallet           Bucket = "wallet"
	BucketClickEarnings    Bucket = "click_earnings"
	BucketDirectReferral   Bucket = "referral_direct"
	BucketIndirectReferral Bucket = "referral_indirect"
	BucketSharedEarnings   Bucket = "shared_earnings"
)

var (
	// ErrNegativeAmount is returned when a credit or debit is called with a negative amount
	ErrNegativeAmount = errors.New("amount must not be negative")

	// ErrBucketUnderflow is returned when a debit would take a bucket below zero
	ErrBucketUnderflow = errors.New("insufficient funds in bucket")

	// ErrUnknownBucket is returned for a bucket name the ledger does not hold
	ErrUnknownBucket = errors.New("unknown bucket")
)

type Account struct {
	ID                       string          `json:"id" db:"id"`
	ReferrerID               *string         `json:"referrer_id,omitempty" db:"referrer_id"`
	WalletBalance            decimal.Decimal `json:"wallet_balance" db:"wallet_balance"`
	ClickEarnings            decimal.Decimal `json:"click_earnings" db:"click_earnings"`
	DirectReferralEarnings   decimal.Decimal `json:"direct_referral_earnings" db:"direct_referral_earnings"`
	IndirectReferralEarnings decimal.Decimal `json:"indirect_referral_earnings" db:"indirect_referral_earnings"`
	SharedEarnings           decimal.Decimal `json:"shared_earnings" db:"shared_earnings"`
	TotalWithdrawn           decimal.Decimal `json:"total_withdrawn" db:"total_withdrawn"`
	DailyClickCount          int             `json:"daily_click_count" db:"daily_click_count"`
	DailyClickEarnings       decimal.Decimal `json:"daily_click_earnings" db:"daily_click_earnings"`
	LastClickReset           *time.Time      `json:"last_click_reset,omitempty" db:"last_click_reset"`
	LastClickAt              *time.Time      `json:"last_click_at,omitempty" db:"last_click_at"`
	ClickingTaskActivated    bool            `json:"clicking_task_activated" db:"clicking_task_activated"`
	IsActive                 bool            `json:"is_active" db:"is_active"`
	ApprovalStatus           string          `json:"approval_status" db:"approval_status"`
	Version                  int             `json:"version" db:"version"` // for optimistic locking
	CreatedAt                time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt                time.Time       `json:"updated_at" db:"updated_at"`
}

// Balance returns the current value of a bucket.
func (a *Account) Balance(b Bucket) (decimal.Decimal, error) {
	p, err := a.bucket(b)
	if err != nil {
		return decimal.Zero, err
	}
	return *p, nil
}

// Credit adds amount to the bucket.
func (a *Account) Credit(b Bucket, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	p, err := a.bucket(b)
	if err != nil {
		return err
	}
	*p = p.Add(amount)
	return nil
}

// Debit removes amount from the bucket. The bucket is left untouched when
// it holds less than amount.
func (a *Account) Debit(b Bucket, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	p, err := a.bucket(b)
	if err != nil {
		return err
	}
	if p.LessThan(amount) {
		return ErrBucketUnderflow
	}
	*p = p.Sub(amount)
	return nil
}

// ReferralEarnings is the combined direct and indirect referral balance.
func (a *Account) ReferralEarnings() decimal.Decimal {
	return a.DirectReferralEarnings.Add(a.IndirectReferralEarnings)
}

// Validate reports whether every bucket is non-negative.
func (a *Account) Validate() error {
	for _, v := range []decimal.Decimal{
		a.WalletBalance, a.ClickEarnings, a.DirectReferralEarnings,
		a.IndirectReferralEarnings, a.SharedEarnings, a.TotalWithdrawn, a.DailyClickEarnings,
	} {
		if v.IsNegative() {
			return ErrBucketUnderflow
		}
	}
	return nil
}

func (a *Account) bucket(b Bucket) (*decimal.Decimal, error) {
	switch b {
	case BucketWallet:
		return &a.WalletBalance, nil
	case BucketClickEarnings:
		return &a.ClickEarnings, nil
	case BucketDirectReferral:
		return &a.DirectReferralEarnings, nil
	case BucketIndirectReferral:
		return &a.IndirectReferralEarnings, nil
	case BucketSharedEarnings:
		return &a.SharedEarnings, nil
	}
	return nil, ErrUnknownBucket
}

// TransactionType identifies the kind of ledger movement
type TransactionType string

const (
	TxPackagePurchase     TransactionType = "package_purchase"
	TxPackageMatured      TransactionType = "package_matured"
	TxPackageClaim        TransactionType = "package_claim"
	TxReferralCommission  TransactionType = "referral_commission"
	TxClickReward         TransactionType = "click_reward"
	TxClickingActivation  TransactionType = "clicking_task_activation"
	TxWithdrawalRequest   TransactionType = "withdrawal_request"
	TxWithdrawalCompleted TransactionType = "withdrawal_completed"
	TxWithdrawalRejected  TransactionType = "withdrawal_rejected"
	TxWalletTopUp         TransactionType = "wallet_topup"
)

// Ledger transaction status
const (
	TxStatusPending   = "pending"
	TxStatusCompleted = "completed"
	TxStatusFailed    = "failed"
)

// LedgerTransaction is an append-only audit record. Only Status changes after
// insert, and only for gateway-backed top-ups.
type LedgerTransaction struct {
	ID                  string          `json:"id" db:"id"`
	AccountID           string          `json:"account_id" db:"account_id"`
	Type                TransactionType `json:"type" db:"type"`
	Amount              decimal.Decimal `json:"amount" db:"amount"` // signed
	RelatedAccountID    *string         `json:"related_account_id,omitempty" db:"related_account_id"`
	RelatedWithdrawalID *string         `json:"related_withdrawal_id,omitempty" db:"related_withdrawal_id"`
	RelatedPackageID    *string         `json:"related_package_id,omitempty" db:"related_package_id"`
	ReferralLevel       *int            `json:"referral_level,omitempty" db:"referral_level"`
	Reference           *string         `json:"reference,omitempty" db:"reference"`
	Description         string          `json:"description" db:"description"`
	Status              string          `json:"status" db:"status"`
	CreatedAt           time.Time       `json:"created_at" db:"created_at"`
}
