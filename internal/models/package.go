package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Package status
const (
	PackageStatusActive    = "active"
	PackageStatusCompleted = "completed"
	PackageStatusRejected  = "rejected"
)

// Package is a fixed-term, fixed-return product bought from wallet balance.
type Package struct {
	ID                 string          `json:"id" db:"id"`
	AccountID          string          `json:"account_id" db:"account_id"`
	PackageType        int             `json:"package_type" db:"package_type"`
	PrincipalAmount    decimal.Decimal `json:"principal_amount" db:"principal_amount"`
	RemainingPrincipal decimal.Decimal `json:"remaining_principal" db:"remaining_principal"`
	DailyIncomeRate    decimal.Decimal `json:"daily_income_rate" db:"daily_income_rate"`
	StartDate          time.Time       `json:"start_date" db:"start_date"`
	EndDate            time.Time       `json:"end_date" db:"end_date"`
	LastAccrualAt      time.Time       `json:"last_accrual_at" db:"last_accrual_at"`
	AccruedEarnings    decimal.Decimal `json:"accrued_earnings" db:"accrued_earnings"`
	EarningsWithdrawn  decimal.Decimal `json:"earnings_withdrawn" db:"earnings_withdrawn"`
	Status             string          `json:"status" db:"status"`
	Claimed            bool            `json:"claimed" db:"claimed"`
	ClaimedAt          *time.Time      `json:"claimed_at,omitempty" db:"claimed_at"`
	Version            int             `json:"version" db:"version"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
}

// IsMatured reports whether now is at or past the end date.
func (p *Package) IsMatured(now time.Time) bool {
	return !now.Before(p.EndDate)
}

// CumulativeAccrued is everything ever accrued on the package, including the
// part already reserved by withdrawals.
func (p *Package) CumulativeAccrued() decimal.Decimal {
	return p.AccruedEarnings.Add(p.EarningsWithdrawn)
}

// Withdrawable is what a shared capital withdrawal can still draw from the package.
func (p *Package) Withdrawable() decimal.Decimal {
	if p.Claimed || p.Status == PackageStatusRejected {
		return decimal.Zero
	}
	return p.AccruedEarnings.Add(p.RemainingPrincipal)
}
