package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Withdrawal source buckets
const (
	SourceDirectIndirect = "direct_indirect"
	SourceClickEarnings  = "click_earnings"
	SourceSharedCapital  = "shared_capital"
	SourceWallet         = "wallet" // legacy, debited on approval
)

// Withdrawal status
const (
	WithdrawalPending   = "pending"
	WithdrawalCompleted = "completed"
	WithdrawalRejected  = "rejected"
)

// Allocation components
const (
	ComponentEarnings  = "earnings"
	ComponentPrincipal = "principal"
	ComponentBucket    = "bucket"
)

type Withdrawal struct {
	ID                       string          `json:"id" db:"id"`
	AccountID                string          `json:"account_id" db:"account_id"`
	Amount                   decimal.Decimal `json:"amount" db:"amount"`
	SourceBucket             string          `json:"source_bucket" db:"source_bucket"`
	Method                   string          `json:"method" db:"method"`
	DestinationAccountNumber string          `json:"destination_account_number" db:"destination_account_number"`
	DestinationAccountName   string          `json:"destination_account_name" db:"destination_account_name"`
	Status                   string          `json:"status" db:"status"`
	Allocations              Allocations     `json:"allocations,omitempty" db:"allocations"`
	RequestedAt              time.Time       `json:"requested_at" db:"requested_at"`
	ProcessedAt              *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
	Version                  int             `json:"version" db:"version"`
}

// Allocation records where part of a reservation was taken from, so a
// rejection can put it back in the same place.
type Allocation struct {
	PackageID string          `json:"package_id,omitempty"`
	Bucket    Bucket          `json:"bucket,omitempty"`
	Component string          `json:"component"`
	Amount    decimal.Decimal `json:"amount"`
}

// Allocations type for JSONB fields
type Allocations []Allocation

// Value implements driver.Valuer for Allocations
func (a Allocations) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	return json.Marshal(a)
}

// Scan implements sql.Scanner for Allocations
func (a *Allocations) Scan(value any) error {
	if value == nil {
		*a = nil
		return nil
	}

	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(b, a)
}

// Total sums the allocated amounts.
func (a Allocations) Total() decimal.Decimal {
	total := decimal.Zero
	for _, al := range a {
		total = total.Add(al.Amount)
	}
	return total
}
