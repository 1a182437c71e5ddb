package audit

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	Reference string            `json:"reference"`
	AccountID string            `json:"account_id"`
	Amount    decimal.Decimal   `json:"amount"`
	Status    string            `json:"status"`
	Details   map[string]string `json:"details,omitempty"`
}

// Logger writes ledger audit events as structured log lines.
type Logger struct {
	logger zerolog.Logger
}

func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{logger: logger.With().Str("component", "audit").Logger()}
}

// LogCredit records money moving into a bucket.
func (a *Logger) LogCredit(reference, accountID, bucket string, amount decimal.Decimal) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "CREDIT",
		Reference: reference,
		AccountID: accountID,
		Amount:    amount,
		Status:    "SUCCESS",
		Details:   map[string]string{"bucket": bucket},
	})
}

// LogDebit records money leaving a bucket.
func (a *Logger) LogDebit(reference, accountID, bucket string, amount decimal.Decimal) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "DEBIT",
		Reference: reference,
		AccountID: accountID,
		Amount:    amount,
		Status:    "SUCCESS",
		Details:   map[string]string{"bucket": bucket},
	})
}

// LogOperation records a state change that moves no money.
func (a *Logger) LogOperation(reference, accountID, operation, details string) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: operation,
		Reference: reference,
		AccountID: accountID,
		Status:    "SUCCESS",
		Details:   map[string]string{"details": details},
	})
}

func (a *Logger) LogError(reference, accountID string, err error) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "ERROR",
		Reference: reference,
		AccountID: accountID,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *Logger) log(event Event) {
	e := a.logger.Info()
	if event.Status == "FAILED" {
		e = a.logger.Error()
	}
	e = e.Time("event_time", event.Timestamp).
		Str("event_type", event.EventType).
		Str("reference", event.Reference).
		Str("account_id", event.AccountID).
		Str("status", event.Status)
	if !event.Amount.IsZero() {
		e = e.Str("amount", event.Amount.String())
	}
	for k, v := range event.Details {
		e = e.Str(k, v)
	}
	e.Msg("AUDIT")
}
