package services

import (
	"errors"
	"fmt"

	"github.com/earnhub/backend/internal/config"
	"github.com/earnhub/backend/internal/database"
	"github.com/earnhub/backend/internal/models"
)

// ErrorKind classifies a failure for callers.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindValidation
	KindInsufficientBalance
	KindStateConflict
	KindNotFound
	KindPersistence
	KindUpstream
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindInsufficientBalance:
		return "insufficient_balance"
	case KindStateConflict:
		return "state_conflict"
	case KindNotFound:
		return "not_found"
	case KindPersistence:
		return "persistence"
	case KindUpstream:
		return "upstream"
	}
	return "unknown"
}

// LedgerError is the error type returned by the earnings services.
type LedgerError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *LedgerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

// Is matches on Code so wrapped copies compare equal to the sentinels.
func (e *LedgerError) Is(target error) bool {
	t, ok := target.(*LedgerError)
	return ok && t.Code == e.Code
}

var (
	ErrValidation               = &LedgerError{Kind: KindValidation, Code: "VALIDATION_FAILED", Message: "validation failed"}
	ErrInvalidAmount            = &LedgerError{Kind: KindValidation, Code: "INVALID_AMOUNT", Message: "amount must be greater than zero"}
	ErrInvalidSource            = &LedgerError{Kind: KindValidation, Code: "INVALID_SOURCE", Message: "unrecognised withdrawal source"}
	ErrInvalidPackageParameters = &LedgerError{Kind: KindValidation, Code: "INVALID_PACKAGE_PARAMETERS", Message: "invalid package type or amount"}

	ErrInsufficientBalance = &LedgerError{Kind: KindInsufficientBalance, Code: "INSUFFICIENT_BALANCE", Message: "insufficient balance"}

	ErrPackageNotMatured    = &LedgerError{Kind: KindStateConflict, Code: "PACKAGE_NOT_MATURED", Message: "package has not matured"}
	ErrAlreadyClaimed       = &LedgerError{Kind: KindStateConflict, Code: "ALREADY_CLAIMED", Message: "package already claimed"}
	ErrPackageNotClaimable  = &LedgerError{Kind: KindStateConflict, Code: "PACKAGE_NOT_CLAIMABLE", Message: "package cannot be claimed"}
	ErrNotPending           = &LedgerError{Kind: KindStateConflict, Code: "NOT_PENDING", Message: "withdrawal already processed"}
	ErrAlreadyActivated     = &LedgerError{Kind: KindStateConflict, Code: "ALREADY_ACTIVATED", Message: "clicking task already activated"}
	ErrClickingNotActivated = &LedgerError{Kind: KindStateConflict, Code: "CLICKING_NOT_ACTIVATED", Message: "clicking task not activated"}
	ErrAccountInactive      = &LedgerError{Kind: KindStateConflict, Code: "ACCOUNT_INACTIVE", Message: "account is not active"}
	ErrAccountExists        = &LedgerError{Kind: KindStateConflict, Code: "ACCOUNT_EXISTS", Message: "account already exists"}

	ErrAccountNotFound    = &LedgerError{Kind: KindNotFound, Code: "ACCOUNT_NOT_FOUND", Message: "account not found"}
	ErrPackageNotFound    = &LedgerError{Kind: KindNotFound, Code: "PACKAGE_NOT_FOUND", Message: "package not found"}
	ErrWithdrawalNotFound = &LedgerError{Kind: KindNotFound, Code: "WITHDRAWAL_NOT_FOUND", Message: "withdrawal not found"}
	ErrTopUpNotFound      = &LedgerError{Kind: KindNotFound, Code: "TOPUP_NOT_FOUND", Message: "top-up not found"}

	ErrPersistence       = &LedgerError{Kind: KindPersistence, Code: "PERSISTENCE_FAILURE", Message: "storage failure"}
	ErrUpstream          = &LedgerError{Kind: KindUpstream, Code: "UPSTREAM_FAILURE", Message: "upstream service unavailable"}
	ErrConfigUnavailable = &LedgerError{Kind: KindUpstream, Code: "CONFIG_UNAVAILABLE", Message: "earnings configuration unavailable"}
)

// wrapErr returns a copy of sentinel carrying cause.
func wrapErr(sentinel *LedgerError, cause error) *LedgerError {
	return &LedgerError{Kind: sentinel.Kind, Code: sentinel.Code, Message: sentinel.Message, Err: cause}
}

// withDetail returns a copy of sentinel with a more specific message.
func withDetail(sentinel *LedgerError, format string, args ...any) *LedgerError {
	return &LedgerError{
		Kind:    sentinel.Kind,
		Code:    sentinel.Code,
		Message: fmt.Sprintf("%s: %s", sentinel.Message, fmt.Sprintf(format, args...)),
	}
}

// storeErr maps a persistence layer error onto the taxonomy. Errors that are
// already ledger errors pass through untouched.
func storeErr(err error, notFound *LedgerError) error {
	if err == nil {
		return nil
	}
	var le *LedgerError
	if errors.As(err, &le) {
		return err
	}
	if errors.Is(err, database.ErrNotFound) && notFound != nil {
		return notFound
	}
	return wrapErr(ErrPersistence, err)
}

// bucketErr maps an account bucket error.
func bucketErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrBucketUnderflow):
		return ErrInsufficientBalance
	default:
		return wrapErr(ErrValidation, err)
	}
}

func configErr(err error) error {
	if errors.Is(err, config.ErrConfigUnavailable) {
		return wrapErr(ErrConfigUnavailable, err)
	}
	return wrapErr(ErrUpstream, err)
}

// KindOf reports the kind of err, or KindUnknown when it is not a LedgerError.
func KindOf(err error) ErrorKind {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindUnknown
}
