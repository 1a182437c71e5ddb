package database

import (
	"context"
	"errors"
	"time"

	"github.com/earnhub/backend/internal/models"
)

var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("record not found")

	// ErrOptimisticLock is returned when a row changed since it was read
	ErrOptimisticLock = errors.New("optimistic lock failed")

	// ErrAlreadyExists is returned when an insert hits an existing primary key
	ErrAlreadyExists = errors.New("record already exists")
)

// Store is the persistence layer of the earnings ledger. All balance
// mutations go through WithinTx; the plain getters are for reads only and
// must not be called from inside a transaction callback.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	GetAccount(ctx context.Context, id string) (*models.Account, error)
	GetPackage(ctx context.Context, id string) (*models.Package, error)
	ListPackagesByAccount(ctx context.Context, accountID string) ([]*models.Package, error)
	ListActivePackageIDs(ctx context.Context) ([]string, error)
	ListMaturedPackageIDs(ctx context.Context, now time.Time) ([]string, error)
	GetWithdrawal(ctx context.Context, id string) (*models.Withdrawal, error)
	ListWithdrawals(ctx context.Context, status string) ([]*models.Withdrawal, error)
	ListTransactions(ctx context.Context, accountID string) ([]*models.LedgerTransaction, error)
}

// Tx is a unit of work. Lock* methods take row locks that are held until
// the transaction ends; Update* methods fail with ErrOptimisticLock when the
// version no longer matches and bump the version on success.
type Tx interface {
	CreateAccount(ctx context.Context, account *models.Account) error
	LockAccount(ctx context.Context, id string) (*models.Account, error)
	UpdateAccount(ctx context.Context, account *models.Account) error

	InsertPackage(ctx context.Context, pkg *models.Package) error
	LockPackage(ctx context.Context, id string) (*models.Package, error)
	LockAccountPackages(ctx context.Context, accountID string) ([]*models.Package, error)
	UpdatePackage(ctx context.Context, pkg *models.Package) error

	InsertWithdrawal(ctx context.Context, w *models.Withdrawal) error
	LockWithdrawal(ctx context.Context, id string) (*models.Withdrawal, error)
	UpdateWithdrawal(ctx context.Context, w *models.Withdrawal) error

	InsertTransaction(ctx context.Context, t *models.LedgerTransaction) error
	LockTransactionByReference(ctx context.Context, reference string) (*models.LedgerTransaction, error)
	UpdateTransactionStatus(ctx context.Context, id, status string) error
}
