package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/earnhub/backend/internal/models"
)

// MemoryStore is a thread-safe in-memory Store. Transactions are
// serialised and work on copies that are applied only on commit.
type MemoryStore struct {
	txMu sync.Mutex   // one transaction at a time
	mu   sync.RWMutex // guards the maps below

	accounts     map[string]*models.Account
	packages     map[string]*models.Package
	withdrawals  map[string]*models.Withdrawal
	transactions []*models.LedgerTransaction

	// FailOn, when set, is consulted before each write inside a transaction.
	// A non-nil return aborts the write with that error.
	FailOn func(op, id string) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:    make(map[string]*models.Account),
		packages:    make(map[string]*models.Package),
		withdrawals: make(map[string]*models.Withdrawal),
	}
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{
		store:       s,
		accounts:    make(map[string]*models.Account),
		packages:    make(map[string]*models.Package),
		withdrawals: make(map[string]*models.Withdrawal),
		txStatus:    make(map[string]string),
	}

	if err := fn(tx); err != nil {
		return err
	}

	tx.commit()
	return nil
}

func (s *MemoryStore) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAccount(a), nil
}

func (s *MemoryStore) GetPackage(ctx context.Context, id string) (*models.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.packages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyPackage(p), nil
}

func (s *MemoryStore) ListPackagesByAccount(ctx context.Context, accountID string) ([]*models.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accountPackages(accountID), nil
}

func (s *MemoryStore) ListActivePackageIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pkgs []*models.Package
	for _, p := range s.packages {
		if p.Status == models.PackageStatusActive {
			pkgs = append(pkgs, p)
		}
	}
	sortPackages(pkgs)
	return packageIDs(pkgs), nil
}

func (s *MemoryStore) ListMaturedPackageIDs(ctx context.Context, now time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pkgs []*models.Package
	for _, p := range s.packages {
		if p.Status == models.PackageStatusActive && !p.EndDate.After(now) {
			pkgs = append(pkgs, p)
		}
	}
	sortPackages(pkgs)
	return packageIDs(pkgs), nil
}

func (s *MemoryStore) GetWithdrawal(ctx context.Context, id string) (*models.Withdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.withdrawals[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyWithdrawal(w), nil
}

func (s *MemoryStore) ListWithdrawals(ctx context.Context, status string) ([]*models.Withdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Withdrawal
	for _, w := range s.withdrawals {
		if status == "" || w.Status == status {
			out = append(out, copyWithdrawal(w))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out, nil
}

func (s *MemoryStore) ListTransactions(ctx context.Context, accountID string) ([]*models.LedgerTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.LedgerTransaction
	for _, t := range s.transactions {
		if t.AccountID == accountID {
			c := *t
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *MemoryStore) accountPackages(accountID string) []*models.Package {
	var pkgs []*models.Package
	for _, p := range s.packages {
		if p.AccountID == accountID {
			pkgs = append(pkgs, copyPackage(p))
		}
	}
	sortPackages(pkgs)
	return pkgs
}

type memoryTx struct {
	store *MemoryStore

	accounts     map[string]*models.Account
	packages     map[string]*models.Package
	withdrawals  map[string]*models.Withdrawal
	transactions []*models.LedgerTransaction
	txStatus     map[string]string
}

func (t *memoryTx) fail(op, id string) error {
	if t.store.FailOn == nil {
		return nil
	}
	return t.store.FailOn(op, id)
}

func (t *memoryTx) account(id string) (*models.Account, bool) {
	if a, ok := t.accounts[id]; ok {
		return a, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	a, ok := t.store.accounts[id]
	if !ok {
		return nil, false
	}
	return copyAccount(a), true
}

func (t *memoryTx) pkg(id string) (*models.Package, bool) {
	if p, ok := t.packages[id]; ok {
		return p, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	p, ok := t.store.packages[id]
	if !ok {
		return nil, false
	}
	return copyPackage(p), true
}

func (t *memoryTx) withdrawal(id string) (*models.Withdrawal, bool) {
	if w, ok := t.withdrawals[id]; ok {
		return w, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	w, ok := t.store.withdrawals[id]
	if !ok {
		return nil, false
	}
	return copyWithdrawal(w), true
}

func (t *memoryTx) CreateAccount(ctx context.Context, a *models.Account) error {
	if err := t.fail("CreateAccount", a.ID); err != nil {
		return err
	}
	if _, ok := t.account(a.ID); ok {
		return fmt.Errorf("%w: account %s", ErrAlreadyExists, a.ID)
	}
	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	t.accounts[a.ID] = copyAccount(a)
	return nil
}

func (t *memoryTx) LockAccount(ctx context.Context, id string) (*models.Account, error) {
	a, ok := t.account(id)
	if !ok {
		return nil, ErrNotFound
	}
	t.accounts[id] = a
	return copyAccount(a), nil
}

func (t *memoryTx) UpdateAccount(ctx context.Context, a *models.Account) error {
	if err := t.fail("UpdateAccount", a.ID); err != nil {
		return err
	}
	current, ok := t.account(a.ID)
	if !ok || current.Version != a.Version {
		return fmt.Errorf("%w for account %s", ErrOptimisticLock, a.ID)
	}
	a.Version++
	a.UpdatedAt = time.Now()
	t.accounts[a.ID] = copyAccount(a)
	return nil
}

func (t *memoryTx) InsertPackage(ctx context.Context, p *models.Package) error {
	if err := t.fail("InsertPackage", p.ID); err != nil {
		return err
	}
	if _, ok := t.pkg(p.ID); ok {
		return fmt.Errorf("%w: package %s", ErrAlreadyExists, p.ID)
	}
	t.packages[p.ID] = copyPackage(p)
	return nil
}

func (t *memoryTx) LockPackage(ctx context.Context, id string) (*models.Package, error) {
	p, ok := t.pkg(id)
	if !ok {
		return nil, ErrNotFound
	}
	t.packages[id] = p
	return copyPackage(p), nil
}

func (t *memoryTx) LockAccountPackages(ctx context.Context, accountID string) ([]*models.Package, error) {
	t.store.mu.RLock()
	ids := make(map[string]struct{})
	for id, p := range t.store.packages {
		if p.AccountID == accountID {
			ids[id] = struct{}{}
		}
	}
	t.store.mu.RUnlock()
	for id, p := range t.packages {
		if p.AccountID == accountID {
			ids[id] = struct{}{}
		}
	}

	var pkgs []*models.Package
	for id := range ids {
		p, _ := t.pkg(id)
		t.packages[id] = p
		pkgs = append(pkgs, copyPackage(p))
	}
	sortPackages(pkgs)
	return pkgs, nil
}

func (t *memoryTx) UpdatePackage(ctx context.Context, p *models.Package) error {
	if err := t.fail("UpdatePackage", p.ID); err != nil {
		return err
	}
	current, ok := t.pkg(p.ID)
	if !ok || current.Version != p.Version {
		return fmt.Errorf("%w for package %s", ErrOptimisticLock, p.ID)
	}
	p.Version++
	p.UpdatedAt = time.Now()
	t.packages[p.ID] = copyPackage(p)
	return nil
}

func (t *memoryTx) InsertWithdrawal(ctx context.Context, w *models.Withdrawal) error {
	if err := t.fail("InsertWithdrawal", w.ID); err != nil {
		return err
	}
	if _, ok := t.withdrawal(w.ID); ok {
		return fmt.Errorf("%w: withdrawal %s", ErrAlreadyExists, w.ID)
	}
	t.withdrawals[w.ID] = copyWithdrawal(w)
	return nil
}

func (t *memoryTx) LockWithdrawal(ctx context.Context, id string) (*models.Withdrawal, error) {
	w, ok := t.withdrawal(id)
	if !ok {
		return nil, ErrNotFound
	}
	t.withdrawals[id] = w
	return copyWithdrawal(w), nil
}

func (t *memoryTx) UpdateWithdrawal(ctx context.Context, w *models.Withdrawal) error {
	if err := t.fail("UpdateWithdrawal", w.ID); err != nil {
		return err
	}
	current, ok := t.withdrawal(w.ID)
	if !ok || current.Version != w.Version {
		return fmt.Errorf("%w for withdrawal %s", ErrOptimisticLock, w.ID)
	}
	w.Version++
	t.withdrawals[w.ID] = copyWithdrawal(w)
	return nil
}

func (t *memoryTx) InsertTransaction(ctx context.Context, lt *models.LedgerTransaction) error {
	if err := t.fail("InsertTransaction", lt.AccountID); err != nil {
		return err
	}
	c := *lt
	t.transactions = append(t.transactions, &c)
	return nil
}

func (t *memoryTx) LockTransactionByReference(ctx context.Context, reference string) (*models.LedgerTransaction, error) {
	for _, lt := range t.transactions {
		if lt.Reference != nil && *lt.Reference == reference {
			c := *lt
			return &c, nil
		}
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for _, lt := range t.store.transactions {
		if lt.Reference != nil && *lt.Reference == reference {
			c := *lt
			if status, ok := t.txStatus[lt.ID]; ok {
				c.Status = status
			}
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memoryTx) UpdateTransactionStatus(ctx context.Context, id, status string) error {
	if err := t.fail("UpdateTransactionStatus", id); err != nil {
		return err
	}
	for _, lt := range t.transactions {
		if lt.ID == id {
			lt.Status = status
			return nil
		}
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for _, lt := range t.store.transactions {
		if lt.ID == id {
			t.txStatus[id] = status
			return nil
		}
	}
	return ErrNotFound
}

func (t *memoryTx) commit() {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, a := range t.accounts {
		s.accounts[id] = a
	}
	for id, p := range t.packages {
		s.packages[id] = p
	}
	for id, w := range t.withdrawals {
		s.withdrawals[id] = w
	}
	for _, lt := range s.transactions {
		if status, ok := t.txStatus[lt.ID]; ok {
			lt.Status = status
		}
	}
	s.transactions = append(s.transactions, t.transactions...)
}

func copyAccount(a *models.Account) *models.Account {
	c := *a
	return &c
}

func copyPackage(p *models.Package) *models.Package {
	c := *p
	return &c
}

func copyWithdrawal(w *models.Withdrawal) *models.Withdrawal {
	c := *w
	if w.Allocations != nil {
		c.Allocations = append(models.Allocations(nil), w.Allocations...)
	}
	return &c
}

func sortPackages(pkgs []*models.Package) {
	sort.Slice(pkgs, func(i, j int) bool {
		if pkgs[i].CreatedAt.Equal(pkgs[j].CreatedAt) {
			return pkgs[i].ID < pkgs[j].ID
		}
		return pkgs[i].CreatedAt.Before(pkgs[j].CreatedAt)
	})
}

func packageIDs(pkgs []*models.Package) []string {
	ids := make([]string, 0, len(pkgs))
	for _, p := range pkgs {
		ids = append(ids, p.ID)
	}
	return ids
}
