// Package memory provides an in-process account store.
//
// It applies the same conditional-update rules as the SQL store and doubles as
// its own transaction runner: a transaction holds the store mutex and restores
// a snapshot if the function fails. Used by tests and the CLI demo mode.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"ledger"
	"ledger/store"
	"ledger/txn"
)

// Store implements store.Store and txn.Runner in memory.
type Store struct {
	mu sync.Mutex

	byNumber map[string]*store.Account
	byID     map[int64]string

	accountChanges []*store.AccountChangeLog
	balanceChanges []*store.BalanceChangeLog
	transfers      []*store.TransferLog
	nextLogID      int64
}

var (
	_ store.Store = (*Store)(nil)
	_ txn.Runner  = (*Store)(nil)
)

// New creates an empty Store.
func New() *Store {
	return &Store{
		byNumber: make(map[string]*store.Account),
		byID:     make(map[int64]string),
	}
}

// ============================================================================
// Transactions
// ============================================================================

type txKey struct{}

type txState struct {
	owner    *Store
	readOnly bool
}

type snapshot struct {
	byNumber       map[string]*store.Account
	byID           map[int64]string
	accountChanges int
	balanceChanges int
	transfers      int
	nextLogID      int64
}

// WithTransaction runs fn with the store locked. If fn returns an error or
// panics every write made through ctx is undone.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	defer func() {
		if p := recover(); p != nil {
			s.restore(snap)
			panic(p)
		}
		if err != nil {
			s.restore(snap)
		}
	}()

	return fn(context.WithValue(ctx, txKey{}, &txState{owner: s}))
}

// ReadOnly runs fn with the store locked; writes through ctx are rejected.
func (s *Store) ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return fn(context.WithValue(ctx, txKey{}, &txState{owner: s, readOnly: true}))
}

func (s *Store) txState(ctx context.Context) *txState {
	st, ok := ctx.Value(txKey{}).(*txState)
	if !ok || st.owner != s {
		return nil
	}
	return st
}

func (s *Store) inTx(ctx context.Context) bool {
	return s.txState(ctx) != nil
}

// enter locks the store unless ctx already holds it and returns the unlock
// function. Writes inside a read-only transaction fail.
func (s *Store) enter(ctx context.Context, write bool) (func(), error) {
	if st := s.txState(ctx); st != nil {
		if write && st.readOnly {
			return nil, ledger.Errorf(ledger.KindInfrastructure, "write in read-only transaction")
		}
		return func() {}, nil
	}
	s.mu.Lock()
	return s.mu.Unlock, nil
}

func (s *Store) snapshot() snapshot {
	snap := snapshot{
		byNumber:       make(map[string]*store.Account, len(s.byNumber)),
		byID:           make(map[int64]string, len(s.byID)),
		accountChanges: len(s.accountChanges),
		balanceChanges: len(s.balanceChanges),
		transfers:      len(s.transfers),
		nextLogID:      s.nextLogID,
	}
	for k, a := range s.byNumber {
		snap.byNumber[k] = a.Clone()
	}
	for k, v := range s.byID {
		snap.byID[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.byNumber = snap.byNumber
	s.byID = snap.byID
	s.accountChanges = s.accountChanges[:snap.accountChanges]
	s.balanceChanges = s.balanceChanges[:snap.balanceChanges]
	s.transfers = s.transfers[:snap.transfers]
	s.nextLogID = snap.nextLogID
}

// ============================================================================
// Account Queries
// ============================================================================

func (s *Store) FindByAccountNumber(ctx context.Context, accountNumber string) (*store.Account, error) {
	unlock, err := s.enter(ctx, false)
	if err != nil {
		return nil, err
	}
	defer unlock()

	a, ok := s.byNumber[accountNumber]
	if !ok {
		return nil, ledger.Errorf(ledger.KindNotFound, "account %s not found", accountNumber)
	}
	return a.Clone(), nil
}

func (s *Store) FindByStateBeforeID(ctx context.Context, state ledger.AccountState, cursorID int64, limit int) ([]*store.Account, error) {
	unlock, err := s.enter(ctx, false)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var matched []*store.Account
	for _, a := range s.byNumber {
		if a.State == state && a.ID < cursorID {
			matched = append(matched, a)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	if len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]*store.Account, len(matched))
	for i, a := range matched {
		out[i] = a.Clone()
	}
	return out, nil
}

func (s *Store) Insert(ctx context.Context, a *store.Account) error {
	unlock, err := s.enter(ctx, true)
	if err != nil {
		return err
	}
	defer unlock()

	if _, exists := s.byNumber[a.AccountNumber]; exists {
		return ledger.Errorf(ledger.KindDuplicate, "account with number %s already exists", a.AccountNumber)
	}
	if _, exists := s.byID[a.ID]; exists {
		return ledger.Errorf(ledger.KindDuplicate, "account id %d already exists", a.ID)
	}

	s.byNumber[a.AccountNumber] = a.Clone()
	s.byID[a.ID] = a.AccountNumber
	return nil
}

// ============================================================================
// Conditional Updates
// ============================================================================

// match returns the row addressed by key if all its preconditions hold.
func (s *Store) match(key store.CASKey) *store.Account {
	a, ok := s.byNumber[key.AccountNumber]
	if !ok || a.ID != key.ID || a.State != key.ExpectedState || a.Version != key.ExpectedVersion {
		return nil
	}
	return a
}

func (s *Store) UpdateInfo(ctx context.Context, u store.InfoUpdate) (int64, error) {
	unlock, err := s.enter(ctx, true)
	if err != nil {
		return 0, err
	}
	defer unlock()

	a := s.match(u.CASKey)
	if a == nil {
		return 0, nil
	}
	a.OwnerName = u.OwnerName
	a.ContactInfo = u.ContactInfo
	a.Version = u.NewVersion
	a.UpdatedAt = u.At
	return 1, nil
}

func (s *Store) TransitionState(ctx context.Context, t store.StateTransition) (int64, error) {
	unlock, err := s.enter(ctx, true)
	if err != nil {
		return 0, err
	}
	defer unlock()

	a := s.match(t.CASKey)
	if a == nil {
		return 0, nil
	}
	if t.NewState == ledger.StateClosed {
		if !a.Balance.IsZero() {
			return 0, nil
		}
		at := t.At
		a.DeletedAt = &at
	}
	a.State = t.NewState
	a.Version = t.NewVersion
	a.UpdatedAt = t.At
	return 1, nil
}

func (s *Store) Debit(ctx context.Context, u store.BalanceUpdate) (int64, error) {
	unlock, err := s.enter(ctx, true)
	if err != nil {
		return 0, err
	}
	defer unlock()

	a := s.match(u.CASKey)
	if a == nil || !a.Balance.Equal(u.ExpectedBalance) || a.Balance.LessThan(u.Amount) {
		return 0, nil
	}
	s.applyBalance(a, a.Balance.Sub(u.Amount), u)
	return 1, nil
}

func (s *Store) Credit(ctx context.Context, u store.BalanceUpdate) (int64, error) {
	unlock, err := s.enter(ctx, true)
	if err != nil {
		return 0, err
	}
	defer unlock()

	a := s.match(u.CASKey)
	if a == nil || !a.Balance.Equal(u.ExpectedBalance) {
		return 0, nil
	}
	s.applyBalance(a, a.Balance.Add(u.Amount), u)
	return 1, nil
}

func (s *Store) applyBalance(a *store.Account, balance decimal.Decimal, u store.BalanceUpdate) {
	at := u.At
	a.Balance = balance
	a.BalanceAt = &at
	a.Version = u.NewVersion
	a.UpdatedAt = u.At
}

// ============================================================================
// Audit Trail
// ============================================================================

func (s *Store) AppendAccountChange(ctx context.Context, l *store.AccountChangeLog) error {
	unlock, err := s.enter(ctx, true)
	if err != nil {
		return err
	}
	defer unlock()

	s.nextLogID++
	l.ID = s.nextLogID
	c := *l
	s.accountChanges = append(s.accountChanges, &c)
	return nil
}

func (s *Store) AppendBalanceChange(ctx context.Context, l *store.BalanceChangeLog) error {
	unlock, err := s.enter(ctx, true)
	if err != nil {
		return err
	}
	defer unlock()

	s.nextLogID++
	l.ID = s.nextLogID
	c := *l
	s.balanceChanges = append(s.balanceChanges, &c)
	return nil
}

func (s *Store) AppendTransfer(ctx context.Context, l *store.TransferLog) error {
	unlock, err := s.enter(ctx, true)
	if err != nil {
		return err
	}
	defer unlock()

	s.nextLogID++
	l.ID = s.nextLogID
	c := *l
	s.transfers = append(s.transfers, &c)
	return nil
}

// ============================================================================
// Inspection
// ============================================================================

// Accounts returns a copy of every account, in any state.
func (s *Store) Accounts() []*store.Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*store.Account, 0, len(s.byNumber))
	for _, a := range s.byNumber {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AccountChanges returns the account change records for accountNumber in write order.
func (s *Store) AccountChanges(accountNumber string) []store.AccountChangeLog {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.AccountChangeLog
	for _, l := range s.accountChanges {
		if l.AccountNumber == accountNumber {
			out = append(out, *l)
		}
	}
	return out
}

// BalanceChanges returns the balance change records for accountNumber in write order.
func (s *Store) BalanceChanges(accountNumber string) []store.BalanceChangeLog {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.BalanceChangeLog
	for _, l := range s.balanceChanges {
		if l.AccountNumber == accountNumber {
			out = append(out, *l)
		}
	}
	return out
}

// Transfers returns every transfer record in write order.
func (s *Store) Transfers() []store.TransferLog {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]store.TransferLog, len(s.transfers))
	for i, l := range s.transfers {
		out[i] = *l
	}
	return out
}
