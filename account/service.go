// Package account implements the account lifecycle: create, update, soft
// delete, lookup and listing.
//
// Every mutation takes the per-account lock, re-reads the row, and applies a
// conditional update together with its audit record in one transaction. A
// conditional update that matches no row aborts the transaction.
package account

import (
	"context"
	"math"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"ledger"
	"ledger/engine"
	"ledger/event"
	"ledger/money"
	"ledger/store"
)

// Field limits, in characters.
const (
	MaxAccountNumberLen = 32
	MaxOwnerIDLen       = 32
	MaxOwnerNameLen     = 64
	MaxContactInfoLen   = 64
)

// Operation names used for metrics, spans and events.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
	OpGet    = "get"
	OpList   = "list"
)

// CreateRequest describes a new account. InitialBalance is optional and
// defaults to zero.
type CreateRequest struct {
	AccountNumber  string             `json:"account_number"`
	AccountType    ledger.AccountType `json:"account_type"`
	OwnerID        string             `json:"owner_id"`
	OwnerName      string             `json:"owner_name"`
	ContactInfo    string             `json:"contact_info"`
	InitialBalance string             `json:"initial_balance,omitempty"`
}

// UpdateRequest replaces the owner name and contact info.
type UpdateRequest struct {
	OwnerName   string `json:"owner_name"`
	ContactInfo string `json:"contact_info"`
}

// ListRequest selects a page of active accounts. A zero Cursor starts from
// the newest account; a zero PageSize uses the configured default.
type ListRequest struct {
	Cursor   int64 `json:"cursor,string"`
	PageSize int   `json:"page_size"`
}

// Service is the account lifecycle manager.
type Service struct {
	eng *engine.Engine
}

// NewService creates a Service on eng.
func NewService(eng *engine.Engine) *Service {
	return &Service{eng: eng}
}

// Create opens an account in the Active state. The account row, its "open"
// change record and, for a non-zero initial balance, the opening balance
// record are written in one transaction.
func (s *Service) Create(ctx context.Context, req CreateRequest) (view *View, err error) {
	ctx, op := s.eng.Begin(ctx, OpCreate, req.AccountNumber)
	defer func() { op.End(ctx, err) }()
	log := op.Logger().With("account_number", req.AccountNumber)

	balance, err := money.ParseBalance(req.InitialBalance)
	if err != nil {
		log.WarnContext(ctx, "create account rejected", "error", err)
		return nil, err
	}
	if err = validateCreate(req); err != nil {
		log.WarnContext(ctx, "create account rejected", "error", err)
		return nil, err
	}

	release, err := s.eng.Lock(ctx, req.AccountNumber)
	if err != nil {
		log.ErrorContext(ctx, "create account failed", "error", err)
		return nil, err
	}
	defer release()

	if _, err = s.eng.Store().FindByAccountNumber(ctx, req.AccountNumber); err == nil {
		err = ledger.Errorf(ledger.KindDuplicate, "duplicate account found: %s", req.AccountNumber)
		log.WarnContext(ctx, "create account rejected", "error", err)
		return nil, err
	} else if ledger.KindOf(err) != ledger.KindNotFound {
		log.ErrorContext(ctx, "create account failed", "error", err)
		return nil, err
	}

	id, err := s.eng.NextID()
	if err != nil {
		return nil, err
	}
	version, err := s.eng.NextVersion()
	if err != nil {
		return nil, err
	}

	now := s.eng.Now()
	a := &store.Account{
		ID:            id,
		AccountNumber: req.AccountNumber,
		AccountType:   req.AccountType,
		OwnerID:       req.OwnerID,
		OwnerName:     req.OwnerName,
		ContactInfo:   req.ContactInfo,
		Balance:       balance,
		State:         ledger.StateActive,
		Version:       version,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if !balance.IsZero() {
		a.BalanceAt = &now
	}

	err = s.eng.InTx(ctx, func(ctx context.Context) error {
		if err := s.eng.Store().Insert(ctx, a); err != nil {
			return err
		}
		if err := s.eng.Store().AppendAccountChange(ctx, store.NewAccountChangeLog(nil, a, ledger.ChangeOpen, now)); err != nil {
			return err
		}
		if balance.IsZero() {
			return nil
		}
		opening := a.Clone()
		opening.Balance = decimal.Zero
		return s.eng.Store().AppendBalanceChange(ctx, store.NewBalanceChangeLog(opening, balance, ledger.BalanceOpen, now))
	})
	if err != nil {
		log.ErrorContext(ctx, "create account failed", "error", err)
		return nil, err
	}

	s.eng.Publish(ctx, event.NewEvent(event.EventAccountCreated).
		WithOperation(OpCreate).
		WithAccount(a.AccountNumber).
		WithData("balance", money.Display(a.Balance)))
	log.InfoContext(ctx, "account created", "account_id", a.ID)

	return NewView(a), nil
}

func validateCreate(req CreateRequest) error {
	if err := requireField("account number", req.AccountNumber, MaxAccountNumberLen); err != nil {
		return err
	}
	if !req.AccountType.IsValid() {
		return ledger.Errorf(ledger.KindValidation, "invalid account type %d while creating account %s",
			int(req.AccountType), req.AccountNumber)
	}
	if err := requireField("owner id", req.OwnerID, MaxOwnerIDLen); err != nil {
		return err
	}
	if err := requireField("owner name", req.OwnerName, MaxOwnerNameLen); err != nil {
		return err
	}
	return requireField("contact info", req.ContactInfo, MaxContactInfoLen)
}

func requireField(name, value string, maxLen int) error {
	if value == "" {
		return ledger.Errorf(ledger.KindValidation, "%s cannot be empty", name)
	}
	if n := utf8.RuneCountInString(value); n > maxLen {
		return ledger.Errorf(ledger.KindValidation, "%s length %d exceeds %d", name, n, maxLen)
	}
	return nil
}

// Update replaces owner name and contact info. Unchanged values return the
// current snapshot without a new version.
func (s *Service) Update(ctx context.Context, accountNumber string, req UpdateRequest) (view *View, err error) {
	ctx, op := s.eng.Begin(ctx, OpUpdate, accountNumber)
	defer func() { op.End(ctx, err) }()
	log := op.Logger().With("account_number", accountNumber)

	release, err := s.eng.Lock(ctx, accountNumber)
	if err != nil {
		log.ErrorContext(ctx, "update account failed", "error", err)
		return nil, err
	}
	defer release()

	current, err := s.eng.Store().FindByAccountNumber(ctx, accountNumber)
	if err != nil {
		log.WarnContext(ctx, "update account rejected", "error", err)
		return nil, err
	}
	if current.State == ledger.StateClosed {
		err = ledger.Errorf(ledger.KindStateConflict, "account is closed: %s", accountNumber)
		log.WarnContext(ctx, "update account rejected", "error", err)
		return nil, err
	}
	if err = requireField("owner name", req.OwnerName, MaxOwnerNameLen); err == nil {
		err = requireField("contact info", req.ContactInfo, MaxContactInfoLen)
	}
	if err != nil {
		log.WarnContext(ctx, "update account rejected", "error", err)
		return nil, err
	}

	if req.OwnerName == current.OwnerName && req.ContactInfo == current.ContactInfo {
		log.InfoContext(ctx, "account update with no change")
		return NewView(current), nil
	}

	version, err := s.eng.NextVersion()
	if err != nil {
		return nil, err
	}

	now := s.eng.Now()
	after := current.Clone()
	after.OwnerName = req.OwnerName
	after.ContactInfo = req.ContactInfo
	after.Version = version
	after.UpdatedAt = now

	err = s.eng.InTx(ctx, func(ctx context.Context) error {
		rows, err := s.eng.Store().UpdateInfo(ctx, store.InfoUpdate{
			CASKey:      current.Key(),
			OwnerName:   req.OwnerName,
			ContactInfo: req.ContactInfo,
			NewVersion:  version,
			At:          now,
		})
		if err != nil {
			return err
		}
		if rows == 0 {
			s.eng.CASConflict(OpUpdate)
			return ledger.Errorf(ledger.KindConcurrency, "account update failed: %s", accountNumber)
		}
		return s.eng.Store().AppendAccountChange(ctx, store.NewAccountChangeLog(current, after, ledger.ChangeInfo, now))
	})
	if err != nil {
		log.ErrorContext(ctx, "update account failed", "error", err)
		return nil, err
	}

	s.eng.Evict(ctx, accountNumber)
	s.eng.Publish(ctx, event.NewEvent(event.EventAccountUpdated).
		WithOperation(OpUpdate).
		WithAccount(accountNumber))
	log.InfoContext(ctx, "account updated")

	return NewView(after), nil
}

// Delete soft-deletes an account. A zero balance closes it for good; a
// positive balance only freezes it, and a frozen account that still holds
// funds cannot be deleted.
func (s *Service) Delete(ctx context.Context, accountNumber string) (view *View, err error) {
	ctx, op := s.eng.Begin(ctx, OpDelete, accountNumber)
	defer func() { op.End(ctx, err) }()
	log := op.Logger().With("account_number", accountNumber)

	release, err := s.eng.Lock(ctx, accountNumber)
	if err != nil {
		log.ErrorContext(ctx, "delete account failed", "error", err)
		return nil, err
	}
	defer release()

	current, err := s.eng.Store().FindByAccountNumber(ctx, accountNumber)
	if err != nil {
		log.WarnContext(ctx, "delete account rejected", "error", err)
		return nil, err
	}
	if current.State == ledger.StateClosed {
		err = ledger.Errorf(ledger.KindStateConflict, "account is already closed: %s", accountNumber)
		log.WarnContext(ctx, "delete account rejected", "error", err)
		return nil, err
	}

	newState, change := ledger.StateClosed, ledger.ChangeClose
	if current.Balance.IsPositive() {
		if current.State == ledger.StateFrozen {
			err = ledger.Errorf(ledger.KindStateConflict,
				"account is frozen with positive balance, cannot delete: %s", accountNumber)
			log.WarnContext(ctx, "delete account rejected", "error", err)
			return nil, err
		}
		log.WarnContext(ctx, "account has balance, freezing instead of closing")
		newState, change = ledger.StateFrozen, ledger.ChangeFrozen
	}

	version, err := s.eng.NextVersion()
	if err != nil {
		return nil, err
	}

	now := s.eng.Now()
	after := current.Clone()
	after.State = newState
	after.Version = version
	after.UpdatedAt = now
	if newState == ledger.StateClosed {
		after.DeletedAt = &now
	}

	err = s.eng.InTx(ctx, func(ctx context.Context) error {
		rows, err := s.eng.Store().TransitionState(ctx, store.StateTransition{
			CASKey:     current.Key(),
			NewState:   newState,
			NewVersion: version,
			At:         now,
		})
		if err != nil {
			return err
		}
		if rows == 0 {
			s.eng.CASConflict(OpDelete)
			return ledger.Errorf(ledger.KindConcurrency, "account delete failed: %s", accountNumber)
		}
		return s.eng.Store().AppendAccountChange(ctx, store.NewAccountChangeLog(current, after, change, now))
	})
	if err != nil {
		log.ErrorContext(ctx, "delete account failed", "error", err)
		return nil, err
	}

	s.eng.Evict(ctx, accountNumber)
	eventType := event.EventAccountClosed
	if newState == ledger.StateFrozen {
		eventType = event.EventAccountFrozen
	}
	s.eng.Publish(ctx, event.NewEvent(eventType).
		WithOperation(OpDelete).
		WithAccount(accountNumber).
		WithData("balance", money.Display(after.Balance)))
	log.InfoContext(ctx, "account deleted", "state", newState.String())

	return NewView(after), nil
}

// Get returns the account in any state, including Closed and Frozen.
// Lookups are served from the read-through cache when possible.
func (s *Service) Get(ctx context.Context, accountNumber string) (view *View, err error) {
	ctx, op := s.eng.Begin(ctx, OpGet, accountNumber)
	defer func() { op.End(ctx, err) }()

	if a, ok := s.eng.CachedAccount(ctx, accountNumber); ok {
		return NewView(a), nil
	}

	var a *store.Account
	err = s.eng.ReadOnly(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.eng.Store().FindByAccountNumber(ctx, accountNumber)
		return err
	})
	if err != nil {
		op.Logger().WarnContext(ctx, "get account failed", "account_number", accountNumber, "error", err)
		return nil, err
	}

	s.eng.CacheAccount(ctx, a)
	s.dropIfStale(ctx, a)
	return NewView(a), nil
}

// dropIfStale evicts the snapshot just cached when a mutation committed
// after it was read. Mutations evict after commit, so a version read that
// follows the cache write sees any commit whose eviction came too early.
func (s *Service) dropIfStale(ctx context.Context, cached *store.Account) {
	var current *store.Account
	err := s.eng.ReadOnly(ctx, func(ctx context.Context) error {
		var err error
		current, err = s.eng.Store().FindByAccountNumber(ctx, cached.AccountNumber)
		return err
	})
	if err != nil || current.Version != cached.Version {
		s.eng.Evict(ctx, cached.AccountNumber)
	}
}

// List returns active accounts with id below the cursor, newest first.
func (s *Service) List(ctx context.Context, req ListRequest) (page *Page, err error) {
	ctx, op := s.eng.Begin(ctx, OpList)
	defer func() { op.End(ctx, err) }()

	cfg := s.eng.Config()
	cursor, size := req.Cursor, req.PageSize
	if cursor < 0 {
		return nil, ledger.Errorf(ledger.KindValidation, "cursor %d must not be negative", cursor)
	}
	if cursor == 0 {
		cursor = math.MaxInt64
	}
	if size == 0 {
		size = cfg.DefaultPageSize
	}
	if size < 0 || size > cfg.MaxPageSize {
		err = ledger.Errorf(ledger.KindValidation, "page size %d out of range [1, %d]", size, cfg.MaxPageSize)
		op.Logger().WarnContext(ctx, "list accounts rejected", "error", err)
		return nil, err
	}

	var accounts []*store.Account
	err = s.eng.ReadOnly(ctx, func(ctx context.Context) error {
		var err error
		accounts, err = s.eng.Store().FindByStateBeforeID(ctx, ledger.StateActive, cursor, size+1)
		return err
	})
	if err != nil {
		op.Logger().ErrorContext(ctx, "list accounts failed", "cursor", cursor, "error", err)
		return nil, err
	}

	page = &Page{HasMore: len(accounts) > size, Elements: make([]*View, 0, size)}
	if page.HasMore {
		accounts = accounts[:size]
	}
	for _, a := range accounts {
		page.Elements = append(page.Elements, NewView(a))
	}
	if n := len(accounts); n > 0 {
		page.NextCursor = accounts[n-1].ID
	}

	op.Logger().InfoContext(ctx, "list accounts", "cursor", cursor, "size", size, "has_more", page.HasMore)
	return page, nil
}
