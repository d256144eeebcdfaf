// Package transfer moves funds between two accounts atomically.
package transfer

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"ledger"
	"ledger/account"
	"ledger/engine"
	"ledger/event"
	"ledger/money"
	"ledger/store"
)

// OpTransfer is the operation name used for metrics, spans and events.
const OpTransfer = "transfer"

// Request moves Amount from one account number to another.
type Request struct {
	From   string `json:"from_account_number"`
	To     string `json:"to_account_number"`
	Amount string `json:"amount"`
}

// Result holds both accounts after the transfer. Balances are derived from
// the values read before the transfer, not re-read from storage.
type Result struct {
	From *account.View `json:"from"`
	To   *account.View `json:"to"`
}

// Orchestrator executes transfers.
type Orchestrator struct {
	eng *engine.Engine
}

// NewOrchestrator creates an Orchestrator on eng.
func NewOrchestrator(eng *engine.Engine) *Orchestrator {
	return &Orchestrator{eng: eng}
}

// Transfer validates the request, locks the source and then the destination
// account in the order given, and applies the debit, the credit and the audit
// records in one transaction. Both legs share one new version.
func (o *Orchestrator) Transfer(ctx context.Context, req Request) (res *Result, err error) {
	ctx, op := o.eng.Begin(ctx, OpTransfer, req.From, req.To)
	defer func() { op.End(ctx, err) }()
	log := op.Logger().With("from", req.From, "to", req.To, "amount", req.Amount)

	from, to, amount, err := o.precheck(ctx, req)
	if err != nil {
		log.WarnContext(ctx, "transfer rejected", "error", err)
		return nil, err
	}

	version, err := o.eng.NextVersion()
	if err != nil {
		return nil, err
	}

	release, err := o.eng.Lock(ctx, req.From, req.To)
	if err != nil {
		log.ErrorContext(ctx, "transfer failed", "error", err)
		return nil, err
	}
	defer release()

	now := o.eng.Now()
	err = o.eng.InTx(ctx, func(ctx context.Context) error {
		return o.apply(ctx, from, to, amount, version, now)
	})
	if err != nil {
		log.ErrorContext(ctx, "transfer failed", "error", err)
		return nil, err
	}

	o.eng.Evict(ctx, req.From, req.To)
	o.eng.Publish(ctx, event.NewEvent(event.EventTransferCompleted).
		WithOperation(OpTransfer).
		WithAccount(req.From).
		WithData("to", req.To).
		WithData("amount", money.Display(amount)))
	log.InfoContext(ctx, "transfer completed")

	fromAfter, toAfter := from.Clone(), to.Clone()
	fromAfter.Balance = from.Balance.Sub(amount)
	toAfter.Balance = to.Balance.Add(amount)
	for _, a := range []*store.Account{fromAfter, toAfter} {
		a.Version = version
		a.BalanceAt = &now
		a.UpdatedAt = now
	}

	return &Result{From: account.NewView(fromAfter), To: account.NewView(toAfter)}, nil
}

// precheck applies the preconditions in order, each with its own error.
func (o *Orchestrator) precheck(ctx context.Context, req Request) (from, to *store.Account, amount decimal.Decimal, err error) {
	if req.From == req.To {
		return nil, nil, amount, ledger.Errorf(ledger.KindValidation, "cannot transfer to the same account: %s", req.From)
	}

	amount, err = money.ParsePositive(req.Amount)
	if err != nil {
		return nil, nil, amount, err
	}

	st := o.eng.Store()
	from, err = st.FindByAccountNumber(ctx, req.From)
	if err != nil {
		return nil, nil, amount, ledger.Wrap(ledger.KindInfrastructure, err, "source account %s", req.From)
	}
	if from.State != ledger.StateActive {
		return nil, nil, amount, ledger.Errorf(ledger.KindStateConflict,
			"source account is not active: %s (%s)", req.From, from.State)
	}
	if from.Balance.LessThan(amount) {
		return nil, nil, amount, ledger.Errorf(ledger.KindInsufficientBalance,
			"insufficient balance for transfer from %s to %s: available %s, required %s",
			req.From, req.To, money.Display(from.Balance), money.Display(amount))
	}

	to, err = st.FindByAccountNumber(ctx, req.To)
	if err != nil {
		return nil, nil, amount, ledger.Wrap(ledger.KindInfrastructure, err, "destination account %s", req.To)
	}
	if to.State != ledger.StateActive {
		return nil, nil, amount, ledger.Errorf(ledger.KindStateConflict,
			"destination account is not active: %s (%s)", req.To, to.State)
	}

	return from, to, amount, nil
}

// apply runs inside the transaction. A debit that matches no row means the
// balance or version moved since the precheck; the credit is only attempted
// after the debit applied, and its failure rolls the debit back.
func (o *Orchestrator) apply(ctx context.Context, from, to *store.Account, amount decimal.Decimal, version int64, now time.Time) error {
	st := o.eng.Store()

	rows, err := st.Debit(ctx, store.BalanceUpdate{
		CASKey:          from.Key(),
		ExpectedBalance: from.Balance,
		Amount:          amount,
		NewVersion:      version,
		At:              now,
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		o.eng.CASConflict(OpTransfer)
		return ledger.Errorf(ledger.KindInsufficientBalance,
			"debit of %s from %s no longer applies", money.Display(amount), from.AccountNumber)
	}

	rows, err = st.Credit(ctx, store.BalanceUpdate{
		CASKey:          to.Key(),
		ExpectedBalance: to.Balance,
		Amount:          amount,
		NewVersion:      version,
		At:              now,
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		o.eng.CASConflict(OpTransfer)
		return ledger.Errorf(ledger.KindConcurrency,
			"credit of %s to %s failed", money.Display(amount), to.AccountNumber)
	}

	if err := st.AppendTransfer(ctx, store.NewTransferLog(from, to, amount, now)); err != nil {
		return err
	}
	if err := st.AppendBalanceChange(ctx, store.NewBalanceChangeLog(from, amount.Neg(), ledger.BalanceTransferOut, now)); err != nil {
		return err
	}
	return st.AppendBalanceChange(ctx, store.NewBalanceChangeLog(to, amount, ledger.BalanceTransferIn, now))
}
