package engine

import (
	"context"
	"log/slog"
	"time"

	"ledger"
	"ledger/event"
	"ledger/lock"
	"ledger/logging"
	"ledger/store"
	"ledger/tracing"
)

// Op tracks one public operation from start to finish.
type Op struct {
	eng      *Engine
	name     string
	accounts []string
	span     tracing.Span
	start    time.Time
	logger   *slog.Logger
}

// Begin starts operation name on the given accounts. The returned context
// carries the operation span; End must be called exactly once.
func (e *Engine) Begin(ctx context.Context, name string, accounts ...string) (context.Context, *Op) {
	ctx, span := e.tracer.StartOperation(ctx, name, accounts...)
	e.metrics.OperationStarted(name)

	return ctx, &Op{
		eng:      e,
		name:     name,
		accounts: accounts,
		span:     span,
		start:    time.Now(),
		logger:   logging.WithContext(ctx, e.logger).With("operation", name),
	}
}

// Logger returns the operation logger, annotated with trace ids.
func (o *Op) Logger() *slog.Logger {
	return o.logger
}

// End records the outcome. A failure is counted by kind, set on the span and
// published as an operation.failed event.
func (o *Op) End(ctx context.Context, err error) {
	defer o.span.End()

	elapsed := time.Since(o.start)
	if err == nil {
		o.eng.metrics.OperationCompleted(o.name, elapsed)
		return
	}

	o.span.SetError(err)
	o.eng.metrics.OperationFailed(o.name, ledger.KindOf(err).String(), elapsed)

	e := event.NewEvent(event.EventOperationFailed).
		WithOperation(o.name).
		WithError(err)
	if len(o.accounts) > 0 {
		e = e.WithAccount(o.accounts[0])
	}
	if len(o.accounts) > 1 {
		e = e.WithData("counterparty", o.accounts[1])
	}
	o.eng.Publish(ctx, e)
}

// Lock takes the per-account locks in the order given. Any failure releases
// the locks already taken. The returned release func frees them in reverse
// order and never fails; release errors are logged.
func (e *Engine) Lock(ctx context.Context, accountNumbers ...string) (release func(), err error) {
	ctx, span := e.tracer.StartStage(ctx, "lock")
	defer func() {
		span.SetError(err)
		span.End()
	}()

	handles := make([]lock.Handle, 0, len(accountNumbers))
	release = func() {
		// Release even when ctx is done, or the keys stay held until the TTL.
		rctx := context.WithoutCancel(ctx)
		for i := len(handles) - 1; i >= 0; i-- {
			if rerr := handles[i].Release(rctx); rerr != nil {
				e.logger.WarnContext(rctx, "release account lock failed",
					"key", handles[i].Key(), "error", rerr)
			}
		}
	}

	start := time.Now()
	for _, num := range accountNumbers {
		h, err := lock.Acquire(ctx, e.locker, lock.Key(e.config.LockPrefix, num), e.config.LockTTL)
		if err != nil {
			reason := "backend"
			if ledger.KindOf(err) == ledger.KindConcurrency {
				reason = "held"
			}
			e.metrics.LockFailed(reason)
			release()
			return nil, err
		}
		handles = append(handles, h)
	}
	e.metrics.LockAcquired(time.Since(start))

	return release, nil
}

// InTx runs fn in a read-write transaction.
func (e *Engine) InTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	ctx, span := e.tracer.StartStage(ctx, "tx")
	defer func() {
		span.SetError(err)
		span.End()
	}()
	return e.runner.WithTransaction(ctx, fn)
}

// ReadOnly runs fn in its own read-only transaction.
func (e *Engine) ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error {
	return e.runner.ReadOnly(ctx, fn)
}

// Publish sends e to the event bus. Publishing never fails the caller.
func (e *Engine) Publish(ctx context.Context, ev event.Event) {
	if err := e.events.Publish(ctx, ev); err != nil {
		e.logger.WarnContext(ctx, "publish event failed",
			"event_type", ev.Type.String(), "event_id", ev.ID, "error", err)
	}
}

// CASConflict counts a conditional update of operation op that matched no row.
func (e *Engine) CASConflict(op string) {
	e.metrics.CASConflict(op)
}

// CachedAccount returns the cached snapshot of accountNumber.
func (e *Engine) CachedAccount(ctx context.Context, accountNumber string) (*store.Account, bool) {
	a, ok := e.cache.Get(ctx, accountNumber)
	if ok {
		e.metrics.CacheHit()
	} else {
		e.metrics.CacheMiss()
	}
	return a, ok
}

// CacheAccount stores a snapshot of a.
func (e *Engine) CacheAccount(ctx context.Context, a *store.Account) {
	e.cache.Set(ctx, a.AccountNumber, a)
}

// Evict drops the cached snapshots of the given accounts.
func (e *Engine) Evict(ctx context.Context, accountNumbers ...string) {
	e.cache.Delete(ctx, accountNumbers...)
}
