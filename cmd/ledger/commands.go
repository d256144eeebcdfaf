package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"ledger"
	"ledger/account"
	"ledger/admin"
	"ledger/transfer"
)

// usageError reports bad command-line input; it is not a ledger error.
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

func newFlagSet(name string) *pflag.FlagSet {
	return pflag.NewFlagSet(name, pflag.ContinueOnError)
}

func parse(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return usagef("%s: %v", fs.Name(), err)
	}
	return nil
}

// oneArg parses args and returns the single positional account number.
func oneArg(fs *pflag.FlagSet, args []string) (string, error) {
	if err := parse(fs, args); err != nil {
		return "", err
	}
	if fs.NArg() != 1 {
		return "", usagef("%s: expected one account number, got %d arguments", fs.Name(), fs.NArg())
	}
	return fs.Arg(0), nil
}

func runMigrate(ctx context.Context, app *App, args []string) (any, error) {
	if err := parse(newFlagSet("migrate"), args); err != nil {
		return nil, err
	}
	if err := app.Migrate(ctx); err != nil {
		return nil, ledger.Wrap(ledger.KindInfrastructure, err, "migrate")
	}
	return map[string]string{"driver": app.cfg.Database.Driver, "status": "migrated"}, nil
}

func runCreate(ctx context.Context, app *App, args []string) (any, error) {
	fs := newFlagSet("create")
	var req account.CreateRequest
	accountType := fs.Int("type", int(ledger.AccountTypeSavings), "account type: 1 savings, 2 current, 3 fixed deposit")
	fs.StringVar(&req.AccountNumber, "number", "", "account number")
	fs.StringVar(&req.OwnerID, "owner-id", "", "owner id")
	fs.StringVar(&req.OwnerName, "owner-name", "", "owner name")
	fs.StringVar(&req.ContactInfo, "contact", "", "contact info")
	fs.StringVar(&req.InitialBalance, "balance", "", "initial balance")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	req.AccountType = ledger.AccountType(*accountType)
	return app.accounts.Create(ctx, req)
}

func runGet(ctx context.Context, app *App, args []string) (any, error) {
	num, err := oneArg(newFlagSet("get"), args)
	if err != nil {
		return nil, err
	}
	return app.accounts.Get(ctx, num)
}

func runList(ctx context.Context, app *App, args []string) (any, error) {
	fs := newFlagSet("list")
	var req account.ListRequest
	fs.Int64Var(&req.Cursor, "cursor", 0, "return accounts with id below this cursor; 0 starts from the newest")
	fs.IntVar(&req.PageSize, "size", 0, "page size; 0 uses the configured default")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	return app.accounts.List(ctx, req)
}

func runUpdate(ctx context.Context, app *App, args []string) (any, error) {
	fs := newFlagSet("update")
	var req account.UpdateRequest
	fs.StringVar(&req.OwnerName, "owner-name", "", "new owner name")
	fs.StringVar(&req.ContactInfo, "contact", "", "new contact info")
	num, err := oneArg(fs, args)
	if err != nil {
		return nil, err
	}
	return app.accounts.Update(ctx, num, req)
}

func runDelete(ctx context.Context, app *App, args []string) (any, error) {
	num, err := oneArg(newFlagSet("delete"), args)
	if err != nil {
		return nil, err
	}
	return app.accounts.Delete(ctx, num)
}

func runTransfer(ctx context.Context, app *App, args []string) (any, error) {
	fs := newFlagSet("transfer")
	var req transfer.Request
	fs.StringVar(&req.From, "from", "", "source account number")
	fs.StringVar(&req.To, "to", "", "destination account number")
	fs.StringVar(&req.Amount, "amount", "", "amount to move")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	return app.transfers.Transfer(ctx, req)
}

// runServe exposes health, metrics, recent events and the lock breaker until
// ctx is cancelled.
func runServe(ctx context.Context, app *App, args []string) (any, error) {
	fs := newFlagSet("serve")
	addr := fs.String("addr", app.cfg.Metrics.Addr, "listen address")
	history := fs.Int("events", 1000, "number of recent events kept for /api/events")
	if err := parse(fs, args); err != nil {
		return nil, err
	}

	events := admin.NewEventStore(*history)
	if err := app.bus.SubscribeAll(events.EventHandler()); err != nil {
		return nil, err
	}

	opts := []admin.ServerOption{
		admin.WithAddr(*addr),
		admin.WithEventStore(events),
		admin.WithBreaker(app.engine.Breaker()),
		admin.WithHealthCheck(app.Ping),
		admin.WithLogger(app.logger),
	}
	if app.metricsHandler != nil {
		opts = append(opts, admin.WithMetricsHandler(app.cfg.Metrics.Path, app.metricsHandler))
	}
	srv := admin.NewServer(opts...)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			return nil, ledger.Wrap(ledger.KindInfrastructure, err, "admin server")
		}
		return nil, nil
	case <-ctx.Done():
	}

	app.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return nil, ledger.Wrap(ledger.KindInfrastructure, err, "stop admin server")
	}
	return nil, nil
}
