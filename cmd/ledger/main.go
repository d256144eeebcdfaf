// Command ledger runs account and transfer operations against the configured
// store and prints the result as JSON.
//
// Usage:
//
//	ledger [--config ledger.toml] <command> [flags]
//
// Commands: migrate, create, get, list, update, delete, transfer, serve.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"ledger"
	"ledger/config"
	"ledger/logging"
)

type command struct {
	usage string
	run   func(ctx context.Context, app *App, args []string) (any, error)
}

var commands = map[string]command{
	"migrate":  {"create the ledger tables", runMigrate},
	"create":   {"open an account", runCreate},
	"get":      {"show an account", runGet},
	"list":     {"list active accounts", runList},
	"update":   {"change owner name and contact info", runUpdate},
	"delete":   {"close or freeze an account", runDelete},
	"transfer": {"move funds between two accounts", runTransfer},
	"serve":    {"run the admin and metrics server", runServe},
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	global := pflag.NewFlagSet("ledger", pflag.ContinueOnError)
	global.SetOutput(stderr)
	global.SetInterspersed(false)
	configPath := global.StringP("config", "c", os.Getenv("LEDGER_CONFIG"), "path to the TOML config file")
	global.Usage = func() { usage(stderr, global) }

	if err := global.Parse(args); err != nil {
		return 2
	}
	if global.NArg() == 0 {
		usage(stderr, global)
		return 2
	}
	name, rest := global.Arg(0), global.Args()[1:]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n", name)
		usage(stderr, global)
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}

	// Results go to stdout, so console logs go to stderr.
	logger, closer, err := logging.New(cfg.Logger, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "init logging: %v\n", err)
		return 1
	}
	defer closer.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer app.Close()

	result, err := cmd.run(ctx, app, rest)
	if err != nil {
		return fail(stdout, stderr, err)
	}
	if result != nil {
		if err := writeJSON(stdout, result); err != nil {
			logger.Error("write result", "error", err)
			return 1
		}
	}
	return 0
}

func usage(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintln(w, "usage: ledger [--config file] <command> [flags]")
	fmt.Fprintln(w, "\nglobal flags:")
	fmt.Fprint(w, fs.FlagUsages())
	fmt.Fprintln(w, "\ncommands:")
	for _, name := range []string{"migrate", "create", "get", "list", "update", "delete", "transfer", "serve"} {
		fmt.Fprintf(w, "  %-9s %s\n", name, commands[name].usage)
	}
}

// errorResult is printed for failed operations.
type errorResult struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// fail prints err and maps its kind to the exit status.
func fail(w, stderr io.Writer, err error) int {
	var flagErr *usageError
	if errors.As(err, &flagErr) {
		fmt.Fprintln(stderr, err)
		return 2
	}
	kind := ledger.KindOf(err)
	_ = writeJSON(w, errorResult{Code: kind.Code(), Kind: kind.String(), Message: err.Error()})
	if kind == ledger.KindInfrastructure {
		return 1
	}
	return 3
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
