package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	fiwaresync "github.com/goliatone/go-fiware-sync"
	"github.com/goliatone/go-fiware-sync/core"
	"github.com/goliatone/go-fiware-sync/query"
	"github.com/goliatone/go-fiware-sync/security"
)

const (
	exitOK       = 0
	exitStartup  = 1
	exitAuth     = 2
	exitAborted  = 3
	statusLimit  = 10
	envConfigKey = "FIWARE_SYNC_CONFIG"
)

// test seams
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type cliFlags struct {
	configPath  string
	logLevel    string
	once        bool
	status      bool
	encrypt     string
	storeDriver string
	storeDSN    string
	interval    int
}

func parseFlags(args []string, stderr io.Writer) (cliFlags, map[string]any, error) {
	var flags cliFlags
	fs := flag.NewFlagSet("fiware-sync", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&flags.configPath, "config", os.Getenv(envConfigKey), "path to the YAML or JSON config file")
	fs.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn or error")
	fs.BoolVar(&flags.once, "once", false, "run a single sync cycle and exit")
	fs.BoolVar(&flags.status, "status", false, "print stored sync state and recent cycles and exit")
	fs.StringVar(&flags.encrypt, "encrypt", "", "print an enc: reference for the value using "+security.AppKeyEnv)
	fs.StringVar(&flags.storeDriver, "store-driver", "", "state store driver: memory, sqlite3 or postgres")
	fs.StringVar(&flags.storeDSN, "store-dsn", "", "state store DSN")
	fs.IntVar(&flags.interval, "interval", 0, "seconds between sync cycles")
	if err := fs.Parse(args); err != nil {
		return cliFlags{}, nil, err
	}

	overrides := map[string]any{}
	section := func(name string) map[string]any {
		if existing, ok := overrides[name].(map[string]any); ok {
			return existing
		}
		created := map[string]any{}
		overrides[name] = created
		return created
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log-level":
			section("log")["level"] = flags.logLevel
		case "store-driver":
			section("store")["driver"] = flags.storeDriver
		case "store-dsn":
			section("store")["dsn"] = flags.storeDSN
		case "interval":
			section("sync")["interval_seconds"] = flags.interval
		}
	})
	return flags, overrides, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags, overrides, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitStartup
	}

	if flags.encrypt != "" {
		return encrypt(ctx, flags.encrypt, stdout, stderr)
	}

	cfg, err := fiwaresync.LoadConfig(ctx, flags.configPath, overrides)
	if err != nil {
		fmt.Fprintf(stderr, "fiware-sync: load config: %v\n", err)
		return exitStartup
	}

	if !flags.status && strings.TrimSpace(cfg.Auth.Password) == "" && isTerminal(int(os.Stdin.Fd())) {
		password, err := promptPassword(stderr, cfg.Auth.Username)
		if err != nil {
			fmt.Fprintf(stderr, "fiware-sync: read password: %v\n", err)
			return exitStartup
		}
		cfg.Auth.Password = password
	}

	app, err := fiwaresync.New(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "fiware-sync: %v\n", err)
		return exitStartup
	}
	defer app.Close()

	if flags.status {
		if err := printStatus(ctx, app, stdout); err != nil {
			fmt.Fprintf(stderr, "fiware-sync: status: %v\n", err)
			return exitStartup
		}
		return exitOK
	}

	if err := app.Start(ctx); err != nil {
		fmt.Fprintf(stderr, "fiware-sync: %v\n", err)
		return startupExitCode(err)
	}

	if flags.once {
		report, err := app.RunOnce(ctx)
		if err := json.NewEncoder(stdout).Encode(report.Fields()); err != nil {
			fmt.Fprintf(stderr, "fiware-sync: write report: %v\n", err)
		}
		if err != nil {
			fmt.Fprintf(stderr, "fiware-sync: sync cycle: %v\n", err)
			return exitCode(err)
		}
		if !report.Succeeded() {
			return exitAborted
		}
		return exitOK
	}

	if err := app.Run(ctx); err != nil {
		fmt.Fprintf(stderr, "fiware-sync: %v\n", err)
		return exitCode(err)
	}
	return exitOK
}

// startupExitCode maps Start failures. Only the initial login has its own code.
func startupExitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, fiwaresync.ErrInitialAuth):
		return exitAuth
	default:
		return exitStartup
	}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, fiwaresync.ErrInitialAuth):
		return exitAuth
	case errors.Is(err, fiwaresync.ErrTooManyFailures):
		return exitAborted
	case core.IsTransientError(err), core.IsPermanentError(err), core.IsAuthError(err):
		return exitAborted
	default:
		return exitStartup
	}
}

func encrypt(ctx context.Context, value string, stdout, stderr io.Writer) int {
	key := os.Getenv(security.AppKeyEnv)
	if strings.TrimSpace(key) == "" {
		fmt.Fprintf(stderr, "fiware-sync: %s is required to encrypt values\n", security.AppKeyEnv)
		return exitStartup
	}
	provider, err := security.NewAppKeySecretProviderFromString(key)
	if err != nil {
		fmt.Fprintf(stderr, "fiware-sync: %v\n", err)
		return exitStartup
	}
	ref, err := provider.EncryptRef(ctx, value)
	if err != nil {
		fmt.Fprintf(stderr, "fiware-sync: encrypt: %v\n", err)
		return exitStartup
	}
	fmt.Fprintln(stdout, ref)
	return exitOK
}

func promptPassword(w io.Writer, username string) (string, error) {
	fmt.Fprintf(w, "Password for %s: ", username)
	password, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	return string(password), nil
}

type statusOutput struct {
	States []core.SyncState `json:"states"`
	Cycles []map[string]any `json:"cycles"`
	Total  int              `json:"total_cycles"`
}

func printStatus(ctx context.Context, app *fiwaresync.App, w io.Writer) error {
	queries, err := app.Queries(ctx)
	if err != nil {
		return err
	}
	states, err := queries.ListSyncStates.Query(ctx, query.ListSyncStatesMessage{})
	if err != nil {
		return err
	}
	page, err := queries.ListCycleReports.Query(ctx, query.ListCycleReportsMessage{
		Filter: core.CycleReportFilter{PerPage: statusLimit},
	})
	if err != nil {
		return err
	}
	out := statusOutput{States: states, Total: page.Total, Cycles: make([]map[string]any, 0, len(page.Items))}
	for _, report := range page.Items {
		out.Cycles = append(out.Cycles, report.Fields())
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}
