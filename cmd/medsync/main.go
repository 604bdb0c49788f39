// Medsync keeps a local SQLite cache of patient records in sync with the
// health24 API: full per-patient documents on demand, clinician rosters in
// bulk, and the address/document classification tables on per-table TTLs.
//
// Usage:
//
//	medsync load <health24-id> [--config <path>]   # fetch and reconcile one patient
//	medsync sync-list <employee-id> [--config ...] # refresh a clinician's roster
//	medsync sync-dictionaries [--config ...]       # one dictionary scheduler pass
//	medsync daemon [--config <path>]               # periodic dictionary refresh loop
//	medsync search [--last <prefix>] [...]         # search the local cache by name
//	medsync status                                 # show config & database state
//	medsync version                                # print version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/medassist/medsync/internal/auth"
	"github.com/medassist/medsync/internal/config"
	"github.com/medassist/medsync/internal/health24"
	"github.com/medassist/medsync/internal/store"
	syncp "github.com/medassist/medsync/internal/sync"
	"github.com/medassist/medsync/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// run dispatches to the appropriate subcommand.
func run() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	switch cmd := os.Args[1]; cmd {
	case "load":
		return runLoad(os.Args[2:])
	case "sync-list":
		return runSyncList(os.Args[2:])
	case "sync-dictionaries":
		return runSyncDictionaries(os.Args[2:])
	case "daemon":
		return runDaemon(os.Args[2:])
	case "search":
		return runSearch(os.Args[2:])
	case "status":
		return runStatus()
	case "version":
		fmt.Println("medsync", version)
		return nil
	default:
		return fmt.Errorf("unknown command %q — run 'medsync' for usage", cmd)
	}
}

// printUsage shows help and points at the config path if none exists yet.
func printUsage() error {
	cfgPath, _ := config.DefaultPath()
	_, cfgErr := os.Stat(cfgPath)

	fmt.Fprintln(os.Stderr, "Medsync — local patient-record cache for the health24 API")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  medsync load <health24-id>        Fetch and reconcile one patient")
	fmt.Fprintln(os.Stderr, "  medsync sync-list <employee-id>   Refresh a clinician's patient roster")
	fmt.Fprintln(os.Stderr, "  medsync sync-dictionaries         Run one dictionary scheduler pass")
	fmt.Fprintln(os.Stderr, "  medsync daemon                    Run the periodic dictionary refresh loop")
	fmt.Fprintln(os.Stderr, "  medsync search [--last <prefix>]  Search the local cache by name or clinician")
	fmt.Fprintln(os.Stderr, "  medsync status                    Show config & database state")
	fmt.Fprintln(os.Stderr, "  medsync version                   Print version")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "All sync commands accept --config <path> and --verbose.")
	fmt.Fprintln(os.Stderr, "")

	if cfgErr != nil {
		fmt.Fprintf(os.Stderr, "No config file found at %s.\n", cfgPath)
	}

	os.Exit(1)
	return nil // unreachable
}

// --- Subcommands -------------------------------------------------------------

func runLoad(args []string) error {
	fs := flag.NewFlagSet("load", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: medsync load <health24-id>")
	}
	health24ID, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid health24 id %q: %w", fs.Arg(0), err)
	}

	return withEngine(*cfgPath, *verbose, func(ctx context.Context, app *application) error {
		if err := app.engine.LoadPatient(ctx, health24ID); err != nil {
			return err
		}
		return printPatient(ctx, app.store, health24ID)
	})
}

func runSyncList(args []string) error {
	fs := flag.NewFlagSet("sync-list", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: medsync sync-list <employee-id>")
	}
	employeeID := fs.Arg(0)

	return withEngine(*cfgPath, *verbose, func(ctx context.Context, app *application) error {
		count, err := app.engine.SyncRoster(ctx, employeeID)
		fmt.Printf("roster synced: %d patient(s) upserted\n", count)
		return err
	})
}

func runSyncDictionaries(args []string) error {
	fs := flag.NewFlagSet("sync-dictionaries", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	return withEngine(*cfgPath, *verbose, func(ctx context.Context, app *application) error {
		stats, err := app.engine.SyncDictionaries(ctx)
		fmt.Printf("dictionaries: %d run, %d failed, %d within TTL\n",
			stats.Run, stats.Failed, stats.Skipped)
		return err
	})
}

func runDaemon(args []string) error {
	fs := flag.NewFlagSet("daemon", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	return withEngine(*cfgPath, *verbose, func(ctx context.Context, app *application) error {
		app.log.Info("daemon starting", "dictionary_interval", app.cfg.DictionaryInterval)
		if err := app.engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("sync engine: %w", err)
		}
		app.log.Info("shutdown complete")
		return nil
	})
}

// runSearch queries the local cache by name prefix and clinician. Works
// entirely offline.
func runSearch(args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	cfgPath, _ := commonFlags(fs)
	last := fs.String("last", "", "last name prefix")
	first := fs.String("first", "", "first name prefix")
	second := fs.String("second", "", "second name prefix")
	employee := fs.Int64("employee", 0, "filter by clinician employee id")
	order := fs.String("order", "last_name", "sort column (health24_id, last_name, first_name, second_name, birth_date, gender)")
	desc := fs.Bool("desc", false, "sort descending")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", *cfgPath, err)
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening database at %q: %w", cfg.DBPath, err)
	}
	defer func() { _ = st.Close() }()

	filter := store.SearchFilter{
		LastName:   *last,
		FirstName:  *first,
		SecondName: *second,
		OrderBy:    *order,
		Descending: *desc,
	}
	if *employee != 0 {
		filter.EmployeeID = employee
	}

	patients, err := st.SearchPatients(context.Background(), filter)
	if err != nil {
		return err
	}
	if len(patients) == 0 {
		fmt.Println("no patients matched")
		return nil
	}
	for _, p := range patients {
		fmt.Printf("%d\t%s %s %s", p.Health24ID, p.LastName, p.FirstName, p.SecondName)
		if p.BirthDate != "" {
			fmt.Printf("\t%s", p.BirthDate)
		}
		fmt.Println()
	}
	return nil
}

// runStatus prints the current configuration and database state. It never
// touches the network.
func runStatus() error {
	cfgPath, _ := config.DefaultPath()

	fmt.Println("Medsync Status")
	fmt.Println("──────────────")

	dbPath := ""
	if _, err := os.Stat(cfgPath); err == nil {
		if cfg, loadErr := config.Load(cfgPath); loadErr == nil {
			fmt.Printf("  Config:     %s ✓\n", cfgPath)
			fmt.Printf("  API:        %s\n", cfg.APIBaseURL)
			fmt.Printf("  Token file: %s\n", cfg.TokenFile)
			dbPath = cfg.DBPath
		} else {
			fmt.Printf("  Config:     %s (invalid: %v)\n", cfgPath, loadErr)
		}
	} else {
		fmt.Printf("  Config:     not found (%s)\n", cfgPath)
	}
	if dbPath == "" {
		dbPath, _ = config.DefaultDBPath()
	}

	info, err := os.Stat(dbPath)
	if err != nil {
		fmt.Printf("  Database:   not found (%s)\n", dbPath)
		return nil
	}
	fmt.Printf("  Database:   %s (%s)\n", dbPath, humanSize(info.Size()))

	st, err := store.Open(dbPath)
	if err != nil {
		fmt.Printf("  Database:   cannot open: %v\n", err)
		return nil
	}
	defer func() { _ = st.Close() }()

	ctx := context.Background()
	if n, err := st.CountRows(ctx, "patients"); err == nil {
		fmt.Printf("  Patients:   %d\n", n)
	}
	for _, table := range []string{"countries", "regions", "districts", "settlements", "city_districts"} {
		n, err := st.CountRows(ctx, table)
		if err != nil {
			continue
		}
		line := fmt.Sprintf("  %-11s %d", table+":", n)
		if last, ok, _ := st.Checkpoint(ctx, table+"_last_sync"); ok {
			line += fmt.Sprintf(" (synced %s)", last.Format("2006-01-02"))
		}
		fmt.Println(line)
	}

	return nil
}

// --- Shared setup ------------------------------------------------------------

// application bundles the wired components handed to each subcommand.
type application struct {
	cfg    *config.Config
	store  *store.Store
	engine *syncp.Engine
	log    *slog.Logger
}

func commonFlags(fs *flag.FlagSet) (cfgPath *string, verbose *bool) {
	defaultCfg, _ := config.DefaultPath()
	cfgPath = fs.String("config", defaultCfg, "path to config.yaml")
	verbose = fs.Bool("verbose", false, "enable debug logging")
	return cfgPath, verbose
}

// withEngine loads config, opens the store, wires the API client and sync
// engine, and runs fn under a signal-cancelled context.
func withEngine(cfgPath string, verbose bool, fn func(ctx context.Context, app *application) error) error {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", cfgPath, err)
	}
	logger.Info("config loaded",
		"api_base_url", cfg.APIBaseURL,
		"db_path", cfg.DBPath,
		"page_size", cfg.PageSize,
	)

	// Telemetry is optional; a broken collector must not block syncing.
	if cfg.Telemetry != nil {
		telCfg := telemetry.Config{
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			ServiceName:  cfg.Telemetry.ServiceName,
			Headers:      cfg.Telemetry.Headers,
		}
		shutdownTel, err := telemetry.Setup(context.Background(), telCfg)
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			}()
		}
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening database at %q: %w", cfg.DBPath, err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("closing database", "error", closeErr)
		}
	}()
	logger.Info("database opened", "path", cfg.DBPath)

	tokens := auth.NewFileTokenProvider(cfg.TokenFile, logger)
	client := health24.NewClient(cfg.APIBaseURL, tokens, cfg.RequestTimeout, logger)

	loader := syncp.NewLoader(client, st, logger)
	roster := syncp.NewRosterSync(client, st, cfg.PageSize, logger)
	dictionaries := syncp.NewDictionarySync(client, st, logger)
	engine := syncp.NewEngine(loader, roster, dictionaries, cfg.DictionaryInterval, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	return fn(ctx, &application{cfg: cfg, store: st, engine: engine, log: logger})
}

// printPatient dumps the patient's current local state after a load. Works
// off the cache only, so it also reflects the offline-fallback path.
func printPatient(ctx context.Context, st *store.Store, health24ID int64) error {
	p, err := st.GetPatient(ctx, health24ID)
	if err != nil {
		return err
	}
	if p == nil {
		fmt.Printf("patient %d: not in local cache\n", health24ID)
		return nil
	}

	fmt.Printf("patient %d: %s %s %s", p.Health24ID, p.LastName, p.FirstName, p.SecondName)
	if p.BirthDate != "" {
		fmt.Printf(" (born %s)", p.BirthDate)
	}
	fmt.Println()

	phones, err := st.Phones(ctx, health24ID)
	if err != nil {
		return err
	}
	for _, ph := range phones {
		if ph.Active {
			fmt.Printf("  phone: %s (%s)\n", ph.Number, ph.Source)
		}
	}

	decl, err := st.LatestDeclaration(ctx, health24ID)
	if err != nil {
		return err
	}
	if decl != nil {
		state := "inactive"
		if decl.Active {
			state = "active"
		}
		fmt.Printf("  declaration %s: %s, %s (%s)\n",
			decl.Number, decl.EmployeeName, decl.DivisionName, state)
	}

	snapshots, err := st.SnapshotCount(ctx, health24ID)
	if err != nil {
		return err
	}
	fmt.Printf("  snapshots: %d\n", snapshots)
	return nil
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
