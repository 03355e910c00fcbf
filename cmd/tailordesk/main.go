// Package main is the TailorDesk pack management command line tool.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/tailordesk/tailordesk/internal/audit"
	"github.com/tailordesk/tailordesk/internal/config"
	"github.com/tailordesk/tailordesk/internal/market"
	"github.com/tailordesk/tailordesk/internal/pack"
	"github.com/tailordesk/tailordesk/internal/settings"
	"github.com/tailordesk/tailordesk/internal/storage"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		dataDir     string
		logLevel    string
		showVersion bool
	)
	pflag.StringVar(&dataDir, "data-dir", "", "Data directory (overrides TAILORDESK_DATA_DIR)")
	pflag.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pflag.BoolVarP(&showVersion, "version", "v", false, "Show version information")
	pflag.Usage = usage
	pflag.Parse()

	if showVersion {
		fmt.Printf("tailordesk %s (%s)\n", version, commit)
		return 0
	}

	args := pflag.Args()
	if len(args) == 0 {
		usage()
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := newApp(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer app.close(ctx)

	if err := app.dispatch(ctx, args[0], args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func usage() {
	fmt.Fprintf(os.Stderr, "TailorDesk - Tailor Pack management\n\n")
	fmt.Fprintf(os.Stderr, "Usage: tailordesk [options] <command> [args]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  validate <file>           Validate a pack file without loading it\n")
	fmt.Fprintf(os.Stderr, "  load <file>               Validate and load a pack\n")
	fmt.Fprintf(os.Stderr, "  list                      List loaded packs\n")
	fmt.Fprintf(os.Stderr, "  exec <id> <fn> [json...]  Execute a pack function\n")
	fmt.Fprintf(os.Stderr, "  unload <id>               Unload a pack\n")
	fmt.Fprintf(os.Stderr, "  sync                      Sync packs with the marketplace\n")
	fmt.Fprintf(os.Stderr, "  audit [hours]             Show recent audit events\n\n")
	fmt.Fprintf(os.Stderr, "Options:\n")
	pflag.PrintDefaults()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// app holds the wired subsystem for one command invocation.
type app struct {
	cfg     *config.Config
	gw      *storage.OSGateway
	log     *audit.Log
	store   *settings.Store
	manager *pack.Manager
	logger  *slog.Logger
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	gw, err := storage.NewOSGateway(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	log, err := audit.NewLog(gw.LogDir())
	if err != nil {
		return nil, err
	}
	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}
	key, err := cfg.PublicKey()
	if err != nil {
		return nil, err
	}

	store := settings.NewStore(gw)
	manager := pack.NewManager(
		pack.NewRegistry(gw),
		pack.NewValidator(gw, log, key),
		store,
		log,
		policy,
		pack.WithLogger(logger),
	)

	return &app{
		cfg:     cfg,
		gw:      gw,
		log:     log,
		store:   store,
		manager: manager,
		logger:  logger,
	}, nil
}

func (a *app) close(ctx context.Context) {
	hosts, err := a.manager.Loaded()
	if err != nil {
		return
	}
	for _, h := range hosts {
		if err := a.manager.Unload(ctx, h.ID()); err != nil {
			a.logger.Warn("failed to unload pack", "pack", h.ID(), "error", err)
		}
	}
}

func (a *app) dispatch(ctx context.Context, command string, args []string) error {
	switch command {
	case "validate":
		return a.cmdValidate(args)
	case "load":
		return a.cmdLoad(ctx, args)
	case "list":
		return a.cmdList(ctx, args)
	case "exec":
		return a.cmdExec(ctx, args)
	case "unload":
		return a.cmdUnload(ctx, args)
	case "sync":
		return a.cmdSync(ctx)
	case "audit":
		return a.cmdAudit(args)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *app) cmdValidate(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: tailordesk validate <file>")
	}
	if !a.manager.ValidateSignature(args[0]) {
		return fmt.Errorf("pack failed validation")
	}
	fmt.Println("OK")
	return nil
}

func (a *app) cmdLoad(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: tailordesk load <file>")
	}

	host, err := a.manager.LoadSecurely(ctx, args[0], a.manager.DefaultPermissions())
	if err != nil {
		return err
	}
	m := host.Manifest()
	fmt.Printf("Loaded %s %s (%s)\n", m.ID, m.Version, m.Name)
	return nil
}

func (a *app) cmdList(ctx context.Context, args []string) error {
	hosts, err := a.manager.Loaded()
	if err != nil {
		return err
	}
	if len(hosts) == 0 {
		fmt.Println("No packs loaded")
		return nil
	}
	for _, h := range hosts {
		m := h.Manifest()
		fmt.Printf("%-24s %-10s %-10s %s\n", m.ID, m.Version, h.State(), m.Name)
	}
	return nil
}

func (a *app) cmdExec(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: tailordesk exec <id> <fn> [json args...]")
	}

	fnArgs := make([]any, 0, len(args)-2)
	for _, raw := range args[2:] {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			// Bare words pass through as strings.
			v = raw
		}
		fnArgs = append(fnArgs, v)
	}

	result, err := a.manager.Execute(ctx, args[0], args[1], fnArgs)
	if err != nil {
		return err
	}
	out, err := json.Marshal(result)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func (a *app) cmdUnload(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: tailordesk unload <id>")
	}
	return a.manager.Unload(ctx, args[0])
}

func (a *app) cmdSync(ctx context.Context) error {
	client := market.NewHTTPClient(a.cfg.MarketURL, nil, a.gw)
	syncer := market.NewSyncer(client, a.manager, a.store, a.log, a.gw, market.WithLogger(a.logger))

	progress := make(chan market.Progress, 16)
	go func() {
		for p := range progress {
			if p.Item != "" {
				fmt.Printf("\r%3.0f%% %s", p.Fraction*100, p.Item)
			}
		}
		fmt.Println()
	}()

	stats, err := syncer.Sync(ctx, progress)
	if err != nil {
		return err
	}
	fmt.Printf("Sync complete in %s: %d added, %d updated, %d removed, %d failed\n",
		stats.Duration.Round(time.Millisecond), stats.Added, stats.Updated, stats.Removed, stats.Failed)
	return nil
}

func (a *app) cmdAudit(args []string) error {
	hours := 24
	if len(args) == 1 {
		if _, err := fmt.Sscanf(args[0], "%d", &hours); err != nil {
			return fmt.Errorf("usage: tailordesk audit [hours]")
		}
	}

	events, err := a.log.Query(audit.Filter{From: time.Now().Add(-time.Duration(hours) * time.Hour)})
	if err != nil {
		return err
	}
	for _, ev := range events {
		fmt.Printf("%s %-20s %-16s %-24s %s\n",
			ev.Timestamp.Format(time.RFC3339), ev.Type, ev.Actor, ev.Resource, ev.Outcome)
	}
	fmt.Printf("%d events\n", len(events))
	return nil
}
