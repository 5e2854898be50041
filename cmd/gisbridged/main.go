package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gisbridge/internal/bridge"
	"gisbridge/internal/config"
	"gisbridge/internal/gcmd"
	"gisbridge/internal/history"
	"gisbridge/internal/ui"
	"gisbridge/internal/workstation"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fatal(err)
	}
	flag.StringVar(&cfg.Host, "host", cfg.Host, "listen host")
	flag.IntVar(&cfg.Port, "port", cfg.Port, "listen port")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite path for the command history")
	flag.DurationVar(&cfg.BridgeTimeout, "timeout", cfg.BridgeTimeout, "bounded wait per bridged command")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := history.Open(ctx, cfg.DBPath)
	if err != nil {
		fatal(err)
	}
	defer store.Close() //nolint:errcheck

	if err := history.ApplyMigrations(ctx, store.DB()); err != nil {
		fatal(err)
	}

	executor := ui.New(cfg.TaskQueueDepth)
	modules := gcmd.NewExecutor(cfg.ModuleTimeout)
	ws := workstation.New(modules, cancel)
	router := bridge.NewRouter(executor, ws, store, cfg.BridgeTimeout)
	srv := bridge.NewServer(cfg, router, store)

	go executor.Run()

	// The bridge accepts only /version until the workstation's top-level
	// state has been constructed on the executor, mirroring a GUI that
	// builds its main window after the event loop starts.
	if err := executor.Submit(func() { srv.SetReady() }); err != nil {
		fatal(err)
	}

	startRetentionLoop(ctx, store, cfg)

	err = srv.Start(ctx)
	executor.Stop()
	select {
	case <-executor.Done():
	case <-time.After(3 * time.Second):
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fatal(err)
	}
}

func startRetentionLoop(ctx context.Context, store *history.Store, cfg config.Config) {
	if cfg.HistoryTTL <= 0 {
		return
	}
	run := func() {
		cutoff := time.Now().UTC().Add(-cfg.HistoryTTL)
		if err := store.PurgeBefore(ctx, cutoff); err != nil && !errors.Is(err, context.Canceled) {
			logErr("history retention purge", err)
		}
	}

	run()
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}

func logErr(scope string, err error) {
	_, _ = fmt.Fprintf(os.Stderr, "gisbridged: %s: %v\n", scope, err)
}

func fatal(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "gisbridged: %v\n", err)
	os.Exit(1)
}
