// Command arenad serves the arena HTTP API and live pose feed, persisting
// rounds to SQLite.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/MJE43/forage-arena-go/internal/api"
	"github.com/MJE43/forage-arena-go/internal/config"
	"github.com/MJE43/forage-arena-go/internal/livefeed"
	"github.com/MJE43/forage-arena-go/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var (
		addr     = flag.String("addr", "", "listen address (overrides config)")
		dbPath   = flag.String("db", "", "SQLite database path (overrides config)")
		cfgPath  = flag.String("config", "", "JSON scenario file")
		mirrorDB = flag.String("mirror-db", "", "second SQLite file receiving every write")
		envFile  = flag.String("env", ".env", "dotenv file with ARENA_* overrides")
	)
	flag.Parse()

	cfg, err := loadConfig(*cfgPath, *envFile)
	if err != nil {
		log.Fatal("config_failed", "err", err)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}
	if *mirrorDB != "" {
		cfg.Store.MirrorPath = *mirrorDB
	}

	logger := cfg.Logger(os.Stderr)
	log.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("arenad_failed", "err", err)
	}
}

func loadConfig(path, envFile string) (config.Config, error) {
	cfg := config.Default()
	var err error
	if path != "" {
		if cfg, err = config.Load(cfg, path); err != nil {
			return cfg, err
		}
	}
	if cfg, err = config.FromEnv(cfg, envFile); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	primary, err := store.Open(ctx, cfg.Store.Kind, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if cfg.Store.MirrorPath == "" {
		return primary, nil
	}
	secondary, err := store.Open(ctx, store.KindSQLite, cfg.Store.MirrorPath)
	if err != nil {
		primary.Close()
		return nil, fmt.Errorf("open mirror store: %w", err)
	}
	return store.NewMirror(primary, secondary), nil
}

func run(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("store_close_failed", "err", err)
		}
	}()

	hub := livefeed.NewHub(logger.WithPrefix("livefeed"), cfg.LiveBuffer)
	defer hub.Close()

	srv, err := api.NewServer(api.Options{Store: st, Config: cfg, Hub: hub, Logger: logger})
	if err != nil {
		return err
	}
	ln, err := srv.Listen(cfg.Addr)
	if err != nil {
		return err
	}
	logger.Info("arenad_started",
		"addr", ln.Addr(),
		"store", cfg.Store.Kind,
		"db", cfg.Store.Path,
		"mirror", cfg.Store.MirrorPath != "",
		"version", api.EngineVersion,
	)

	errCh := make(chan error, 1)
	go func() { errCh <- ln.Serve() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("arenad_stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := ln.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
