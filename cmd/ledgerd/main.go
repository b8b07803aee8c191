package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"FundLedger/internal/config"
	"FundLedger/internal/ledger"
	"FundLedger/internal/scheduler"
	"FundLedger/internal/store"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

func main() {
	_ = godotenv.Load()

	// Load config
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("config validation")
	}

	log := newLogger(cfg.Log.Level, cfg.Log.Pretty)
	log.Info().Msg("fund ledger starting")

	// Init stores: SQLite when configured, in-memory fallback otherwise.
	var (
		states    store.FundStateStore
		history   store.HistoryStore
		accounts  store.AccountRegistry
		managers  store.ManagerRegistry
		snapshots store.SnapshotStore
	)
	if cfg.Database.SQLitePath != "" {
		s, err := store.Open(cfg.Database.SQLitePath, log)
		if err != nil {
			log.Fatal().Err(err).Msg("open sqlite store")
		}
		defer s.Close()
		states, history, accounts, managers, snapshots = s, s, s, s, s
	} else {
		log.Warn().Msg("no sqlite path configured, using in-memory store")
		m := store.NewMemory()
		states, history, accounts, managers, snapshots = m, m, m, m, m
	}

	// Init ledger service
	svc := ledger.NewService(states, history, accounts, managers, log)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init scheduler
	storeTimeout := time.Duration(cfg.Store.TimeoutSeconds) * time.Second
	sched := scheduler.NewScheduler(ctx, svc, snapshots, storeTimeout, log)
	if err := sched.RegisterAll(cfg.Schedule.AuditCron, cfg.Schedule.SnapshotCron); err != nil {
		log.Fatal().Err(err).Msg("register cron tasks")
	}
	sched.Start()
	defer sched.Stop()

	if os.Getenv("AUDIT_ON_START") == "true" {
		log.Info().Msg("AUDIT_ON_START enabled, running invariant audit now")
		go sched.RunAuditNow()
	}

	log.Info().Msg("fund ledger is running, press Ctrl+C to stop")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutdown signal received, stopping")
	cancel()
	log.Info().Msg("fund ledger stopped")
}

func newLogger(level string, pretty bool) zerolog.Logger {
	lvl := zerolog.InfoLevel
	switch level {
	case "debug":
		lvl = zerolog.DebugLevel
	case "warn":
		lvl = zerolog.WarnLevel
	case "error":
		lvl = zerolog.ErrorLevel
	}

	var out io.Writer = os.Stdout
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}
