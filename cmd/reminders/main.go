package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"reminders/internal/api"
	"reminders/internal/config"
	"reminders/internal/notify"
	"reminders/internal/scheduler"
	"reminders/internal/store"
	"reminders/internal/sweep"
	"reminders/internal/worker"
)

func main() {
	var (
		cfgPath = flag.String("config", "", "optional YAML config file")
		addr    = flag.String("addr", "", "HTTP bind address (overrides PORT)")
		dbPath  = flag.String("db", "", "SQLite DB path (overrides DB_PATH)")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("load config")
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	listen := cfg.Addr()
	if *addr != "" {
		listen = *addr
	}

	logger := newLogger(cfg)

	st, err := openStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("store", cfg.Store).Msg("open store")
	}
	defer st.Close()
	logger.Info().Str("store", cfg.Store).Msg("store ready")

	sink, err := newSink(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("notification sink")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := worker.NewPool(ctx, cfg.DispatchWorkers, 30*time.Second)
	engine := sweep.New(st, sink, pool, sweep.Config{
		Window:      cfg.SweepWindow,
		Reschedule:  cfg.ReschedulePeriod,
		Placeholder: cfg.Placeholder,
	}, logger)

	var sched *scheduler.Service
	if cfg.SweepCron != "" {
		if err := scheduler.CheckCadence(cfg.SweepCron, cfg.SweepWindow, time.Now()); err != nil {
			logger.Warn().Err(err).Msg("sweep cadence leaves gaps")
		}
		sched, err = scheduler.NewService(engine, cfg.SweepCron, cfg.SweepWindow, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("scheduler")
		}
		sched.Start()
	} else {
		logger.Info().Msg("no SWEEP_CRON set, sweeps run only via POST /check-messages")
	}

	srv := &http.Server{
		Addr:         listen,
		Handler:      api.NewServer(st, engine, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", listen).Str("env", cfg.Env).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server")
		}
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	logger.Info().Msg("shutting down")

	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelTimeout()
	if sched != nil {
		select {
		case <-sched.Stop().Done():
		case <-ctxTimeout.Done():
		}
	}
	_ = srv.Shutdown(ctxTimeout)
	if err := pool.Drain(ctxTimeout); err != nil {
		logger.Warn().Err(err).Msg("pending notifications abandoned")
	}
	cancel()
}

func newLogger(cfg *config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.Store == "redis" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return store.NewRedisStore(ctx, cfg.RedisURL)
	}
	return store.OpenSQLite(cfg.DBPath)
}

func newSink(cfg *config.Config, logger zerolog.Logger) (notify.Sink, error) {
	switch {
	case cfg.HasTelegram():
		logger.Info().Int64("chat_id", cfg.ChatID).Msg("delivering to telegram")
		return notify.NewTelegram(notify.TelegramConfig{Token: cfg.BotToken, ChatID: cfg.ChatID, RatePerSec: cfg.SendRate})
	case cfg.WebhookURL != "":
		logger.Info().Msg("delivering to webhook")
		return notify.NewWebhook(notify.WebhookConfig{URL: cfg.WebhookURL, RatePerSec: cfg.SendRate})
	default:
		logger.Warn().Msg("no BOT_TOKEN/CHAT_ID or WEBHOOK_URL set, notifications go to the log")
		return notify.NewLogSink(logger), nil
	}
}
