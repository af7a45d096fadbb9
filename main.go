// Package main is the entry point for the vigil triage and response engine.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"vigil/analysis"
	"vigil/api"
	"vigil/config"
	"vigil/notify"
	"vigil/respond"
	"vigil/storage"
	"vigil/threat"
	"vigil/triage"
)

// initLogger builds a console logger with readable timestamps
func initLogger() *zap.SugaredLogger {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		zapcore.InfoLevel,
	)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)).Sugar()
}

func openStore(cfg *config.Config, logger *zap.SugaredLogger) (storage.Store, func(), error) {
	switch cfg.Storage.Backend {
	case "memory":
		logger.Warn("Using in-memory storage, state is lost on restart")
		return storage.NewMemoryStore(), func() {}, nil
	default:
		store, err := storage.OpenSQLite(cfg.Storage.SQLitePath, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		logger.Infow("Opened sqlite store", "path", cfg.Storage.SQLitePath)
		return store, func() { _ = store.Close() }, nil
	}
}

func run() error {
	logger := initLogger()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var intel *threat.IntelCorrelator
	if cfg.Intel.Enabled {
		intel, err = threat.NewIntelCorrelator(
			threat.NewHTTPLookupClient(cfg.Intel),
			cfg.Intel.CacheSize, cfg.Intel.CacheTTL, logger)
		if err != nil {
			return fmt.Errorf("failed to build intel correlator: %w", err)
		}
		logger.Infow("Threat intel enabled", "base_url", cfg.Intel.BaseURL)
	} else {
		logger.Info("Threat intel disabled, triage runs without intel signal")
	}

	var ai analysis.Client
	if cfg.Analysis.Enabled {
		ai = analysis.NewHTTPClient(cfg.Analysis, logger)
		logger.Infow("Analysis service enabled", "model", cfg.Analysis.Model)
	} else {
		logger.Info("Analysis service disabled, triage uses severity fallback")
	}

	var notifier *notify.Notifier
	if cfg.Notify.Enabled {
		var mailer notify.Mailer
		if cfg.Notify.SMTPHost != "" {
			mailer = notify.NewSMTPMailer(cfg.Notify)
		}
		notifier = notify.NewNotifier(cfg.Notify, mailer, logger)
		logger.Infow("Notifications enabled", "min_severity", cfg.Notify.MinSeverity,
			"recipients", len(cfg.Notify.Recipients))
	}

	classifier := triage.NewClassifier(store, intel, ai, notifier, logger)
	sweeper := threat.NewSweeper(store, intel, logger)
	engine := respond.NewEngine(store, notifier, sweeper, logger)
	responder := respond.NewResponder(engine, intel)
	hunter := threat.NewHunter(store, ai, threat.HunterOptions{
		DefaultTimeRangeHours: cfg.Hunt.DefaultTimeRangeHours,
		DeviationThreshold:    cfg.Hunt.DeviationThreshold,
	}, logger)

	app := api.NewAPI(cfg, store, classifier, responder, engine, hunter, sweeper, logger)
	server := app.Server()

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("HTTP server listening", "addr", cfg.Server.Addr())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case sig := <-stop:
		logger.Infow("Shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	app.Shutdown(ctx)
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
