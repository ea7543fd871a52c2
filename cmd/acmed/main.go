package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pelletier/go-toml/v2"

	acme "github.com/caasmo/acme-lifecycle"
	"github.com/caasmo/acme-lifecycle/zombiezen"
)

func loadConfig(path string) (acme.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return acme.Config{}, fmt.Errorf("acmed: read config: %w", err)
	}
	cfg := acme.DefaultConfig(os.Getenv("ACME_APP_DATA"))
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return acme.Config{}, fmt.Errorf("acmed: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return acme.Config{}, fmt.Errorf("acmed: invalid config: %w", err)
	}
	return cfg, nil
}

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	var configPath, listenAddr string
	flag.StringVar(&configPath, "config", "acme.toml", "path to the ACME TOML configuration file")
	flag.StringVar(&listenAddr, "listen", ":8443", "listen address for the Control Surface")
	flag.Parse()

	cfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to load configuration", "path", configPath, "error", err)
		os.Exit(1)
	}
	logger.Info("configuration loaded", "path", configPath, "enabled", cfg.EnableClient, "handler", cfg.ChallengeHandlerType)

	historyWriter, err := zombiezen.New(cfg.HistoryDBPath)
	if err != nil {
		logger.Error("failed to open certificate history database", "path", cfg.HistoryDBPath, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := historyWriter.Close(); err != nil {
			logger.Error("error closing history database", "error", err)
		}
	}()

	ledger := acme.NewLedger(logger)
	store := acme.NewStore()

	cfgFunc := func() acme.Config {
		reloaded, err := loadConfig(configPath)
		if err != nil {
			logger.Warn("failed to reload configuration, using last known good config", "error", err)
			return cfg
		}
		cfg = reloaded
		return cfg
	}

	onCertificateUpdated := func(artifacts acme.CertificateArtifacts) {
		logger.Info("certificate artifacts updated on disk", "chain", artifacts.Chain, "key", artifacts.Key)
	}

	orchestrator, err := acme.NewOrchestrator(cfgFunc, ledger, store, historyWriter, logger, onCertificateUpdated)
	if err != nil {
		logger.Error("failed to construct orchestrator", "error", err)
		os.Exit(1)
	}
	orchestrator.Start()
	defer orchestrator.Stop()

	control := acme.NewControlSurface(ledger, orchestrator, cfgFunc, logger, cfg.ControlAuthSecret)
	server := &http.Server{
		Addr:    listenAddr,
		Handler: control.Handler(),
	}

	go func() {
		logger.Info("control surface listening", "addr", listenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("control surface exited unexpectedly", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down control surface", "error", err)
	}
}
