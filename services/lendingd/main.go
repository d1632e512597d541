package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"p2plend/core/events"
	nativecommon "p2plend/native/common"
	"p2plend/native/lending"
	"p2plend/native/oracle"
	"p2plend/observability"
	"p2plend/observability/logging"
	telemetry "p2plend/observability/otel"
	"p2plend/services/lendingd/config"
	"p2plend/services/lendingd/journal"
	"p2plend/services/lendingd/server"
	"p2plend/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", strings.TrimSpace(os.Getenv("LENDINGD_CONFIG")), "path to lendingd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.SetupWithOptions("lendingd", cfg.Environment, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "lendingd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetryHeaders(cfg.Telemetry.Headers, os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("lendingd stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	params, err := lending.LoadConfig(cfg.ParamsFile)
	if err != nil {
		return err
	}

	var db storage.Database
	if cfg.DataDir == "" {
		logger.Warn("no data_dir configured; state is kept in memory")
		db = storage.NewMemDB()
	} else {
		ldb, err := storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		db = ldb
	}
	defer db.Close()

	feeds, manual, err := buildFeeds(cfg.Oracle)
	if err != nil {
		return err
	}
	logger.Info("oracle feeds registered", "kind", cfg.Oracle.Kind, "addresses", feeds.Addresses())

	engine, err := lending.NewEngine(db, feeds, params)
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}
	engine.SetLogger(logger)
	engine.SetEscrowAccount(cfg.EscrowAccount)
	pauses := nativecommon.NewPauseSwitch()
	if cfg.EmergencyPause {
		pauses.Set("lending", true)
		logger.Warn("emergency pause active; lending mutations are rejected")
	}
	engine.SetPauses(pauses)

	j, err := openJournal(cfg.Journal, logger)
	if err != nil {
		return err
	}
	engine.SetEmitter(events.Fanout{j, observability.Events()})

	srv := server.New(engine, j, server.Config{
		Auth: server.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew.Duration,
			DevHeader:  cfg.Auth.DevCallerHeader,
		},
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		FaucetEnabled:     cfg.Faucet.Enabled,
		PriceOverride:     priceOverride(manual),
		AllowedOrigins:    cfg.WSAllowedOrigins,
		FaucetQuota: nativecommon.Quota{
			MaxRequestsPerWindow: cfg.Faucet.MaxRequestsPerWindow,
			MaxUnitsPerWindow:    cfg.Faucet.MaxUnitsPerWindow,
			WindowSeconds:        uint32(cfg.Faucet.Window.Seconds()),
		},
	}, logger, observability.Lending())

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("lendingd listening", "addr", cfg.ListenAddress, "oracle", cfg.Oracle.Kind,
			logging.MaskField("jwt_secret", cfg.Auth.HMACSecret))
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// buildFeeds registers the configured price feed under the oracle address.
// The manual feed is also returned so the API can accept price overrides.
func buildFeeds(cfg config.OracleConfig) (*oracle.Registry, *oracle.ManualFeed, error) {
	feeds := oracle.NewRegistry()
	var manual *oracle.ManualFeed
	switch cfg.Kind {
	case "fixed":
		price := oracle.DefaultFixedPrice
		if cfg.Price != "" {
			scaled, err := oracle.ScaleDecimal(cfg.Price, cfg.Decimals)
			if err != nil {
				return nil, nil, fmt.Errorf("oracle price: %w", err)
			}
			price = scaled
		}
		feeds.Register(cfg.Address, oracle.NewFixedFeed(new(big.Int).Set(price), cfg.Decimals))
	case "manual":
		manual = oracle.NewManualFeed(cfg.Decimals)
		if cfg.Price != "" {
			if err := manual.SetDecimal(cfg.Asset, cfg.Price, time.Now()); err != nil {
				return nil, nil, fmt.Errorf("oracle price: %w", err)
			}
		}
		feeds.Register(cfg.Address, manual)
	case "http":
		client := &http.Client{Timeout: cfg.Timeout.Duration}
		feeds.Register(cfg.Address, oracle.NewHTTPFeed(client, cfg.Endpoint, cfg.APIKey, cfg.Decimals))
	default:
		return nil, nil, fmt.Errorf("unsupported oracle kind %q", cfg.Kind)
	}
	return feeds, manual, nil
}

// priceOverride avoids handing the server a typed nil.
func priceOverride(feed *oracle.ManualFeed) server.PriceSetter {
	if feed == nil {
		return nil
	}
	return feed
}

func openJournal(cfg config.JournalConfig, logger *slog.Logger) (*journal.Journal, error) {
	if cfg.Driver == "" {
		return journal.New(nil, logger)
	}
	db, err := journal.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	logger.Info("event journal opened", "driver", cfg.Driver, "journal_dsn", cfg.DSN)
	return journal.New(db, logger)
}

// telemetryHeaders overlays the standard OTLP header variable onto the
// configured headers.
func telemetryHeaders(configured map[string]string, envRaw string) map[string]string {
	out := make(map[string]string, len(configured))
	for k, v := range configured {
		out[k] = v
	}
	for k, v := range telemetry.ParseHeaders(envRaw) {
		out[k] = v
	}
	return out
}
