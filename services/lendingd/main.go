package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"crossledger/core/events"
	"crossledger/gateway/middleware"
	"crossledger/observability"
	"crossledger/observability/logging"
	telemetry "crossledger/observability/otel"
	lendingengine "crossledger/services/lending/engine"
	lendingserver "crossledger/services/lending/server"
	"crossledger/services/lendingd/config"
	"crossledger/services/lendingd/journal"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/lendingd/config.yaml", "path to lendingd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := run(cfg); err != nil {
		log.Fatalf("lendingd: %v", err)
	}
}

func run(cfg config.Config) error {
	env := cfg.Environment
	if env == "" {
		env = strings.TrimSpace(os.Getenv("CROSSLEDGER_ENV"))
	}
	logger, logCloser := logging.Setup("lendingd", env, logging.Options{
		Level:      logging.ParseLevel(cfg.Logging.Level),
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	defer logCloser.Close()
	slog.SetDefault(logger)
	sanitized := cfg.Sanitized()
	logger.Info("lendingd starting",
		"listen", sanitized.ListenAddress,
		"storage", sanitized.Storage.Engine,
		"journal", sanitized.Journal.Driver,
		"journal_dsn", sanitized.Journal.DSN,
		"auth", sanitized.Auth.Enabled,
		"tls", sanitized.TLS.Enabled())

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName:   telemetry.DefaultServiceName,
		Environment:   env,
		ModuleAddress: cfg.ModuleAddress,
		Endpoint:      cfg.Telemetry.Endpoint,
		Insecure:      cfg.Telemetry.Insecure,
		Headers:       cfg.Telemetry.Headers,
		Metrics:       cfg.Telemetry.Metrics,
		Traces:        cfg.Telemetry.Traces,
		SampleRatio:   cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	metrics := observability.LendingMetrics()
	hub := journal.NewBroadcaster()
	hub.OnDrop(metrics.RecordStreamDrop)
	var eventLog lendingserver.EventLog
	var store *journal.Store
	if cfg.Journal.Driver != config.JournalNone {
		store, err = journal.Open(cfg.Journal.Driver, cfg.Journal.DSN, cfg.Journal.DefaultLimit)
		if err != nil {
			return err
		}
		defer store.Close()
		eventLog = store
	}
	fanout := &events.Fanout{}
	fanout.Add(journal.New(store, hub, logger))
	fanout.Add(observability.NewEventMetrics(metrics))

	a, err := bootstrap(ctx, cfg, db, fanout, logger)
	if err != nil {
		return err
	}
	metrics.SetPaused(a.controlsPaused(ctx))

	var auth *middleware.Authenticator
	if cfg.Auth.Enabled {
		auth = middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    true,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ScopeClaim: cfg.Auth.ScopeClaim,
			ClockSkew:  cfg.Auth.ClockSkew,
		}, logger)
	}
	limiter := middleware.NewRateLimiter(rateLimits(cfg.RateLimits), logger)
	limiter.OnThrottle = metrics.RecordThrottle
	obs, err := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName:   "lendingd",
		MetricsPrefix: "crossledger_lending_api",
		LogRequests:   true,
		Enabled:       true,
	}, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("init http observability: %w", err)
	}
	var cors *middleware.CORSConfig
	if len(cfg.CORS.AllowedOrigins) > 0 {
		cors = &middleware.CORSConfig{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowCredentials: cfg.CORS.AllowCredentials,
		}
	}

	service := lendingserver.New(lendingserver.Config{
		Engine:           lendingengine.NewLocalAdapter(a.engine, a.feed, metrics),
		Logger:           logger,
		Auth:             auth,
		RateLimiter:      limiter,
		Observability:    obs,
		CORS:             cors,
		Events:           eventLog,
		Stream:           hub,
		Metrics:          promhttp.Handler(),
		RequestTimeout:   cfg.RequestTimeout,
		WSOriginPatterns: cfg.CORS.AllowedOrigins,
	})

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddress, err)
	}
	if !cfg.TLS.Enabled() {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if env != "dev" && !loopback {
			listener.Close()
			return errors.New("plaintext lendingd mode is restricted to loopback listeners or dev environment")
		}
	}
	tlsConfig, err := loadServerTLS(cfg.TLS)
	if err != nil {
		listener.Close()
		return fmt.Errorf("configure tls: %w", err)
	}
	if tlsConfig != nil {
		listener = tls.NewListener(listener, tlsConfig)
	}

	server := &http.Server{
		Handler:           otelhttp.NewHandler(service.Handler(), "lendingd"),
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("lendingd listening", "addr", listener.Addr().String(), "tls", tlsConfig != nil)
		serverErr <- server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", "error", err)
			_ = server.Close()
		}
		return nil
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	}
}

var defaultRateLimits = map[string]middleware.RateLimit{
	lendingserver.LimitRead:  {RatePerSecond: 20, Burst: 40, DefaultTokens: 1},
	lendingserver.LimitWrite: {RatePerSecond: 5, Burst: 10, DefaultTokens: 1},
	lendingserver.LimitAdmin: {RatePerSecond: 1, Burst: 5, DefaultTokens: 1},
}

// rateLimits overlays configured classes on the defaults.
func rateLimits(configured map[string]config.RateLimitConfig) map[string]middleware.RateLimit {
	out := make(map[string]middleware.RateLimit, len(defaultRateLimits)+len(configured))
	for key, limit := range defaultRateLimits {
		out[key] = limit
	}
	for key, limit := range configured {
		out[key] = middleware.RateLimit{
			RatePerSecond: limit.RatePerSecond,
			Burst:         limit.Burst,
			DefaultTokens: limit.DefaultTokens,
			Tokens:        limit.Tokens,
		}
	}
	return out
}

func loadServerTLS(cfg config.TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled() {
		if cfg.AllowInsecure {
			return nil, nil
		}
		return nil, fmt.Errorf("tls credentials are required")
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load tls keypair: %w", err)
	}
	tlsCfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}
	if cfg.MTLSEnabled() {
		pem, err := os.ReadFile(cfg.ClientCAPath)
		if err != nil {
			return nil, fmt.Errorf("read client ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse client ca: invalid pem data")
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tlsCfg, nil
}
