// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/absmach/coapscope"
	"github.com/absmach/coapscope/examples/simple"
	"github.com/absmach/coapscope/pkg/breaker"
	"github.com/absmach/coapscope/pkg/coap"
	"github.com/absmach/coapscope/pkg/dispatch"
	"github.com/absmach/coapscope/pkg/export/mqtt"
	"github.com/absmach/coapscope/pkg/handler"
	"github.com/absmach/coapscope/pkg/health"
	"github.com/absmach/coapscope/pkg/metrics"
	"github.com/absmach/coapscope/pkg/proxy"
	"github.com/absmach/coapscope/pkg/ratelimit"
	"github.com/absmach/coapscope/pkg/tap"
	"github.com/absmach/coapscope/pkg/tracker"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const (
	envPrefix  = "COAPSCOPE_"
	coapPrefix = "COAPSCOPE_COAP_"
)

// config holds the service configuration. Listener settings are read
// separately under coapPrefix.
type config struct {
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
	// LogRecords logs every inspected datagram.
	LogRecords bool `env:"LOG_RECORDS" envDefault:"false"`

	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
	HealthAddr  string `env:"HEALTH_ADDR"  envDefault:":8080"`
	TapAddr     string `env:"TAP_ADDR"     envDefault:":8081"`

	// MaxExchanges marks the service unhealthy once the store grows past it.
	MaxExchanges int `env:"MAX_EXCHANGES" envDefault:"100000"`

	// Export rate limiting per client
	ExportRateCapacity int64 `env:"EXPORT_RATE_CAPACITY" envDefault:"100"`
	ExportRateRefill   int64 `env:"EXPORT_RATE_REFILL"   envDefault:"50"`

	MQTTAddress   string        `env:"MQTT_ADDRESS"   envDefault:""`
	MQTTTopic     string        `env:"MQTT_TOPIC"     envDefault:"coapscope/records"`
	MQTTClientID  string        `env:"MQTT_CLIENT_ID" envDefault:"coapscope"`
	MQTTUsername  string        `env:"MQTT_USERNAME"  envDefault:""`
	MQTTPassword  string        `env:"MQTT_PASSWORD"  envDefault:""`
	MQTTTimeout   time.Duration `env:"MQTT_TIMEOUT"   envDefault:"5s"`

	BreakerMaxFailures  int           `env:"BREAKER_MAX_FAILURES"  envDefault:"5"`
	BreakerResetTimeout time.Duration `env:"BREAKER_RESET_TIMEOUT" envDefault:"30s"`
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	// Load .env file
	envErr := godotenv.Load()

	cfg := config{}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	if envErr != nil {
		logger.Warn("no .env file found, using environment variables")
	}

	store := tracker.NewStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg, "coapscope", store)

	hub := tap.New(tap.Config{Logger: logger})
	defer hub.Close()

	exporters := handler.Multi{hub}
	if cfg.MQTTAddress != "" {
		pub := newPublisher(cfg, logger)
		defer pub.Close()
		exporters = append(exporters, pub)
	}

	limiter := ratelimit.NewLimiter(cfg.ExportRateCapacity, cfg.ExportRateRefill, 0, 0)
	g.Go(func() error {
		limiter.Run(ctx)
		return nil
	})

	observer := handler.Multi{m, ratelimit.NewObserver(limiter, exporters)}
	if cfg.LogRecords {
		observer = append(observer, simple.New(logger))
	}

	p, err := startCoAPProxy(g, ctx, coapPrefix, store, observer, logger)
	if err != nil {
		logger.Error("CoAP proxy not started", slog.String("error", err.Error()))
		os.Exit(1)
	}

	checker := health.NewChecker(10 * time.Second)
	checker.Register("listener", health.ReadyCheck(p.Ready()))
	checker.Register("exchange_store", health.StoreCheck(store, cfg.MaxExchanges))

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	serveHTTP(g, ctx, "metrics", cfg.MetricsAddr, metricsMux, logger)

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health", checker.HTTPHandler())
	healthMux.HandleFunc("/ready", checker.ReadinessHandler())
	healthMux.HandleFunc("/live", health.LivenessHandler())
	serveHTTP(g, ctx, "health", cfg.HealthAddr, healthMux, logger)

	tapMux := http.NewServeMux()
	tapMux.Handle("/tap", hub)
	serveHTTP(g, ctx, "tap", cfg.TapAddr, tapMux, logger)

	// Signal handler
	g.Go(func() error {
		return StopSignalHandler(ctx, cancel, logger)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("coapscope service terminated with error: %s", err))
	} else {
		logger.Info("coapscope service stopped")
	}
}

func newPublisher(cfg config, logger *slog.Logger) *mqtt.Publisher {
	cb := breaker.New(breaker.Config{
		MaxFailures:  cfg.BreakerMaxFailures,
		ResetTimeout: cfg.BreakerResetTimeout,
	})
	cb.OnStateChange(func(from, to breaker.State) {
		logger.Warn("MQTT export circuit breaker state changed",
			slog.String("from", from.String()),
			slog.String("to", to.String()))
	})

	return mqtt.New(mqtt.Config{
		Address:  cfg.MQTTAddress,
		Topic:    cfg.MQTTTopic,
		ClientID: cfg.MQTTClientID,
		Username: cfg.MQTTUsername,
		Password: cfg.MQTTPassword,
		Timeout:  cfg.MQTTTimeout,
		Breaker:  cb,
		Logger:   logger,
	})
}

func startCoAPProxy(g *errgroup.Group, ctx context.Context, prefix string, store *tracker.Store, obs handler.Observer, logger *slog.Logger) (*proxy.CoAPProxy, error) {
	cfg, err := coapscope.NewConfig(env.Options{Prefix: prefix})
	if err != nil {
		return nil, err
	}

	if cfg.Port == "" {
		return nil, fmt.Errorf("port not configured, set %sPORT", prefix)
	}

	// Diagnostic payloads of error responses are logged; others are left to the observers.
	payloads := dispatch.NewTable(nil)
	payloads.Register(coap.DispatchTextPlain, dispatch.Func(func(ctx context.Context, key string, data []byte, offset int) {
		logger.Debug("diagnostic payload",
			slog.Int("offset", offset),
			slog.String("text", string(data)))
	}))

	coapProxy, err := proxy.NewCoAP(proxy.CoAPConfig{
		Host:            cfg.Host,
		Port:            cfg.Port,
		TargetHost:      cfg.TargetHost,
		TargetPort:      cfg.TargetPort,
		SessionTimeout:  cfg.SessionTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
		MaxSessions:     cfg.MaxSessions,
		WorkerPoolSize:  cfg.WorkerPoolSize,
		BufferSize:      cfg.BufferSize,
		Scheme:          cfg.Scheme,
		Store:           store,
		Dispatcher:      payloads,
		Logger:          logger,
	}, obs)
	if err != nil {
		return nil, err
	}

	g.Go(func() error {
		return coapProxy.Listen(ctx)
	})

	logger.Info("CoAP proxy started", slog.String("prefix", prefix))
	return coapProxy, nil
}

// serveHTTP runs an HTTP server until ctx is done. An empty addr disables it.
func serveHTTP(g *errgroup.Group, ctx context.Context, name, addr string, h http.Handler, logger *slog.Logger) {
	if addr == "" {
		logger.Info(name + " server disabled")
		return
	}

	srv := &http.Server{
		Addr:        addr,
		Handler:     h,
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	g.Go(func() error {
		logger.Info("starting "+name+" server", slog.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// setupLogger creates a structured logger with the specified level and format.
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func StopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM, syscall.SIGABRT)
	select {
	case <-c:
		logger.Info("received shutdown signal")
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}
