// Command portal-authd serves the energy portal's identity and team API.
//
// Configuration comes from the YAML file named by -config (optional) and
// PORTAL_AUTH_* environment variables. Without a Postgres DSN users live in
// memory; without an AMQP URL email jobs are logged.
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

	"github.com/redis/go-redis/v9"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrEthical07/portalauth"
	"github.com/MrEthical07/portalauth/httpapi"
	"github.com/MrEthical07/portalauth/internal/config"
	"github.com/MrEthical07/portalauth/internal/logging"
	"github.com/MrEthical07/portalauth/mailer"
	otelexport "github.com/MrEthical07/portalauth/metrics/export/otel"
	promexport "github.com/MrEthical07/portalauth/metrics/export/prometheus"
	"github.com/MrEthical07/portalauth/store/memory"
	"github.com/MrEthical07/portalauth/store/postgres"
)

var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", os.Getenv("PORTAL_AUTH_CONFIG"), "path to YAML config file")
	flag.Parse()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type closer interface {
	Close() error
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(cfg.Log.Format, cfg.Log.Level, os.Stdout)
	log.Info("starting portal-authd", "version", version, "config", configPath)

	engineCfg, err := cfg.Engine()
	if err != nil {
		return fmt.Errorf("engine config: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer closeLogged(log, "redis", rdb)

	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancelPing()
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	log.Info("redis connected", "addr", cfg.Redis.Addr)

	var store portalauth.Store
	if cfg.Postgres.DSN != "" {
		pg, err := postgres.Open(ctx, cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("opening postgres: %w", err)
		}
		defer closeLogged(log, "postgres", pg)
		store = pg
		log.Info("postgres connected, migrations applied")
	} else {
		store = memory.New()
		log.Warn("no postgres dsn configured, using in-memory user store")
	}

	var mail portalauth.Mailer
	if cfg.AMQP.URL != "" {
		mq, err := mailer.Dial(mailer.AMQPConfig{
			URL:      cfg.AMQP.URL,
			Exchange: cfg.AMQP.Exchange,
			Links:    cfg.Links(),
		})
		if err != nil {
			return fmt.Errorf("connecting to rabbitmq: %w", err)
		}
		defer closeLogged(log, "rabbitmq", mq)
		mail = mq
		log.Info("rabbitmq connected", "exchange", cfg.AMQP.Exchange)
	} else {
		mail = mailer.NewLogMailer(log, cfg.Links())
		log.Warn("no amqp url configured, email jobs are logged only")
	}

	engine, err := portalauth.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithStore(store).
		WithMailer(mail).
		WithLogger(log).
		WithAuditSink(portalauth.NewSlogSink(log)).
		Build()
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}
	defer engine.Close()

	apiCfg := httpapi.Config{
		DevelopmentMode:   cfg.HTTP.DevMode,
		TrustProxyHeaders: cfg.HTTP.TrustProxy,
	}
	if cfg.Metrics.Prometheus {
		apiCfg.Metrics = promexport.New(engine).Handler()
	}
	if cfg.Metrics.LogInterval > 0 {
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(otelexport.NewLogExporter(log), sdkmetric.WithInterval(cfg.Metrics.LogInterval)),
		))
		defer func() {
			if err := provider.Shutdown(context.Background()); err != nil {
				log.Error("metrics provider shutdown failed", "error", err)
			}
		}()
		exp, err := otelexport.New(provider.Meter("portal-authd"), engine)
		if err != nil {
			return fmt.Errorf("registering metrics: %w", err)
		}
		defer closeLogged(log, "otel exporter", exp)
	}
	if cfg.HTTP.DevMode {
		log.Warn("development mode: session cookie is sent without Secure")
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpapi.New(engine, log, apiCfg).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	log.Info("portal-authd stopped")
	return nil
}

func closeLogged(log *slog.Logger, name string, c closer) {
	if err := c.Close(); err != nil {
		log.Error("close failed", "component", name, "error", err)
	}
}
