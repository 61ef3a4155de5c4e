// Command server runs the addition-supervisor HTTP API.
//
// Startup order:
//  1. Load .env (best-effort) and environment configuration
//  2. Configure zerolog (level, optional pretty console)
//  3. Open SQLite and run migrations
//  4. Initialize OpenTelemetry tracing (optional)
//  5. Recover runs orphaned by a previous crash
//  6. Register routes and serve until SIGINT/SIGTERM, then drain
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/abinet508/go-adder-backend/internal/config"
	httpapi "github.com/abinet508/go-adder-backend/internal/http"
	"github.com/abinet508/go-adder-backend/internal/observability"
	"github.com/abinet508/go-adder-backend/internal/platform"
	"github.com/abinet508/go-adder-backend/internal/repo"
	"github.com/abinet508/go-adder-backend/internal/supervisor"
	"github.com/abinet508/go-adder-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// .env is optional; real deployments configure via the environment.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	gin.SetMode(cfg.GinMode)

	db, err := repo.OpenSQLite(cfg.DBPath, cfg.OTEL.Enabled)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("setup tracing")
	}

	client := platform.NewGatewayClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.Timeout)
	sup := supervisor.New(db, client, supervisor.Policy{
		MinDelay:          cfg.Scheduler.MinDelay,
		MaxDelay:          cfg.Scheduler.MaxDelay,
		RetryLimit:        cfg.Scheduler.RetryLimit,
		DefaultDailyLimit: cfg.Scheduler.DefaultDailyLimit,
		DefaultBatchSize:  cfg.Scheduler.DefaultBatchSize,
	}, nil)

	if err := sup.RecoverOrphans(ctx); err != nil {
		log.Fatal().Err(err).Msg("recover orphaned runs")
	}

	r := gin.New()
	httpapi.RegisterRoutes(r, db, sup, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	drainCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error().Err(err).Msg("server drain")
	}
	if shutdownOTel != nil {
		if err := shutdownOTel(drainCtx); err != nil {
			log.Error().Err(err).Msg("tracer shutdown")
		}
	}
	log.Info().Msg("bye")
}
