package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/mihaicode/headshots-starter/internal/auth"
	"github.com/mihaicode/headshots-starter/internal/config"
	"github.com/mihaicode/headshots-starter/internal/dashboard"
	"github.com/mihaicode/headshots-starter/internal/execution"
	"github.com/mihaicode/headshots-starter/internal/handlers"
	"github.com/mihaicode/headshots-starter/internal/jobs"
	"github.com/mihaicode/headshots-starter/internal/ledger"
	"github.com/mihaicode/headshots-starter/internal/repository"
	"github.com/mihaicode/headshots-starter/internal/services"
	"github.com/mihaicode/headshots-starter/internal/telemetry"
	"github.com/mihaicode/headshots-starter/internal/vendor"
	"github.com/mihaicode/headshots-starter/internal/webhook"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		slog.Error("Schema migrations failed", "error", err)
		os.Exit(1)
	}

	// River migrations (queue tables)
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Migrations applied")

	// Ledger
	ledgerRepo := ledger.NewRepository(pool)
	ledgerSvc := ledger.NewService(ledgerRepo, ledgerRepo, logger)

	// Jobs + vendor adapter
	jobsRepo := jobs.NewRepository(pool)
	vendorClient := vendor.NewHTTPClient(cfg.VendorAPIURL, cfg.VendorAPIKey)
	costs := jobs.Costs{Training: cfg.TrainingCost, Generation: cfg.GenerationCost}
	controller := jobs.NewController(pool, jobsRepo, ledgerSvc, vendorClient, costs, logger)

	// Webhook reconciliation
	verifier := webhook.NewVerifier(cfg.VendorWebhookSecret)
	reconciler := webhook.NewReconciler(pool, jobsRepo, ledgerSvc, logger)

	validator, err := services.NewValidator()
	if err != nil {
		slog.Error("Schema validator init failed", "error", err)
		os.Exit(1)
	}

	// Stale-job expiry sweep: vendors sometimes never deliver a terminal
	// webhook, so a periodic River job fails and refunds overdue jobs.
	workers := river.NewWorkers()
	river.AddWorker(workers, execution.NewExpireStaleJobsWorker(pool, jobsRepo, ledgerSvc, cfg.JobMaxAge, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(cfg.ExpirySweepInterval),
				func() (river.JobArgs, *river.InsertOpts) {
					return execution.ExpireStaleJobsArgs{}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	// Auth & dashboard
	authRepo := auth.NewRepository(pool)
	authSvc := auth.NewService(authRepo, cfg.JWTSecret, cfg.SignupCredits)
	authHandler := auth.NewHandler(authSvc, logger)

	accountRepo := repository.NewAccountRepo(pool)
	apiKeyRepo := repository.NewAPIKeyRepo(pool)
	dashHandler := dashboard.NewHandler(authSvc, accountRepo, ledgerRepo, apiKeyRepo, jobsRepo, logger)

	jobHandler := &handlers.JobHandler{Controller: controller, Validator: validator, Logger: logger}
	webhookHandler := &handlers.WebhookHandler{Verifier: verifier, Reconciler: reconciler, Logger: logger}

	mux := http.NewServeMux()
	RegisterV1Routes(mux, apiKeyRepo, jobHandler, webhookHandler, costs)
	RegisterDashboardRoutes(mux, authHandler, dashHandler)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(mux)

	// Metrics on a separate listener so it's never exposed with the API.
	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("GET /metrics", telemetry.Handler())
		slog.Info("Starting metrics server", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, metricsMux); err != nil {
			slog.Error("Metrics server failed", "error", err)
		}
	}()

	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	serverAddr := "0.0.0.0:" + cfg.HTTPPort
	slog.Info("Starting HTTP server", "addr", serverAddr)
	if err := http.ListenAndServe(serverAddr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
