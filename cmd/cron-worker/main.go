package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lorisconti/drivehub-backend/internal/appointments"
	"github.com/lorisconti/drivehub-backend/internal/cron"
	"github.com/lorisconti/drivehub-backend/internal/directory"
	"github.com/lorisconti/drivehub-backend/internal/invoicing"
	"github.com/lorisconti/drivehub-backend/internal/payments"
	"github.com/lorisconti/drivehub-backend/internal/reposition"
	"github.com/lorisconti/drivehub-backend/internal/scheduling"
	"github.com/lorisconti/drivehub-backend/pkg/config"
	"github.com/lorisconti/drivehub-backend/pkg/db"
	ficlient "github.com/lorisconti/drivehub-backend/pkg/invoicing"
	"github.com/lorisconti/drivehub-backend/pkg/logger"
	"github.com/lorisconti/drivehub-backend/pkg/metrics"
	"github.com/lorisconti/drivehub-backend/pkg/migrate"
	"github.com/lorisconti/drivehub-backend/pkg/outbox"
	"github.com/lorisconti/drivehub-backend/pkg/redis"
	"github.com/lorisconti/drivehub-backend/pkg/square"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	var squareClient *square.Client
	if cfg.Square.AccessToken != "" {
		squareClient, err = square.NewClient(context.Background(), cfg.Square, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap square", err)
			os.Exit(1)
		}
	} else {
		logg.Warn(context.Background(), "square credentials missing, charges will not run")
	}

	ficClient, err := ficlient.NewClient(cfg.Invoicing, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap invoicing client", err)
		os.Exit(1)
	}

	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	directoryRepo := directory.NewRepository(dbClient.DB())
	directorySvc, err := directory.NewService(directory.Params{Repo: directoryRepo})
	if err != nil {
		logg.Error(context.Background(), "failed to create directory service", err)
		os.Exit(1)
	}

	apptRepo := appointments.NewRepository(dbClient.DB())
	matcher, err := scheduling.NewMatcher(scheduling.MatcherParams{
		Directory:    directoryRepo,
		Appointments: apptRepo,
		Config:       cfg.Scheduling,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create slot matcher", err)
		os.Exit(1)
	}

	paymentsRepo := payments.NewRepository(dbClient.DB())
	paymentsParams := payments.Params{
		Repo:    paymentsRepo,
		Tx:      dbClient,
		Events:  outboxSvc,
		Metrics: metrics.NewPaymentMetrics(prometheus.DefaultRegisterer),
		Config:  cfg.Payments,
		Logger:  logg,
	}
	if squareClient != nil {
		paymentsParams.Gateway = squareClient
	}
	paymentsSvc, err := payments.NewService(paymentsParams)
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	repositionSvc, err := reposition.NewService(reposition.Params{
		Repo:         reposition.NewRepository(dbClient.DB()),
		Appointments: apptRepo,
		Payments:     paymentsRepo,
		Directory:    directorySvc,
		Matcher:      matcher,
		Tx:           dbClient,
		Events:       outboxSvc,
		Config:       cfg.Reposition,
		PaymentsCfg:  cfg.Payments,
		Logger:       logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reposition service", err)
		os.Exit(1)
	}

	invoicingSvc, err := invoicing.NewService(invoicing.Params{
		Repo:   invoicing.NewRepository(dbClient.DB()),
		Tx:     dbClient,
		Issuer: ficClient,
		Events: outboxSvc,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create invoicing service", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker"), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry()
	for _, build := range []func() (cron.Job, error){
		func() (cron.Job, error) { return cron.NewRepositionSweepJob(repositionSvc) },
		func() (cron.Job, error) { return cron.NewTaskExpiryJob(repositionSvc, logg) },
		func() (cron.Job, error) { return cron.NewPaymentQueueJob(paymentsSvc) },
		func() (cron.Job, error) { return cron.NewPaymentRunnerJob(paymentsSvc) },
		func() (cron.Job, error) { return cron.NewInvoiceFinalizerJob(invoicingSvc) },
	} {
		job, err := build()
		if err != nil {
			logg.Error(context.Background(), "failed to create cron job", err)
			os.Exit(1)
		}
		registry.Register(job)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}
