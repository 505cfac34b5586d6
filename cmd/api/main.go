package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/lorisconti/drivehub-backend/api/controllers"
	"github.com/lorisconti/drivehub-backend/api/routes"
	"github.com/lorisconti/drivehub-backend/internal/appointments"
	"github.com/lorisconti/drivehub-backend/internal/directory"
	"github.com/lorisconti/drivehub-backend/internal/notifications"
	"github.com/lorisconti/drivehub-backend/internal/payments"
	"github.com/lorisconti/drivehub-backend/internal/reposition"
	"github.com/lorisconti/drivehub-backend/internal/scheduling"
	"github.com/lorisconti/drivehub-backend/pkg/config"
	"github.com/lorisconti/drivehub-backend/pkg/db"
	"github.com/lorisconti/drivehub-backend/pkg/logger"
	"github.com/lorisconti/drivehub-backend/pkg/migrate"
	"github.com/lorisconti/drivehub-backend/pkg/outbox"
	"github.com/lorisconti/drivehub-backend/pkg/redis"
	"github.com/lorisconti/drivehub-backend/pkg/square"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
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
		logg.Warn(context.Background(), "square credentials missing, card vaulting disabled")
	}

	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	directoryRepo := directory.NewRepository(dbClient.DB())
	directoryParams := directory.Params{Repo: directoryRepo}
	if squareClient != nil {
		directoryParams.Gateway = squareClient
	}
	directorySvc, err := directory.NewService(directoryParams)
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

	apptSvc, err := appointments.NewService(appointments.Params{
		Repo:       apptRepo,
		Directory:  directorySvc,
		Tx:         dbClient,
		Events:     outboxSvc,
		Scheduling: cfg.Scheduling,
		Payments:   cfg.Payments,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create appointments service", err)
		os.Exit(1)
	}

	paymentsRepo := payments.NewRepository(dbClient.DB())
	paymentsParams := payments.Params{
		Repo:   paymentsRepo,
		Tx:     dbClient,
		Events: outboxSvc,
		Config: cfg.Payments,
		Logger: logg,
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
	apptSvc.BindEnqueuer(repositionSvc)

	notificationsSvc, err := notifications.NewService(notifications.Params{
		Repo:   notifications.NewRepository(dbClient.DB()),
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create notifications service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config: cfg,
			Logger: logg,
			ReadyDeps: map[string]controllers.Pinger{
				"db":    dbClient,
				"redis": redisClient,
			},
			Appointments:  apptSvc,
			Payments:      paymentsSvc,
			Reposition:    repositionSvc,
			Notifications: notificationsSvc,
			Directory:     directorySvc,
			Windows:       directoryRepo,
			SlotFinder:    matcher,
			Timezones:     directorySvc,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
