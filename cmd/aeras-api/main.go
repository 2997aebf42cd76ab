// README: Entry point; loads config, wires services, starts HTTP server and background monitors.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"aeras/internal/config"
	httptransport "aeras/internal/http"
	"aeras/internal/infra"
	"aeras/internal/maps"
	"aeras/internal/modules/dispatch"
	"aeras/internal/modules/ledger"
	"aeras/internal/modules/location"
	"aeras/internal/modules/notify"
	"aeras/internal/modules/operator"
	"aeras/internal/modules/ride"
	"aeras/internal/o11y"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: error loading .env file: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs, shutdownTracing, err := o11y.Setup(ctx, o11y.Options{
		LogLevel:     cfg.Observability.LogLevel,
		OTLPEndpoint: cfg.Observability.OTLPEndpoint,
	})
	if err != nil {
		log.Fatalf("observability init: %v", err)
	}
	defer shutdownTracing()
	logger := obs.Logger
	slog.SetDefault(logger)

	backends, err := infra.OpenBackends(ctx, cfg)
	if err != nil {
		logger.Error("store init", slog.Any("err", err))
		os.Exit(1)
	}
	defer backends.Close()

	hub := notify.NewSignalHub(logger)
	notifiers := notify.Multi{notify.Log{Logger: logger}, hub}
	if cfg.Firebase.FCMTopic != "" && backends.Firebase != nil {
		notifiers = append(notifiers, notify.NewFCM(backends.Firebase.Messaging, cfg.Firebase.FCMTopic))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		k := notify.NewKafka(infra.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		defer k.Close()
		notifiers = append(notifiers, k)
	}

	dispatchOpts := dispatch.Options{
		RequestTimeout: cfg.Dispatch.RequestTimeout,
		Notifier:       notifiers,
		Metrics:        obs.Metrics,
		Logger:         logger.With(slog.String("component", "dispatch")),
	}
	rideOpts := ride.Options{
		GPSTimeout: cfg.GPS.Timeout,
		GPSMaxAge:  cfg.GPS.MaxAge,
		Notifier:   notifiers,
		Metrics:    obs.Metrics,
		Logger:     logger.With(slog.String("component", "ride")),
	}
	// Assigned only when configured so the services never see a typed nil.
	if cfg.DB.DSN != "" {
		pool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			logger.Error("ledger db init", slog.Any("err", err))
			os.Exit(1)
		}
		defer pool.Close()
		ledgerStore := ledger.NewStore(pool)
		dispatchOpts.Ledger = ledgerStore
		rideOpts.Ledger = ledgerStore
	}
	if cfg.Maps.APIKey != "" {
		routes, err := maps.NewRouteService(cfg.Maps.APIKey)
		if err != nil {
			logger.Error("maps init", slog.Any("err", err))
			os.Exit(1)
		}
		dispatchOpts.Distance = routes
	}

	locationSvc := location.NewService(location.NewBlockStore(backends.Store), backends.Samples)
	dispatchSvc := dispatch.NewService(backends.Store, locationSvc, dispatchOpts)
	rideSvc := ride.NewService(backends.Store, locationSvc, locationSvc, rideOpts)

	server := httptransport.NewServer(httptransport.ServerDeps{
		Dispatch:       dispatchSvc,
		Rides:          rideSvc,
		Operators:      operator.NewStore(backends.Store),
		Location:       locationSvc,
		Signals:        hub,
		Registry:       obs.Registry,
		Logger:         logger,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		dispatchSvc.RunTimeoutMonitor(ctx, cfg.Dispatch.TimeoutTick)
	}()
	go func() {
		defer wg.Done()
		dispatchSvc.RunRejectionArbiter(ctx, cfg.Dispatch.ArbiterPoll)
	}()

	// Replay any cleanup a previous process did not finish.
	if report, err := rideSvc.Reconcile(ctx); err != nil {
		logger.Warn("startup reconcile", slog.Any("err", err))
	} else if report.ActiveRemoved > 0 || report.RequestsRemoved > 0 {
		logger.Info("startup reconcile", slog.Int("active_removed", report.ActiveRemoved), slog.Int("requests_removed", report.RequestsRemoved))
	}

	if err := server.Run(ctx, cfg.HTTP.Addr); err != nil {
		logger.Error("http server", slog.Any("err", err))
		stop()
	}
	wg.Wait()
	logger.Info("shutdown complete")
}
