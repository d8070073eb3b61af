package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ridehail/internal/app"
	"ridehail/internal/auth"
	"ridehail/internal/config"
	"ridehail/internal/dispatch"
	"ridehail/internal/handler"
	"ridehail/internal/logger"
	"ridehail/internal/mq"
	internalRedis "ridehail/internal/redis"
	"ridehail/internal/repository"
	"ridehail/internal/service"
)

func main() {
	// Load configuration.
	cfg := config.Load()

	log, err := logger.New(cfg.Log, "ride-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize New Relic FIRST (before the store so we can instrument it).
	var nrApp *newrelic.Application
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			log.Warn("failed to initialize New Relic", zap.Error(err))
		} else {
			log.Info("New Relic enabled", zap.String("app", cfg.NewRelic.AppName))
		}
	}

	rideRepo, closeStore, err := app.OpenRideStore(ctx, cfg, nrApp, log)
	if err != nil {
		log.Fatal("failed to open ride store", zap.String("backend", cfg.Store.Backend), zap.Error(err))
	}
	defer closeStore()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = app.NewRedisClient(ctx, cfg.Redis, nrApp)
		if err != nil {
			log.Fatal("failed to connect to redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		defer redisClient.Close()
		log.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	var publisher *mq.Publisher
	if cfg.RabbitMQ.Enabled {
		mqCtx, mqCancel := context.WithTimeout(context.Background(), time.Minute)
		publisher, err = mq.Connect(mqCtx, cfg.RabbitMQ, log)
		mqCancel()
		if err != nil {
			log.Fatal("failed to connect to rabbitmq", zap.Error(err))
		}
		defer publisher.Close()
	}

	// Background work (hub bookkeeping, event subscription) stops with runCtx.
	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	server := wireServer(runCtx, cfg, rideRepo, redisClient, publisher, nrApp, log)

	// Start server in goroutine.
	go func() {
		log.Info("starting server", zap.String("port", cfg.Server.Port), zap.String("store", cfg.Store.Backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	// WebSocket connections are hijacked and not tracked by Shutdown.
	stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	if nrApp != nil {
		nrApp.Shutdown(5 * time.Second)
	}

	log.Info("server exited")
}

// wireServer wires all dependencies and returns the HTTP server.
func wireServer(
	runCtx context.Context,
	cfg *config.Config,
	rideRepo repository.RideRepository,
	redisClient *redis.Client,
	publisher *mq.Publisher,
	nrApp *newrelic.Application,
	log *zap.Logger,
) *http.Server {
	jwtService := auth.NewJWTService(cfg.JWT)
	notificationService := service.NewNotificationService(log)

	var (
		locker service.DriverLocker = service.NewLocalDriverLocker()
		cache  service.RideCache
	)
	if redisClient != nil {
		locker = internalRedis.NewLockStore(redisClient)
		cache = internalRedis.NewCacheStore(redisClient)
	}

	rideService := service.NewRideService(rideRepo, locker, notificationService, cache, service.Options{
		StoreTimeout: cfg.Store.Timeout,
		StoreRetries: cfg.Store.Retries,
		RetryBackoff: cfg.Store.RetryBackoff,
	}, log)

	hub := dispatch.NewHub(rideService, jwtService, cfg.WebSocket, nrApp, log)
	go hub.Run(runCtx)

	// With Redis every instance hears every event and delivers to its own
	// connections; without it events go straight to the local hub.
	if redisClient != nil {
		bus := internalRedis.NewEventBus(redisClient, cfg.Redis.EventsChannel, log)
		notificationService.AddSink(bus)
		go subscribe(runCtx, bus, hub, log)
	} else {
		notificationService.AddSink(hub)
	}
	if publisher != nil {
		notificationService.AddSink(publisher)
	}

	router := app.NewRouter(app.RouterDeps{
		RideHandler: handler.NewRideHandler(rideService),
		WebSocket:   hub.ServeWS,
		Verifier:    jwtService,
		RedisClient: redisClient,
		NewRelicApp: nrApp,
		CORSOrigins: cfg.Server.CORSAllowedOrigins,
		Log:         log,
	})

	// Create HTTP server.
	return &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}

// subscribe keeps the hub attached to the shared event channel until ctx
// is done.
func subscribe(ctx context.Context, bus *internalRedis.EventBus, hub *dispatch.Hub, log *zap.Logger) {
	for ctx.Err() == nil {
		if err := bus.Subscribe(ctx, hub); err != nil {
			log.Error("ride event subscription failed, retrying", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}
