package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"koma/internal/core/ports"
	"koma/internal/core/services"
	httphandlers "koma/internal/handlers/http"
	"koma/internal/infrastructure/distributed"
	"koma/internal/infrastructure/middleware"
	"koma/internal/infrastructure/monitoring"
	signalhub "koma/internal/infrastructure/signal"
	"koma/pkg/config"
	"koma/pkg/logger"
	"koma/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := os.Getenv("KOMA_CONFIG")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	// a missing file yields the defaults
	cfg, err := config.Load(configPath)
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()
	if err != nil {
		log.Warnw("invalid configuration, using defaults", "error", err)
	}

	instanceID := uuid.New().String()
	log = log.With("instance_id", instanceID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	traceCfg := tracing.DefaultConfig()
	traceCfg.Enabled = cfg.Tracing.Enabled
	traceCfg.JaegerURL = cfg.Tracing.JaegerURL
	traceCfg.Environment = cfg.Tracing.Environment
	traceCfg.SampleRate = cfg.Tracing.SampleRate
	tp, err := tracing.Init(traceCfg)
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	health := monitoring.NewHealthChecker(log.Named("health"))

	var events ports.EventSink
	if cfg.Redis.Enabled {
		rdb, err := distributed.NewRedisClient(ctx, cfg, log)
		if err != nil {
			log.Fatalw("failed to connect to redis", "error", err)
		}
		defer rdb.Close()

		bus := distributed.NewEventBus(rdb, instanceID, cfg.Redis.Channel, 1024, log.Named("events"))
		go bus.Run(ctx)
		events = bus
		health.AddRedisCheck(rdb, cfg.Monitoring.HealthCheckInterval, 2*time.Second)
	}

	var metrics ports.HubMetrics
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewPrometheusCollector(nil)
	}

	hub := signalhub.NewHub(signalhub.NewHubConfig(cfg), metrics, events, log.Named("hub"))
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(ctx)
	}()

	wsServer := signalhub.NewWebSocketServer(hub, cfg.Auth.AllowedOrigins, log.Named("ws"))

	health.AddHubCheck(hub, cfg.Monitoring.HealthCheckInterval, 2*time.Second)
	health.AddConnectionLimitCheck(wsServer.ActiveConnections, cfg.RateLimiting.WebSocket.MaxConnections,
		cfg.Monitoring.HealthCheckInterval, time.Second)
	health.StartBackgroundChecks(ctx)

	invites := services.NewInviteService(cfg.Auth.InviteSecret, cfg.Auth.InviteTTL, cfg.Auth.InviteBaseURL)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.NewHTTPRateLimitMiddleware(cfg),
		middleware.ErrorHandlerMiddleware(log),
	)

	httphandlers.NewSignalHandler(http.HandlerFunc(wsServer.HandleWebSocket), hub, health).SetupRoutes(router)
	httphandlers.NewInviteHandler(invites).SetupRoutes(router)

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// no WriteTimeout, websocket connections are long-lived
	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting koma signaling server",
			"address", cfg.Server.Address,
			"redis", cfg.Redis.Enabled,
			"tracing", cfg.Tracing.Enabled,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}

	// stopping the hub closes every websocket with peer-leave notifications
	cancel()
	select {
	case <-hubDone:
	case <-shutdownCtx.Done():
		log.Warn("hub did not stop before the shutdown deadline")
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error shutting down tracer provider", "error", err)
	}

	log.Info("koma signaling server stopped")
}
