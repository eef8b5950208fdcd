package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"viewmux/internal/core/domain"
	"viewmux/internal/core/services"
	httphandlers "viewmux/internal/handlers/http"
	"viewmux/internal/infrastructure/connectivity"
	"viewmux/internal/infrastructure/events"
	"viewmux/internal/infrastructure/middleware"
	"viewmux/internal/infrastructure/monitoring"
	"viewmux/internal/infrastructure/player"
	"viewmux/pkg/config"
	"viewmux/pkg/logger"
	"viewmux/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	startTime := time.Now()

	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/viewmux/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	// Tracing
	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "viewmux",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	// Event fan-out, optionally mirrored across instances via Redis.
	hub := events.NewHub(log)
	var redisClient *redis.Client
	var bus *events.RedisBus
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		bus = events.NewRedisBus(redisClient, uuid.NewString(), log)
		bus.Start(context.Background(), hub)
		hub.SetForwarder(bus)
		log.Infow("redis event bus enabled", "address", cfg.Redis.Address)
	}

	// Connectivity probe feeding network-restored notifications.
	connMonitor := connectivity.NewMonitor(connectivity.Config{
		ProbeAddress:  cfg.Connectivity.ProbeAddress,
		ProbeInterval: cfg.Connectivity.ProbeInterval,
		ProbeTimeout:  cfg.Connectivity.ProbeTimeout,
	}, log)
	connMonitor.Start()

	collector := monitoring.NewPrometheusCollector()

	playerFactory := player.NewFactory(player.Config{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
		OnStats: func(id domain.SessionID, stats domain.PlaybackStats) {
			hub.Publish(context.Background(), domain.Event{
				Type:      domain.EventSessionStats,
				SessionID: id,
				Stats:     &stats,
			})
		},
	}, log)

	capService := services.NewCapabilityService(cfg.Streams.CapabilityCacheTTL, log)
	settings := services.StreamSettings{
		StaggerDelay:  cfg.Streams.StaggerDelay,
		InitTaskDelay: cfg.Streams.InitTaskDelay,
		Retry: services.RetryConfig{
			MaxAutoRetries:    cfg.Streams.MaxAutoRetries,
			NetworkRetryDelay: cfg.Streams.NetworkRetryDelay,
			ServerRetryDelay:  cfg.Streams.ServerRetryDelay,
			DefaultRetryDelay: cfg.Streams.DefaultRetryDelay,
		},
		StageTimeoutLow:    cfg.Streams.StageTimeoutLow,
		StageTimeout:       cfg.Streams.StageTimeout,
		FailureThreshold:   cfg.Streams.FailureThreshold,
		TroubleshootPolicy: services.TroubleshootPolicy(cfg.Streams.TroubleshootPolicy),
		Overrides: services.LimitOverrides{
			LiveSessions:    cfg.Streams.LiveSessionsOverride,
			InitConcurrency: cfg.Streams.InitConcurrencyOverride,
		},
	}
	viewerManager := services.NewViewerManager(capService, settings, playerFactory, connMonitor, hub, collector, log)

	users := make([]services.Credential, 0, len(cfg.Auth.Users))
	for _, u := range cfg.Auth.Users {
		users = append(users, services.Credential{
			Username: u.Username,
			Password: u.Password,
			Role:     domain.UserRole(u.Role),
		})
	}
	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, users)

	healthChecker := monitoring.NewHealthChecker()
	if redisClient != nil {
		healthChecker.AddCheck("redis", func(ctx context.Context) (bool, error) {
			return redisClient.Ping(ctx).Err() == nil, nil
		}, 2*time.Second)
	}
	healthChecker.AddCheck("connectivity", func(ctx context.Context) (bool, error) {
		return connMonitor.Online(), nil
	}, time.Second)

	authHandler := httphandlers.NewAuthHandler(authService, cfg.Auth.AccessTokenTTL)
	viewerHandler := httphandlers.NewViewerHandler(viewerManager)
	eventsHandler := httphandlers.NewEventsHandler(hub, log)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.RateLimitMiddleware(cfg))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	authHandler.SetupRoutes(router)

	protected := router.Group("/")
	protected.Use(middleware.AuthMiddleware(authService))
	viewerHandler.SetupRoutes(protected)
	eventsHandler.SetupRoutes(protected)

	router.GET("/health", func(c *gin.Context) {
		status := healthChecker.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":    status.Status,
			"checks":    status.Checks,
			"timestamp": status.Timestamp,
			"uptime":    time.Since(startTime).String(),
		})
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting viewmux server on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down viewmux server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	// Release every viewer's sessions before the process exits.
	viewerManager.Shutdown()
	connMonitor.Stop()
	if bus != nil {
		bus.Stop()
	}
	if redisClient != nil {
		redisClient.Close()
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warnw("Error shutting down tracer", "error", err)
	}
}
