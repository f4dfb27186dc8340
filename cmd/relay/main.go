package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"voxrelay/internal/core/domain"
	"voxrelay/internal/core/ports"
	"voxrelay/internal/core/services"
	httphandlers "voxrelay/internal/handlers/http"
	"voxrelay/internal/inference"
	archiving "voxrelay/internal/infrastructure/archive"
	"voxrelay/internal/infrastructure/bus"
	"voxrelay/internal/infrastructure/distributed"
	"voxrelay/internal/infrastructure/gateway"
	"voxrelay/internal/infrastructure/middleware"
	"voxrelay/internal/infrastructure/monitoring"
	"voxrelay/internal/infrastructure/reliability"
	repositories "voxrelay/internal/infrastructure/repositories"
	"voxrelay/internal/infrastructure/sfu"
	"voxrelay/pkg/archive"
	"voxrelay/pkg/circuitbreaker"
	"voxrelay/pkg/config"
	"voxrelay/pkg/logger"
	"voxrelay/pkg/tracing"
	"voxrelay/pkg/utils"
)

func main() {
	startTime := time.Now()

	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/voxrelay/config.yaml",
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
		// Fallback to defaults if config cannot be loaded
		cfg = config.DefaultConfig()
	}

	log := logger.Must(cfg.Logging.Level, cfg.Logging.Format)
	defer log.Sync()

	if cfg.Upstream.ClientID == "" {
		cfg.Upstream.ClientID = utils.GenerateInstanceID()
	}
	instanceID := cfg.Upstream.ClientID

	// Initialize tracing
	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatal("failed to initialize tracing", zap.Error(err))
	}

	// Initialize storage
	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatal("failed to create repository factory", zap.Error(err))
	}

	historyRepo := repoFactory.CreateHistoryRepository()
	historyService := services.NewHistoryService(historyRepo, cfg.History.Limit, log)

	// Optional history archival: replay the newest snapshot, then keep
	// snapshotting on an interval
	var archiveScheduler *archiving.Scheduler
	if cfg.History.Archive.Enabled {
		archiveStorage, err := archive.NewFileStorage(cfg.History.Archive.Directory)
		if err != nil {
			log.Fatal("failed to prepare archive storage", zap.Error(err))
		}
		archiveService := archive.NewService(archiveStorage, "1.0.0")

		restoreCtx, restoreCancel := context.WithTimeout(context.Background(), 30*time.Second)
		restorer := archiving.NewRestoreService(archiveService, historyRepo, log)
		if name, err := restorer.RestoreLatest(restoreCtx); err != nil {
			log.Warn("failed to restore archived history", zap.Error(err))
		} else if name != "" {
			log.Info("restored archived history", zap.String("archive", name))
		}
		restoreCancel()

		archiveScheduler = archiving.NewScheduler(archiveService, historyRepo, instanceID,
			archiving.Config{
				Interval:      cfg.History.Archive.Interval,
				RetentionDays: cfg.History.Archive.RetentionDays,
			}, log)
		go archiveScheduler.Start(context.Background())
	}

	// Event bus and metrics
	eventBus := bus.NewEventBus(log)
	collector := monitoring.NewPrometheusCollector(nil)

	// Cross-instance coordination, active only with Redis
	var (
		announcer     ports.StreamAnnouncer = ports.NoopAnnouncer{}
		distAnnouncer *distributed.Announcer
		streamClaims  *distributed.StreamClaims
		claimer       httphandlers.StreamClaimer
	)
	if client := repoFactory.RedisClient(); client != nil {
		distAnnouncer = distributed.NewAnnouncer(client, instanceID, log)
		announcer = distAnnouncer
		streamClaims = distributed.NewStreamClaims(client, 30*time.Second, log)
		claimer = streamClaims
	}

	// Inference stages, each behind a timeout + circuit breaker guard
	transcription, err := inference.NewTranscriptionStage(cfg, log)
	if err != nil {
		log.Fatal("invalid transcription configuration", zap.Error(err))
	}
	translation, err := inference.NewTranslationStage(cfg)
	if err != nil {
		log.Fatal("invalid translation configuration", zap.Error(err))
	}
	emotion, err := inference.NewEmotionStage(cfg)
	if err != nil {
		log.Fatal("invalid emotion configuration", zap.Error(err))
	}

	cbConfig := circuitbreaker.DefaultConfig()
	if transcription != nil {
		transcription = reliability.NewGuardedTranscription(transcription, cfg.Pipeline.StageTimeout, cbConfig, log)
	}
	if translation != nil {
		translation = reliability.NewGuardedTranslation(translation, cfg.Pipeline.StageTimeout, cbConfig, log)
	}
	if emotion != nil {
		emotion = reliability.NewGuardedEmotion(emotion, cfg.Pipeline.StageTimeout, cbConfig, log)
	}

	// Processing pipeline
	pipeline := services.NewPipelineService(
		cfg, transcription, translation, emotion,
		eventBus, historyService, announcer, collector, log)

	// Upstream SFU client
	upstream := sfu.NewClient(cfg, pipeline, log)
	upstream.SetMetrics(collector)

	var outageSeen atomic.Bool
	upstream.OnStateChange(func(from, to domain.ConnState) {
		collector.UpstreamStateChanged(to)
		switch to {
		case domain.ConnStateReconnecting:
			if outageSeen.CompareAndSwap(false, true) {
				collector.UpstreamReconnect()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := announcer.AnnounceUpstreamLost(ctx, "connection to upstream SFU lost"); err != nil {
					log.Warn("failed to announce upstream loss", zap.Error(err))
				}
				cancel()
			}
		case domain.ConnStateConnected:
			if outageSeen.CompareAndSwap(true, false) {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := announcer.AnnounceUpstreamRestored(ctx); err != nil {
					log.Warn("failed to announce upstream recovery", zap.Error(err))
				}
				cancel()
			}
		}
	})
	upstream.OnFatal(func(err error) {
		log.Error("upstream reconnection exhausted, relay continues without upstream",
			zap.Error(err))
	})

	connectCtx, connectCancel := context.WithTimeout(context.Background(),
		cfg.Upstream.DialTimeout+cfg.Upstream.AuthTimeout)
	if err := upstream.Connect(connectCtx); err != nil {
		log.Warn("initial upstream connection failed, continuing in degraded mode",
			zap.String("url", cfg.Upstream.URL),
			zap.Error(err))
	}
	connectCancel()

	// Downstream WebSocket gateway
	wsGateway := gateway.NewWebSocketGateway(cfg, eventBus, collector, log)

	// Services and handlers
	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.APISecret, cfg.Auth.TokenTTL)

	stageServices := httphandlers.StageServices{
		Transcription: cfg.Pipeline.Transcription.Enabled,
		Translation:   cfg.Pipeline.Translation.Enabled,
		Emotion:       cfg.Pipeline.Emotion.Enabled,
	}
	streamHandler := httphandlers.NewStreamHandler(
		upstream, claimer, historyService, pipeline, wsGateway,
		announcer, stageServices, instanceID, log)
	authHandler := httphandlers.NewAuthHandler(authService)

	// Health checks
	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddUpstreamCheck(upstream, time.Second)
	healthChecker.AddSessionCapacityCheck(wsGateway, cfg.Gateway.MaxSessions, time.Second)
	for _, stage := range []any{transcription, translation, emotion} {
		if guarded, ok := stage.(monitoring.GuardedStage); ok {
			healthChecker.AddStageCheck(guarded, time.Second)
		}
	}
	if client := repoFactory.RedisClient(); client != nil {
		healthChecker.AddRedisCheck(client, 2*time.Second)
	}

	// Configure Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.RequestLogMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	// Routes
	authHandler.SetupRoutes(router)
	streamHandler.SetupRoutes(router, authService, cfg.Auth.Enabled)
	if cfg.Auth.Enabled {
		router.GET("/ws", middleware.WSAuthMiddleware(authService), wsGateway.HandleSession)
	} else {
		router.GET("/ws", wsGateway.HandleSession)
	}

	// Liveness with per-component detail
	router.GET("/health", func(c *gin.Context) {
		status := healthChecker.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != monitoring.StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":    status.Status,
			"timestamp": status.Timestamp,
			"uptime":    utils.FormatDuration(time.Since(startTime)),
			"services":  status.Checks,
		})
	})

	// Readiness: upstream connected and storage reachable
	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if state := upstream.State(); state != domain.ConnStateConnected {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "not_ready",
				"timestamp": time.Now(),
				"reason":    fmt.Sprintf("upstream %s", state),
			})
			return
		}
		if err := repoFactory.HealthCheck(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "not_ready",
				"timestamp": time.Now(),
				"reason":    err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "ready",
			"timestamp": time.Now(),
		})
	})

	// Prometheus metrics endpoint
	if cfg.Monitoring.MetricsEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	// Listen for sibling relay notices
	listenCtx, listenCancel := context.WithCancel(context.Background())
	if distAnnouncer != nil {
		go func() {
			err := distAnnouncer.Listen(listenCtx, func(notice *distributed.Notice) error {
				log.Info("sibling relay notice",
					zap.String("type", string(notice.Type)),
					zap.String("instance", notice.InstanceID),
					zap.String("stream", notice.Key().String()))
				return nil
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("announce listener stopped", zap.Error(err))
			}
		}()
	}

	// Log dependency health transitions between endpoint polls
	go healthChecker.Watch(listenCtx, cfg.Monitoring.HealthInterval, func(status monitoring.HealthStatus) {
		if status.Status == monitoring.StatusHealthy {
			log.Info("relay health recovered")
			return
		}
		log.Warn("relay health changed",
			zap.String("status", status.Status),
			zap.Any("checks", status.Checks))
	})

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Info("starting voxrelay server",
			zap.String("address", cfg.Server.Address),
			zap.String("instance", instanceID),
			zap.String("upstream", cfg.Upstream.URL))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signals or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatal("server failed", zap.Error(err))
	case sig := <-sigChan:
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
	}

	log.Info("shutting down voxrelay")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Unwind front to back: stop accepting HTTP, cut the upstream intake,
	// drain in-flight work so its events still reach connected sessions,
	// then close the sessions themselves.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("error during server shutdown", zap.Error(err))
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error force closing server", zap.Error(closeErr))
		}
	}

	if err := upstream.Disconnect(shutdownCtx); err != nil {
		log.Error("error disconnecting from upstream", zap.Error(err))
	}

	if err := pipeline.Stop(shutdownCtx); err != nil {
		log.Error("error stopping pipeline", zap.Error(err))
	}

	if err := wsGateway.Shutdown(shutdownCtx); err != nil {
		log.Error("error closing downstream sessions", zap.Error(err))
	}

	eventBus.Close()
	listenCancel()

	if streamClaims != nil {
		streamClaims.ReleaseAll(shutdownCtx)
	}

	// A final snapshot so the next boot restores the freshest state.
	if archiveScheduler != nil {
		archiveScheduler.Stop()
		archiveScheduler.Snapshot(shutdownCtx)
	}

	if err := historyRepo.Close(); err != nil {
		log.Error("error closing history store", zap.Error(err))
	}
	if err := repoFactory.Close(); err != nil {
		log.Error("error closing repository factory", zap.Error(err))
	}

	if err := tracerProvider.Shutdown(context.Background()); err != nil {
		log.Error("error shutting down tracing", zap.Error(err))
	}

	log.Info("voxrelay stopped")
}
