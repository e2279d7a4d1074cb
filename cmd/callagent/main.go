package main

import (
	"context"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"embercall/internal/core/services"
	httphandlers "embercall/internal/handlers/http"
	"embercall/internal/infrastructure/auth"
	"embercall/internal/infrastructure/callapi"
	"embercall/internal/infrastructure/media"
	"embercall/internal/infrastructure/middleware"
	"embercall/internal/infrastructure/monitoring"
	"embercall/internal/infrastructure/repositories"
	"embercall/internal/infrastructure/signal"
	"embercall/pkg/config"
	"embercall/pkg/logger"
	"embercall/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
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

	if err := cfg.Validate(); err != nil {
		log.Fatalw("invalid configuration", "error", err)
	}

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "embercall-agent",
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Warnw("tracing disabled", "error", err)
	} else {
		defer tp.Shutdown(context.Background())
	}

	identity, err := auth.NewTokenIdentity(cfg.Auth.Token)
	if err != nil {
		log.Fatalw("invalid auth token", "error", err)
	}
	localUser := identity.UserID()

	metrics := monitoring.NewCallMetrics()

	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()

	callLog := repoFactory.CreateCallLogRepository()

	// Signaling channel
	signalCfg := signal.DefaultConfig(cfg.Signal.URL)
	if cfg.Signal.PingInterval > 0 {
		signalCfg.PingInterval = cfg.Signal.PingInterval
	}
	if cfg.Signal.PongTimeout > 0 {
		signalCfg.PongTimeout = cfg.Signal.PongTimeout
	}
	if cfg.Signal.ReconnectAttempts > 0 {
		signalCfg.ReconnectAttempts = cfg.Signal.ReconnectAttempts
	}
	if cfg.Signal.ReconnectBackoff > 0 {
		signalCfg.ReconnectBackoff = cfg.Signal.ReconnectBackoff
	}

	channel := signal.NewClient(signalCfg, identity, log)
	channel.SetOnReconnect(func(attempt int) {
		metrics.SignalingReconnected()
		log.Infow("signaling reconnected", "attempt", attempt)
	})

	connectCtx, connectCancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := channel.Connect(connectCtx); err != nil {
		connectCancel()
		log.Fatalw("failed to connect signaling channel", "url", cfg.Signal.URL, "error", err)
	}
	connectCancel()
	defer channel.Disconnect()

	// Media stack
	var iceServers []webrtc.ICEServer
	for _, s := range cfg.Media.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	if len(iceServers) == 0 {
		iceServers = []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		}
	}

	ortcCfg := media.ORTCConfig{ICEServers: iceServers}
	ortcCfg.PortRange.Min = cfg.Media.PortRange.Min
	ortcCfg.PortRange.Max = cfg.Media.PortRange.Max
	transports := media.NewORTCFactory(ortcCfg)

	sessionFactory := media.NewFactory(
		channel,
		transports,
		media.NewSampleCapture(),
		metrics,
		cfg.Signal.AckTimeout,
		log,
	)

	backend := callapi.NewClient(cfg.Backend.BaseURL, cfg.Auth.Token, cfg.Backend.RequestTimeout)

	orchestrator := services.NewOrchestrator(
		services.OrchestratorConfig{
			RingTimeout:    cfg.Call.RingTimeout,
			TerminalLinger: cfg.Call.TerminalLinger,
			BackendTimeout: cfg.Backend.RequestTimeout,
		},
		channel,
		backend,
		sessionFactory,
		callLog,
		metrics,
		localUser,
		log,
	)
	orchestrator.Start()

	// Control API
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.Use(middleware.NewRateLimitMiddleware(cfg))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}
	callHandler := httphandlers.NewCallHandler(orchestrator, callLog, channel)
	callHandler.SetupRoutes(router, middleware.LocalAuthMiddleware(cfg.API.AuthToken))

	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := repoFactory.HealthCheck(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "ready",
			"uptime": time.Since(startTime).String(),
		})
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.API.Address,
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting embercall agent on %s (user %s)", cfg.API.Address, localUser)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer shutdownCancel()

	orchestrator.Stop(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("http shutdown failed", "error", err)
	}

	log.Info("embercall agent stopped")
}
