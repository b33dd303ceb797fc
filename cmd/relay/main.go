package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"p2prelay/internal/core/domain"
	"p2prelay/internal/core/ports"
	"p2prelay/internal/core/services"
	httphandlers "p2prelay/internal/handlers/http"
	"p2prelay/internal/infrastructure/distributed"
	"p2prelay/internal/infrastructure/middleware"
	"p2prelay/internal/infrastructure/monitoring"
	"p2prelay/internal/infrastructure/repositories"
	"p2prelay/internal/infrastructure/signal"
	"p2prelay/internal/infrastructure/udp"
	"p2prelay/pkg/config"
	"p2prelay/pkg/logger"
	"p2prelay/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const sampleInterval = 10 * time.Second

func main() {
	startTime := time.Now()

	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()
	if err != nil {
		log.Warnw("could not load config, using defaults", "path", *configPath, "error", err)
	}

	instanceID := uuid.NewString()

	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "p2prelay",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	factory := repositories.NewFactory(cfg, log)
	sessionRepo := factory.CreateSessionRepository()
	groupRepo := factory.CreateGroupRepository()

	var events ports.EventPublisher
	bus := factory.CreateEventBus(instanceID)
	if bus != nil {
		events = bus
	}

	var (
		recorder  ports.TransitionRecorder
		collector *monitoring.PrometheusCollector
	)
	if cfg.Monitoring.PrometheusEnabled {
		collector = monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
		recorder = collector
	}

	wsServer := signal.NewWebSocketServer(signal.OptionsFromConfig(cfg), log)

	groupService := services.NewGroupService(groupRepo, sessionRepo, wsServer, events, log)
	sessionService := services.NewSessionService(sessionRepo, groupService, services.NewHostIDAllocator(1), log)

	var coordinator ports.CoordinationService
	pool, err := udp.NewSocketPool(udp.Config{
		PublicAddress: cfg.Relay.PublicAddress,
		BindHost:      cfg.Relay.BindHost,
		Ports:         cfg.Relay.Ports,
		SocketCount:   cfg.Relay.SocketCount,
		ReadBuffer:    cfg.Relay.ReadBuffer,

		ReforwardInterval: cfg.Relay.ReforwardInterval,
	}, func(ctx context.Context, token domain.HolepunchToken, observed domain.Endpoint) {
		coordinator.HandleServerHolepunch(ctx, token, observed)
	}, log)
	if err != nil {
		log.Fatalw("invalid relay configuration", "error", err)
	}

	coordinator = services.NewCoordinationService(sessionRepo, pool, wsServer, events, recorder, log)
	wsServer.Attach(sessionService, coordinator)

	if cfg.Relay.Enabled {
		if err := pool.Start(); err != nil {
			log.Fatalw("failed to start relay socket pool", "error", err)
		}
	}

	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AdminKey, cfg.Auth.AccessTokenTTL)

	health := monitoring.NewHealthChecker()
	health.AddRepositoryCheck(groupRepo, 2*time.Second)
	if cfg.Relay.Enabled {
		health.AddRelayPoolCheck(pool)
	}
	if client := factory.RedisClient(); client != nil {
		health.AddRedisCheck(client, 2*time.Second)
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.RequestLogger(logger.NewContextLogger(zapLogger)),
		middleware.TracingMiddleware(),
		middleware.NewHTTPRateLimitMiddleware(cfg),
		middleware.ErrorHandlerMiddleware(log),
	)

	httphandlers.NewAuthHandler(authService, cfg.Auth.AccessTokenTTL).SetupRoutes(router)
	httphandlers.NewGroupHandler(groupService, sessionService).SetupRoutes(router, middleware.AuthMiddleware(authService))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"timestamp":   time.Now(),
			"uptime":      time.Since(startTime).String(),
			"instance_id": instanceID,
			"sessions":    wsServer.ConnectionCount(),
		})
	})
	router.GET("/ready", func(c *gin.Context) {
		status := health.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	adminServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsServer.HandleWebSocket)
	mux.HandleFunc("/health", wsServer.HealthCheck)
	signalServer := &http.Server{
		Addr:              cfg.Signal.Address,
		Handler:           mux,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Infow("starting admin API", "address", cfg.Server.Address)
		return serve(adminServer)
	})
	g.Go(func() error {
		log.Infow("starting session server", "address", cfg.Signal.Address)
		return serve(signalServer)
	})
	if collector != nil {
		g.Go(func() error {
			collector.RunSampler(gctx, sessionRepo, groupRepo, sampleInterval, log)
			return nil
		})
	}
	if bus != nil {
		g.Go(func() error {
			err := bus.Subscribe(gctx, func(e *distributed.Event) error {
				log.Debugw("remote event", "type", e.Type, "instance_id", e.InstanceID, "group_id", e.GroupID)
				if collector != nil {
					collector.RecordRemoteEvent(string(e.Type))
				}
				return nil
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down p2prelay")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		wsServer.Shutdown()
		if err := signalServer.Shutdown(shutdownCtx); err != nil {
			log.Errorw("session server shutdown failed", "error", err)
		}
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Errorw("admin API shutdown failed", "error", err)
		}
		if err := pool.Close(); err != nil {
			log.Errorw("relay socket pool close failed", "error", err)
		}
		if err := factory.Close(); err != nil {
			log.Errorw("failed to close Redis client", "error", err)
		}
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			log.Errorw("tracer shutdown failed", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Errorw("p2prelay stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("p2prelay stopped")
}

func serve(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
