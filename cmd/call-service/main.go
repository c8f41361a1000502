package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"telecare-backend/internal/assist"
	"telecare-backend/internal/calllog"
	"telecare-backend/internal/config"
	intDatabase "telecare-backend/internal/database"
	assistHandler "telecare-backend/internal/handler/http/assist"
	callHandler "telecare-backend/internal/handler/http/call"
	pushHandler "telecare-backend/internal/handler/http/push"
	wsHandler "telecare-backend/internal/handler/ws"
	"telecare-backend/internal/middleware"
	"telecare-backend/internal/repository/cockroach"
	redisRepo "telecare-backend/internal/repository/redis"
	callService "telecare-backend/internal/service/call"
	"telecare-backend/internal/signaling"
	"telecare-backend/pkg/constants"
	pkgDatabase "telecare-backend/pkg/database"
	"telecare-backend/pkg/jwt"
	"telecare-backend/pkg/logger"
	"telecare-backend/pkg/metrics"
	"telecare-backend/pkg/push"
)

func main() {
	cfg := config.Load("call-service")

	if err := logger.Init(&logger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  "stdout",
		Service: cfg.Server.ServiceName,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx := context.Background()

	if cfg.Server.Environment == "production" && cfg.JWT.Secret == "dev-secret" {
		logger.Fatal("JWT_SECRET is required in production")
	}
	jwtManager := jwt.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)

	// CockroachDB
	db, err := pkgDatabase.NewCockroachDB(ctx, &pkgDatabase.CockroachConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		logger.Fatal("failed to connect to CockroachDB", zap.Error(err))
	}
	defer db.Close()
	logger.Info("connected to CockroachDB", zap.String("host", cfg.Database.Host))

	// Redis with degraded mode support
	intDatabase.InitRedisMetrics()
	redisDB, err := intDatabase.NewRedisDB(&intDatabase.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
		Timeout:  5 * time.Second,
	})
	if err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer redisDB.Close()
	go redisDB.StartHealthCheck(ctx, 10*time.Second)
	logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr()))

	// Signaling bus
	naming := signaling.DefaultNaming()
	naming.ExtraNotifyPrefixes = cfg.Signaling.ExtraNotifyPrefixes

	var bus signaling.Bus
	switch cfg.Signaling.Backend {
	case "nats":
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second))
		if err != nil {
			logger.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer nc.Close()
		bus = signaling.NewNATSBus(nc)
		logger.Info("signaling over NATS", zap.String("url", cfg.NATS.URL))
	case "memory":
		bus = signaling.NewMemoryBus()
		logger.Warn("signaling over in-process memory bus; single-node only")
	default:
		bus = signaling.NewRedisBus(redisDB)
		logger.Info("signaling over Redis pub/sub")
	}

	// Repositories
	callRepo := cockroach.NewCallRepository(db.Pool)
	conversationRepo := cockroach.NewConversationRepository(db.Pool)
	pushTokenRepo := redisRepo.NewPushTokenRepository(redisDB)

	// Push alerts
	pushProvider, err := push.NewProvider()
	if err != nil {
		logger.Fatal("failed to initialize push provider", zap.Error(err))
	}
	alerter := push.NewAlerter(pushProvider, pushTokenRepo)

	// Diagnostics ring shared with the HTTP surface
	diagnostics := calllog.New(constants.CallLogCapacity).WithTee(logger.With())

	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

	// The service publishes through a server-side transport identity so
	// its own signals are never echoed back to it.
	transport := signaling.NewTransport(bus, naming, serviceIdentity(), diagnostics)
	transport.SetRetryPolicy(cfg.Signaling.SubscribeMaxAttempts,
		cfg.Signaling.SubscribeBaseDelay, cfg.Signaling.SubscribeMaxDelay)

	callSvc := callService.NewService(callRepo, conversationRepo, transport, alerter, appMetrics)

	callHdlr := callHandler.NewHandler(callSvc, diagnostics)
	assistHdlr := assistHandler.NewHandler(
		assist.NewChatClient(cfg.Assist.BaseURL, cfg.Assist.APIKey),
		assist.NewReportClient(cfg.Assist.BaseURL, cfg.Assist.APIKey),
	)
	pushHdlr := pushHandler.NewHandler(pushTokenRepo)
	signalingHub := wsHandler.NewSignalingHub(bus, naming, appMetrics)

	// Router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.SetTrustedProxies(nil)

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.Timeout(constants.DefaultTimeout))
	router.Use(prometheusMiddleware.Handler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": cfg.Server.ServiceName,
			"time":    time.Now().UTC(),
		})
	})
	router.GET("/metrics", middleware.MetricsHandler())

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(jwtManager))
	{
		callHdlr.RegisterRoutes(v1)
		assistHdlr.RegisterRoutes(v1)
		pushHdlr.RegisterRoutes(v1)
		v1.GET("/ws/signaling", signalingHub.ServeWS)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("call service listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, constants.GracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
}

// serviceIdentity is the transport identity the service publishes under.
// It only needs to differ from every real user so echo suppression never
// drops a client's signal.
func serviceIdentity() uuid.UUID {
	return uuid.New()
}
