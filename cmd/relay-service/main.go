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

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"secureconnect-sync/internal/channel"
	intDatabase "secureconnect-sync/internal/database"
	chatHandler "secureconnect-sync/internal/handler/http/chat"
	userHandler "secureconnect-sync/internal/handler/http/user"
	videoHandler "secureconnect-sync/internal/handler/http/video"
	wsHandler "secureconnect-sync/internal/handler/ws"
	"secureconnect-sync/internal/middleware"
	"secureconnect-sync/internal/repository/memory"
	redisRepo "secureconnect-sync/internal/repository/redis"
	chatService "secureconnect-sync/internal/service/chat"
	presenceService "secureconnect-sync/internal/service/presence"
	videoService "secureconnect-sync/internal/service/video"
	"secureconnect-sync/pkg/config"
	"secureconnect-sync/pkg/constants"
	"secureconnect-sync/pkg/jwt"
	"secureconnect-sync/pkg/logger"
	"secureconnect-sync/pkg/metrics"
	"secureconnect-sync/pkg/response"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ValidateRelay(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(&logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		FilePath: cfg.Log.FilePath,
	}); err != nil {
		logger.InitDefault()
	}
	defer logger.Sync()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 1. JWT Manager
	jwtManager := jwt.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)

	// 2. Redis with degraded mode support
	redisDB := intDatabase.NewRedisDB(cfg.Redis)
	defer redisDB.Close()
	if err := redisDB.HealthCheck(ctx); err != nil {
		logger.Warn("Redis unavailable at startup, running degraded", zap.Error(err))
	} else {
		logger.Info("Connected to Redis", zap.String("addr", cfg.Redis.Addr()))
	}
	redisDB.StartHealthCheck(ctx, 10*time.Second)

	// 3. Fan-out channel
	var bus channel.Client
	switch cfg.Channel.Driver {
	case constants.ChannelDriverMemory:
		bus = channel.NewMemoryBus().Client()
	default:
		bus = channel.NewRedisClient(redisDB.Client, cfg.Channel.Buffer)
	}
	if err := bus.Connect(ctx, channel.Credentials{UserID: cfg.Server.ServiceName}); err != nil {
		logger.Fatal("Failed to connect fan-out channel", zap.String("driver", cfg.Channel.Driver), zap.Error(err))
	}
	defer bus.Close()

	// 4. Metrics
	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)
	publisher := channel.Instrumented(bus, appMetrics)

	// 5. Services
	chatSvc := chatService.NewService(memory.NewMessageRepository(), publisher)
	videoSvc := videoService.NewService(publisher)
	presenceSvc := presenceService.NewService(redisRepo.NewPresenceRepository(redisDB), publisher)

	// 6. Handlers
	chatHdlr := chatHandler.NewHandler(chatSvc)
	videoHdlr := videoHandler.NewHandler(videoSvc)
	userHdlr := userHandler.NewHandler(presenceSvc)
	gateway := wsHandler.NewGateway(bus, appMetrics, cfg.Server.AllowedOrigins, cfg.Server.MaxWSConnections)
	limiter := middleware.NewRateLimiter(middleware.NewRedisCounter(redisDB.Client), cfg.Server.RateLimitRequests, cfg.Server.RateLimitWindow)

	// 7. Router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware(cfg.Server.AllowedOrigins))
	router.Use(prometheusMiddleware.Handler())

	router.GET("/health", middleware.HealthCheck(cfg.Server.ServiceName, redisDB.IsDegraded))
	router.GET("/metrics", middleware.MetricsHandler(appMetrics))
	router.NoRoute(func(c *gin.Context) {
		response.NotFound(c, "Route not found")
	})

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(jwtManager))
	{
		v1.GET("/ws", gateway.ServeWS)

		messages := v1.Group("/messages")
		messages.Use(limiter.Middleware())
		{
			messages.POST("", chatHdlr.SendMessage)
			messages.GET("/:peer_id", chatHdlr.GetMessages)
			messages.POST("/:id/status", chatHdlr.UpdateMessageStatus)
		}

		v1.POST("/call/signal", limiter.Middleware(), videoHdlr.SendSignal)

		users := v1.Group("/users")
		{
			users.POST("/status", userHdlr.UpdateStatus)
			users.GET("/online", userHdlr.OnlineUsers)
			users.GET("/:id/status", userHdlr.GetStatus)
		}
	}

	// 8. Start server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("Relay service starting",
			zap.String("addr", addr),
			zap.String("channel_driver", cfg.Channel.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	logger.Info("Server exited")
}
