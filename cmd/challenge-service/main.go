package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	challengeController "codegrade/internal/challenge/controller"
	challengeRepo "codegrade/internal/challenge/repository"
	challengeService "codegrade/internal/challenge/service"
	"codegrade/internal/common/cache"
	"codegrade/internal/common/db"
	commonmw "codegrade/internal/common/http/middleware"
	"codegrade/internal/common/mq"
	"codegrade/internal/common/storage"
	gradingController "codegrade/internal/grading/controller"
	"codegrade/internal/grading/executor"
	gradingRepo "codegrade/internal/grading/repository"
	gradingService "codegrade/internal/grading/service"
	"codegrade/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/challenge_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mysqlDB.Close()
	}()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	mqClient, err := mq.NewKafkaQueue(appCfg.Kafka)
	if err != nil {
		logger.Error(context.Background(), "init kafka failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mqClient.Close()
	}()

	objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
	if err != nil {
		logger.Error(context.Background(), "init minio failed", zap.Error(err))
		return
	}

	sandbox, err := executor.NewClient(appCfg.Sandbox)
	if err != nil {
		logger.Error(context.Background(), "init sandbox client failed", zap.Error(err))
		return
	}

	challenges := challengeRepo.NewChallengeRepository(mysqlDB, redisCache, objStorage, appCfg.FixtureBucket)
	submissions := gradingRepo.NewSubmissionRepository(mysqlDB, redisCache)
	gauges := gradingService.NewCacheGaugeStore(redisCache)
	limiter := gradingService.NewCacheRateLimiter(redisCache)

	chalService, err := challengeService.NewChallengeService(challenges)
	if err != nil {
		logger.Error(context.Background(), "init challenge service failed", zap.Error(err))
		return
	}
	intake, err := gradingService.NewIntakeService(challenges, submissions, sandbox, mqClient, limiter, gauges, appCfg.Intake)
	if err != nil {
		logger.Error(context.Background(), "init intake service failed", zap.Error(err))
		return
	}

	httpServer := buildHTTPServer(appCfg.Server, chalService, intake)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "challenge http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
}

func buildHTTPServer(cfg ServerConfig, chalService *challengeService.ChallengeService, intake *gradingService.IntakeService) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContext())
	router.Use(requestLogger())

	api := router.Group("/api/v1")

	chalCtrl := challengeController.NewChallengeController(chalService)
	api.POST("/challenges", chalCtrl.Create)
	api.GET("/challenges/:id", chalCtrl.Get)
	api.GET("/challenges/:id/versions/:version", chalCtrl.GetVersion)

	gradeCtrl := gradingController.NewGradingController(intake)
	api.POST("/challenges/:id/submissions", gradeCtrl.Submit)
	api.GET("/challenges/:id/submissions", gradeCtrl.ListSubmissions)
	api.GET("/submissions/:id", gradeCtrl.GetSubmission)
	api.GET("/submissions/:id/result", gradeCtrl.GetResult)
	api.GET("/grading/queue", gradeCtrl.QueueStatus)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
