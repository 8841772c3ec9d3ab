package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	challengeRepo "codegrade/internal/challenge/repository"
	"codegrade/internal/common/cache"
	"codegrade/internal/common/db"
	"codegrade/internal/common/mq"
	"codegrade/internal/common/storage"
	"codegrade/internal/grading/executor"
	gradingRepo "codegrade/internal/grading/repository"
	"codegrade/internal/grading/resultcache"
	"codegrade/internal/grading/service"
	"codegrade/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultConfigPath = "configs/grading_worker.yaml"

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

	results, err := resultcache.New(redisCache, appCfg.Results)
	if err != nil {
		logger.Error(context.Background(), "init result cache failed", zap.Error(err))
		return
	}

	challenges := challengeRepo.NewChallengeRepository(mysqlDB, redisCache, objStorage, appCfg.FixtureBucket)
	submissions := gradingRepo.NewSubmissionRepository(mysqlDB, redisCache)
	gauges := service.NewCacheGaugeStore(redisCache)

	grading, err := service.NewGradingService(challenges, submissions, sandbox, results, gauges, appCfg.Grading)
	if err != nil {
		logger.Error(context.Background(), "init grading service failed", zap.Error(err))
		return
	}
	consumer := service.NewGradeConsumer(grading, gauges)

	if err := mqClient.Subscribe(context.Background(), appCfg.Topic, consumer.HandleMessage); err != nil {
		logger.Error(context.Background(), "subscribe grading topic failed", zap.Error(err))
		return
	}
	if err := mqClient.Start(); err != nil {
		logger.Error(context.Background(), "start kafka consumer failed", zap.Error(err))
		return
	}
	logger.Info(context.Background(), "grading worker started", zap.String("topic", appCfg.Topic))

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-shutdownCtx.Done()
	logger.Info(context.Background(), "shutdown signal received")

	_ = mqClient.Stop()
}
