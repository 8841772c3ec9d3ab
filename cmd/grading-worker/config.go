package main

import (
	"fmt"
	"os"

	"codegrade/internal/common/cache"
	"codegrade/internal/common/db"
	"codegrade/internal/common/mq"
	"codegrade/internal/common/storage"
	"codegrade/internal/grading/executor"
	"codegrade/internal/grading/resultcache"
	"codegrade/internal/grading/service"
	"codegrade/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const defaultGradingTopic = "grading.tasks"

// AppConfig holds grading-worker configuration.
type AppConfig struct {
	Logger   logger.Config         `yaml:"logger"`
	Database db.MySQLConfig        `yaml:"database"`
	Redis    cache.RedisConfig     `yaml:"redis"`
	Kafka    mq.KafkaConfig        `yaml:"kafka"`
	MinIO    storage.MinIOConfig   `yaml:"minio"`
	Sandbox  executor.Config       `yaml:"sandbox"`
	Results  resultcache.Config    `yaml:"results"`
	Grading  service.GradingConfig `yaml:"grading"`

	// Topic carries grading tasks from intake to workers.
	Topic string `yaml:"topic"`

	// FixtureBucket holds large test case fixtures.
	FixtureBucket string `yaml:"fixtureBucket"`
}

func loadAppConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file failed: %w", err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file failed: %w", err)
	}

	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if cfg.Sandbox.BaseURL == "" {
		return nil, fmt.Errorf("sandbox baseURL is required")
	}
	if cfg.Topic == "" {
		cfg.Topic = defaultGradingTopic
	}
	if cfg.FixtureBucket == "" {
		cfg.FixtureBucket = cfg.MinIO.Bucket
	}
	return &cfg, nil
}
