package main

import (
	"fmt"
	"os"
	"time"

	"codegrade/internal/common/cache"
	"codegrade/internal/common/db"
	"codegrade/internal/common/mq"
	"codegrade/internal/common/storage"
	"codegrade/internal/grading/executor"
	"codegrade/internal/grading/service"
	"codegrade/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8080"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	defaultGradingTopic = "grading.tasks"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// AppConfig holds challenge-service configuration.
type AppConfig struct {
	Server   ServerConfig         `yaml:"server"`
	Logger   logger.Config        `yaml:"logger"`
	Database db.MySQLConfig       `yaml:"database"`
	Redis    cache.RedisConfig    `yaml:"redis"`
	Kafka    mq.KafkaConfig       `yaml:"kafka"`
	MinIO    storage.MinIOConfig  `yaml:"minio"`
	Sandbox  executor.Config      `yaml:"sandbox"`
	Intake   service.IntakeConfig `yaml:"intake"`

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

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
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
	if cfg.Intake.Topic == "" {
		cfg.Intake.Topic = defaultGradingTopic
	}
	if cfg.FixtureBucket == "" {
		cfg.FixtureBucket = cfg.MinIO.Bucket
	}
	return &cfg, nil
}
