package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"gopkg.in/yaml.v3"

	"botarena/internal/common/cache"
	"botarena/internal/common/db"
	"botarena/internal/common/mq"
	"botarena/internal/common/storage"
	"botarena/internal/coordinator/service"
	"botarena/pkg/utils/logger"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8080"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultStatusTTL       = 5 * time.Minute
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// KafkaConfig holds event stream settings.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	ClientID     string        `yaml:"clientID"`
	Topic        string        `yaml:"topic"`
	RequiredAcks int           `yaml:"requiredAcks"`
	BatchSize    int           `yaml:"batchSize"`
	BatchTimeout time.Duration `yaml:"batchTimeout"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	Compression  string        `yaml:"compression"`
}

// StorageConfig holds object storage bucket assignments.
type StorageConfig struct {
	BotBucket    string `yaml:"botBucket"`
	ReplayBucket string `yaml:"replayBucket"`
	LogBucket    string `yaml:"logBucket"`
}

// StatusConfig holds status cache settings.
type StatusConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// AppConfig holds coordinator config.
type AppConfig struct {
	Server   ServerConfig           `yaml:"server"`
	Logger   logger.Config          `yaml:"logger"`
	Database db.MySQLConfig         `yaml:"database"`
	Redis    cache.RedisConfig      `yaml:"redis"`
	MinIO    storage.MinIOConfig    `yaml:"minio"`
	Storage  StorageConfig          `yaml:"storage"`
	Kafka    KafkaConfig            `yaml:"kafka"`
	Claim    service.ClaimConfig    `yaml:"claim"`
	Dispatch service.DispatchConfig `yaml:"dispatch"`
	Status   StatusConfig           `yaml:"status"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	applyRedisDefaults(&cfg.Redis)
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
	if cfg.Storage.BotBucket == "" {
		cfg.Storage.BotBucket = "arena-bots"
	}
	if cfg.Storage.ReplayBucket == "" {
		cfg.Storage.ReplayBucket = "arena-replays"
	}
	if cfg.Storage.LogBucket == "" {
		cfg.Storage.LogBucket = "arena-logs"
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "arena.task.events"
	}
	if cfg.Status.TTL == 0 {
		cfg.Status.TTL = defaultStatusTTL
	}
	cfg.Claim.SetDefaults()
	cfg.Dispatch.SetDefaults()
	return &cfg, nil
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	if cfg == nil {
		return
	}
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.MinRetryBackoff == 0 {
		cfg.MinRetryBackoff = defaults.MinRetryBackoff
	}
	if cfg.MaxRetryBackoff == 0 {
		cfg.MaxRetryBackoff = defaults.MaxRetryBackoff
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
	if cfg.PoolTimeout == 0 {
		cfg.PoolTimeout = defaults.PoolTimeout
	}
	if cfg.ConnMaxIdleTime == 0 {
		cfg.ConnMaxIdleTime = defaults.ConnMaxIdleTime
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
}

func (k KafkaConfig) toMQConfig() mq.KafkaConfig {
	return mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		RequiredAcks: kafka.RequiredAcks(k.RequiredAcks),
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		Compression:  parseCompression(k.Compression),
		DialTimeout:  k.DialTimeout,
		WriteTimeout: k.WriteTimeout,
	}
}

func parseCompression(raw string) kafka.Compression {
	switch strings.ToLower(raw) {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Compression(0)
	}
}
