package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/seaport-ferry/service-booking/pkg/config"
)

// Lock backends.
const (
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

// LifecycleConfig holds the booking lifecycle timing.
type LifecycleConfig struct {
	PaymentWindow time.Duration
	ReviewWindow  time.Duration
	LockWait      time.Duration
	LockTTL       time.Duration
	LockBackend   string
	DedupTTL      time.Duration
}

// CollaboratorConfig holds the capacity and payment service endpoints.
type CollaboratorConfig struct {
	CapacityURL string
	PaymentURL  string
	Timeout     time.Duration
}

// TracingConfig holds the OTLP exporter settings.
type TracingConfig struct {
	Enabled  bool
	Endpoint string
}

// ServiceConfig holds all configuration for the booking service.
type ServiceConfig struct {
	Port          string
	AppEnv        string
	DBConfig      config.DatabaseConfig
	JWTConfig     config.JWTConfig
	KafkaConfig   config.KafkaConfig
	RedisConfig   config.RedisConfig
	Lifecycle     LifecycleConfig
	Collaborators CollaboratorConfig
	Tracing       TracingConfig
}

// Load reads configuration from environment variables prefixed with FERRY_.
func Load() (*ServiceConfig, error) {
	v, err := config.Load("FERRY")
	if err != nil {
		return nil, err
	}

	v.SetDefault("DB_NAME", "ferry_booking")
	v.SetDefault("LOCK_BACKEND", LockBackendMemory)
	v.SetDefault("CAPACITY_SERVICE_URL", "http://localhost:8082")
	v.SetDefault("PAYMENT_SERVICE_URL", "http://localhost:8083")
	v.SetDefault("TRACING_ENDPOINT", "localhost:4317")

	cfg := &ServiceConfig{
		Port:        config.GetServicePort(v, "SERVICE_PORT"),
		AppEnv:      config.GetAppEnv(v),
		DBConfig:    config.LoadDatabaseConfig(v, "DB_NAME"),
		JWTConfig:   config.LoadJWTConfig(v),
		KafkaConfig: config.LoadKafkaConfig(v),
		RedisConfig: config.LoadRedisConfig(v),
		Lifecycle: LifecycleConfig{
			PaymentWindow: config.GetDuration(v, "PAYMENT_WINDOW", 24*time.Hour),
			ReviewWindow:  config.GetDuration(v, "REVIEW_WINDOW", 30*time.Minute),
			LockWait:      config.GetDuration(v, "LOCK_WAIT", 5*time.Second),
			LockTTL:       config.GetDuration(v, "LOCK_TTL", 30*time.Second),
			LockBackend:   strings.ToLower(v.GetString("LOCK_BACKEND")),
			DedupTTL:      config.GetDuration(v, "EVENT_DEDUP_TTL", 72*time.Hour),
		},
		Collaborators: CollaboratorConfig{
			CapacityURL: v.GetString("CAPACITY_SERVICE_URL"),
			PaymentURL:  v.GetString("PAYMENT_SERVICE_URL"),
			Timeout:     config.GetDuration(v, "COLLABORATOR_TIMEOUT", 10*time.Second),
		},
		Tracing: TracingConfig{
			Enabled:  v.GetBool("TRACING_ENABLED"),
			Endpoint: v.GetString("TRACING_ENDPOINT"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ServiceConfig) validate() error {
	if c.JWTConfig.Secret == "" {
		return fmt.Errorf("FERRY_JWT_SECRET is required")
	}
	switch c.Lifecycle.LockBackend {
	case LockBackendMemory, LockBackendRedis:
	default:
		return fmt.Errorf("unknown lock backend %q", c.Lifecycle.LockBackend)
	}
	if len(c.KafkaConfig.Brokers) == 0 {
		return fmt.Errorf("FERRY_KAFKA_BROKERS is required")
	}
	return nil
}
