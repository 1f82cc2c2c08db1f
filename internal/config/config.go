package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Worker    WorkerConfig
	Scheduler SchedulerConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
}

type WorkerConfig struct {
	Concurrency int
}

type SchedulerConfig struct {
	// Cron specs for the poll loops.
	CampaignScanSpec string
	FollowUpScanSpec string
	DispatchSpec     string
	// How many due tasks one dispatch pass will pick up.
	DispatchBatchSize int
	// TTL for the Redis delivery-event dedupe keys.
	EventDedupeTTL time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "localhost"),
			Port: getEnvAsInt("SERVER_PORT", 8080),
		},
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvAsInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", ""),
			Name:     getEnv("POSTGRES_DB", "bobinbox"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Username: getEnv("REDIS_USERNAME", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Worker: WorkerConfig{
			Concurrency: getEnvAsInt("WORKER_CONCURRENCY", 10),
		},
		Scheduler: SchedulerConfig{
			CampaignScanSpec:  getEnv("CAMPAIGN_SCAN_SPEC", "* * * * *"),
			FollowUpScanSpec:  getEnv("FOLLOWUP_SCAN_SPEC", "*/2 * * * *"),
			DispatchSpec:      getEnv("DISPATCH_SPEC", "* * * * *"),
			DispatchBatchSize: getEnvAsInt("DISPATCH_BATCH_SIZE", 200),
			EventDedupeTTL:    getEnvAsDuration("EVENT_DEDUPE_TTL", 72*time.Hour),
		},
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
