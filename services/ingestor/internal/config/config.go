package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/paaavkata/crypto-ingest-core/shared/pkg/database"
	"github.com/paaavkata/crypto-ingest-core/shared/pkg/newsapi"
)

const ServiceName = "core-ingest"

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PriceTTL time.Duration
}

type KafkaConfig struct {
	Brokers     []string
	SignalTopic string
}

type Config struct {
	ServiceName string
	Database    database.Config
	AutoMigrate bool
	Redis       RedisConfig
	Kafka       KafkaConfig
	NewsAPI     newsapi.Config
	APIPort     string
	APITimeout  time.Duration

	SchedulerReloadInterval time.Duration
	JobTimeout              time.Duration
	ShutdownTimeout         time.Duration
	RunOnStart              bool

	NewsIngestInterval   time.Duration
	NewsBackfillInterval time.Duration
	NewsSignalInterval   time.Duration
	NewsKeywordsFile     string
}

func Load() *Config {
	return &Config{
		ServiceName: getEnv("SERVICE_NAME", ServiceName),
		Database: database.Config{
			DbUri:           getEnv("DB_URI", "postgres://localhost:5432/crypto?sslmode=disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		AutoMigrate: getEnvBool("DB_AUTO_MIGRATE", true),
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PriceTTL: getEnvDuration("REDIS_PRICE_TTL", 10*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers:     splitList(getEnv("KAFKA_BROKERS", "")),
			SignalTopic: getEnv("NEWS_SIGNAL_TOPIC", "news.sentiment.signal"),
		},
		NewsAPI: newsapi.Config{
			BaseURL: getEnv("NEWSAPI_URL", newsapi.BaseURL),
			APIKey:  getEnv("NEWSAPI_KEY", ""),
			Timeout: getEnvDuration("NEWSAPI_TIMEOUT", 15*time.Second),
		},
		APIPort:    getEnv("API_PORT", "8080"),
		APITimeout: getEnvDuration("API_REQUEST_TIMEOUT", 10*time.Second),

		SchedulerReloadInterval: getEnvDuration("SCHEDULER_RELOAD_INTERVAL", 5*time.Minute),
		JobTimeout:              getEnvDuration("JOB_TIMEOUT", 2*time.Minute),
		ShutdownTimeout:         getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		RunOnStart:              getEnvBool("RUN_ON_START", true),

		NewsIngestInterval:   time.Duration(getEnvInt("FETCH_NEWS_INTERVAL", 10)) * time.Minute,
		NewsBackfillInterval: time.Duration(getEnvInt("UPDATE_NEWS_PRICES_INTERVAL", 60)) * time.Minute,
		NewsSignalInterval:   time.Duration(getEnvInt("SIGNAL_INTERVAL", 10)) * time.Minute,
		NewsKeywordsFile:     getEnv("NEWS_KEYWORDS_FILE", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
