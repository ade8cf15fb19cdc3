package config

import (
	"os"
	"strconv"
	"time"
)

type R2 struct {
	AccountID  string
	AccessKey  string
	SecretKey  string
	BucketName string
	PublicURL  string
}

type Config struct {
	Port        string
	PostgresURI string
	AutoMigrate bool

	RedisURI      string
	RedisPassword string

	SecretKey  string
	CookieName string

	// JobNamespace prefixes every delayed job id, e.g. "publish-entry-42".
	JobNamespace      string
	QueueName         string
	WorkerConcurrency int

	ResyncSpec     string
	ResyncWindow   time.Duration
	ResyncLookback time.Duration
	ResyncOnStart  bool

	PublishEndpoint   string
	PublishAPIKey     string
	PublishTimeout    time.Duration
	PublishRatePerSec float64

	R2 R2

	LogLevel  string
	LogFormat string
}

func LoadConfig() *Config {
	return &Config{
		Port:              getEnv("PORT", "3000"),
		PostgresURI:       getEnv("POSTGRES_URI", ""),
		AutoMigrate:       getEnvBool("AUTO_MIGRATE", false),
		RedisURI:          getEnv("REDIS_URI", "localhost:6379"),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		SecretKey:         getEnv("SECRET_KEY", ""),
		CookieName:        getEnv("COOKIE_NAME", ""),
		JobNamespace:      getEnv("JOB_NAMESPACE", "publish-entry"),
		QueueName:         getEnv("QUEUE_NAME", "default"),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 10),
		ResyncSpec:        getEnv("RESYNC_SPEC", "@daily"),
		ResyncWindow:      getEnvDuration("RESYNC_WINDOW", 24*24*time.Hour),
		ResyncLookback:    getEnvDuration("RESYNC_LOOKBACK", 0),
		ResyncOnStart:     getEnvBool("RESYNC_ON_START", true),
		PublishEndpoint:   getEnv("PUBLISH_ENDPOINT", ""),
		PublishAPIKey:     getEnv("PUBLISH_API_KEY", ""),
		PublishTimeout:    getEnvDuration("PUBLISH_TIMEOUT", 30*time.Second),
		PublishRatePerSec: getEnvFloat("PUBLISH_RATE_PER_SEC", 5),
		R2: R2{
			AccountID:  getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:  getEnv("R2_ACCESS_KEY", ""),
			SecretKey:  getEnv("R2_SECRET_KEY", ""),
			BucketName: getEnv("R2_BUCKET_NAME", ""),
			PublicURL:  getEnv("R2_PUBLIC_URL", ""),
		},
		LogLevel:  getEnv("LOG_LEVEL", "INFO"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("36h", "90m").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}
