package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Store     StoreConfig
	Queue     QueueConfig
	Scheduler SchedulerConfig
	Analysis  AnalysisConfig
	Catalog   CatalogConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type RateLimitConfig struct {
	EnrichPerHour int
}

// StoreConfig selects where jobs and derived features live
type StoreConfig struct {
	Driver string // "memory" or "redis"
}

// QueueConfig controls the asynq task queue driver
type QueueConfig struct {
	Enabled     bool
	Concurrency int
	BatchCron   string
	SyncCron    string
}

type SchedulerConfig struct {
	Workers         int
	BatchSize       int
	Interval        time.Duration
	MaxRetries      int
	DefaultPriority int
	MaxInFlight     int
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
	StaleAfter      time.Duration // processing longer than this counts as abandoned
	Timeouts        TimeoutConfig
}

// TimeoutConfig is the per-enrichment-type ceiling of a backend call
type TimeoutConfig struct {
	AudioFeatures       time.Duration
	Embeddings          time.Duration
	GenreClassification time.Duration
	MoodAnalysis        time.Duration
	Similarity          time.Duration
}

type AnalysisConfig struct {
	Mode         string // "auto", "remote" or "local"
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	LocalDelay   time.Duration
	Dimensions   int
	ModelVersion string
	Breaker      BreakerConfig
}

// BreakerConfig controls the remote-to-local fallback circuit breaker
type BreakerConfig struct {
	Enabled      bool
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
}

type CatalogConfig struct {
	SyncKinds []string
	SyncBatch int
	// SyncInterval drives the in-process feed consumer when the queue is
	// disabled; zero disables it
	SyncInterval time.Duration
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("ANALYSIS_API_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("ratelimit.enrich_per_hour", "RATELIMIT_ENRICH_PER_HOUR")
	_ = viper.BindEnv("store.driver", "STORE_DRIVER")
	_ = viper.BindEnv("queue.enabled", "QUEUE_ENABLED")
	_ = viper.BindEnv("queue.concurrency", "QUEUE_CONCURRENCY")
	_ = viper.BindEnv("queue.batch_cron", "QUEUE_BATCH_CRON")
	_ = viper.BindEnv("queue.sync_cron", "QUEUE_SYNC_CRON")
	_ = viper.BindEnv("scheduler.workers", "SCHEDULER_WORKERS")
	_ = viper.BindEnv("scheduler.batch_size", "SCHEDULER_BATCH_SIZE")
	_ = viper.BindEnv("scheduler.interval", "SCHEDULER_INTERVAL")
	_ = viper.BindEnv("scheduler.max_retries", "SCHEDULER_MAX_RETRIES")
	_ = viper.BindEnv("scheduler.max_in_flight", "SCHEDULER_MAX_IN_FLIGHT")
	_ = viper.BindEnv("scheduler.stale_after", "SCHEDULER_STALE_AFTER")
	_ = viper.BindEnv("analysis.mode", "ANALYSIS_MODE")
	_ = viper.BindEnv("analysis.base_url", "ANALYSIS_BASE_URL")
	_ = viper.BindEnv("analysis.api_key", "ANALYSIS_API_KEY")
	_ = viper.BindEnv("analysis.timeout", "ANALYSIS_TIMEOUT")
	_ = viper.BindEnv("analysis.local_delay", "ANALYSIS_LOCAL_DELAY")
	_ = viper.BindEnv("analysis.breaker.enabled", "ANALYSIS_BREAKER_ENABLED")
	_ = viper.BindEnv("catalog.sync_interval", "CATALOG_SYNC_INTERVAL")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("ratelimit.enrich_per_hour", 600)

	// Storage and queue defaults
	viper.SetDefault("store.driver", "memory")
	viper.SetDefault("queue.enabled", false)
	viper.SetDefault("queue.concurrency", 10)
	viper.SetDefault("queue.batch_cron", "@every 15s")
	viper.SetDefault("queue.sync_cron", "@every 1m")

	// Scheduler defaults
	viper.SetDefault("scheduler.workers", 4)
	viper.SetDefault("scheduler.batch_size", 10)
	viper.SetDefault("scheduler.interval", "5s")
	viper.SetDefault("scheduler.max_retries", 3)
	viper.SetDefault("scheduler.default_priority", 50)
	viper.SetDefault("scheduler.max_in_flight", 8)
	viper.SetDefault("scheduler.backoff_initial", "2s")
	viper.SetDefault("scheduler.backoff_max", "5m")
	viper.SetDefault("scheduler.stale_after", "10m")
	viper.SetDefault("scheduler.timeouts.audio_features", "60s")
	viper.SetDefault("scheduler.timeouts.embeddings", "15s")
	viper.SetDefault("scheduler.timeouts.genre_classification", "30s")
	viper.SetDefault("scheduler.timeouts.mood_analysis", "30s")
	viper.SetDefault("scheduler.timeouts.similarity", "15s")

	// Analysis backend defaults
	viper.SetDefault("analysis.mode", "auto")
	viper.SetDefault("analysis.timeout", "120s")
	viper.SetDefault("analysis.local_delay", "100ms")
	viper.SetDefault("analysis.dimensions", 128)
	viper.SetDefault("analysis.model_version", "local-v1")
	viper.SetDefault("analysis.breaker.enabled", true)
	viper.SetDefault("analysis.breaker.max_requests", 1)
	viper.SetDefault("analysis.breaker.interval", "30s")
	viper.SetDefault("analysis.breaker.timeout", "60s")
	viper.SetDefault("analysis.breaker.min_requests", 5)
	viper.SetDefault("analysis.breaker.failure_ratio", 0.6)

	// Catalog feed consumer defaults
	viper.SetDefault("catalog.sync_kinds", []string{"audio_features", "embeddings"})
	viper.SetDefault("catalog.sync_batch", 100)
	viper.SetDefault("catalog.sync_interval", "1m")

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("jwt.secret"),
		},
		RateLimit: RateLimitConfig{
			EnrichPerHour: viper.GetInt("ratelimit.enrich_per_hour"),
		},
		Store: StoreConfig{
			Driver: viper.GetString("store.driver"),
		},
		Queue: QueueConfig{
			Enabled:     viper.GetBool("queue.enabled"),
			Concurrency: viper.GetInt("queue.concurrency"),
			BatchCron:   viper.GetString("queue.batch_cron"),
			SyncCron:    viper.GetString("queue.sync_cron"),
		},
		Scheduler: SchedulerConfig{
			Workers:         viper.GetInt("scheduler.workers"),
			BatchSize:       viper.GetInt("scheduler.batch_size"),
			Interval:        viper.GetDuration("scheduler.interval"),
			MaxRetries:      viper.GetInt("scheduler.max_retries"),
			DefaultPriority: viper.GetInt("scheduler.default_priority"),
			MaxInFlight:     viper.GetInt("scheduler.max_in_flight"),
			BackoffInitial:  viper.GetDuration("scheduler.backoff_initial"),
			BackoffMax:      viper.GetDuration("scheduler.backoff_max"),
			StaleAfter:      viper.GetDuration("scheduler.stale_after"),
			Timeouts: TimeoutConfig{
				AudioFeatures:       viper.GetDuration("scheduler.timeouts.audio_features"),
				Embeddings:          viper.GetDuration("scheduler.timeouts.embeddings"),
				GenreClassification: viper.GetDuration("scheduler.timeouts.genre_classification"),
				MoodAnalysis:        viper.GetDuration("scheduler.timeouts.mood_analysis"),
				Similarity:          viper.GetDuration("scheduler.timeouts.similarity"),
			},
		},
		Analysis: AnalysisConfig{
			Mode:         viper.GetString("analysis.mode"),
			BaseURL:      viper.GetString("analysis.base_url"),
			APIKey:       viper.GetString("analysis.api_key"),
			Timeout:      viper.GetDuration("analysis.timeout"),
			LocalDelay:   viper.GetDuration("analysis.local_delay"),
			Dimensions:   viper.GetInt("analysis.dimensions"),
			ModelVersion: viper.GetString("analysis.model_version"),
			Breaker: BreakerConfig{
				Enabled:      viper.GetBool("analysis.breaker.enabled"),
				MaxRequests:  viper.GetUint32("analysis.breaker.max_requests"),
				Interval:     viper.GetDuration("analysis.breaker.interval"),
				Timeout:      viper.GetDuration("analysis.breaker.timeout"),
				MinRequests:  viper.GetUint32("analysis.breaker.min_requests"),
				FailureRatio: viper.GetFloat64("analysis.breaker.failure_ratio"),
			},
		},
		Catalog: CatalogConfig{
			SyncKinds:    viper.GetStringSlice("catalog.sync_kinds"),
			SyncBatch:    viper.GetInt("catalog.sync_batch"),
			SyncInterval: viper.GetDuration("catalog.sync_interval"),
		},
	}

	return cfg, nil
}
