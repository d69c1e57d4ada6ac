package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppPort       string
	AppMode       string
	DBHost        string
	DBUser        string
	DBPassword    string
	DBName        string
	DBPort        string
	JWTSecret     string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	Pipeline PipelineConfig
	Cache    CacheConfig
	Presence PresenceConfig
}

// PipelineConfig tunes the message ingestion lanes.
type PipelineConfig struct {
	QueueSize        int
	BatchSize        int
	BatchInterval    time.Duration
	PriorityBatch    int
	PriorityInterval time.Duration
	MaxRetries       int
	RetryBackoff     time.Duration
}

// CacheConfig carries TTLs for the shared and local cache tiers.
type CacheConfig struct {
	ChatListTTL   time.Duration
	MessagesTTL   time.Duration
	PresenceTTL   time.Duration
	MembershipTTL time.Duration
	LocationTTL   time.Duration
}

// PresenceConfig tunes typing expiry and last-active persistence.
type PresenceConfig struct {
	TypingTimeout      time.Duration
	SweepInterval      time.Duration
	LastActiveInterval time.Duration
	FlushInterval      time.Duration
	FlushBatchSize     int
}

func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		AppPort:       getEnv("APP_PORT", "8080"),
		AppMode:       getEnv("APP_MODE", "debug"),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBUser:        getEnv("DB_USER", "postgres"),
		DBPassword:    getEnv("DB_PASSWORD", "postgres"),
		DBName:        getEnv("DB_NAME", "waypool_chat"),
		DBPort:        getEnv("DB_PORT", "5432"),
		JWTSecret:     getEnv("JWT_SECRET", "change-me"),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),
		Pipeline: PipelineConfig{
			QueueSize:        getEnvAsInt("PIPELINE_QUEUE_SIZE", 4096),
			BatchSize:        getEnvAsInt("PIPELINE_BATCH_SIZE", 64),
			BatchInterval:    getEnvAsDuration("PIPELINE_BATCH_INTERVAL", 50*time.Millisecond),
			PriorityBatch:    getEnvAsInt("PIPELINE_PRIORITY_BATCH", 16),
			PriorityInterval: getEnvAsDuration("PIPELINE_PRIORITY_INTERVAL", 10*time.Millisecond),
			MaxRetries:       getEnvAsInt("PIPELINE_MAX_RETRIES", 3),
			RetryBackoff:     getEnvAsDuration("PIPELINE_RETRY_BACKOFF", 100*time.Millisecond),
		},
		Cache: CacheConfig{
			ChatListTTL:   getEnvAsDuration("CACHE_CHATLIST_TTL", 5*time.Minute),
			MessagesTTL:   getEnvAsDuration("CACHE_MESSAGES_TTL", 5*time.Minute),
			PresenceTTL:   getEnvAsDuration("CACHE_PRESENCE_TTL", 5*time.Minute),
			MembershipTTL: getEnvAsDuration("CACHE_MEMBERSHIP_TTL", 10*time.Minute),
			LocationTTL:   getEnvAsDuration("CACHE_LOCATION_TTL", 5*time.Minute),
		},
		Presence: PresenceConfig{
			TypingTimeout:      getEnvAsDuration("TYPING_TIMEOUT", 3*time.Second),
			SweepInterval:      getEnvAsDuration("TYPING_SWEEP_INTERVAL", 5*time.Second),
			LastActiveInterval: getEnvAsDuration("LAST_ACTIVE_INTERVAL", time.Minute),
			FlushInterval:      getEnvAsDuration("LAST_ACTIVE_FLUSH_INTERVAL", 30*time.Second),
			FlushBatchSize:     getEnvAsInt("LAST_ACTIVE_FLUSH_BATCH", 200),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}
