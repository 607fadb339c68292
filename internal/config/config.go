package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds service configuration
type Config struct {
	Server    ServerConfig
	MongoDB   MongoDBConfig
	Redis     RedisConfig
	Cache     CacheConfig
	Populate  PopulateConfig
	RateLimit RateLimitConfig
	// SchemaFile is the YAML model definitions file, optional.
	SchemaFile string
	LogLevel   string
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Addr is the listen address.
func (s ServerConfig) Addr() string { return s.Host + ":" + s.Port }

type MongoDBConfig struct {
	// URI is optional; empty selects the in-memory driver.
	URI      string
	Database string
	Timeout  time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

func (r RedisConfig) Addr() string { return r.Host + ":" + r.Port }

const (
	CacheNone  = "none"
	CacheLRU   = "lru"
	CacheRedis = "redis"
)

type CacheConfig struct {
	Backend string
	TTL     time.Duration
	LRUSize int
}

type PopulateConfig struct {
	// Concurrency bounds in-flight populate queries.
	Concurrency int
	// MaxQPS paces populate queries, 0 is unlimited.
	MaxQPS float64
}

// RateLimitConfig bounds requests per client IP; RPS 0 disables limiting.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// LoadConfig loads configuration from environment variables and an optional .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env")

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", "5002")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_ENVIRONMENT", "development")
	v.SetDefault("MONGODB_DATABASE", "odm")
	v.SetDefault("MONGODB_TIMEOUT", 10)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_BACKEND", CacheNone)
	v.SetDefault("CACHE_TTL_SECONDS", 60)
	v.SetDefault("CACHE_LRU_SIZE", 1024)
	v.SetDefault("POPULATE_CONCURRENCY", 8)
	v.SetDefault("POPULATE_MAX_QPS", 0)
	v.SetDefault("RATE_LIMIT_RPS", 0)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("LOG_LEVEL", "info")

	cfg := &Config{
		Server: ServerConfig{
			Port:         v.GetString("SERVER_PORT"),
			Host:         v.GetString("SERVER_HOST"),
			Environment:  v.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		MongoDB: MongoDBConfig{
			URI:      v.GetString("MONGODB_URI"),
			Database: v.GetString("MONGODB_DATABASE"),
			Timeout:  time.Duration(v.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetString("REDIS_PORT"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Cache: CacheConfig{
			Backend: strings.ToLower(v.GetString("CACHE_BACKEND")),
			TTL:     time.Duration(v.GetInt("CACHE_TTL_SECONDS")) * time.Second,
			LRUSize: v.GetInt("CACHE_LRU_SIZE"),
		},
		Populate: PopulateConfig{
			Concurrency: v.GetInt("POPULATE_CONCURRENCY"),
			MaxQPS:      v.GetFloat64("POPULATE_MAX_QPS"),
		},
		RateLimit: RateLimitConfig{
			RPS:   v.GetFloat64("RATE_LIMIT_RPS"),
			Burst: v.GetInt("RATE_LIMIT_BURST"),
		},
		SchemaFile: v.GetString("SCHEMA_FILE"),
		LogLevel:   v.GetString("LOG_LEVEL"),
	}

	switch cfg.Cache.Backend {
	case CacheNone, CacheLRU, CacheRedis:
	default:
		return nil, fmt.Errorf("config: CACHE_BACKEND must be one of none, lru, redis, got %q", cfg.Cache.Backend)
	}
	if cfg.Populate.Concurrency < 0 {
		return nil, fmt.Errorf("config: POPULATE_CONCURRENCY must not be negative")
	}
	return cfg, nil
}
