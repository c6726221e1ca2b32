package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

// クリックイベントの記録先モード
const (
	ClickQueueMemory = "memory"
	ClickQueueAMQP   = "amqp"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL  string
	StoreTimeout time.Duration

	// Auth
	JWTSecret     string
	JWTExpiration time.Duration
	BcryptCost    int

	// Short code
	ShortCodeMaxAttempts int

	// Click recording
	ClickQueueMode  string
	ClickQueueSize  int
	ClickWorkers    int
	ClickMaxRetries int
	ClickRetryRate  float64
	AMQPURL         string
	ClickQueueName  string

	// Cache
	RedisURL     string
	LinkCacheTTL time.Duration

	// Server
	ServerPort string
	BaseURL    string

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// DotEnvPath はLoadが最初に読み込む.envファイルのパス。
var DotEnvPath = ".env"

// Load は環境変数からConfigを読み込む。
// .envファイルがあれば先に読み込むが、既に設定済みの環境変数は上書きしない。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(DotEnvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", DotEnvPath, err)
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.StoreTimeout = getEnvDuration("STORE_TIMEOUT", 5*time.Second)
	cfg.JWTExpiration = getEnvDuration("JWT_EXPIRATION", 24*time.Hour)
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", bcrypt.DefaultCost)
	cfg.ShortCodeMaxAttempts = getEnvInt("SHORT_CODE_MAX_ATTEMPTS", 5)
	cfg.ClickQueueMode = getEnvString("CLICK_QUEUE_MODE", ClickQueueMemory)
	cfg.ClickQueueSize = getEnvInt("CLICK_QUEUE_SIZE", 1024)
	cfg.ClickWorkers = getEnvInt("CLICK_WORKERS", 4)
	cfg.ClickMaxRetries = getEnvInt("CLICK_MAX_RETRIES", 3)
	cfg.ClickRetryRate = getEnvFloat("CLICK_RETRY_RATE", 5)
	cfg.AMQPURL = getEnvString("AMQP_URL", "")
	cfg.ClickQueueName = getEnvString("CLICK_QUEUE_NAME", "click_events")
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.LinkCacheTTL = getEnvDuration("LINK_CACHE_TTL", time.Hour)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	switch cfg.ClickQueueMode {
	case ClickQueueMemory:
	case ClickQueueAMQP:
		if cfg.AMQPURL == "" {
			return nil, fmt.Errorf("AMQP_URL is required when CLICK_QUEUE_MODE=%s", ClickQueueAMQP)
		}
	default:
		return nil, fmt.Errorf("unknown CLICK_QUEUE_MODE: %q", cfg.ClickQueueMode)
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
