package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Session
	SessionMaxAge int

	// Storage
	StorageBackend       string // s3, gridfs, memory
	StorageBucket        string
	StoragePublicBaseURL string
	S3Region             string
	S3Endpoint           string
	S3AccessKeyID        string
	S3SecretAccessKey    string
	S3UsePathStyle       bool
	MongoURI             string
	MongoDatabase        string

	// Image
	ImageMaxSize      int64
	ImageFetchTimeout time.Duration

	// Search
	SearchClientTTL time.Duration

	// Rate Limit
	RateLimitGeneral int
	RateLimitListing int

	// Cleanup
	CleanupInterval            time.Duration
	SearchHistoryRetentionDays int
	ItemViewRetentionDays      int

	// Catalog
	CatalogFile string

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// LoadDotEnv は指定された.envファイルを環境変数に読み込む。
// 既に設定済みの環境変数は上書きしない。ファイルが存在しない場合は何もしない。
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	cfg.StorageBackend = getEnvString("STORAGE_BACKEND", "s3")
	switch cfg.StorageBackend {
	case "s3":
		cfg.S3Region = os.Getenv("S3_REGION")
		if cfg.S3Region == "" {
			missing = append(missing, "S3_REGION")
		}
	case "gridfs":
		cfg.MongoURI = os.Getenv("MONGO_URI")
		if cfg.MongoURI == "" {
			missing = append(missing, "MONGO_URI")
		}
	case "memory":
	default:
		return nil, fmt.Errorf("unsupported STORAGE_BACKEND: %q (want s3, gridfs or memory)", cfg.StorageBackend)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 604800)
	cfg.StorageBucket = getEnvString("STORAGE_BUCKET", "marketplace")
	cfg.StoragePublicBaseURL = getEnvString("STORAGE_PUBLIC_BASE_URL", "")
	cfg.S3Endpoint = getEnvString("S3_ENDPOINT", "")
	cfg.S3AccessKeyID = getEnvString("S3_ACCESS_KEY_ID", "")
	cfg.S3SecretAccessKey = getEnvString("S3_SECRET_ACCESS_KEY", "")
	cfg.S3UsePathStyle = getEnvBool("S3_USE_PATH_STYLE", false)
	cfg.MongoDatabase = getEnvString("MONGO_DATABASE", "kuzamarket")
	cfg.ImageMaxSize = getEnvInt64("IMAGE_MAX_SIZE", 5242880)
	cfg.ImageFetchTimeout = getEnvDuration("IMAGE_FETCH_TIMEOUT", 10*time.Second)
	cfg.SearchClientTTL = getEnvDuration("SEARCH_CLIENT_TTL", 30*time.Minute)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitListing = getEnvInt("RATE_LIMIT_LISTING", 10)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", time.Hour)
	cfg.SearchHistoryRetentionDays = getEnvInt("SEARCH_HISTORY_RETENTION_DAYS", 90)
	cfg.ItemViewRetentionDays = getEnvInt("ITEM_VIEW_RETENTION_DAYS", 30)
	cfg.CatalogFile = getEnvString("CATALOG_FILE", "")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:5173")

	if cfg.StoragePublicBaseURL == "" {
		cfg.StoragePublicBaseURL = strings.TrimRight(cfg.BaseURL, "/") + "/media"
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

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
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
