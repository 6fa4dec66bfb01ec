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

	"github.com/Lemmeyg/redditresearch/internal/model"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Server
	ServerPort        string
	LogLevel          string
	CORSAllowedOrigin string

	// Reddit upstream
	RedditBaseURL         string
	RedditUserAgent       string
	RedditTimeout         time.Duration
	RedditRateLimitMax    int
	RedditRateLimitWindow time.Duration
	RedditMaxResponseSize int64

	// Ingress rate limit
	IngressRateLimitMax    int
	IngressRateLimitWindow time.Duration

	// 取得系エンドポイントのユーザーごとのレート（req/min）
	FetchRatePerMin int

	// Refresh worker
	RefreshSubreddits    []string
	RefreshSchedule      string
	RefreshSort          string
	RefreshLimit         int
	RefreshMaxConcurrent int
	RefreshAPIInterval   time.Duration
	// ワーカーの/metricsを公開するポート
	WorkerMetricsPort string

	// Cleanup
	CleanupSchedule string
	RetentionDays   int
}

// LoadEnvFile は.envファイルの内容を環境変数に読み込む。
// 既に設定済みの環境変数は上書きしない。ファイルが存在しない場合は何もしない。
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.RedditBaseURL = strings.TrimRight(getEnvString("REDDIT_BASE_URL", "https://www.reddit.com"), "/")
	cfg.RedditUserAgent = getEnvString("REDDIT_USER_AGENT", "redditresearch/1.0")
	cfg.RedditTimeout = getEnvDuration("REDDIT_TIMEOUT", 30*time.Second)
	cfg.RedditRateLimitMax = getEnvInt("REDDIT_RATE_LIMIT_MAX", 100)
	cfg.RedditRateLimitWindow = getEnvDuration("REDDIT_RATE_LIMIT_WINDOW", time.Minute)
	cfg.RedditMaxResponseSize = getEnvInt64("REDDIT_MAX_RESPONSE_SIZE", 10485760)
	cfg.IngressRateLimitMax = getEnvInt("INGRESS_RATE_LIMIT_MAX", 100)
	cfg.IngressRateLimitWindow = getEnvDuration("INGRESS_RATE_LIMIT_WINDOW", time.Minute)
	cfg.FetchRatePerMin = getEnvInt("FETCH_RATE_PER_MIN", 10)
	cfg.RefreshSubreddits = getEnvList("REFRESH_SUBREDDITS")
	cfg.RefreshSchedule = getEnvString("REFRESH_SCHEDULE", "*/15 * * * *")
	cfg.RefreshSort = getEnvString("REFRESH_SORT", "hot")
	cfg.RefreshLimit = getEnvInt("REFRESH_LIMIT", 25)
	cfg.RefreshMaxConcurrent = getEnvInt("REFRESH_MAX_CONCURRENT", 2)
	cfg.RefreshAPIInterval = getEnvDuration("REFRESH_API_INTERVAL", 2*time.Second)
	cfg.WorkerMetricsPort = getEnvString("WORKER_METRICS_PORT", "9090")
	cfg.CleanupSchedule = getEnvString("CLEANUP_SCHEDULE", "0 3 * * *")
	cfg.RetentionDays = getEnvInt("RETENTION_DAYS", 90)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate は値の整合性を検証する。
func (c *Config) validate() error {
	var invalid []string

	if !strings.HasPrefix(c.DatabaseURL, "postgres://") &&
		!strings.HasPrefix(c.DatabaseURL, "postgresql://") &&
		!strings.HasPrefix(c.DatabaseURL, "sqlite://") {
		invalid = append(invalid, "DATABASE_URL (postgres:// or sqlite:// expected)")
	}
	if c.RedditRateLimitMax <= 0 {
		invalid = append(invalid, "REDDIT_RATE_LIMIT_MAX")
	}
	if c.RedditRateLimitWindow <= 0 {
		invalid = append(invalid, "REDDIT_RATE_LIMIT_WINDOW")
	}
	if c.IngressRateLimitMax <= 0 {
		invalid = append(invalid, "INGRESS_RATE_LIMIT_MAX")
	}
	if c.IngressRateLimitWindow <= 0 {
		invalid = append(invalid, "INGRESS_RATE_LIMIT_WINDOW")
	}
	if c.RefreshLimit < 1 || c.RefreshLimit > 100 {
		invalid = append(invalid, "REFRESH_LIMIT (1-100)")
	}
	if c.RefreshMaxConcurrent < 1 {
		invalid = append(invalid, "REFRESH_MAX_CONCURRENT")
	}
	if !model.PostSort(c.RefreshSort).Valid() {
		invalid = append(invalid, "REFRESH_SORT (hot, new, top or rising)")
	}
	if c.FetchRatePerMin <= 0 {
		invalid = append(invalid, "FETCH_RATE_PER_MIN")
	}
	if c.RetentionDays <= 0 {
		invalid = append(invalid, "RETENTION_DAYS")
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid environment variables: %v", invalid)
	}
	return nil
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

// getEnvList はカンマ区切りの値を空要素を除いたスライスとして返す。
func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
