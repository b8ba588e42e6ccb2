// Package config loads the bot settings from environment variables.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

const (
	StorageJSON     = "json"
	StoragePostgres = "postgres"
)

// SupportedLanguages lists the locales shipped with the bot.
var SupportedLanguages = []string{"en", "ru", "uz"}

type Config struct {
	// Bots
	BotToken      string
	AdminBotToken string
	AdminIDs      []int64

	// Instagram
	InstagramUsername    string
	InstagramPassword    string
	InstagramSessionFile string

	Environment string

	// Filesystem
	TempDir string
	DBDir   string

	// Logging
	LogFile   string
	LogLevel  string
	LogFormat string

	// Downloads
	MaxFileSizeMB          int
	MaxConcurrentDownloads int
	Timeout                time.Duration
	MaxRetries             int
	YtdlpPath              string

	// File cache
	EnableCache   bool
	CacheDuration time.Duration
	CacheSize     int

	EnableAnalytics bool

	// Rate limiting
	RateLimitRequests    int
	RateLimitPeriod      time.Duration
	DownloadRateLimit    int
	DownloadRatePeriod   time.Duration
	RateLimitFailClosed  bool
	BroadcastRate        float64
	RequestRetentionDays int
	AnalyticsRetention   int

	DefaultLanguage string

	// Web
	WebHost string
	WebPort int

	// Storage
	StorageDriver string
	DatabaseURL   string

	SentryDSN string
}

// LoadEnv reads .env.<name> and falls back to .env. Missing files are not an error,
// the process environment always wins.
func LoadEnv(name string) string {
	envFile := ".env." + name
	if err := godotenv.Load(envFile); err != nil {
		_ = godotenv.Load()
		return ".env"
	}
	return envFile
}

// Load builds a Config from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	cfg.BotToken = os.Getenv("BOT_TOKEN")
	cfg.AdminBotToken = os.Getenv("ADMIN_BOT_TOKEN")
	if cfg.AdminIDs, err = parseIDs(os.Getenv("ADMIN_IDS")); err != nil {
		return nil, errors.Wrap(err, "ADMIN_IDS")
	}

	cfg.InstagramUsername = os.Getenv("INSTAGRAM_USERNAME")
	cfg.InstagramPassword = os.Getenv("INSTAGRAM_PASSWORD")
	cfg.InstagramSessionFile = getEnvDefault("INSTAGRAM_SESSION_FILE", "sessions/instagram.cookies")
	cfg.Environment = strings.ToLower(getEnvDefault("ENVIRONMENT", "development"))

	cfg.TempDir = getEnvDefault("TEMP_DIR", "temp")
	cfg.DBDir = getEnvDefault("DB_DIR", "db")
	cfg.LogFile = os.Getenv("LOG_FILE")
	cfg.LogLevel = strings.ToLower(getEnvDefault("LOG_LEVEL", "info"))
	cfg.LogFormat = strings.ToLower(getEnvDefault("LOG_FORMAT", "logfmt"))

	if cfg.MaxFileSizeMB, err = getEnvInt("MAX_FILE_SIZE", 50); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrentDownloads, err = getEnvInt("MAX_CONCURRENT_DOWNLOADS", 3); err != nil {
		return nil, err
	}
	if cfg.Timeout, err = getEnvSeconds("TIMEOUT_SECONDS", 120); err != nil {
		return nil, err
	}
	if cfg.MaxRetries, err = getEnvInt("MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	cfg.YtdlpPath = getEnvDefault("YTDLP_PATH", "yt-dlp")

	if cfg.EnableCache, err = getEnvBool("ENABLE_CACHE", true); err != nil {
		return nil, err
	}
	if cfg.CacheDuration, err = getEnvSeconds("CACHE_DURATION", 3600); err != nil {
		return nil, err
	}
	if cfg.CacheSize, err = getEnvInt("CACHE_SIZE", 1000); err != nil {
		return nil, err
	}
	if cfg.EnableAnalytics, err = getEnvBool("ENABLE_ANALYTICS", true); err != nil {
		return nil, err
	}

	if cfg.RateLimitRequests, err = getEnvInt("RATE_LIMIT_REQUESTS", 10); err != nil {
		return nil, err
	}
	if cfg.RateLimitPeriod, err = getEnvSeconds("RATE_LIMIT_PERIOD", 60); err != nil {
		return nil, err
	}
	if cfg.DownloadRateLimit, err = getEnvInt("DOWNLOAD_RATE_LIMIT", 5); err != nil {
		return nil, err
	}
	if cfg.DownloadRatePeriod, err = getEnvSeconds("DOWNLOAD_RATE_PERIOD", 300); err != nil {
		return nil, err
	}
	if cfg.RateLimitFailClosed, err = getEnvBool("RATE_LIMIT_FAIL_CLOSED", false); err != nil {
		return nil, err
	}
	if cfg.BroadcastRate, err = getEnvFloat("BROADCAST_RATE", 25); err != nil {
		return nil, err
	}
	if cfg.RequestRetentionDays, err = getEnvInt("REQUEST_RETENTION_DAYS", 7); err != nil {
		return nil, err
	}
	if cfg.AnalyticsRetention, err = getEnvInt("ANALYTICS_RETENTION_DAYS", 90); err != nil {
		return nil, err
	}

	cfg.DefaultLanguage = strings.ToLower(getEnvDefault("DEFAULT_LANGUAGE", "en"))
	cfg.WebHost = getEnvDefault("WEB_HOST", "0.0.0.0")
	if cfg.WebPort, err = getEnvInt("WEB_PORT", 8000); err != nil {
		return nil, err
	}

	cfg.StorageDriver = strings.ToLower(getEnvDefault("STORAGE_DRIVER", StorageJSON))
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.SentryDSN = os.Getenv("SENTRY_DSN")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings and value ranges.
func (c *Config) Validate() error {
	if c.BotToken == "" {
		return errors.New("BOT_TOKEN: required environment variable is not set")
	}
	if c.MaxFileSizeMB <= 0 {
		return errors.Errorf("MAX_FILE_SIZE: must be positive, got %d", c.MaxFileSizeMB)
	}
	if c.MaxConcurrentDownloads <= 0 {
		return errors.Errorf("MAX_CONCURRENT_DOWNLOADS: must be positive, got %d", c.MaxConcurrentDownloads)
	}
	if c.Timeout <= 0 {
		return errors.New("TIMEOUT_SECONDS: must be positive")
	}
	if c.RateLimitPeriod <= 0 || c.DownloadRatePeriod <= 0 {
		return errors.New("RATE_LIMIT_PERIOD and DOWNLOAD_RATE_PERIOD must be positive")
	}
	if !lo.Contains(SupportedLanguages, c.DefaultLanguage) {
		return errors.Errorf("DEFAULT_LANGUAGE: unsupported language %q", c.DefaultLanguage)
	}
	if c.LogFormat != "logfmt" && c.LogFormat != "json" {
		return errors.Errorf("LOG_FORMAT: unsupported format %q, expected logfmt or json", c.LogFormat)
	}
	switch c.StorageDriver {
	case StorageJSON:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL: required when STORAGE_DRIVER=postgres")
		}
	default:
		return errors.Errorf("STORAGE_DRIVER: unsupported driver %q", c.StorageDriver)
	}
	return nil
}

// MaxFileSize returns the download size limit in bytes.
func (c *Config) MaxFileSize() int64 {
	return int64(c.MaxFileSizeMB) * 1024 * 1024
}

// AdminBotEnabled is false when no separate admin token is configured.
func (c *Config) AdminBotEnabled() bool {
	return c.AdminBotToken != "" && c.AdminBotToken != c.BotToken
}

func (c *Config) DBFile(name string) string {
	return filepath.Join(c.DBDir, name)
}

func (c *Config) WebAddr() string {
	return c.WebHost + ":" + strconv.Itoa(c.WebPort)
}

// SetupDirectories creates the temp, db and session directories.
func (c *Config) SetupDirectories() error {
	dirs := []string{c.TempDir, c.DBDir, filepath.Dir(c.InstagramSessionFile)}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return errors.Wrapf(err, "create directory %s", dir)
		}
	}
	return nil
}

func parseIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, errors.Errorf("invalid user id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return 0, errors.Errorf("%s: invalid integer %q", key, val)
	}
	return n, nil
}

func getEnvFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
	if err != nil {
		return 0, errors.Errorf("%s: invalid number %q", key, val)
	}
	return f, nil
}

func getEnvSeconds(key string, defaultVal int) (time.Duration, error) {
	n, err := getEnvInt(key, defaultVal)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(val))
	if err != nil {
		return false, errors.Errorf("%s: invalid boolean %q", key, val)
	}
	return b, nil
}
