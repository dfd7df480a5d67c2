// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL    string
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Hardcover
	HardcoverAPIKey       string
	HardcoverEndpoint     string
	HardcoverUserID       int64
	HardcoverPageSize     int
	HardcoverMaxOffset    int
	HardcoverProbeTimeout time.Duration
	HardcoverFetchTimeout time.Duration
	HardcoverRateLimit    int // 1分あたりのリクエスト数
	FuzzyMatchThreshold   float64

	// KOReader
	KOReaderBackup string
	DeviceID       string
	SessionGap     time.Duration

	// Worker
	SyncInterval     time.Duration
	RunRetentionDays int

	// Server
	ServerPort string

	// Logging
	LogLevel string
	LogFile  string
}

// LoadEnvFile は.env形式のファイルを環境変数に読み込む。
// 既に設定済みの環境変数は上書きしない。ファイルが存在しない場合は何もしない。
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// データベース接続先が決まらない場合はエラーを返す。
// Hardcover・KOReaderの必須項目はコマンドごとに RequireHardcover / RequireKOReader で検証する。
func Load() (*Config, error) {
	cfg := &Config{}

	dbURL, err := databaseURL()
	if err != nil {
		return nil, err
	}
	cfg.DatabaseURL = dbURL
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 5)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 1)

	cfg.HardcoverAPIKey = os.Getenv("HARDCOVER_API_KEY")
	cfg.HardcoverEndpoint = getEnvString("HARDCOVER_ENDPOINT", "https://api.hardcover.app/v1/graphql")
	cfg.HardcoverUserID = getEnvInt64("HARDCOVER_USER_ID", 0)
	cfg.HardcoverPageSize = getEnvInt("HARDCOVER_PAGE_SIZE", 100)
	cfg.HardcoverMaxOffset = getEnvInt("HARDCOVER_MAX_OFFSET", 10000)
	cfg.HardcoverProbeTimeout = getEnvDuration("HARDCOVER_PROBE_TIMEOUT", 10*time.Second)
	cfg.HardcoverFetchTimeout = getEnvDuration("HARDCOVER_FETCH_TIMEOUT", 30*time.Second)
	cfg.HardcoverRateLimit = getEnvInt("HARDCOVER_RATE_LIMIT", 60)
	cfg.FuzzyMatchThreshold = getEnvFloat("FUZZY_MATCH_THRESHOLD", 0.85)

	cfg.KOReaderBackup = os.Getenv("KOREADER_BACKUP")
	cfg.DeviceID = getEnvString("DEVICE_ID", "boox-palma-2")
	cfg.SessionGap = time.Duration(getEnvInt("SESSION_GAP_MINUTES", 30)) * time.Minute

	cfg.SyncInterval = getEnvDuration("SYNC_INTERVAL", 24*time.Hour)
	cfg.RunRetentionDays = getEnvInt("RUN_RETENTION_DAYS", 90)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.LogFile = os.Getenv("LOG_FILE")

	if cfg.FuzzyMatchThreshold <= 0 || cfg.FuzzyMatchThreshold > 1 {
		return nil, fmt.Errorf("FUZZY_MATCH_THRESHOLD must be in (0, 1]: %v", cfg.FuzzyMatchThreshold)
	}
	if cfg.SessionGap <= 0 {
		return nil, fmt.Errorf("SESSION_GAP_MINUTES must be positive")
	}

	return cfg, nil
}

// RequireHardcover はHardcover補完に必要な設定を検証する。
func (c *Config) RequireHardcover() error {
	if c.HardcoverAPIKey == "" {
		return fmt.Errorf("required environment variables are not set: [HARDCOVER_API_KEY]")
	}
	return nil
}

// RequireKOReader はKOReader取り込みに必要な設定を検証する。
func (c *Config) RequireKOReader() error {
	if c.KOReaderBackup == "" {
		return fmt.Errorf("required environment variables are not set: [KOREADER_BACKUP]")
	}
	return nil
}

// databaseURL はDATABASE_URLを返す。未設定の場合はNEON_*から接続文字列を組み立てる。
func databaseURL() (string, error) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v, nil
	}

	var missing []string
	neon := map[string]string{}
	for _, key := range []string{"NEON_HOST", "NEON_DATABASE", "NEON_USER", "NEON_PASSWORD"} {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		neon[key] = v
	}
	if len(missing) == 4 {
		return "", fmt.Errorf("required environment variables are not set: [DATABASE_URL]")
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("required environment variables are not set: %v", missing)
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(neon["NEON_USER"], neon["NEON_PASSWORD"]),
		Host:     net.JoinHostPort(neon["NEON_HOST"], getEnvString("NEON_PORT", "5432")),
		Path:     "/" + neon["NEON_DATABASE"],
		RawQuery: "sslmode=require",
	}
	return u.String(), nil
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
