// Package config loads bot settings from flags, the environment and an optional .env file.
// Flags take precedence over environment variables.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	BotToken string
	BotDebug bool

	DBDriver    string
	DatabaseURL string

	AdminIDs []int64

	LogLevel  string
	LogFormat string

	BroadcastConcurrency int
	BroadcastPause       time.Duration
	BroadcastAt          time.Time
	StatusEvery          time.Duration

	SecretCodeLength   int
	SecretCodeAttempts int

	WebhookURL  string
	WebhookPath string
	ListenAddr  string
	StatusToken string

	S3 S3Config
}

type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

// Enabled reports whether photo archiving is configured.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// Webhook reports whether updates arrive over HTTP instead of long polling.
func (c Config) Webhook() bool {
	return c.WebhookURL != ""
}

// LoadDotEnv reads .env when present. A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Parse builds the configuration from args with environment fallback.
func Parse(args []string) (Config, error) {
	return parse(args, os.Getenv)
}

func parse(args []string, getenv func(string) string) (Config, error) {
	var (
		cfg         Config
		admins      string
		broadcastAt string
	)

	fs := flag.NewFlagSet("foospollbot", flag.ContinueOnError)
	fs.StringVar(&cfg.DBDriver, "db-driver", "", "database driver: sqlite or postgres")
	fs.StringVar(&cfg.DatabaseURL, "d", "", "database DSN or sqlite file path")
	fs.StringVar(&admins, "admins", "", "comma-separated administrator telegram ids")
	fs.StringVar(&cfg.LogLevel, "log-level", "", "debug, info, warn or error")
	fs.StringVar(&cfg.ListenAddr, "listen", "", "HTTP listen address")
	fs.StringVar(&broadcastAt, "broadcast-at", "", "RFC3339 time of the scheduled vote broadcast")
	fs.BoolVar(&cfg.BotDebug, "debug", false, "log Bot API traffic")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.BotToken = getenv("TELEGRAM_BOT_TOKEN")
	if cfg.BotToken == "" {
		return Config{}, errors.New("TELEGRAM_BOT_TOKEN is required")
	}

	cfg.DBDriver = pick(cfg.DBDriver, getenv("DB_DRIVER"), "sqlite")
	if cfg.DBDriver != "sqlite" && cfg.DBDriver != "postgres" {
		return Config{}, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
	cfg.DatabaseURL = pick(cfg.DatabaseURL, getenv("DATABASE_URL"), "data/data.db")

	ids, err := parseIDs(pick(admins, getenv("ADMIN_IDS"), ""))
	if err != nil {
		return Config{}, err
	}
	cfg.AdminIDs = ids

	if !cfg.BotDebug {
		if cfg.BotDebug, err = envBool(getenv, "BOT_DEBUG", false); err != nil {
			return Config{}, err
		}
	}

	cfg.LogLevel = strings.ToLower(pick(cfg.LogLevel, getenv("LOG_LEVEL"), "info"))
	cfg.LogFormat = strings.ToLower(pick("", getenv("LOG_FORMAT"), "text"))

	if cfg.BroadcastConcurrency, err = envInt(getenv, "BROADCAST_CONCURRENCY", 3); err != nil {
		return Config{}, err
	}
	if cfg.BroadcastConcurrency < 1 {
		return Config{}, errors.New("BROADCAST_CONCURRENCY must be positive")
	}
	if cfg.BroadcastPause, err = envDuration(getenv, "BROADCAST_PAUSE", 2*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.StatusEvery, err = envDuration(getenv, "STATUS_EVERY", 0); err != nil {
		return Config{}, err
	}
	if raw := pick(broadcastAt, getenv("BROADCAST_AT"), ""); raw != "" {
		if cfg.BroadcastAt, err = time.Parse(time.RFC3339, raw); err != nil {
			return Config{}, fmt.Errorf("invalid BROADCAST_AT: %w", err)
		}
	}

	if cfg.SecretCodeLength, err = envInt(getenv, "SECRET_CODE_LENGTH", 8); err != nil {
		return Config{}, err
	}
	if cfg.SecretCodeLength < 4 {
		return Config{}, errors.New("SECRET_CODE_LENGTH must be at least 4")
	}
	if cfg.SecretCodeAttempts, err = envInt(getenv, "SECRET_CODE_ATTEMPTS", 5); err != nil {
		return Config{}, err
	}
	if cfg.SecretCodeAttempts < 1 {
		return Config{}, errors.New("SECRET_CODE_ATTEMPTS must be positive")
	}

	cfg.WebhookURL = getenv("WEBHOOK_URL")
	cfg.WebhookPath = pick("", getenv("WEBHOOK_PATH"), "/telegram")
	if !strings.HasPrefix(cfg.WebhookPath, "/") {
		cfg.WebhookPath = "/" + cfg.WebhookPath
	}
	cfg.ListenAddr = pick(cfg.ListenAddr, getenv("LISTEN_ADDR"), ":8080")
	cfg.StatusToken = getenv("STATUS_TOKEN")

	cfg.S3 = S3Config{
		Endpoint:        getenv("S3_ENDPOINT"),
		Region:          pick("", getenv("S3_REGION"), "auto"),
		Bucket:          getenv("S3_BUCKET"),
		AccessKeyID:     getenv("S3_ACCESS_KEY_ID"),
		SecretAccessKey: getenv("S3_SECRET_ACCESS_KEY"),
	}
	if cfg.S3.Enabled() && (cfg.S3.AccessKeyID == "" || cfg.S3.SecretAccessKey == "") {
		return Config{}, errors.New("S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY are required with S3_BUCKET")
	}

	return cfg, nil
}

func pick(flagValue, envValue, def string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue != "" {
		return envValue
	}
	return def
}

func parseIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid admin id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func envInt(getenv func(string) string, key string, def int) (int, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envBool(getenv func(string) string, key string, def bool) (bool, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func envDuration(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return d, nil
}
