package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func env(kv map[string]string) func(string) string {
	return func(k string) string { return kv[k] }
}

func TestParse_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := parse(nil, env(map[string]string{"TELEGRAM_BOT_TOKEN": "tok"}))
	require.NoError(t, err)

	require.Equal(t, "sqlite", cfg.DBDriver)
	require.Equal(t, "data/data.db", cfg.DatabaseURL)
	require.Equal(t, 3, cfg.BroadcastConcurrency)
	require.Equal(t, 2*time.Second, cfg.BroadcastPause)
	require.Equal(t, 8, cfg.SecretCodeLength)
	require.Equal(t, 5, cfg.SecretCodeAttempts)
	require.Equal(t, "/telegram", cfg.WebhookPath)
	require.Equal(t, ":8080", cfg.ListenAddr)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "text", cfg.LogFormat)
	require.False(t, cfg.Webhook())
	require.False(t, cfg.S3.Enabled())
	require.True(t, cfg.BroadcastAt.IsZero())
	require.Empty(t, cfg.AdminIDs)
}

func TestParse_EnvAndFlags(t *testing.T) {
	t.Parallel()

	cfg, err := parse(
		[]string{"-d", "postgres://flag", "-admins", "7, 8", "-debug"},
		env(map[string]string{
			"TELEGRAM_BOT_TOKEN":    "tok",
			"DB_DRIVER":             "postgres",
			"DATABASE_URL":          "postgres://env",
			"ADMIN_IDS":             "1",
			"BROADCAST_CONCURRENCY": "5",
			"BROADCAST_PAUSE":       "500ms",
			"BROADCAST_AT":          "2026-05-01T18:00:00+03:00",
			"WEBHOOK_URL":           "https://bot.example.org/telegram",
			"WEBHOOK_PATH":          "hook",
			"S3_BUCKET":             "photos",
			"S3_ACCESS_KEY_ID":      "id",
			"S3_SECRET_ACCESS_KEY":  "secret",
			"LOG_LEVEL":             "DEBUG",
		}),
	)
	require.NoError(t, err)

	require.Equal(t, "postgres", cfg.DBDriver)
	require.Equal(t, "postgres://flag", cfg.DatabaseURL)
	require.Equal(t, []int64{7, 8}, cfg.AdminIDs)
	require.True(t, cfg.BotDebug)
	require.Equal(t, 5, cfg.BroadcastConcurrency)
	require.Equal(t, 500*time.Millisecond, cfg.BroadcastPause)
	require.Equal(t, 2026, cfg.BroadcastAt.Year())
	require.True(t, cfg.Webhook())
	require.Equal(t, "/hook", cfg.WebhookPath)
	require.True(t, cfg.S3.Enabled())
	require.Equal(t, "auto", cfg.S3.Region)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	cases := map[string]map[string]string{
		"no token":         {},
		"bad driver":       {"TELEGRAM_BOT_TOKEN": "t", "DB_DRIVER": "mysql"},
		"bad admin":        {"TELEGRAM_BOT_TOKEN": "t", "ADMIN_IDS": "1,abc"},
		"zero concurrency": {"TELEGRAM_BOT_TOKEN": "t", "BROADCAST_CONCURRENCY": "0"},
		"bad pause":        {"TELEGRAM_BOT_TOKEN": "t", "BROADCAST_PAUSE": "soon"},
		"negative pause":   {"TELEGRAM_BOT_TOKEN": "t", "BROADCAST_PAUSE": "-1s"},
		"short code":       {"TELEGRAM_BOT_TOKEN": "t", "SECRET_CODE_LENGTH": "2"},
		"bad broadcast at": {"TELEGRAM_BOT_TOKEN": "t", "BROADCAST_AT": "tomorrow"},
		"s3 no keys":       {"TELEGRAM_BOT_TOKEN": "t", "S3_BUCKET": "b"},
		"bad debug":        {"TELEGRAM_BOT_TOKEN": "t", "BOT_DEBUG": "maybe"},
	}
	for name, kv := range cases {
		if _, err := parse(nil, env(kv)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("FOOSPOLL_DOTENV_PROBE=loaded\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("FOOSPOLL_DOTENV_PROBE") })

	require.NoError(t, LoadDotEnv(path))
	require.Equal(t, "loaded", os.Getenv("FOOSPOLL_DOTENV_PROBE"))

	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}
