package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/foospoll/foospollbot/internal/config"
	"github.com/foospoll/foospollbot/internal/logging"
	"github.com/foospoll/foospollbot/internal/seed"
	"github.com/foospoll/foospollbot/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.New(os.Stderr, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	if err := config.LoadDotEnv(); err != nil {
		logger.Warn("read .env", "error", err)
	}

	path := flag.String("f", "seed.yaml", "YAML file with options and players")
	driver := flag.String("db-driver", envOr("DB_DRIVER", storage.DriverSQLite), "database driver")
	dsn := flag.String("d", envOr("DATABASE_URL", "data/data.db"), "database DSN or sqlite file path")
	flag.Parse()

	file, err := seed.Load(*path)
	if err != nil {
		logger.Error("load seed file", "path", *path, "error", err)
		os.Exit(1)
	}

	if *driver == storage.DriverSQLite {
		if dir := filepath.Dir(*dsn); dir != "." && dir != "" {
			_ = os.MkdirAll(dir, 0o755)
		}
	}
	db, err := storage.Open(*driver, *dsn)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	store := storage.New(db, logger)
	if err := store.InitSchema(ctx); err != nil {
		logger.Error("init schema", "error", err)
		os.Exit(1)
	}

	if err := seed.Apply(ctx, store, file); err != nil {
		logger.Error("apply seed", "error", err)
		os.Exit(1)
	}
	logger.Info("seed applied", "options", len(file.Options), "players", len(file.Players))
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
