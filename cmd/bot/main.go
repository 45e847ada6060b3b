package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/foospoll/foospollbot/internal/access"
	"github.com/foospoll/foospollbot/internal/app"
	"github.com/foospoll/foospollbot/internal/ballot"
	"github.com/foospoll/foospollbot/internal/broadcast"
	"github.com/foospoll/foospollbot/internal/config"
	"github.com/foospoll/foospollbot/internal/httpapi"
	"github.com/foospoll/foospollbot/internal/logging"
	"github.com/foospoll/foospollbot/internal/photo"
	"github.com/foospoll/foospollbot/internal/registration"
	"github.com/foospoll/foospollbot/internal/review"
	"github.com/foospoll/foospollbot/internal/schedule"
	"github.com/foospoll/foospollbot/internal/storage"
	"github.com/foospoll/foospollbot/internal/telegram"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootLog := logging.New(os.Stderr, "info", "text")
	if err := config.LoadDotEnv(); err != nil {
		bootLog.Warn("read .env", "error", err)
	}
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		bootLog.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("bot stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if cfg.DBDriver == storage.DriverSQLite {
		if dir := filepath.Dir(cfg.DatabaseURL); dir != "." && dir != "" {
			_ = os.MkdirAll(dir, 0o755)
		}
	}
	db, err := storage.Open(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	store := storage.New(db, logger)
	if err := store.InitSchema(ctx); err != nil {
		return err
	}

	tg, err := telegram.New(cfg.BotToken, cfg.BotDebug)
	if err != nil {
		return err
	}
	logger.Info("bot started", "username", tg.UserName(), "db_driver", cfg.DBDriver)

	admins := access.NewPolicy(cfg.AdminIDs)
	if len(admins.IDs()) == 0 {
		logger.Warn("no administrators configured, applications cannot be reviewed")
	}

	var archiver registration.PhotoArchiver
	if cfg.S3.Enabled() {
		a, err := photo.NewS3(ctx, cfg.S3, tg)
		if err != nil {
			return err
		}
		archiver = a
		logger.Info("photo archive enabled", "bucket", cfg.S3.Bucket)
	}

	reviewer := review.New(store, tg, admins, logger)
	application := app.New(app.Deps{
		Store:        store,
		Sender:       tg,
		Admins:       admins,
		Registration: registration.New(store, tg, reviewer, archiver, logger),
		Review:       reviewer,
		Broadcast:    broadcast.New(store, tg, cfg.BroadcastConcurrency, cfg.BroadcastPause, logger),
		Ballot: ballot.New(store, tg,
			ballot.RandomCodes(cfg.SecretCodeLength), cfg.SecretCodeAttempts, logger),
		Logger: logger,
	})

	sched, err := schedule.New(ctx, logger)
	if err != nil {
		return err
	}
	if !cfg.BroadcastAt.IsZero() {
		if err := sched.At("start_vote", cfg.BroadcastAt, application.StartVote); err != nil {
			return err
		}
	}
	if cfg.StatusEvery > 0 {
		if err := sched.Every("status_digest", cfg.StatusEvery, application.StatusDigest); err != nil {
			return err
		}
	}
	sched.Start()
	defer func() {
		if err := sched.Shutdown(); err != nil {
			logger.Warn("scheduler shutdown", "error", err)
		}
	}()

	var dispatcher httpapi.UpdateDispatcher
	if cfg.Webhook() {
		dispatcher = application
	}
	server := httpapi.New(ctx, httpapi.Config{
		WebhookPath: cfg.WebhookPath,
		StatusToken: cfg.StatusToken,
	}, dispatcher, store, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Listen(cfg.ListenAddr); !httpapi.IsClosed(err) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if cfg.Webhook() {
		if err := tg.SetWebhook(cfg.WebhookURL); err != nil {
			return err
		}
		logger.Info("webhook registered", "url", cfg.WebhookURL, "path", cfg.WebhookPath)
	} else {
		if err := tg.DeleteWebhook(); err != nil {
			logger.Warn("delete webhook", "error", err)
		}
		g.Go(func() error {
			application.Run(gctx, tg.Updates())
			tg.StopUpdates()
			return nil
		})
		logger.Info("long polling started")
	}

	err = g.Wait()
	application.Wait()
	return err
}
