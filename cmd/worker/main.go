package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/odyssey-feed/odyssey-feed/internal/app"
	jobmetrics "github.com/odyssey-feed/odyssey-feed/internal/jobs"
	"github.com/odyssey-feed/odyssey-feed/internal/platform/cache"
	"github.com/odyssey-feed/odyssey-feed/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	redisOpts := cache.Options{Addr: cfg.RedisAddr}
	redisClient, err := cache.New(ctx, redisOpts)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	notifyJob := jobs.NewNotifyJob(logger, jobmetrics.NewMetrics(nil),
		jobs.LogSender{Logger: logger},
		jobs.InboxSender{Client: redisClient, Keep: cfg.NotifyInboxKeep, TTL: cfg.NotifyInboxTTL},
	)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts.Asynq(),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskChannelNotify, Handler: notifyJob.Handle},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
