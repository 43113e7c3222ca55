package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-feed/odyssey-feed/cmd/odyssey/cli"
	"github.com/odyssey-feed/odyssey-feed/internal/acl"
	"github.com/odyssey-feed/odyssey-feed/internal/app"
	"github.com/odyssey-feed/odyssey-feed/internal/auth"
	"github.com/odyssey-feed/odyssey-feed/internal/channels"
	"github.com/odyssey-feed/odyssey-feed/internal/content"
	"github.com/odyssey-feed/odyssey-feed/internal/observability"
	"github.com/odyssey-feed/odyssey-feed/internal/platform/cache"
	"github.com/odyssey-feed/odyssey-feed/internal/platform/db"
	"github.com/odyssey-feed/odyssey-feed/internal/plugins"
	"github.com/odyssey-feed/odyssey-feed/internal/roles"
	"github.com/odyssey-feed/odyssey-feed/internal/rpc"
	"github.com/odyssey-feed/odyssey-feed/internal/rules"
	"github.com/odyssey-feed/odyssey-feed/internal/shared"
	"github.com/odyssey-feed/odyssey-feed/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := rootCommand().ExecuteContext(ctx)
	var exit *cli.ExitError
	if errors.As(err, &exit) {
		os.Exit(exit.Code)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "odyssey",
		Short:         "Realtime community feed server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
	root.AddCommand(
		cli.NewPluginsCommand(cli.NewPluginsCLI(nil)),
		cli.NewJobsCommand(func() (asynq.RedisClientOpt, error) {
			cfg, err := app.LoadConfig()
			if err != nil {
				return asynq.RedisClientOpt{}, err
			}
			return cache.Options{Addr: cfg.RedisAddr}.Asynq(), nil
		}),
		passwdCommand(),
	)
	return root
}

func passwdCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "passwd ACTOR PASSWORD",
		Short: "Set the login password of an actor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			pool, err := db.New(cmd.Context(), cfg.PGDSN, db.PoolOptions{MaxConns: 2, ApplicationName: "odyssey-passwd"})
			if err != nil {
				return err
			}
			defer pool.Close()
			svc := auth.NewService(auth.NewRepository(pool), nil)
			if err := svc.SetPassword(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "password updated for %s\n", args[0])
			return nil
		},
	}
}

func serve(parent context.Context) error {
	ctx, cancelRun := context.WithCancel(parent)
	defer cancelRun()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		return err
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{ApplicationName: "odyssey"})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return err
	}
	defer dbpool.Close()

	redisOpts := cache.Options{Addr: cfg.RedisAddr}
	redisClient, err := cache.New(ctx, redisOpts)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	roleService := roles.NewService(roles.NewRepository(dbpool), logger)
	ruleService := rules.NewService(rules.NewRepository(dbpool), logger)
	evaluator := acl.NewEvaluator(roleService, ruleService, acl.NewMemoryCache(), logger, metrics)
	roleService.SetInvalidator(evaluator)
	ruleService.SetInvalidator(evaluator)
	gate := acl.NewGate(evaluator, cfg.ACLLocale, logger, metrics)

	schemas := content.NewRegistry()
	pluginRegistry := plugins.NewRegistry(logger)
	pluginRegistry.Register("content", plugins.ContentImporter{Schemas: schemas})
	pluginRegistry.Register("acl", plugins.ACLImporter{Rules: ruleService})
	loaded, err := pluginRegistry.LoadDir(ctx, cfg.PluginsDir)
	if err != nil {
		logger.Warn("some plugins were rejected", slog.Any("error", err))
	}
	logger.Info("plugins loaded", slog.Any("plugins", loaded), slog.Any("content_types", schemas.Types()))

	tokens := shared.NewTokenStore(redisClient, cfg.TokenTTL)
	authService := auth.NewService(auth.NewRepository(dbpool), tokens)

	notifier := jobs.NewClient(redisOpts.Asynq())
	defer func() {
		if err := notifier.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()

	exchange := channels.NewRedisExchange(redisClient, logger)
	channelRepo := channels.NewRepository(dbpool)
	channelService := channels.NewService(channelRepo, schemas, gate, exchange, notifier, channels.Options{
		PreviewRunes: cfg.NotifyPreviewRunes,
		Logger:       logger,
	})
	defer channelService.Wait()

	dispatcher := rpc.NewDispatcher(gate, cfg.ACLDomain, logger, metrics)
	if err := channels.RegisterEndpoints(dispatcher, channelService); err != nil {
		logger.Error("register rpc endpoints", slog.Any("error", err))
		return err
	}

	feed := channels.NewPGFeed(dbpool, cfg.FanoutChannel, channelRepo, logger)
	engine := channels.NewEngine(feed, exchange, cfg.FanoutWorkers, logger, metrics)
	engineDone := make(chan error, 1)
	go func() { engineDone <- engine.Run(ctx) }()

	inspector := asynq.NewInspector(redisOpts.Asynq())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Tokens:          tokens,
		ACL:             acl.Middleware{Gate: gate, Domain: cfg.ACLDomain, Logger: logger},
		AuthHandler:     auth.NewHandler(logger, authService),
		RPCHandler:      rpc.NewHTTPHandler(dispatcher, logger, cfg.RateLimitPerMinute),
		ChannelsHandler: channels.NewHandler(channelService, logger),
		RolesHandler:    roles.NewHandler(logger, roleService),
		RulesHandler:    rules.NewHandler(logger, ruleService),
		JobHandler:      jobs.NewHandler(inspector, logger),
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var (
		runErr     error
		engineExit bool
	)
	select {
	case <-ctx.Done():
	case runErr = <-serverErr:
		logger.Error("http server", slog.Any("error", runErr))
	case runErr = <-engineDone:
		engineExit = true
		logger.Error("fan-out engine stopped", slog.Any("error", runErr))
	}
	logger.Info("shutting down")
	cancelRun()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	if !engineExit {
		if err := <-engineDone; err != nil {
			logger.Warn("fan-out engine", slog.Any("error", err))
		}
	}
	feed.Close()
	return runErr
}
