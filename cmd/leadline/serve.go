package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/leadlinehq/leadline/internal/channel"
	"github.com/leadlinehq/leadline/internal/channel/adapters/meta"
	"github.com/leadlinehq/leadline/internal/channel/adapters/telegram"
	"github.com/leadlinehq/leadline/internal/config"
	"github.com/leadlinehq/leadline/internal/conversation"
	"github.com/leadlinehq/leadline/internal/db"
	"github.com/leadlinehq/leadline/internal/handlers"
	"github.com/leadlinehq/leadline/internal/healthcheck"
	dbchecker "github.com/leadlinehq/leadline/internal/healthcheck/checkers/database"
	"github.com/leadlinehq/leadline/internal/healthcheck/checkers/llmchecker"
	"github.com/leadlinehq/leadline/internal/lead"
	"github.com/leadlinehq/leadline/internal/llm"
	"github.com/leadlinehq/leadline/internal/logger"
	"github.com/leadlinehq/leadline/internal/notify"
	"github.com/leadlinehq/leadline/internal/pipeline"
	"github.com/leadlinehq/leadline/internal/resolver"
	"github.com/leadlinehq/leadline/internal/server"
	"github.com/leadlinehq/leadline/internal/tenant"
	"github.com/leadlinehq/leadline/internal/version"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBPool,
			tenant.NewStore,
			conversation.NewStore,
			provideLLMProvider,
			provideLLMService,
			provideResolver,
			provideExtractor,
			provideNotifier,
			provideChannelRegistry,
			providePipeline,
			provideHealthHandler,
			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(provideTelegramWebhookHandler),
			provideServerHandler(provideMetaWebhookHandler),
			provideServer,
		),
		fx.Invoke(
			startPipeline,
			startHousekeeping,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	pool, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { pool.Close(); return nil }})
	return pool, nil
}

func provideLLMProvider(cfg config.Config) llm.Provider {
	return llm.NewOpenAICompatProvider(cfg.LLM)
}

func provideLLMService(log *slog.Logger, provider llm.Provider, cfg config.Config) *llm.Service {
	return llm.NewService(log, provider, cfg.LLM)
}

func provideResolver(log *slog.Logger, svc *llm.Service, cfg config.Config) *resolver.Engine {
	return resolver.NewEngine(log, svc, cfg.Pipeline.FallbackReply)
}

func provideExtractor(log *slog.Logger, store *conversation.Store, svc *llm.Service, cfg config.Config) *lead.Extractor {
	return lead.NewExtractor(log, store, svc, cfg.Lead.UseLLM)
}

func provideNotifier(log *slog.Logger, cfg config.Config) *notify.Notifier {
	return notify.NewNotifier(log, cfg.Webhook.Timeout())
}

func provideChannelRegistry(log *slog.Logger, cfg config.Config) *channel.Registry {
	registry := channel.NewRegistry()
	registry.MustRegister(telegram.NewAdapter(log))

	graphClient := meta.NewClient(log, cfg.Channels.GraphBaseURL)
	registry.MustRegister(meta.NewWhatsAppAdapter(log, graphClient))
	registry.MustRegister(meta.NewMessengerAdapter(log, graphClient))
	registry.MustRegister(meta.NewInstagramAdapter(log, graphClient))
	return registry
}

func providePipeline(
	log *slog.Logger,
	tenants *tenant.Store,
	conversations *conversation.Store,
	engine *resolver.Engine,
	registry *channel.Registry,
	extractor *lead.Extractor,
	notifier *notify.Notifier,
	cfg config.Config,
) *pipeline.Pipeline {
	return pipeline.New(log, tenants, conversations, engine, registry, extractor, notifier, pipeline.Options{
		ContextWindow: cfg.Pipeline.ContextWindow,
		Workers:       cfg.Pipeline.Workers,
		QueueSize:     cfg.Pipeline.QueueSize,
	})
}

func provideTelegramWebhookHandler(log *slog.Logger, tenants *tenant.Store, p *pipeline.Pipeline) *handlers.TelegramWebhookHandler {
	return handlers.NewTelegramWebhookHandler(log, tenants, p)
}

func provideMetaWebhookHandler(log *slog.Logger, tenants *tenant.Store, p *pipeline.Pipeline) *handlers.MetaWebhookHandler {
	return handlers.NewMetaWebhookHandler(log, tenants, p)
}

func provideHealthHandler(log *slog.Logger, pool *pgxpool.Pool, cfg config.Config) *handlers.HealthHandler {
	checkers := []healthcheck.Checker{
		dbchecker.NewChecker(log, pool),
		llmchecker.NewChecker(log, cfg.LLM),
	}
	return handlers.NewHealthHandler(log, checkers...)
}

type serverParams struct {
	fx.In
	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
	HealthHandler  *handlers.HealthHandler
}

func provideServer(params serverParams) *server.Server {
	all := make([]server.Handler, 0, len(params.ServerHandlers)+1)
	all = append(all, params.ServerHandlers...)
	all = append(all, params.HealthHandler)
	return server.NewServer(params.Logger, params.Config.Server.Addr, all)
}

func startPipeline(lc fx.Lifecycle, p *pipeline.Pipeline) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { p.Start(ctx); return nil },
		OnStop:  func(ctx context.Context) error { return p.Shutdown(ctx) },
	})
}

// startHousekeeping schedules idle conversation-lock pruning.
func startHousekeeping(lc fx.Lifecycle, log *slog.Logger, conversations *conversation.Store, cfg config.Config) {
	c := cron.New()
	spec := cfg.Pipeline.LockPruneSpec
	if spec == "" {
		spec = config.DefaultLockPruneSpec
	}
	if _, err := c.AddFunc(spec, func() {
		conversations.PruneLocks(30 * time.Minute)
	}); err != nil {
		log.Error("invalid lock prune spec", slog.String("spec", spec), slog.Any("error", err))
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { c.Start(); return nil },
		OnStop: func(ctx context.Context) error {
			stopCtx := c.Stop()
			select {
			case <-stopCtx.Done():
			case <-ctx.Done():
			}
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	fmt.Printf("Starting Leadline %s\n", version.Version)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
