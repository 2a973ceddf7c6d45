package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/convodesk/convodesk/internal/agent"
	"github.com/convodesk/convodesk/internal/channel"
	"github.com/convodesk/convodesk/internal/config"
	"github.com/convodesk/convodesk/internal/contact"
	"github.com/convodesk/convodesk/internal/conversation"
	"github.com/convodesk/convodesk/internal/db"
	"github.com/convodesk/convodesk/internal/handlers"
	"github.com/convodesk/convodesk/internal/inbound"
	"github.com/convodesk/convodesk/internal/line"
	"github.com/convodesk/convodesk/internal/logger"
	"github.com/convodesk/convodesk/internal/message"
	"github.com/convodesk/convodesk/internal/outbound"
	"github.com/convodesk/convodesk/internal/server"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			provideLineFactory,
			provideChannelService,
			agent.NewService,
			contact.NewService,
			conversation.NewService,
			message.NewService,
			provideDispatcher,
			provideAutoReplyEngine,
			provideProcessor,
			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(provideAuthHandler),
			provideServerHandler(handlers.NewWebhookHandler),
			provideServerHandler(handlers.NewConversationHandler),
			provideServerHandler(handlers.NewMessageHandler),
			provideServerHandler(handlers.NewChannelHandler),
			provideServer,
		),
		fx.Invoke(
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
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideLineFactory(log *slog.Logger, cfg config.Config) *line.Factory {
	return line.NewFactory(log, cfg.Line.APIBase)
}

func provideChannelService(log *slog.Logger, pool *pgxpool.Pool, factory *line.Factory) *channel.Service {
	return channel.NewService(log, pool, factory)
}

func provideDispatcher(log *slog.Logger, factory *line.Factory, messages *message.Service) *outbound.Dispatcher {
	return outbound.NewDispatcher(log, outbound.NewLineTransportResolver(factory), messages)
}

func provideAutoReplyEngine(log *slog.Logger, dispatcher *outbound.Dispatcher) *inbound.AutoReplyEngine {
	return inbound.NewAutoReplyEngine(log, dispatcher)
}

func provideProcessor(log *slog.Logger, contacts *contact.Service, conversations *conversation.Service, messages *message.Service, autoReply *inbound.AutoReplyEngine, factory *line.Factory) *inbound.Processor {
	return inbound.NewProcessor(log, contacts, conversations, messages, autoReply, inbound.NewLineProfileFetcher(factory))
}

func provideAuthHandler(log *slog.Logger, agents *agent.Service, cfg config.Config) *handlers.AuthHandler {
	return handlers.NewAuthHandler(log, agents, cfg.Auth)
}

type serverParams struct {
	fx.In
	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.Config.Auth.JWTSecret, params.ServerHandlers)
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, cfg config.Config, agents *agent.Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := db.Migrate(cfg.Postgres); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			if err := agents.EnsureAdmin(ctx, cfg.Admin); err != nil {
				return fmt.Errorf("ensure admin: %w", err)
			}
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
