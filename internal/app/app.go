package app

import (
	"context"
	"errors"
	"fmt"
	"net"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/yungbote/lessongen-backend/internal/data/db"
	apphttp "github.com/yungbote/lessongen-backend/internal/http"
	"github.com/yungbote/lessongen-backend/internal/observability"
	"github.com/yungbote/lessongen-backend/internal/platform/logger"
	"github.com/yungbote/lessongen-backend/internal/realtime"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      Config
	Repos    Repos
	Clients  Clients
	Services Services
	Hub      *realtime.Hub
	Server   *apphttp.Server
	Metrics  *observability.Metrics

	store        *db.PostgresService
	otelShutdown func(context.Context) error
}

func New(ctx context.Context) (*App, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	cfg := LoadConfig()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})
	metrics := observability.Init(log)

	store, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init store: %w", err)
	}
	if err := db.AutoMigrateAll(store.DB()); err != nil {
		_ = store.Close()
		log.Sync()
		return nil, err
	}
	theDB := store.DB()

	hub := realtime.NewHub(log)
	reposet := wireRepos(theDB, log)

	clients, err := wireClients(ctx, log, cfg, store.DSN(), metrics)
	if err != nil {
		clients.Close()
		_ = store.Close()
		log.Sync()
		return nil, err
	}

	serviceset, err := wireServices(theDB, log, reposet, clients, hub, metrics)
	if err != nil {
		clients.Close()
		_ = store.Close()
		log.Sync()
		return nil, err
	}

	return &App{
		Log:          log,
		DB:           theDB,
		Cfg:          cfg,
		Repos:        reposet,
		Clients:      clients,
		Services:     serviceset,
		Hub:          hub,
		Server:       wireServer(theDB, log, cfg, serviceset, metrics),
		Metrics:      metrics,
		store:        store,
		otelShutdown: otelShutdown,
	}, nil
}

// Run serves HTTP and drives scheduled runs until ctx ends or one of them
// fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return errors.New("app not initialized")
	}
	g, gctx := errgroup.WithContext(ctx)

	if a.Clients.Bus != nil {
		err := a.Clients.Bus.StartForwarder(gctx, func(m realtime.Message) {
			a.Metrics.IncRunEvent(m.Event)
			a.Hub.Broadcast(m)
		})
		if err != nil {
			return fmt.Errorf("start progress forwarder: %w", err)
		}
	}

	switch {
	case a.Services.Worker != nil:
		g.Go(func() error { return a.Services.Worker.Run(gctx) })
	case a.Services.Local != nil:
		if err := a.Services.Local.Start(gctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			a.Services.Local.Wait()
			return nil
		})
	}

	addr := net.JoinHostPort("", a.Cfg.Port)
	g.Go(func() error {
		a.Log.Info("HTTP server listening", "address", addr)
		return a.Server.Run(gctx, addr)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

func (a *App) Close() {
	if a == nil {
		return
	}
	a.Clients.Close()
	if a.otelShutdown != nil {
		_ = a.otelShutdown(context.Background())
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
