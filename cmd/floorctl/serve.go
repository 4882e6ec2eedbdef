package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/floor-sync/internal/api"
	"github.com/iliyamo/floor-sync/internal/binder"
	"github.com/iliyamo/floor-sync/internal/cache"
	"github.com/iliyamo/floor-sync/internal/config"
	"github.com/iliyamo/floor-sync/internal/database"
	"github.com/iliyamo/floor-sync/internal/events"
	"github.com/iliyamo/floor-sync/internal/handler"
	"github.com/iliyamo/floor-sync/internal/hub"
	"github.com/iliyamo/floor-sync/internal/middleware"
	"github.com/iliyamo/floor-sync/internal/queue"
	"github.com/iliyamo/floor-sync/internal/repository"
	"github.com/iliyamo/floor-sync/internal/router"
	"github.com/iliyamo/floor-sync/internal/service"
)

// mirrors holds the optional sinks that could be opened.
type mirrors struct {
	sinks     service.Sinks
	redis     *redis.Client
	snapshots *cache.SnapshotStore
	journal   *repository.JournalRepo
	closers   []func() error
}

func (m *mirrors) Close() {
	for i := len(m.closers) - 1; 0 <= i; i -= 1 {
		if err := m.closers[i](); err != nil {
			glog.V(1).Infof("[serve]close mirror error = %s\n", err)
		}
	}
}

// openMirrors opens every enabled mirror.  A mirror that cannot be reached
// is logged and left out; the client runs without it.
func openMirrors(ctx context.Context, cfg config.Config) *mirrors {
	m := &mirrors{}

	if cfg.Redis.Enabled {
		rdb, err := config.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			glog.Errorf("[serve]snapshots disabled: %s\n", err)
		} else {
			m.redis = rdb
			m.snapshots = cache.NewSnapshotStore(rdb, cfg.Redis.SnapshotTTL)
			m.sinks.Snapshots = m.snapshots
			m.closers = append(m.closers, rdb.Close)
		}
	}

	if cfg.AMQP.Enabled {
		publisher := queue.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Queue)
		m.sinks.Publisher = publisher
		m.closers = append(m.closers, publisher.Close)
	}

	if cfg.MySQL.Enabled {
		db, err := database.Open(cfg.MySQL.User, cfg.MySQL.Pass, cfg.MySQL.Host, cfg.MySQL.Port, cfg.MySQL.Name)
		if err != nil {
			glog.Errorf("[serve]journal disabled: %s\n", err)
		} else if err := ensureJournal(ctx, db); err != nil {
			glog.Errorf("[serve]journal disabled: %s\n", err)
			db.Close()
		} else {
			m.journal = repository.NewJournalRepo(db)
			m.sinks.Journal = m.journal
			m.closers = append(m.closers, db.Close)
		}
	}
	return m
}

func ensureJournal(ctx context.Context, db *sql.DB) error {
	schemaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return repository.NewJournalRepo(db).EnsureSchema(schemaCtx)
}

func serve(opts docopt.Opts) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	accessToken := func() string { return cfg.AccessToken }

	conn := hub.NewConn(cfg.HubURL(), cfg.Hub.Settings(accessToken))
	defer conn.Close()
	eventRouter := events.NewRouter(conn)

	client := api.NewClient(cfg.APIURL, cfg.LayoutPath, nil)
	client.AccessToken = accessToken

	m := openMirrors(ctx, cfg)
	defer m.Close()
	mirror := service.NewMirror(m.sinks)

	b := binder.New(conn, eventRouter, client, mirror)

	go eventRouter.Run(ctx)
	go mirror.Run(ctx)
	go b.Run(ctx)

	if cfg.SpaceID != 0 {
		if err := b.SetSpace(cfg.SpaceID); err != nil {
			return err
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	router.RegisterRoutes(e, b)
	layoutHandler := &handler.LayoutHandler{
		Binder:   b,
		Counters: eventRouter,
	}
	// assign only opened stores so the interfaces stay nil otherwise
	if m.snapshots != nil {
		layoutHandler.Snapshots = m.snapshots
	}
	if m.journal != nil {
		layoutHandler.Journal = m.journal
	}
	var extra []echo.MiddlewareFunc
	if cfg.RateLimit.Enabled && m.redis != nil {
		extra = append(extra, middleware.NewRateLimiter(cfg.RateLimit, m.redis).Middleware())
	}
	router.RegisterView(e, layoutHandler, cfg.ViewJWTSecret, extra...)

	serverErr := make(chan error, 1)
	go func() {
		glog.Infof("[serve]view api on %s (env=%s, hub=%s)\n", cfg.ViewAddr, cfg.Env, cfg.HubURL())
		if err := e.Start(cfg.ViewAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	select {
	case sig := <-signals:
		glog.Infof("[serve]%s, shutting down\n", sig)
	case err = <-serverErr:
		glog.Errorf("[serve]view api error = %s\n", err)
	}

	cancel()
	select {
	case <-b.Done():
	case <-time.After(b.TeardownTimeout + time.Second):
		glog.Infof("[serve]binder teardown timed out\n")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
		glog.V(1).Infof("[serve]view api shutdown error = %s\n", shutdownErr)
	}
	return err
}
