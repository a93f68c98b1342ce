// Package app wires the gateway together: storage, cache buckets, the
// offline queue, the cache coordinator, the sync trigger, the push bridge
// and the listeners, and runs them until the process is told to stop.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/offlinegate/internal/api"
	"github.com/dmitrijs2005/offlinegate/internal/cache"
	"github.com/dmitrijs2005/offlinegate/internal/config"
	"github.com/dmitrijs2005/offlinegate/internal/cryptox"
	"github.com/dmitrijs2005/offlinegate/internal/filex"
	"github.com/dmitrijs2005/offlinegate/internal/health"
	"github.com/dmitrijs2005/offlinegate/internal/logging"
	"github.com/dmitrijs2005/offlinegate/internal/manifest"
	"github.com/dmitrijs2005/offlinegate/internal/netx"
	"github.com/dmitrijs2005/offlinegate/internal/push"
	"github.com/dmitrijs2005/offlinegate/internal/queue"
	"github.com/dmitrijs2005/offlinegate/internal/store"
	"github.com/dmitrijs2005/offlinegate/internal/syncer"
	"github.com/dmitrijs2005/offlinegate/internal/worker"

	_ "modernc.org/sqlite"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	config  *config.Config
	logger  logging.Logger
	store   *store.Fallback
	caches  *cache.Storage
	queue   *queue.Queue
	coord   *worker.Coordinator
	trigger *syncer.Trigger
	hub     *push.Hub
	bridge  *push.Bridge
	health  *health.Server
	handler http.Handler
}

// NewApp builds every component from c. A nil logger means a slog logger
// on stderr at c.LogLevel.
func NewApp(c *config.Config, logger logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.New(os.Stderr, c.LogLevel)
	}
	ctx := context.Background()

	if _, err := filex.EnsureDir(c.DataDir); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}

	m := manifest.Default()
	if c.ManifestPath != "" {
		loaded, err := manifest.Load(c.ManifestPath)
		if err != nil {
			return nil, fmt.Errorf("manifest: %w", err)
		}
		m = loaded
	}

	st := store.NewFallback(store.NewSQLite(c.StorePath()), logger)
	if err := st.Init(ctx); err != nil {
		return nil, fmt.Errorf("store init: %w", err)
	}

	caches, err := cache.Open(c.CachePath())
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	client := netx.NewClient(c.FetchTimeout)
	upstream := c.Upstream()

	qopts := []queue.Option{
		queue.WithBaseURL(upstream),
		queue.WithReplayTimeout(c.ReplayTimeout),
	}
	if c.QueueSecret != "" {
		sealer, err := newSealer(c)
		if err != nil {
			_ = caches.Close()
			_ = st.Close()
			return nil, err
		}
		qopts = append(qopts, queue.WithSealer(sealer))
	}
	q := queue.New(st, client, logger, qopts...)

	coord := worker.New(worker.Config{
		Upstream:             upstream,
		Version:              c.CacheVersion,
		Prefix:               c.CachePrefix,
		Manifest:             m,
		SkipWaiting:          c.SkipWaiting,
		QueueFailedMutations: c.QueueFailedMutations,
	}, caches, st, q, client, logger)

	trigger := syncer.New(syncer.Config{
		CheckInterval:    c.OnlineCheckInterval,
		PeriodicInterval: c.PeriodicSyncInterval,
		Critical:         m.Critical,
	}, q, coord, syncer.HTTPProber{Client: client, URL: c.HealthURL()}, logger)

	coord.SetSyncer(trigger)
	q.OnEnqueue(func(context.Context, queue.Action) { trigger.Kick() })
	q.OnReplayed(coord.Invalidate)

	hub := push.NewHub(logger)
	bridge := push.NewBridge(c.PushURL, st, logger, hub, push.LogNotifier{Logger: logger.With("module", "notifications")})

	var hs *health.Server
	if c.HealthAddr != "" {
		hs = health.NewServer(c.HealthAddr, logger)
	}

	app := &App{
		config:  c,
		logger:  logger,
		store:   st,
		caches:  caches,
		queue:   q,
		coord:   coord,
		trigger: trigger,
		hub:     hub,
		bridge:  bridge,
		health:  hs,
	}

	trigger.OnStatusChange(app.onStatusChange)

	app.handler = api.NewRouter(api.NewHandler(api.Deps{
		Coordinator: coord,
		Queue:       q,
		Syncer:      trigger,
		Store:       st,
		Stream:      hub,
		Logger:      logger,
	}))

	return app, nil
}

// newSealer derives the header sealing key from the configured secret and
// the installation salt, creating the salt on first use.
func newSealer(c *config.Config) (*cryptox.Sealer, error) {
	salt, err := filex.LoadOrCreate(c.SaltPath(), func() ([]byte, error) {
		return cryptox.RandomBytes(16)
	})
	if err != nil {
		return nil, fmt.Errorf("queue salt: %w", err)
	}
	key := cryptox.DeriveKey([]byte(c.QueueSecret), salt)
	defer cryptox.Wipe(key)
	return cryptox.NewSealer(key)
}

// Handler is the combined proxy and control API handler.
func (app *App) Handler() http.Handler {
	return app.handler
}

func (app *App) onStatusChange(ctx context.Context, m syncer.Mode) {
	app.logger.Info(ctx, "connectivity changed", "mode", string(m))
	if app.health != nil {
		app.health.SetServing(m == syncer.ModeOnline)
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc, lis net.Listener) {
	srv := &http.Server{
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Warn(shutdownCtx, "http shutdown", "error", err)
		}
	}()

	app.logger.Info(ctx, "gateway listening", "addr", lis.Addr().String(), "upstream", app.config.UpstreamURL)
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startHealthServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.health.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run installs the cache, starts every loop and blocks until ctx is done or
// a SIGINT/SIGTERM/SIGQUIT arrives. Storage is closed before it returns.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting gateway...")

	app.initSignalHandler(cancelFunc)

	lis, err := net.Listen("tcp", app.config.ListenAddr)
	if err != nil {
		app.close(ctx)
		return fmt.Errorf("listen %s: %w", app.config.ListenAddr, err)
	}

	if err := app.coord.Start(ctx); err != nil {
		app.logger.Error(ctx, "cache install failed, passing requests through", "error", err)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc, lis)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.trigger.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.bridge.Run(ctx); err != nil {
			app.logger.Error(ctx, "push bridge stopped", "error", err)
		}
	}()

	if app.health != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.startHealthServer(ctx, cancelFunc)
		}()
	}

	wg.Wait()

	app.coord.Retire()
	app.close(context.WithoutCancel(ctx))
	app.logger.Info(ctx, "gateway stopped")
	return nil
}

func (app *App) close(ctx context.Context) {
	if err := app.caches.Close(); err != nil {
		app.logger.Warn(ctx, "close cache", "error", err)
	}
	if err := app.store.Close(); err != nil {
		app.logger.Warn(ctx, "close store", "error", err)
	}
}
