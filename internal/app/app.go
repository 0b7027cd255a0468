// Package app wires configuration, storage, the chat adapter, the
// notification engine, and the HTTP surface into one process lifecycle.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"herald/internal/chat/telegram"
	"herald/internal/config"
	"herald/internal/eventbus"
	"herald/internal/items"
	"herald/internal/notify"
	"herald/internal/scheduler"
	"herald/internal/server"
	"herald/internal/storage"
	logx "herald/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store    *storage.Store
	chat     *telegram.Client
	itemsvc  items.Service
	sched    *scheduler.Service
	registry *notify.Registry
	engine   *notify.Engine
	http     *server.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	tg, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, fmt.Errorf("telegram client: %w", err)
	}

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	itemsTimeout, err := config.ParseDurationOrDefault("items.timeout", cfg.Items.Timeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	itemsvc, err := items.NewClient(items.ClientConfig{
		BaseURL:   cfg.Items.BaseURL,
		Token:     cfg.Items.Token,
		Workspace: cfg.Items.Workspace,
		Project:   cfg.Items.Project,
		Timeout:   itemsTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("items client: %w", err)
	}

	bus := eventbus.New()

	sched := scheduler.New(scheduler.Config{
		Workers:   cfg.Engine.Workers,
		QueueSize: cfg.Engine.QueueSize,
		Timezone:  cfg.Reminders.Timezone,
	}, log.With(logx.String("comp", "scheduler")))

	sendTimeout, err := config.ParseDurationOrDefault("notifications.send_timeout", cfg.Notifications.SendTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	sink := notify.NewSink(notify.SinkConfig{
		RatePerSec:  cfg.Notifications.RatePerSec,
		SendTimeout: sendTimeout,
	}, tg, log.With(logx.String("comp", "sink")), bus)

	registry := notify.NewRegistry(tg, store, cfg.Telegram.WorkspaceChat,
		cfg.Notifications.Category, log.With(logx.String("comp", "registry")))
	router := notify.NewRouter(registry, sink, log.With(logx.String("comp", "router")))
	resolver := notify.NewResolver(store, store, sink, log.With(logx.String("comp", "resolver")))
	classifier := notify.NewClassifier(itemsvc, log.With(logx.String("comp", "classifier")))
	sweeper := notify.NewSweeper(itemsvc, router, resolver, sched.Location(),
		log.With(logx.String("comp", "sweeper")))

	sweepTimeout, err := config.ParseDurationOrDefault("reminders.sweep_timeout", cfg.Reminders.SweepTimeout, 2*time.Minute)
	if err != nil {
		return nil, err
	}
	dueSoonEvery, err := config.ParseDurationOrDefault("reminders.due_soon_every", cfg.Reminders.DueSoonEvery, time.Hour)
	if err != nil {
		return nil, err
	}
	engine := notify.NewEngine(notify.EngineConfig{
		SweepTimeout:     sweepTimeout,
		RemindersEnabled: cfg.Reminders.Enabled,
		DeadlineAt:       cfg.Reminders.DeadlineAt,
		DueSoonEvery:     dueSoonEvery,
		PublicURL:        cfg.Server.PublicURL,
	}, notify.EngineDeps{
		Classifier: classifier,
		Router:     router,
		Resolver:   resolver,
		Registry:   registry,
		Sink:       sink,
		Sweeper:    sweeper,
		Scheduler:  sched,
		Items:      itemsvc,
	}, log.With(logx.String("comp", "engine")))
	if err := engine.RegisterJobs(); err != nil {
		return nil, err
	}

	httpSrv, err := server.New(server.Config{
		Addr:       cfg.Server.Addr,
		AdminToken: cfg.Server.AdminToken,
	}, engine, log.With(logx.String("comp", "http")))
	if err != nil {
		return nil, err
	}

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		chat:     tg,
		itemsvc:  itemsvc,
		sched:    sched,
		registry: registry,
		engine:   engine,
		http:     httpSrv,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validate)

	// Prime channel bindings from storage. A cold start with no bindings is
	// fine; provisioning fills them in.
	if err := a.registry.Load(ctx); err != nil {
		a.log.Warn("binding preload failed", logx.Err(err))
	}

	a.sched.Start(runCtx)
	if err := a.http.Start(runCtx); err != nil {
		return err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil && runCtx.Err() == nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	// Hot reload currently affects logging only; everything else requires a
	// restart and the validator rejects configs that would break it.
	sub := a.cfgm.Subscribe(4)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-runCtx.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.logs.Apply(logx.Config{
					Level:   cfg.Logging.Level,
					Console: cfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: cfg.Logging.File.Enabled,
						Path:    cfg.Logging.File.Path,
					},
				})
				a.log.Info("logging config applied")
			}
		}
	}()

	events, unsub := a.bus.Subscribe(128)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer unsub()
		var lastDropped uint64
		for {
			select {
			case <-runCtx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				if d := a.bus.Dropped(); d != lastDropped {
					a.log.Warn("event subscribers lagging",
						logx.Int64("dropped_total", int64(d)))
					lastDropped = d
				}
			}
		}
	}()

	a.log.Info("started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	if err := a.http.Stop(ctx); err != nil {
		a.log.Warn("http shutdown", logx.Err(err))
	}
	a.sched.Stop(ctx)
	a.wg.Wait()
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close", logx.Err(err))
	}
	a.log.Info("stopped")
	return a.logs.Close()
}

// validate rejects configs that would break a running process on hot reload.
func validate(_ context.Context, cfg *config.Config) error {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if cfg.Telegram.WorkspaceChat == 0 {
		return fmt.Errorf("telegram.workspace_chat is required")
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if cfg.Engine.Workers < 0 {
		return fmt.Errorf("engine.workers must be >= 0")
	}
	if cfg.Engine.QueueSize < 0 {
		return fmt.Errorf("engine.queue_size must be >= 0")
	}
	for _, d := range []struct{ path, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"items.timeout", cfg.Items.Timeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"notifications.send_timeout", cfg.Notifications.SendTimeout},
		{"reminders.due_soon_every", cfg.Reminders.DueSoonEvery},
		{"reminders.sweep_timeout", cfg.Reminders.SweepTimeout},
	} {
		if _, err := config.ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}
	if tz := strings.TrimSpace(cfg.Reminders.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("reminders.timezone: invalid %q: %w", tz, err)
		}
	}
	if at := strings.TrimSpace(cfg.Reminders.DeadlineAt); at != "" {
		if _, _, err := scheduler.ParseHHMM(at); err != nil {
			return fmt.Errorf("reminders.deadline_at: %w", err)
		}
	}
	return nil
}
