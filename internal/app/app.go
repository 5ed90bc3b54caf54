// Package app wires the dispatcher together and owns its lifecycle.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"mailbot/internal/config"
	"mailbot/internal/dispatch"
	"mailbot/internal/events"
	"mailbot/internal/identity"
	"mailbot/internal/quota"
	"mailbot/internal/recipients"
	"mailbot/internal/server"
	"mailbot/internal/storage"
	"mailbot/internal/transport"
	"mailbot/pkg/logx"
)

type App struct {
	manager *config.Manager
	logSvc  *logx.Service
	log     logx.Logger

	store      storage.Store // may be nil
	tracker    *quota.Tracker
	pool       *identity.Pool
	recs       *recipients.Store
	evlog      *events.Log
	controller *dispatch.Controller
	srv        *server.Server
	cron       *cron.Cron

	watchCancel context.CancelFunc
	reloadCh    chan *config.Config
}

func New(cfgPath string) (*App, error) {
	manager := config.NewManager(cfgPath)
	cfg, err := manager.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console || !cfg.Logging.File.Enabled,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	manager.SetLogger(log)

	a := &App{manager: manager, logSvc: logSvc, log: log}
	if err := a.build(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	busy, _ := config.ParseDurationOr("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	st, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, a.log)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.store = st
	if st == nil {
		a.log.Warn("storage disabled; state will not survive restarts")
	}

	window, err := config.ParseDurationOr("quota.window", cfg.Quota.Window, quota.DefaultWindow)
	if err != nil {
		return err
	}
	a.tracker = quota.NewTracker(cfg.Quota.DailyLimit, window, st, a.log)
	if err := a.tracker.Load(context.Background()); err != nil {
		return fmt.Errorf("load usage: %w", err)
	}

	a.pool = identity.NewPool(a.tracker, a.log)
	a.seedIdentities(cfg)
	if a.pool.Len() == 0 {
		a.log.Warn("no sender identities configured; job submissions will be rejected")
	}

	a.recs = recipients.NewStore(st, a.log)
	if err := a.recs.Load(context.Background()); err != nil {
		return fmt.Errorf("load recipients: %w", err)
	}

	a.evlog = events.NewLog(cfg.Events.MaxLog, st, a.log)
	if err := a.evlog.Load(context.Background()); err != nil {
		return fmt.Errorf("load events: %w", err)
	}

	dialTimeout, err := config.ParseDurationOr("transport.dial_timeout", cfg.Transport.DialTimeout, 0)
	if err != nil {
		return err
	}
	smtp := transport.NewSMTP(dialTimeout, a.log)

	backoff, err := config.ParseDurationOr("dispatch.backoff", cfg.Dispatch.Backoff, dispatch.DefaultBackoff)
	if err != nil {
		return err
	}
	pausePoll, err := config.ParseDurationOr("dispatch.pause_poll", cfg.Dispatch.PausePoll, dispatch.DefaultPausePoll)
	if err != nil {
		return err
	}
	a.controller = dispatch.NewController(
		dispatch.Config{Backoff: backoff, PausePoll: pausePoll},
		a.pool, a.tracker, a.recs, smtp, a.evlog, a.log,
	)

	a.srv = server.New(server.Config{
		Listen:      cfg.Listen,
		ReplayLimit: cfg.Events.ReplayLimit,
	}, a.recs, a.pool, a.tracker, a.controller, a.evlog, a.log)

	return nil
}

func (a *App) seedIdentities(cfg *config.Config) {
	seed := append([]config.IdentityConfig(nil), cfg.Identities...)
	seed = append(seed, config.IdentitiesFromEnv(seed)...)
	ids := make([]identity.Identity, 0, len(seed))
	for _, ic := range seed {
		ids = append(ids, identity.Identity{
			ID:         ic.Address,
			Credential: ic.Password,
			Host:       ic.Host,
			Port:       ic.Port,
			Enabled:    ic.IsEnabled(),
		})
	}
	a.pool.Replace(ids)
	a.log.Info("identity pool seeded", logx.Int("identities", len(ids)))
}

func (a *App) Start(ctx context.Context) error {
	if err := a.srv.Start(); err != nil {
		return err
	}

	// Periodic maintenance: usage falls out of the quota window, the event
	// log stays bounded, journals get compacted.
	schedule := a.manager.Get().Maintenance.Schedule
	if schedule == "" {
		schedule = "@hourly"
	}
	a.cron = cron.New()
	if _, err := a.cron.AddFunc(schedule, a.maintain); err != nil {
		return fmt.Errorf("maintenance schedule %q: %w", schedule, err)
	}
	a.cron.Start()

	// Config hot reload: identity registry and log level follow the file.
	watchCtx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel
	a.reloadCh = a.manager.Subscribe(1)
	go func() { _ = a.manager.Watch(watchCtx) }()
	go a.applyReloads(watchCtx)

	a.log.Info("mailbot started")
	return nil
}

func (a *App) applyReloads(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-a.reloadCh:
			if !ok || cfg == nil {
				return
			}
			a.logSvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console || !cfg.Logging.File.Enabled,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.seedIdentities(cfg)
		}
	}
}

func (a *App) maintain() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Now()
	if err := a.tracker.PruneStorage(ctx, now); err != nil {
		a.log.Warn("usage prune failed", logx.Err(err))
	}
	if err := a.evlog.Trim(ctx); err != nil {
		a.log.Warn("event trim failed", logx.Err(err))
	}
	if a.store != nil {
		if err := a.store.Compact(ctx); err != nil {
			a.log.Warn("storage compact failed", logx.Err(err))
		}
	}
	a.log.Debug("maintenance pass complete", logx.Duration("took", time.Since(now)))
}

func (a *App) Stop(ctx context.Context) error {
	if a.watchCancel != nil {
		a.watchCancel()
	}
	if a.srv != nil {
		if err := a.srv.Stop(ctx); err != nil {
			a.log.Warn("http shutdown failed", logx.Err(err))
		}
	}
	if a.controller != nil {
		if err := a.controller.Stop(ctx); err != nil {
			a.log.Warn("worker did not stop in time", logx.Err(err))
		}
	}
	if a.cron != nil {
		stopCtx := a.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	}
	a.log.Info("mailbot stopped")
	return a.logSvc.Close()
}
