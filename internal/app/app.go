// Package app wires the bot together: config, logging, storage, the Telegram
// adapter, command router, reconcile loop and the ops server.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"schedbot/internal/commands"
	"schedbot/internal/config"
	"schedbot/internal/eventbus"
	"schedbot/internal/metrics"
	"schedbot/internal/notifier"
	"schedbot/internal/observability/ops"
	"schedbot/internal/reconcile"
	rtsup "schedbot/internal/runtime/supervisor"
	"schedbot/internal/storage"
	kit "schedbot/internal/transport"
	telegram "schedbot/internal/transport/telegram/adapter"
	"schedbot/internal/transport/telegram/router"
	"schedbot/internal/tz"
	logx "schedbot/pkg/logx"
)

const updatesBuffer = 256

type App struct {
	cfgm *config.Manager
	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store    *storage.SQLite
	resolver *tz.Resolver
	adapter  *telegram.Adapter
	sink     *notifier.Sink
	loop     *reconcile.Loop
	driver   *reconcile.Driver // nil when the scheduler is disabled
	router   *router.Router
	ops      *ops.Server // nil when disabled

	sup     *rtsup.Supervisor
	updates chan kit.Update

	started    time.Time
	staleAfter time.Duration
	lastTick   atomic.Int64 // unix nanos of the last finished tick

	closeOnce sync.Once
}

// New loads the config and builds every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string) (a *App, err error) {
	cfgm := config.NewManager(cfgPath)
	cfgm.SetValidator(validateRuntime)
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, err
	}

	logSvc, log, lerr := logx.New(cfg.Logging.Logx())
	if lerr != nil {
		log.Warn("file logging disabled", logx.Err(lerr))
	}
	cfgm.SetLogger(log)
	a = &App{
		cfgm:       cfgm,
		log:        log.With(logx.String("comp", "app")),
		logs:       logSvc,
		bus:        eventbus.New(),
		updates:    make(chan kit.Update, updatesBuffer),
		started:    time.Now(),
		staleAfter: staleAfter(cfg, time.Now()),
	}
	defer func() {
		if err != nil {
			a.closeResources()
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	if a.store, err = storage.Open(mapStorageConfig(cfg), log); err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if a.resolver, err = tz.NewResolver(cfg.Scheduler.Timezone); err != nil {
		return nil, err
	}
	if a.adapter, err = telegram.New(mapTelegramConfig(cfg), log); err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	a.sink = notifier.New(mapNotifierConfig(cfg), a.adapter, log, a.bus)
	a.loop, err = reconcile.New(reconcile.Options{
		Store:           a.store,
		Sink:            a.sink,
		Resolver:        a.resolver,
		Log:             log,
		Metrics:         m,
		Bus:             a.bus,
		DeliveryTimeout: deliveryTimeout(cfg),
	})
	if err != nil {
		return nil, err
	}
	if cfg.Scheduler.IsEnabled() {
		a.driver, err = reconcile.NewDriver(a.loop, cfg.Scheduler.Tick, log, reconcile.WithOnTick(a.onTick))
		if err != nil {
			return nil, err
		}
	}

	handlers, err := commands.New(commands.Options{
		Store:    a.store,
		Roles:    a.adapter,
		Resolver: a.resolver,
		Log:      log,
	})
	if err != nil {
		return nil, err
	}
	a.router, err = router.New(router.Options{
		Adapter:     a.adapter,
		Admins:      handlers,
		Metrics:     m,
		Log:         log,
		BotUsername: a.adapter.Username(),
	})
	if err != nil {
		return nil, err
	}
	a.router.SetCommands(handlers.Commands())

	if cfg.Ops.Enabled {
		a.ops = ops.New(ops.Options{
			Config:   mapOpsConfig(cfg, time.Now()),
			Gatherer: reg,
			Bus:      a.bus,
			Store:    a.store,
			Log:      log,
		})
	}
	return a, nil
}

func (a *App) onTick(rep reconcile.Report) {
	if rep.Err == nil {
		a.lastTick.Store(rep.At.UnixNano())
	}
}

// schedulerHealthy reports whether a tick succeeded recently enough.
func (a *App) schedulerHealthy() bool {
	if a.driver == nil || a.staleAfter <= 0 {
		return true
	}
	since := a.started
	if n := a.lastTick.Load(); n != 0 {
		since = time.Unix(0, n)
	}
	return time.Since(since) <= a.staleAfter
}

// Done is closed when the app context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}
	mctx, cancel := context.WithTimeout(run, 10*time.Second)
	if err := a.router.UpdateMenu(mctx); err != nil {
		a.log.Warn("command menu not updated", logx.Err(err))
	}
	cancel()

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	if a.driver != nil {
		if err := a.driver.Start(run); err != nil {
			return err
		}
	} else {
		a.log.Warn("scheduler disabled by config; no scheduled messages will be sent")
	}

	if a.ops != nil {
		a.ops.Track("app", func() *rtsup.Supervisor { return a.sup })
		a.ops.Track("telegram", a.adapter.Supervisor)
		a.ops.Track("router", a.router.Supervisor)
		if err := a.ops.Start(run); err != nil {
			return fmt.Errorf("ops server: %w", err)
		}
	}

	a.startEventLog()
	a.startConfigReload()
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		runWatchdog(c, a.log, a.schedulerHealthy)
	})

	sdNotify(a.log, "READY=1")
	a.log.Info("app started",
		logx.String("bot", a.adapter.Username()),
		logx.Int("commands", len(a.router.Commands())),
		logx.Bool("scheduler", a.driver != nil),
		logx.Bool("ops", a.ops != nil),
	)
	return nil
}

// startEventLog mirrors bus events at debug level.
func (a *App) startEventLog() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})
}

func (a *App) startConfigReload() {
	targets := liveTargets{logs: a.logs, tz: a.resolver, loop: a.loop, sink: a.sink, bus: a.bus}
	sub := a.cfgm.Subscribe(4)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		applied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				applyReload(a.log, targets, applied, next)
				applied = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
}

// Stop shuts components down in dependency order, bounding each step so one
// stuck component cannot hold the process.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeResources()
		return nil
	}
	sdNotify(a.log, "STOPPING=1")
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	var errs []error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		started := time.Now()
		sctx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		if err := fn(sctx); err != nil {
			a.log.Warn("stop step error", logx.String("step", name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		a.log.Debug("stop step done", logx.String("step", name), logx.Duration("took", time.Since(started)))
	}

	// The running tick finishes its in-flight delivery before the adapter goes.
	step("reconcile", 5*time.Second, func(c context.Context) error {
		if a.driver == nil {
			return nil
		}
		return a.driver.Stop(c)
	})
	step("supervisor", 5*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	})
	step("telegram", 3*time.Second, a.adapter.Stop)
	step("ops", 2*time.Second, func(c context.Context) error {
		if a.ops == nil {
			return nil
		}
		return a.ops.Stop(c)
	})

	a.log.Info("stopped")
	a.closeResources()
	return errors.Join(errs...)
}

func (a *App) closeResources() {
	a.closeOnce.Do(func() {
		if a.store != nil {
			if err := a.store.Close(); err != nil {
				a.log.Warn("storage close failed", logx.Err(err))
			}
		}
		if a.logs != nil {
			_ = a.logs.Close()
		}
	})
}
