package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bgrefresh/internal/config"
	"bgrefresh/internal/eventbus"
	"bgrefresh/internal/host/simhost"
	"bgrefresh/internal/runtime/supervisor"
	"bgrefresh/internal/storage"
	"bgrefresh/internal/transport/telegram"
	logx "bgrefresh/pkg/logx"
)

// App owns the process: config, logging, the simulated host, the coordinator
// and the ledger.
type App struct {
	cfgm *config.ConfigManager
	cfg  *config.Config
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	tasks  *simhost.Scheduler
	center *simhost.Center
	coord  *Coordinator
	rec    *Recorder

	foreground bool
}

// NewApp loads cfgPath (defaults when empty) and builds every component.
// Nothing runs until Start.
func NewApp(cfgPath string) (*App, error) {
	var (
		cfgm *config.ConfigManager
		cfg  = config.Default()
	)
	if strings.TrimSpace(cfgPath) != "" {
		cfgm = config.NewConfigManager(cfgPath)
		loaded, err := cfgm.Load()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	r, err := cfg.Resolve()
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logs, log := logx.New(mapLogging(cfg))
	bus := eventbus.New()

	store, err := storage.Open(mapStorage(r), log)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", r.StorageDriver))
	}

	a := &App{
		cfgm:       cfgm,
		cfg:        cfg,
		log:        log.With(logx.String("comp", "app")),
		logs:       logs,
		bus:        bus,
		store:      store,
		foreground: r.Foreground,
	}

	hostLog := log.With(logx.String("comp", "host"))
	a.tasks = simhost.NewScheduler(mapHostScheduler(r), hostLog)
	a.center = simhost.NewCenter(mapCenter(r), hostLog, bus)
	if tc, ok := mapTelegram(cfg); ok {
		sink, err := telegram.New(tc, log.With(logx.String("comp", "telegram")))
		if err != nil {
			_ = a.closeStore()
			_ = logs.Close()
			return nil, err
		}
		a.center.AddSink(sink)
		log.Info("telegram delivery enabled", logx.Int64("chat_id", tc.ChatID))
	}
	a.center.SetForeground(r.Foreground)

	a.coord = NewCoordinator(CoordinatorDeps{
		Tasks:    a.tasks,
		Center:   a.center,
		Launcher: a.tasks,
		Log:      log,
		Bus:      bus,
	}, mapSettings(r))
	a.rec = NewRecorder(store, log.With(logx.String("comp", "recorder")))
	return a, nil
}

func (a *App) Coordinator() *Coordinator { return a.coord }
func (a *App) Tasks() *simhost.Scheduler { return a.tasks }
func (a *App) Center() *simhost.Center   { return a.center }
func (a *App) Store() storage.Store      { return a.store }
func (a *App) Bus() eventbus.Bus         { return a.bus }
func (a *App) Logger() logx.Logger       { return a.log }

// Done is closed when the app context ends.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the host, the recorder and config reload, then performs launch.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.tasks.Start(runCtx)
	a.center.Start(runCtx)

	if a.store != nil {
		events, unsub := a.bus.Subscribe(256, LedgerEventTypes...)
		a.sup.Go0("ledger.record", func(c context.Context) {
			defer unsub()
			a.rec.Run(c, events)
		})
	}

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

	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(checkReload)
		sub, unsub := a.cfgm.Subscribe(8)
		a.sup.Go0("config.reload", func(c context.Context) {
			defer unsub()
			a.reloadLoop(c, sub)
		})
		a.sup.Go("config.watch", func(c context.Context) error {
			return a.cfgm.Watch(c)
		})
	}

	if err := a.coord.DidFinishLaunching(runCtx, a.sup); err != nil {
		a.log.Warn("starting without background refresh", logx.Err(err))
	}
	if !a.foreground {
		a.coord.DidEnterBackground()
	}
	a.log.Info("started", logx.Bool("foreground", a.foreground))
	return nil
}

// EnterBackground simulates the app moving to the background.
func (a *App) EnterBackground() {
	a.center.SetForeground(false)
	a.foreground = false
	a.coord.DidEnterBackground()
}

// EnterForeground simulates the app becoming active.
func (a *App) EnterForeground() {
	a.center.SetForeground(true)
	a.foreground = true
	a.coord.WillEnterForeground()
}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfg
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.apply(last, next)
			last = next
		}
	}
}

// checkReload rejects reloads that cannot take effect in a running process.
// The task identifier is registered once at launch.
func checkReload(_ context.Context, prev, next *config.Config) error {
	if prev == nil {
		return nil
	}
	if have, want := prev.EffectiveTaskID(), next.EffectiveTaskID(); have != want {
		return fmt.Errorf("refresh.task_id cannot change while running (have %q, got %q)", have, want)
	}
	return nil
}

func (a *App) apply(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	a.log.Info("config reloaded", append([]logx.Field{logx.Strings("changed", sections)}, attrs...)...)

	r, err := next.Resolve()
	if err != nil {
		a.log.Warn("reloaded config does not resolve; ignoring", logx.Err(err))
		return
	}
	for _, s := range sections {
		switch s {
		case "storage", "telegram":
			a.log.Warn("config section changed; restart required", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLogging(next))
	center := mapCenter(r)
	a.center.Apply(center)
	a.tasks.Apply(mapHostScheduler(r))
	a.coord.Apply(mapSettings(r), a.center.Capabilities())
}

// Stop winds everything down within ctx. Each step is bounded so one
// component cannot stall shutdown.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped; deadline reached", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("host.tasks", 3*time.Second, a.tasks.Stop)
	step("host.center", 2*time.Second, a.center.Stop)
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.closeStore() })

	a.log.Info("stopped", logx.Uint64("bus_dropped", a.bus.Dropped()))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}
