package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"camguard/internal/activation"
	"camguard/internal/api"
	"camguard/internal/config"
	"camguard/internal/eventbus"
	"camguard/internal/notifier"
	"camguard/internal/observability/metrics"
	"camguard/internal/pipeline"
	rtsup "camguard/internal/runtime/supervisor"
	"camguard/internal/schedule"
	"camguard/internal/storage"
	"camguard/internal/task/engine"
	"camguard/internal/task/scheduler"
	"camguard/pkg/logx"
)

// App wires the services together and owns their lifecycle.
type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	engine   *engine.Service
	sched    *scheduler.Service
	notif    *notifier.Service
	pipe     *pipeline.Service
	consumer *pipeline.Consumer
	cams     *schedule.Engine
	http     *api.Service

	started time.Time
}

// New loads the config at cfgPath and builds every service without
// starting any goroutines.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLoggingConfig(cfg))
	metrics.Init()
	logSvc.SetLevelHook(metrics.IncLogEvent)

	a, err := build(cfg, logSvc, root)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	a.cfgm = cfgm
	return a, nil
}

func build(cfg *config.Config, logSvc *logx.Service, root logx.Logger) (*App, error) {
	comp := func(name string) logx.Logger { return root.With(logx.String("comp", name)) }

	stCfg, _ := mapStorageConfig(cfg)
	store, err := storage.Open(stCfg, root)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	closeOnErr := func(err error) (*App, error) {
		_ = store.Close()
		return nil, err
	}

	bus := eventbus.New()

	engCfg, _ := mapTaskEngineConfig(cfg)
	engineSvc := engine.New(engCfg, comp("taskengine"), bus)

	trigCfg, camCfg, _ := mapSchedulerConfig(cfg)
	schedSvc := scheduler.New(trigCfg, engineSvc, comp("scheduler"))

	actCfg, _ := mapActivationConfig(cfg)
	client, err := activation.New(actCfg, comp("activation"))
	if err != nil {
		return closeOnErr(err)
	}

	channels, err := buildChannels(cfg)
	if err != nil {
		return closeOnErr(err)
	}
	ncfg, _ := mapNotifierConfig(cfg)
	notifSvc := notifier.New(ncfg, channels, comp("notifier"), bus, store)

	pcfg, _ := mapPipelineConfig(cfg)
	pipe := pipeline.New(pcfg, store, notifSvc, bus, comp("pipeline"))

	cams := schedule.New(camCfg, schedSvc, client, store, root)

	a := &App{
		logs:   logSvc,
		log:    comp("app"),
		bus:    bus,
		store:  store,
		engine: engineSvc,
		sched:  schedSvc,
		notif:  notifSvc,
		pipe:   pipe,
		cams:   cams,
	}

	httpCfg, _ := mapHTTPConfig(cfg)
	a.http = api.New(httpCfg, api.Deps{
		Store:    store,
		Schedule: cams,
		Pipeline: pipe,
		Bus:      bus,
		Health:   a.health,
	}, comp("http"))
	return a, nil
}

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start brings services up in dependency order: storage, bus, task engine,
// trigger scheduler, notifier, pipeline consumer, camera schedules, HTTP,
// then config watch.
func (a *App) Start(ctx context.Context) error {
	a.started = time.Now()
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	a.watchTaskEvents()

	a.engine.Start(run)
	a.sched.Start(run)
	if a.notif.Enabled() {
		a.notif.Start(run)
	}
	if len(a.notif.Channels()) == 0 {
		a.log.Warn("no notification channels configured; alerts are stored but not sent")
	}

	a.consumer = pipeline.NewConsumer(a.pipe, a.bus, a.log.With(logx.String("comp", "pipeline")))
	a.sup.GoRestart("pipeline.consumer", a.consumer.Run)

	_, camCfg, _ := mapSchedulerConfig(a.cfgm.Get())
	if err := a.cams.Apply(camCfg); err != nil {
		return fmt.Errorf("daily re-arm: %w", err)
	}
	if _, err := a.cams.InitSchedules(run); err != nil {
		return fmt.Errorf("init schedules: %w", err)
	}

	httpCfg, _ := mapHTTPConfig(a.cfgm.Get())
	a.http.Reconfigure(run, httpCfg)

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.startSystemd()
	a.log.Info("app started")
	return nil
}

// watchTaskEvents feeds engine lifecycle events into metrics.
func (a *App) watchTaskEvents() {
	events, unsub := a.bus.Subscribe(128, "task.started", "task.finished", "task.failed", "task.skipped", "task.dropped")
	a.sup.Go0("taskevents.metrics", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				var d time.Duration
				if te, ok := e.Data.(engine.TaskEvent); ok {
					d = te.Duration
				}
				metrics.ObserveTask(strings.TrimPrefix(e.Topic, "task."), d)
			}
		}
	})
}

func (a *App) health() map[string]any {
	es := a.engine.Snapshot()
	ss := a.sched.Snapshot()
	return map[string]any{
		"uptime_seconds":   int64(time.Since(a.started).Seconds()),
		"pending_tasks":    len(a.cams.PendingAll()),
		"task_queue_len":   es.QueueLen,
		"task_in_flight":   es.InFlight,
		"notify_channels":  a.notif.Channels(),
		"bus_dropped":      a.bus.Dropped(),
		"notifier_enabled": a.notif.Enabled(),
		"scheduler": map[string]any{
			"running":  ss.Running,
			"timezone": ss.Timezone,
			"once":     len(ss.Once),
			"cron":     ss.Cron,
		},
		"goroutines": map[string]any{
			"app":      supervisorStats(a.sup),
			"notifier": supervisorStats(a.notif.Supervisor()),
			"http":     supervisorStats(a.http.Supervisor()),
		},
	}
}

func supervisorStats(sup *rtsup.Supervisor) map[string]any {
	if sup == nil {
		return nil
	}
	return map[string]any{
		"active":  sup.Active(),
		"started": sup.Started(),
		"panics":  sup.Panics(),
	}
}

func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts; only the newest config matters.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(c, last, next)
			last = next
		}
	}
}

// applyConfig pushes a validated config into the running services.
func (a *App) applyConfig(c context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		if config.RestartOnly[s] {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLoggingConfig(next))

	if engCfg, err := mapTaskEngineConfig(next); err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(c, engCfg)
	}

	if trigCfg, camCfg, err := mapSchedulerConfig(next); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(trigCfg)
		if err := a.cams.Apply(camCfg); err != nil {
			a.log.Warn("schedule config apply failed", logx.Err(err))
		}
	}

	if pcfg, err := mapPipelineConfig(next); err != nil {
		a.log.Warn("invalid pipeline config; keeping previous", logx.Err(err))
	} else {
		a.pipe.Apply(pcfg)
	}

	if ncfg, err := mapNotifierConfig(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.notif.Enabled()
		a.notif.Apply(ncfg)
		switch {
		case wasEnabled && !ncfg.Enabled:
			stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
			a.log.Info("notifier disabled via config")
		case !wasEnabled && ncfg.Enabled:
			a.notif.Start(c)
			a.log.Info("notifier enabled via config")
		}
	}

	if hcfg, err := mapHTTPConfig(next); err != nil {
		a.log.Warn("invalid http config; keeping previous", logx.Err(err))
	} else {
		a.http.Reconfigure(c, hcfg)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts services down in reverse start order. Each step is bounded so
// one stuck component cannot stall the whole stop.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifyStopping()
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		if err := runStep(ctx, max, fn); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	step("http", 3*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	step("pipeline", time.Second, func(context.Context) error {
		if a.consumer != nil {
			a.consumer.Close()
		}
		return nil
	})
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}

// runStep runs fn with a deadline that never extends the caller's.
func runStep(ctx context.Context, max time.Duration, fn func(context.Context) error) error {
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-stepCtx.Done():
		return fmt.Errorf("deadline reached: %w", stepCtx.Err())
	}
}
