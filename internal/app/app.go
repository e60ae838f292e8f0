package app

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"stockpulse/internal/api"
	"stockpulse/internal/backend"
	"stockpulse/internal/config"
	"stockpulse/internal/digest"
	"stockpulse/internal/eventbus"
	"stockpulse/internal/metrics"
	"stockpulse/internal/notify"
	"stockpulse/internal/poll"
	"stockpulse/internal/runtime/supervisor"
	"stockpulse/internal/storage"
	"stockpulse/internal/transport"
	"stockpulse/internal/transport/telegram"
	"stockpulse/internal/view"
	logx "stockpulse/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	store   storage.Store
	metrics *metrics.Metrics

	agg     *notify.Aggregator
	binding *view.Binding
	pollers *poll.Manager
	api     *api.Server
	httpCfg api.Config
	digest  *digest.Service
	adapter transport.Adapter // nil when no telegram token is configured

	addrMu sync.Mutex
	addr   string
}

// New loads the config file and builds every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return build(cfgm, cfg)
}

func build(cfgm *config.Manager, cfg *config.Config) (*App, error) {
	logSvc, log := logx.New(mapLogConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))

	m := metrics.New()
	bus := eventbus.New(eventbus.WithDropHook(func(e eventbus.Event, missed int) {
		m.BusDropped(e.Type, missed)
	}))

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		appLog.Info("storage enabled", logx.String("driver", sc.Driver))
	} else {
		appLog.Warn("storage disabled; notification state will not survive a restart")
	}

	conventions, err := mapConventions(cfg)
	if err != nil {
		return nil, err
	}
	persistTimeout, err := mapPersistTimeout(cfg)
	if err != nil {
		return nil, err
	}

	// A nil store still yields a Persister; Load returns the zero state and Save is a no-op.
	persister := notify.NewPersister(store, log.With(logx.String("comp", "persist")))
	loadCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	state, flag := persister.Load(loadCtx)
	cancel()

	agg := notify.New(persister, state, flag, notify.Options{
		Conventions:    conventions,
		Bus:            bus,
		Log:            log,
		Metrics:        m,
		PersistTimeout: persistTimeout,
	})
	binding := view.New(agg, bus)

	bcfg, err := mapBackendConfig(cfg)
	if err != nil {
		return nil, err
	}
	client, err := backend.New(bcfg, log, m)
	if err != nil {
		return nil, err
	}

	scfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	overrides, err := mapPollerOverrides(cfg)
	if err != nil {
		return nil, err
	}
	pollers, err := poll.NewManager(poll.DefaultDefinitions(), poll.NewScheduler(scfg, log), poll.Deps{
		Querier: client,
		Sink:    agg,
		Bus:     bus,
		Metrics: m,
		Log:     log,
	}, overrides)
	if err != nil {
		return nil, err
	}

	httpCfg, err := mapHTTPConfig(cfg)
	if err != nil {
		return nil, err
	}

	var adapter transport.Adapter
	tcfg, tgEnabled, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	if tgEnabled {
		ad, err := telegram.New(tcfg, log)
		if err != nil {
			return nil, err
		}
		adapter = ad
		chatCommands{binding: binding}.register(ad)
	}

	dcfg, err := mapDigestConfig(cfg)
	if err != nil {
		return nil, err
	}
	var sender transport.Sender
	if adapter != nil {
		sender = adapter
	}
	dig := digest.New(dcfg, sender, bus, m, log)

	return &App{
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		metrics: m,
		agg:     agg,
		binding: binding,
		pollers: pollers,
		api:     api.New(httpCfg, binding, m, log),
		httpCfg: httpCfg,
		digest:  dig,
		adapter: adapter,
	}, nil
}

func (a *App) Binding() *view.Binding { return a.binding }

func (a *App) Pollers() *poll.Manager { return a.pollers }

// Addr is the bound HTTP address once Start has returned.
func (a *App) Addr() string {
	a.addrMu.Lock()
	defer a.addrMu.Unlock()
	return a.addr
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional reload: component-level checks run before commit
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	// Bind synchronously so a busy port fails Start instead of the supervisor.
	ln, err := net.Listen("tcp", a.httpCfg.Addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	a.addrMu.Lock()
	a.addr = ln.Addr().String()
	a.addrMu.Unlock()
	a.sup.Go("http", func(c context.Context) error { return a.api.Serve(c, ln) })

	if a.adapter != nil {
		if err := a.adapter.Start(a.sup.Context()); err != nil {
			return a.abortStart(fmt.Errorf("telegram start: %w", err))
		}
	}
	if a.digest.Enabled() {
		a.digest.Start(a.sup.Context())
	}
	if err := a.pollers.Start(a.sup.Context()); err != nil {
		return a.abortStart(fmt.Errorf("pollers start: %w", err))
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		a.logEvents(c, events)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.String("http", a.Addr()), logx.Any("pollers", a.pollers.Names()))
	return nil
}

// abortStart unwinds whatever Start already launched, including the HTTP
// listener. The store stays open; Stop still closes it.
func (a *App) abortStart(err error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a.pollers.Stop(ctx)
	a.sup.Cancel()
	a.digest.Stop(ctx)
	if a.adapter != nil {
		_ = a.adapter.Stop(ctx)
	}
	if werr := a.sup.Wait(ctx); werr != nil {
		a.log.Warn("start rollback incomplete", logx.Err(werr))
	}
	a.log.Error("start failed", logx.Err(err))
	return err
}

func (a *App) logEvents(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			switch d := e.Data.(type) {
			case poll.CycleReport:
				a.log.Debug("poll cycle",
					logx.String("poller", d.Poller),
					logx.Int("queries", d.Queries),
					logx.Int("failed", d.Failed),
					logx.Int("updates", d.Updates),
					logx.Duration("took", d.Took),
				)
			case notify.Change:
				a.log.Debug("state changed",
					logx.String("op", string(d.Op)),
					logx.String("source", d.Source),
					logx.Bool("persisted", d.Persisted),
				)
			default:
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	}
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// coalesce bursts
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig hot-applies logging, pollers and digest limits. Other sections
// need a restart.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, changedPollers := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, s := range sections {
		switch s {
		case "storage", "http", "backend", "notifications", "telegram", "scheduler":
			a.log.Warn("config section changed; restart required", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if len(changedPollers) > 0 {
		overrides, err := mapPollerOverrides(newCfg)
		if err != nil {
			a.log.Warn("invalid poller config; keeping previous", logx.Err(err))
		} else {
			a.pollers.Apply(ctx, overrides, poll.DefaultDefinitions())
			a.log.Info("pollers reconfigured", logx.Any("pollers", changedPollers))
		}
	}

	if dcfg, err := mapDigestConfig(newCfg); err != nil {
		a.log.Warn("invalid digest config; keeping previous", logx.Err(err))
	} else {
		was := a.digest.Enabled()
		a.digest.Apply(dcfg)
		switch {
		case was && !dcfg.Enabled:
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.digest.Stop(stopCtx)
			cancel()
			a.log.Info("digest disabled via config")
		case !was && dcfg.Enabled:
			a.digest.Start(ctx)
			a.log.Info("digest enabled via config")
		}
	}

	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Pollers stop before the supervisor context is canceled so an in-flight
	// cycle is discarded rather than half-applied.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max > 0 {
				var cancel context.CancelFunc
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("pollers", 2*time.Second, func(c context.Context) error { a.pollers.Stop(c); return nil })
	a.sup.Cancel()
	step("digest", 2*time.Second, func(c context.Context) error { a.digest.Stop(c); return nil })
	step("telegram", 2*time.Second, func(c context.Context) error {
		if a.adapter != nil {
			return a.adapter.Stop(c)
		}
		return nil
	})
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
