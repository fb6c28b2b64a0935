// Package app wires the relay together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"streamrelay/internal/channels"
	"streamrelay/internal/chat"
	"streamrelay/internal/chat/discord"
	"streamrelay/internal/chat/telegram"
	"streamrelay/internal/config"
	"streamrelay/internal/eventbus"
	"streamrelay/internal/history"
	"streamrelay/internal/observability/httpserver"
	"streamrelay/internal/observability/metrics"
	"streamrelay/internal/platform"
	"streamrelay/internal/platform/twitch"
	"streamrelay/internal/presence"
	"streamrelay/internal/reconcile"
	rtsup "streamrelay/internal/runtime/supervisor"
	"streamrelay/internal/storage"
	"streamrelay/internal/stream"
	logx "streamrelay/pkg/logx"
	"streamrelay/pkg/systemd"
)

// lifecycle is implemented by chat clients that hold a connection.
type lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log     logx.Logger
	logs    *logx.Service
	metrics *metrics.Metrics
	bus     eventbus.Bus

	client  chat.Client
	history *history.Store
	targets *channels.Set
	tracker *presence.Tracker
	rec     *reconcile.Reconciler
	monitor *platform.Monitor
	http    *httpserver.Service
	sd      *systemd.Notifier

	activity func(int)
}

// parts are the collaborators that talk to the outside world.
type parts struct {
	client  chat.Client
	source  platform.Source
	backend history.Backend
}

func New(cfgPath string) (*App, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))

	client, err := newChatClient(cfg, log.Component(cfg.Chat.Driver))
	if err != nil {
		return nil, err
	}
	tc, err := mapTwitchConfig(cfg)
	if err != nil {
		return nil, err
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	openCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	backend, err := storage.Open(openCtx, sc, log.Component("storage"))
	if err != nil {
		return nil, err
	}

	return assemble(cfgm, cfg, logSvc, log, parts{
		client:  client,
		source:  twitch.New(tc, log.Component("twitch")),
		backend: backend,
	})
}

func newChatClient(cfg *config.Config, log logx.Logger) (chat.Client, error) {
	switch cfg.Chat.Driver {
	case "discord":
		return discord.New(cfg.Chat.Discord.Token, log)
	case "telegram":
		tc, err := mapTelegramConfig(cfg)
		if err != nil {
			return nil, err
		}
		return telegram.New(tc, log)
	default:
		return nil, fmt.Errorf("unknown chat driver %q", cfg.Chat.Driver)
	}
}

func assemble(cfgm *config.ConfigManager, cfg *config.Config, logSvc *logx.Service, root logx.Logger, p parts) (*App, error) {
	rc, err := mapReconcileConfig(cfg)
	if err != nil {
		return nil, err
	}
	hc, err := mapHTTPConfig(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		log:     root.Component("app"),
		logs:    logSvc,
		metrics: metrics.New(),
		bus:     eventbus.New(),
		client:  p.client,
		sd:      systemd.New(cfg.Systemd.Notify, root.Component("systemd")),
	}
	a.history = history.NewStore(p.backend, history.WithLogger(root.Component("history")))
	a.targets = channels.NewSet(p.client, cfg.Relay.NotificationChannels, root.Component("channels"))
	a.targets.PublishTo(a.bus)
	a.tracker = presence.New(root.Component("presence"))
	a.rec = reconcile.New(reconcile.Deps{
		Client:   p.client,
		Targets:  a.targets,
		History:  a.history,
		Presence: a.tracker,
		Bus:      a.bus,
		Metrics:  a.metrics,
		Log:      root.Component("reconcile"),
	}, rc)
	a.monitor = platform.NewMonitor(p.source, root.Component("monitor"), a.bus, a.metrics)
	a.monitor.Apply(cfg.Relay.Accounts, cfg.Relay.CheckInterval.Std())

	if setter, ok := p.client.(chat.ActivitySetter); ok && activityEnabled(cfg) {
		a.activity = presence.ActivityHook(setter, 10*time.Second, root.Component("activity"))
	}

	var logs func() []logx.Record
	if logSvc != nil {
		logs = logSvc.Recent
	}
	a.http = httpserver.New(hc, httpserver.Sources{
		Gatherer: a.metrics.Registry,
		Logs:     logs,
		Tasks: func() []rtsup.Stats {
			if a.sup == nil {
				return nil
			}
			return a.sup.Snapshot()
		},
		Status: func() any { return a.Status() },
	}, root)

	a.monitor.OnAccountEvent(a.handleEvent)
	a.monitor.OnAccountOffline(func(_ context.Context, ev stream.Event) {
		a.tracker.MarkOffline(ev.AccountID)
	})
	a.tracker.OnChange(a.onPresence)
	return a, nil
}

func activityEnabled(cfg *config.Config) bool {
	return cfg.Chat.Discord.Activity == nil || *cfg.Chat.Discord.Activity
}

// handleEvent refreshes targets before reconciling; a failed refresh keeps the
// previous list.
func (a *App) handleEvent(ctx context.Context, ev stream.Event) bool {
	if err := a.targets.Resync(ctx); err != nil {
		a.log.Warn("channel resync before event failed", logx.String("account", ev.AccountID), logx.Err(err))
	}
	return a.rec.Handle(ctx, ev).Handled()
}

func (a *App) onPresence(n int) {
	a.metrics.SetOnline(n)
	a.sd.Status(statusLine(n))
	if a.activity != nil {
		a.activity(n)
	}
}

func statusLine(n int) string {
	if n == 0 {
		return "idle"
	}
	return "watching " + presence.ActivityText(n)
}

// Status is the /status payload.
type Status struct {
	Accounts       []string `json:"accounts"`
	Online         []string `json:"online"`
	Targets        int      `json:"targets"`
	HistoryEntries int      `json:"history_entries"`
	BusDropped     uint64   `json:"bus_dropped"`
}

func (a *App) Status() Status {
	st := Status{
		Accounts:       a.monitor.Accounts(),
		Targets:        len(a.targets.Targets()),
		HistoryEntries: a.history.Len(),
		BusDropped:     a.bus.Dropped(),
	}
	for _, ev := range a.tracker.Online() {
		st.Online = append(st.Online, ev.AccountID)
	}
	return st
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
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	rctx := a.sup.Context()

	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.Component("config"))
		// transactional reload: mapping must succeed before commit/publish
		a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
			return validateRuntime(cfg)
		})
	}

	if err := a.history.Load(rctx); err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	a.metrics.HistoryEntries.Set(float64(a.history.Len()))

	if lc, ok := a.client.(lifecycle); ok {
		if err := lc.Start(rctx); err != nil {
			return err
		}
	}
	a.targets.Watch(rctx)
	if err := a.targets.Resync(rctx); err != nil {
		// Membership events or the next reload will retry.
		a.log.Warn("initial channel sync failed", logx.Err(err))
	}
	a.metrics.SetTargets(len(a.targets.Targets()))

	a.tracker.Init()
	if err := a.monitor.Start(rctx); err != nil {
		return err
	}
	a.http.Start(rctx)

	a.sup.Go0("targets.metrics", func(c context.Context) {
		events, unsub := a.bus.Subscribe(8, eventbus.TypeTargetsSynced)
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case _, ok := <-events:
				if !ok {
					return
				}
				a.metrics.SetTargets(len(a.targets.Targets()))
			}
		}
	})

	a.sup.Go0("eventbus.log", func(c context.Context) {
		events, unsub := a.bus.Subscribe(128)
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
		sub := a.cfgm.Subscribe(8)
		a.sup.Go0("config.reload", func(c context.Context) {
			defer a.cfgm.Unsubscribe(sub)
			a.reloadLoop(c, sub)
		})
		a.sup.Go("config.watch", func(c context.Context) error {
			return a.cfgm.Watch(c)
		})
	}

	a.sup.Go0("systemd.watchdog", a.sd.Watchdog)
	a.sd.Ready()
	a.log.Info("app started",
		logx.Int("accounts", len(a.monitor.Accounts())),
		logx.Int("targets", len(a.targets.Targets())),
		logx.Int("history", a.history.Len()),
	)
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

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
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("monitor", 5*time.Second, a.monitor.Stop)
	step("http", time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	step("presence", time.Second, func(context.Context) error { a.tracker.Shutdown(); return nil })
	step("chat", 3*time.Second, func(c context.Context) error {
		if lc, ok := a.client.(lifecycle); ok {
			return lc.Stop(c)
		}
		return nil
	})
	step("history", 10*time.Second, func(c context.Context) error {
		if err := a.history.Close(c); err != nil && !errors.Is(err, history.ErrClosed) {
			return err
		}
		return nil
	})
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
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
			// Coalesce bursts: keep only the latest config.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	a.sd.Reloading()
	defer a.sd.Ready()

	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config sections changed; restart required for them to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}

	if a.logs != nil {
		a.logs.Apply(mapLogConfig(next))
	}
	if rc, err := mapReconcileConfig(next); err != nil {
		a.log.Warn("invalid relay config; keeping previous", logx.Err(err))
	} else {
		a.rec.Apply(rc)
	}
	if err := a.targets.Apply(ctx, next.Relay.NotificationChannels); err != nil {
		a.log.Warn("channel resync after reload failed", logx.Err(err))
	}
	a.metrics.SetTargets(len(a.targets.Targets()))
	a.monitor.Apply(next.Relay.Accounts, next.Relay.CheckInterval.Std())
	if hc, err := mapHTTPConfig(next); err != nil {
		a.log.Warn("invalid http config; keeping previous", logx.Err(err))
	} else {
		a.http.Reconfigure(ctx, hc)
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigApplied, Time: time.Now(), Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
