// Package platform polls a streaming platform and turns live-set changes into
// stream events.
package platform

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"streamrelay/internal/eventbus"
	"streamrelay/internal/observability/metrics"
	"streamrelay/internal/stream"
	logx "streamrelay/pkg/logx"
)

// Source reports which of the given accounts are live right now.
type Source interface {
	Name() string
	LiveStreams(ctx context.Context, accounts []string) ([]stream.Event, error)
}

// EventFunc handles one event and reports whether any notification was delivered.
type EventFunc func(ctx context.Context, ev stream.Event) bool

// OfflineFunc is told that an account went offline, after its offline event.
type OfflineFunc func(ctx context.Context, ev stream.Event)

const defaultPollTimeout = 30 * time.Second

// Monitor polls Source on a fixed interval. Polls never overlap, so events for
// one account are delivered in order.
type Monitor struct {
	src     Source
	log     logx.Logger
	bus     eventbus.Bus
	metrics *metrics.Metrics

	mu        sync.Mutex
	accounts  []string
	interval  time.Duration
	onEvent   EventFunc
	onOffline OfflineFunc
	c         *cron.Cron
	ctx       context.Context

	pollMu sync.Mutex
	live   map[string]stream.Event
}

func NewMonitor(src Source, log logx.Logger, bus eventbus.Bus, m *metrics.Metrics) *Monitor {
	return &Monitor{src: src, log: log, bus: bus, metrics: m, live: map[string]stream.Event{}}
}

func (m *Monitor) OnAccountEvent(fn EventFunc) {
	m.mu.Lock()
	m.onEvent = fn
	m.mu.Unlock()
}

func (m *Monitor) OnAccountOffline(fn OfflineFunc) {
	m.mu.Lock()
	m.onOffline = fn
	m.mu.Unlock()
}

// Apply sets the watched accounts and poll interval, rescheduling if running.
func (m *Monitor) Apply(accounts []string, interval time.Duration) {
	norm := make([]string, 0, len(accounts))
	for _, a := range accounts {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			norm = append(norm, a)
		}
	}
	sort.Strings(norm)
	norm = slices.Compact(norm)

	m.mu.Lock()
	changedInterval := interval != m.interval
	m.accounts = norm
	m.interval = interval
	m.mu.Unlock()

	if changedInterval {
		m.reschedule(false)
	}
}

func (m *Monitor) Accounts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.accounts...)
}

// Start schedules polling and runs a first poll immediately.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.c != nil {
		m.mu.Unlock()
		return errors.New("monitor already started")
	}
	if m.interval <= 0 {
		m.mu.Unlock()
		return errors.New("monitor: poll interval not set")
	}
	m.ctx = ctx
	m.mu.Unlock()

	if !m.reschedule(true) {
		return errors.New("monitor already started")
	}
	go m.runPoll()
	return nil
}

// reschedule installs a fresh cron with the current interval. With start unset
// it only replaces a running schedule, so a monitor stopped concurrently stays
// stopped.
func (m *Monitor) reschedule(start bool) bool {
	m.mu.Lock()
	if (m.c == nil) != start {
		m.mu.Unlock()
		return false
	}
	old := m.c
	c := cron.New(cron.WithChain(cron.Recover(cronLogger{m.log}), cron.SkipIfStillRunning(cronLogger{m.log})))
	c.Schedule(cron.Every(m.interval), cron.FuncJob(m.runPoll))
	c.Start()
	m.c = c
	interval := m.interval
	m.mu.Unlock()

	if old != nil {
		<-old.Stop().Done()
	}
	m.log.Info("polling scheduled", logx.String("source", m.src.Name()), logx.Duration("interval", interval))
	return true
}

// Stop halts scheduling and waits for an in-flight poll, bounded by ctx.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	c := m.c
	m.c = nil
	m.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	// a first poll may still be running outside cron
	done := make(chan struct{})
	go func() {
		m.pollMu.Lock()
		m.pollMu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runPoll is the scheduled job. A poll still running when the next tick fires
// makes that tick a no-op.
func (m *Monitor) runPoll() {
	if !m.pollMu.TryLock() {
		m.log.Debug("previous poll still running; skipping tick")
		return
	}
	defer m.pollMu.Unlock()

	m.mu.Lock()
	ctx := m.ctx
	m.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	_ = m.poll(ctx)
}

// Poll runs one poll synchronously.
func (m *Monitor) Poll(ctx context.Context) error {
	m.pollMu.Lock()
	defer m.pollMu.Unlock()
	return m.poll(ctx)
}

func (m *Monitor) poll(ctx context.Context) error {
	m.mu.Lock()
	accounts := append([]string(nil), m.accounts...)
	onEvent, onOffline := m.onEvent, m.onOffline
	m.mu.Unlock()

	begin := time.Now()
	pctx, cancel := context.WithTimeout(ctx, defaultPollTimeout)
	events, err := m.src.LiveStreams(pctx, accounts)
	cancel()
	m.metrics.Poll(err, time.Since(begin))
	if err != nil {
		// keep previous state; a failed poll must not look like everyone went offline
		m.log.Warn("poll failed", logx.String("source", m.src.Name()), logx.Err(err))
		if m.bus != nil {
			m.bus.Publish(eventbus.Event{Type: eventbus.TypePollFailed, Data: err.Error()})
		}
		return err
	}

	watched := make(map[string]struct{}, len(accounts))
	for _, a := range accounts {
		watched[a] = struct{}{}
	}
	now := time.Now()
	current := make(map[string]stream.Event, len(events))
	for _, ev := range events {
		if !ev.IsLive {
			continue
		}
		ev.AccountID = strings.ToLower(ev.AccountID)
		if _, ok := watched[ev.AccountID]; !ok {
			continue
		}
		if ev.Timestamp.IsZero() {
			ev.Timestamp = now
		}
		current[ev.AccountID] = ev
	}

	deliver := func(ev stream.Event) bool {
		if onEvent == nil {
			return false
		}
		return onEvent(ctx, ev)
	}

	handled := 0
	for _, acc := range sortedKeys(current) {
		ev := current[acc]
		if prev, ok := m.live[acc]; ok && prev.SubjectID != ev.SubjectID {
			// a new stream replaced the old one between polls: close the old message
			deliver(prev.Offline(now))
		}
		if deliver(ev) {
			handled++
		}
	}
	for _, acc := range sortedKeys(m.live) {
		if _, still := current[acc]; still {
			continue
		}
		off := m.live[acc].Offline(now)
		m.log.Info("account went offline", logx.String("account", acc))
		deliver(off)
		if onOffline != nil {
			onOffline(ctx, off)
		}
	}
	m.live = current

	m.log.Debug("poll complete",
		logx.Int("accounts", len(accounts)),
		logx.Int("live", len(current)),
		logx.Int("handled", handled),
		logx.Duration("took", time.Since(begin)))
	return nil
}

func sortedKeys(m map[string]stream.Event) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
