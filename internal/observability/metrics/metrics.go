// Package metrics registers the relay's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	Outcomes       *prometheus.CounterVec
	EventsHandled  *prometheus.CounterVec
	HandleDuration prometheus.Histogram
	ChatCalls      *prometheus.CounterVec
	Polls          *prometheus.CounterVec
	PollDuration   prometheus.Histogram
	OnlineAccounts prometheus.Gauge
	Targets        prometheus.Gauge
	HistoryEntries prometheus.Gauge
	HistoryFlushes *prometheus.CounterVec
}

// New registers everything on a fresh registry, including Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "streamrelay_reconcile_outcomes_total",
			Help: "Per-channel reconciliation outcomes",
		}, []string{"outcome"}),
		EventsHandled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "streamrelay_events_total",
			Help: "Stream events processed, by live state and whether any channel was created or edited",
		}, []string{"live", "handled"}),
		HandleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamrelay_event_duration_seconds",
			Help:    "Time to reconcile one event across all channels",
			Buckets: prometheus.DefBuckets,
		}),
		ChatCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "streamrelay_chat_calls_total",
			Help: "Chat client calls by operation and result",
		}, []string{"op", "result"}),
		Polls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "streamrelay_polls_total",
			Help: "Platform polls by result",
		}, []string{"result"}),
		PollDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamrelay_poll_duration_seconds",
			Help:    "Platform poll duration",
			Buckets: prometheus.DefBuckets,
		}),
		OnlineAccounts: f.NewGauge(prometheus.GaugeOpts{
			Name: "streamrelay_online_accounts",
			Help: "Watched accounts currently live",
		}),
		Targets: f.NewGauge(prometheus.GaugeOpts{
			Name: "streamrelay_target_channels",
			Help: "Resolved notification channels",
		}),
		HistoryEntries: f.NewGauge(prometheus.GaugeOpts{
			Name: "streamrelay_history_entries",
			Help: "Tracked notification messages",
		}),
		HistoryFlushes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "streamrelay_history_flushes_total",
			Help: "History flushes by result",
		}, []string{"result"}),
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) Outcome(outcome string) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Event(live, handled bool, took time.Duration) {
	if m == nil {
		return
	}
	m.EventsHandled.WithLabelValues(boolLabel(live), boolLabel(handled)).Inc()
	m.HandleDuration.Observe(took.Seconds())
}

func (m *Metrics) ChatCall(op string, err error) {
	if m == nil {
		return
	}
	m.ChatCalls.WithLabelValues(op, result(err)).Inc()
}

func (m *Metrics) Poll(err error, took time.Duration) {
	if m == nil {
		return
	}
	m.Polls.WithLabelValues(result(err)).Inc()
	m.PollDuration.Observe(took.Seconds())
}

func (m *Metrics) Flush(err error, entries int) {
	if m == nil {
		return
	}
	m.HistoryFlushes.WithLabelValues(result(err)).Inc()
	m.HistoryEntries.Set(float64(entries))
}

func (m *Metrics) SetOnline(n int) {
	if m == nil {
		return
	}
	m.OnlineAccounts.Set(float64(n))
}

func (m *Metrics) SetTargets(n int) {
	if m == nil {
		return
	}
	m.Targets.Set(float64(n))
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
