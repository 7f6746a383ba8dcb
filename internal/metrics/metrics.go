// Package metrics holds the Prometheus collectors of the bot.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "schedbot"

// Delivery and command results.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultTimeout = "timeout"
	ResultDenied  = "denied"
)

type Metrics struct {
	ticks          prometheus.Counter
	tickDuration   prometheus.Histogram
	lastTick       prometheus.Gauge
	schedulesSeen  prometheus.Gauge
	deliveries     *prometheus.CounterVec
	storeErrors    *prometheus.CounterVec
	tzFallbacks    prometheus.Counter
	expired        prometheus.Counter
	commands       *prometheus.CounterVec
	commandLatency *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ticks_total",
			Help: "Reconciliation ticks run.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "tick_duration_seconds",
			Help:    "Wall time of one reconciliation tick.",
			Buckets: prometheus.DefBuckets,
		}),
		lastTick: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_tick_timestamp_seconds",
			Help: "Unix time of the last completed tick.",
		}),
		schedulesSeen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_schedules",
			Help: "Active schedules loaded by the last tick.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "deliveries_total",
			Help: "Scheduled message deliveries by kind and result.",
		}, []string{"kind", "result"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "store_errors_total",
			Help: "Store failures seen by the reconciliation loop.",
		}, []string{"op"}),
		tzFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "timezone_fallbacks_total",
			Help: "Schedules evaluated in the default timezone because the group timezone was invalid.",
		}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "expired_schedules_total",
			Help: "Daily messages deactivated because their end date passed.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "commands_total",
			Help: "Bot commands handled by command and result.",
		}, []string{"command", "result"}),
		commandLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "command_duration_seconds",
			Help:    "Bot command handler latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"command"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.ticks, m.tickDuration, m.lastTick, m.schedulesSeen,
			m.deliveries, m.storeErrors, m.tzFallbacks, m.expired,
			m.commands, m.commandLatency,
		)
	}
	return m
}

// ObserveTick records a finished tick.
func (m *Metrics) ObserveTick(started time.Time, took time.Duration, schedules int) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	m.tickDuration.Observe(took.Seconds())
	m.lastTick.Set(float64(started.Add(took).Unix()))
	m.schedulesSeen.Set(float64(schedules))
}

func (m *Metrics) Delivery(kind, result string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) StoreError(op string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) TimezoneFallback() {
	if m == nil {
		return
	}
	m.tzFallbacks.Inc()
}

func (m *Metrics) ScheduleExpired() {
	if m == nil {
		return
	}
	m.expired.Inc()
}

func (m *Metrics) Command(name, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(name, result).Inc()
	m.commandLatency.WithLabelValues(name).Observe(took.Seconds())
}
