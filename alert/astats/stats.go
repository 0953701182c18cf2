package astats

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "klaxon"
	subsystem = "engine"
)

type Stats struct {
	CounterAlertsTotal    *prometheus.CounterVec
	CounterNotifyTotal    *prometheus.CounterVec
	CounterEscalateTotal  *prometheus.CounterVec
	CounterSamplesTotal   *prometheus.CounterVec
	CounterEventDropTotal prometheus.Counter
	GaugeActiveAlerts     prometheus.Gauge
	GaugeAlertQueueSize   prometheus.Gauge
	GaugeEventBusSize     prometheus.Gauge
	GaugeEscalationsDue   prometheus.Gauge
}

func NewStats() *Stats {
	// alert outcomes: created, deduplicated, grouped, acknowledged,
	// resolved, suppressed, unsuppressed
	CounterAlertsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "alerts_total",
		Help:      "Total number of alert submissions by outcome.",
	}, []string{"action"})

	CounterNotifyTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "notifications_total",
		Help:      "Total number of notification attempts.",
	}, []string{"channel", "status"})

	CounterEscalateTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "escalations_total",
		Help:      "Total number of fired escalations.",
	}, []string{"severity"})

	CounterSamplesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "samples_total",
		Help:      "Total number of metric samples recorded.",
	}, []string{"source"})

	CounterEventDropTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "event_drop_total",
		Help:      "Number of lifecycle events dropped on a full bus.",
	})

	GaugeActiveAlerts := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "active_alerts",
		Help:      "Number of alerts currently live in the store.",
	})

	GaugeAlertQueueSize := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "alert_queue_size",
		Help:      "The size of the notify queue.",
	})

	GaugeEventBusSize := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "event_bus_size",
		Help:      "The size of the lifecycle event bus.",
	})

	GaugeEscalationsDue := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "escalations_due",
		Help:      "Number of armed escalation timers.",
	})

	prometheus.MustRegister(
		CounterAlertsTotal,
		CounterNotifyTotal,
		CounterEscalateTotal,
		CounterSamplesTotal,
		CounterEventDropTotal,
		GaugeActiveAlerts,
		GaugeAlertQueueSize,
		GaugeEventBusSize,
		GaugeEscalationsDue,
	)

	return &Stats{
		CounterAlertsTotal:    CounterAlertsTotal,
		CounterNotifyTotal:    CounterNotifyTotal,
		CounterEscalateTotal:  CounterEscalateTotal,
		CounterSamplesTotal:   CounterSamplesTotal,
		CounterEventDropTotal: CounterEventDropTotal,
		GaugeActiveAlerts:     GaugeActiveAlerts,
		GaugeAlertQueueSize:   GaugeAlertQueueSize,
		GaugeEventBusSize:     GaugeEventBusSize,
		GaugeEscalationsDue:   GaugeEscalationsDue,
	}
}
