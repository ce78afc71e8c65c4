// Package metrics provides Prometheus metrics for the EMS client core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CommandsEnqueued counts commands accepted onto the command channel,
	// by action.
	CommandsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ems_commands_enqueued_total",
		Help: "Order commands enqueued onto the command channel",
	}, []string{"action"})

	// CommandRejects counts enqueue failures, by reason.
	CommandRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ems_command_rejects_total",
		Help: "Order commands rejected before reaching the relay",
	}, []string{"reason"})

	// CommandsRelayed counts commands forwarded over the transport.
	CommandsRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ems_commands_relayed_total",
		Help: "Order commands forwarded to the EMS daemon",
	})

	// ChannelDepth is the number of commands waiting in the channel.
	ChannelDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ems_command_channel_depth",
		Help: "Commands queued and not yet relayed",
	})

	// EventsReceived counts inbound lifecycle events, by kind.
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ems_events_received_total",
		Help: "Lifecycle events received from the EMS daemon",
	}, []string{"kind"})

	// HandshakeSeconds observes the daemon attach rendezvous latency.
	HandshakeSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ems_handshake_seconds",
		Help:    "Time from daemon spawn to readiness gate set",
		Buckets: prometheus.DefBuckets,
	})

	// HandshakeTimeouts counts failed attach attempts.
	HandshakeTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ems_handshake_timeouts_total",
		Help: "Daemon attach attempts that hit the readiness deadline",
	})

	// SessionsActive is the number of open daemon sessions.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ems_sessions_active",
		Help: "Open EMS daemon sessions",
	})

	// TransportErrors counts relay stops due to a dead command link or
	// event stream.
	TransportErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ems_transport_errors_total",
		Help: "Transport failures surfaced to the session",
	})

	// DarkOrdersHeld is the number of dark orders the daemon is holding.
	DarkOrdersHeld = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ems_dark_orders_held",
		Help: "Dark orders held daemon-side awaiting their trigger",
	})
)

func IncCommandsEnqueued(action string) {
	CommandsEnqueued.WithLabelValues(action).Inc()
}

func IncCommandRejects(reason string) {
	CommandRejects.WithLabelValues(reason).Inc()
}

func IncCommandsRelayed() {
	CommandsRelayed.Inc()
}

func SetChannelDepth(n int) {
	ChannelDepth.Set(float64(n))
}

func IncEventsReceived(kind string) {
	EventsReceived.WithLabelValues(kind).Inc()
}

func ObserveHandshake(seconds float64) {
	HandshakeSeconds.Observe(seconds)
}

// StartMetricsServer 启动Prometheus指标服务器
func StartMetricsServer(addr string) {
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = http.ListenAndServe(addr, nil)
	}()
}
