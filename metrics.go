package gardenchat

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type clientMetrics struct {
	framesReceived    *prometheus.CounterVec
	framesDropped     *prometheus.CounterVec
	published         *prometheus.CounterVec
	reconnectAttempts prometheus.Counter
	heartbeatMisses   prometheus.Counter
	subscriptions     prometheus.Gauge
	eventsDropped     prometheus.Counter
}

func newClientMetrics(reg prometheus.Registerer) *clientMetrics {
	return &clientMetrics{
		framesReceived: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gardenchat_frames_received_total",
				Help: "Inbound MESSAGE frames by topic kind.",
			},
			[]string{"kind"},
		)),
		framesDropped: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gardenchat_frames_dropped_total",
				Help: "Inbound frames dropped before reaching a handler.",
			},
			[]string{"reason"},
		)),
		published: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gardenchat_publish_total",
				Help: "Outbound publishes by kind and result.",
			},
			[]string{"kind", "result"},
		)),
		reconnectAttempts: register(reg, prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gardenchat_reconnect_attempts_total",
				Help: "Automatic reconnection attempts.",
			},
		)),
		heartbeatMisses: register(reg, prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gardenchat_heartbeat_misses_total",
				Help: "Connections dropped because broker heart-beats stopped.",
			},
		)),
		subscriptions: register(reg, prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gardenchat_subscriptions",
				Help: "Registered topic subscriptions.",
			},
		)),
		eventsDropped: register(reg, prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gardenchat_events_dropped_total",
				Help: "Lifecycle events discarded because the consumer fell behind.",
			},
		)),
	}
}

// register adds c to reg, reusing an identical collector that another client
// already registered.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}
