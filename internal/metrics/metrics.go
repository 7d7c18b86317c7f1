package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "locator_relay"

var (
	EventsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "events_received_total",
		Help:      "Number of telemetry events received from upstream streams",
	})

	EventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "events_dropped_total",
		Help:      "Number of telemetry events not forwarded, by reason",
	}, []string{"reason"})

	MessagesPushed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "push",
		Name:      "messages_sent_total",
		Help:      "Number of coordinate messages written to the push connection",
	})

	PushConnections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "push",
		Name:      "connections_total",
		Help:      "Push connection lifecycle transitions",
	}, []string{"event"})

	ActiveSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "active_subscriptions",
		Help:      "Number of upstream subscriptions currently delivering",
	})

	LoginAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "auth",
		Name:      "login_attempts_total",
		Help:      "Login attempts by outcome code",
	}, []string{"outcome"})
)

// Drop reasons
const (
	DropFiltered    = "filtered"
	DropMalformed   = "malformed"
	DropNoTransport = "no_transport"
)

// Login outcomes other than error codes
const (
	LoginSucceeded   = "success"
	LoginRateLimited = "rate_limited"
)

func init() {
	prometheus.MustRegister(
		EventsReceived,
		EventsDropped,
		MessagesPushed,
		PushConnections,
		ActiveSubscriptions,
		LoginAttempts,
	)
}
