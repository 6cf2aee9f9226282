package relay

import "github.com/prometheus/client_golang/prometheus"

var (
	publishedEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reputationd",
			Subsystem: "relay",
			Name:      "published_events_total",
			Help:      "Number of events written to the relay.",
		},
	)
	receivedEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reputationd",
			Subsystem: "relay",
			Name:      "received_events_total",
			Help:      "Number of subscription events delivered to handlers.",
		},
	)
	rejectedEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reputationd",
			Subsystem: "relay",
			Name:      "rejected_events_total",
			Help:      "Number of publishes the relay acknowledged negatively.",
		},
	)
	reconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reputationd",
			Subsystem: "relay",
			Name:      "reconnects_total",
			Help:      "Number of times the websocket was re-established.",
		},
	)
)

func init() {
	prometheus.MustRegister(publishedEvents)
	prometheus.MustRegister(receivedEvents)
	prometheus.MustRegister(rejectedEvents)
	prometheus.MustRegister(reconnects)
}
