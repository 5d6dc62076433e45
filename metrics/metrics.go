// Package metrics exposes prometheus collectors for chat and booking activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roombox",
		Name:      "chat_messages_sent_total",
		Help:      "Chat messages persisted, by transport.",
	}, []string{"transport"})

	MessagesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "roombox",
		Name:      "chat_messages_delivered_total",
		Help:      "Live deliveries of chat messages to joined sessions.",
	})

	SocketsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "roombox",
		Name:      "sockets_connected",
		Help:      "Currently connected realtime sessions.",
	})

	PaymentVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roombox",
		Name:      "payment_verifications_total",
		Help:      "Payment callback verifications, by outcome.",
	}, []string{"outcome"})

	BookingTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roombox",
		Name:      "booking_transitions_total",
		Help:      "Committed booking state transitions, by target state.",
	}, []string{"status"})
)
