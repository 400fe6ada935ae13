package websocket

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	errTypeLabel   = "error_type"
	eventTypeLabel = "event_type"
)

var (
	wsConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connected_clients",
		Help: "The number of connected clients.",
	})

	wsQueuedMsgs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_queued_msgs",
		Help: "The number of events queued for WebSocket clients.",
	}, []string{eventTypeLabel})

	wsDroppedMsgs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_dropped_msgs",
		Help: "The number of events dropped because a client send queue was full.",
	}, []string{eventTypeLabel})

	wsSentBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_sent_bytes",
		Help: "The number of bytes sent to WebSocket connections.",
	})

	wsSendError = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_send_errors",
		Help: "The errors that occured while sending a websocket message.",
	}, []string{errTypeLabel})

	wsReceivedMsgs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_received_msgs",
		Help: "The number of messages received from WebSocket connections.",
	})
)

func instrumentConnectedClients(n int) {
	wsConnectedClients.Set(float64(n))
}

func instrumentQueuedMessage(t EventType) {
	wsQueuedMsgs.With(prometheus.Labels{
		eventTypeLabel: string(t),
	}).Inc()
}

func instrumentDroppedMessage(t EventType) {
	wsDroppedMsgs.With(prometheus.Labels{
		eventTypeLabel: string(t),
	}).Inc()
}

func instrumentSentBytes(n int) {
	wsSentBytes.Add(float64(n))
}

func instrumentSendError(err error) {
	wsSendError.With(prometheus.Labels{
		errTypeLabel: errors.Type(err),
	}).Inc()
}

func instrumentReceivedMessage() {
	wsReceivedMsgs.Inc()
}
