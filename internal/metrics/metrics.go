// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pravo"

var (
	Registrations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "auth",
		Name:      "registrations_total",
		Help:      "Accounts created through POST /register.",
	})

	Logins = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "auth",
		Name:      "logins_total",
		Help:      "Login attempts by result.",
	}, []string{"result"})

	ChatsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chats_created_total",
		Help:      "Chats created by a first message.",
	})

	ChatsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chats_deleted_total",
		Help:      "Chats removed by explicit deletion.",
	})

	Messages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_total",
		Help:      "Messages appended to chats by role.",
	}, []string{"role"})

	AssistantDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "assistant",
		Name:      "dropped_total",
		Help:      "Assistant replies that were never written, by reason.",
	}, []string{"reason"})

	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_connections",
		Help:      "Open event websocket connections on this instance.",
	})
)

// Handler serves the default registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
