// Package metrics exposes Prometheus counters and gauges around the
// bridge's connection and message lifecycle, served on /metrics
// alongside the upgrade surface's other routes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry groups every metric the bridge exports. Constructed once
// per process and shared across connections.
type Registry struct {
	ConnectionsTotal   prometheus.Counter
	ConnectionsActive  prometheus.Gauge
	SubscriptionsActive prometheus.Gauge
	MessagesTotal      *prometheus.CounterVec
	UpgradeFailures    prometheus.Counter
}

// New registers and returns the bridge's metrics against the default
// Prometheus registerer.
func New() *Registry {
	return &Registry{
		ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dbus_ws_bridge_connections_total",
			Help: "Total number of WebSocket connections accepted.",
		}),
		ConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dbus_ws_bridge_connections_active",
			Help: "Number of currently open WebSocket connections.",
		}),
		SubscriptionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dbus_ws_bridge_subscriptions_active",
			Help: "Number of currently active signal subscriptions across all connections.",
		}),
		MessagesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dbus_ws_bridge_messages_total",
			Help: "Total number of output messages written, by kind.",
		}, []string{"kind"}),
		UpgradeFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dbus_ws_bridge_upgrade_failures_total",
			Help: "Total number of failed WebSocket upgrade attempts.",
		}),
	}
}
