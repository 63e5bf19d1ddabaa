package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the gateway's prometheus instruments.
type Metrics struct {
	CommandsRelayed *prometheus.CounterVec
	StatusUpdates   prometheus.Counter
	ActiveBridges   prometheus.Gauge
}

// NewMetrics registers the gateway instruments with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		CommandsRelayed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "carolsync_commands_relayed_total",
			Help: "Commands delivered to attached rooms, by kind.",
		}, []string{"kind"}),
		StatusUpdates: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "carolsync_status_updates_total",
			Help: "Status reports forwarded from attached rooms.",
		}),
		ActiveBridges: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "carolsync_active_bridges",
			Help: "Currently attached room websocket connections.",
		}),
	}
}
