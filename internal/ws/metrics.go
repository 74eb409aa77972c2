package ws

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Rejection reasons recorded by Metrics.
const (
	RejectNoToken       = "no_token"
	RejectUnauthorized  = "unauthorized"
	RejectNoRooms       = "no_rooms"
	RejectResolverError = "resolver_error"
	RejectShutdown      = "shutdown"
)

// Metrics holds the relay's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	devices          prometheus.Gauge
	users            prometheus.Gauge
	framesRelayed    prometheus.Counter
	deliveryFailures prometheus.Counter
	rejections       *prometheus.CounterVec
}

// NewMetrics creates the relay collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		devices: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay",
			Name:      "device_connections",
			Help:      "Device connections currently registered.",
		}),
		users: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay",
			Name:      "user_connections",
			Help:      "User connection slots currently registered, one per room joined.",
		}),
		framesRelayed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "frames_relayed_total",
			Help:      "Payloads delivered to user connections.",
		}),
		deliveryFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "delivery_failures_total",
			Help:      "Payloads that could not be queued for a registered recipient.",
		}),
		rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "rejected_connections_total",
			Help:      "Connections refused before entering the read loop, by reason.",
		}, []string{"reason"}),
	}
}

// Reject counts a refused connection.
func (m *Metrics) Reject(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) setConnections(devices, users int) {
	if m == nil {
		return
	}
	m.devices.Set(float64(devices))
	m.users.Set(float64(users))
}

func (m *Metrics) delivered(ok, failed int) {
	if m == nil {
		return
	}
	m.framesRelayed.Add(float64(ok))
	m.deliveryFailures.Add(float64(failed))
}
