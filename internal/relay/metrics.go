package relay

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics are per hub so tests can run several relays in one process.
type metrics struct {
	registry *prometheus.Registry

	rooms       prometheus.Gauge
	members     prometheus.Gauge
	frames      *prometheus.CounterVec
	slowDropped prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_rooms",
			Help: "Patient rooms with at least one socket",
		}),
		members: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_members",
			Help: "Sockets joined across all rooms",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_frames_total",
			Help: "Frames fanned out, by origin",
		}, []string{"origin"}),
		slowDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_slow_members_dropped_total",
			Help: "Sockets dropped because their send buffer was full",
		}),
	}
	m.registry.MustRegister(m.rooms, m.members, m.frames, m.slowDropped)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func origin(f frame) string {
	if f.from == nil {
		return "server"
	}
	return "client"
}
