package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "khanhpclass"

// Join outcomes used as the result label of joins_total
const (
	ResultAccepted    = "accepted"
	ResultNotFound    = "not_found"
	ResultFull        = "full"
	ResultInvalid     = "invalid"
	ResultRateLimited = "rate_limited"
)

// Collector groups the room and transport metrics.
// A nil *Collector is valid and records nothing, so components can run without metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	rooms             prometheus.Gauge
	students          prometheus.Gauge
	connections       prometheus.Gauge
	joins             *prometheus.CounterVec
	framesRelayed     prometheus.Counter
	deliveriesDropped prometheus.Counter
	teardowns         *prometheus.CounterVec
}

// NewCollector registers all collectors on a fresh registry
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewCollectorWith(reg, reg)
}

// NewCollectorWith registers on reg and serves from gatherer
func NewCollectorWith(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Collector {
	c := &Collector{
		gatherer: gatherer,
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Rooms currently in the registry.",
		}),
		students: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "room_students",
			Help:      "Student members across all rooms.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Live WebSocket connections.",
		}),
		joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "joins_total",
			Help:      "Join attempts by role and result.",
		}, []string{"role", "result"}),
		framesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_relayed_total",
			Help:      "Screen frames accepted and fanned out to a room.",
		}),
		deliveriesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_dropped_total",
			Help:      "Outbound messages dropped because a recipient buffer was full.",
		}),
		teardowns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "teardowns_total",
			Help:      "Room teardown timer transitions.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(c.rooms, c.students, c.connections, c.joins,
		c.framesRelayed, c.deliveriesDropped, c.teardowns)
	return c
}

// Handler exposes the registry in Prometheus text format
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) RoomCreated() {
	if c != nil {
		c.rooms.Inc()
	}
}

func (c *Collector) RoomDeleted() {
	if c != nil {
		c.rooms.Dec()
	}
}

func (c *Collector) StudentJoined() {
	if c != nil {
		c.students.Inc()
		c.joins.WithLabelValues("student", ResultAccepted).Inc()
	}
}

func (c *Collector) StudentLeft() {
	if c != nil {
		c.students.Dec()
	}
}

func (c *Collector) TeacherJoined() {
	if c != nil {
		c.joins.WithLabelValues("teacher", ResultAccepted).Inc()
	}
}

// JoinRejected counts a failed join; role is "teacher" or "student"
func (c *Collector) JoinRejected(role, result string) {
	if c != nil {
		c.joins.WithLabelValues(role, result).Inc()
	}
}

func (c *Collector) FrameRelayed() {
	if c != nil {
		c.framesRelayed.Inc()
	}
}

func (c *Collector) DeliveryDropped() {
	if c != nil {
		c.deliveriesDropped.Inc()
	}
}

// Teardown counts a lifecycle timer transition: "armed", "cancelled" or "fired"
func (c *Collector) Teardown(outcome string) {
	if c != nil {
		c.teardowns.WithLabelValues(outcome).Inc()
	}
}

func (c *Collector) ConnectionOpened() {
	if c != nil {
		c.connections.Inc()
	}
}

func (c *Collector) ConnectionClosed() {
	if c != nil {
		c.connections.Dec()
	}
}
