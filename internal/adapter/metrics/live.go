package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LiveMetrics covers the room registry and connection fan-out.
// A nil *LiveMetrics is valid and records nothing.
type LiveMetrics struct {
	ActiveRooms        prometheus.Gauge
	ActiveConnections  prometheus.Gauge
	MessagesPublished  *prometheus.CounterVec
	MessagesDropped    *prometheus.CounterVec
	FramesDelivered    prometheus.Counter
	ConnectionsClosed  *prometheus.CounterVec
	RateLimitedFrames  prometheus.Counter
	ActionsForwarded   *prometheus.CounterVec
	FanOutDuration     prometheus.Histogram
	FrameWriteDuration prometheus.Histogram
}

func NewLiveMetrics(reg prometheus.Registerer) *LiveMetrics {
	m := &LiveMetrics{
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "active_rooms",
			Help:      "Number of rooms currently registered.",
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "active_connections",
			Help:      "Number of open client connections across all rooms.",
		}),
		MessagesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "messages_published_total",
			Help:      "Messages fanned out to rooms, by message type.",
		}, []string{"type"}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "messages_dropped_total",
			Help:      "Messages that could not be published, by reason.",
		}, []string{"reason"}),
		FramesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "frames_delivered_total",
			Help:      "Frames written to client transports.",
		}),
		ConnectionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "connections_closed_total",
			Help:      "Closed client connections, by close reason.",
		}, []string{"reason"}),
		RateLimitedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "rate_limited_frames_total",
			Help:      "Inbound frames rejected by the per-connection rate limit.",
		}),
		ActionsForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "actions_forwarded_total",
			Help:      "Client actions handed to the write layer, by result.",
		}, []string{"result"}),
		FanOutDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "fanout_duration_seconds",
			Help:      "Time spent enqueueing one message to every room member.",
			Buckets:   []float64{.00005, .0001, .0005, .001, .005, .01, .05},
		}),
		FrameWriteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "frame_write_duration_seconds",
			Help:      "Time spent writing one frame to a client transport.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}),
	}

	reg.MustRegister(
		m.ActiveRooms, m.ActiveConnections, m.MessagesPublished, m.MessagesDropped,
		m.FramesDelivered, m.ConnectionsClosed, m.RateLimitedFrames, m.ActionsForwarded,
		m.FanOutDuration, m.FrameWriteDuration,
	)
	return m
}

func (m *LiveMetrics) RoomOpened() {
	if m != nil {
		m.ActiveRooms.Inc()
	}
}

func (m *LiveMetrics) RoomClosed() {
	if m != nil {
		m.ActiveRooms.Dec()
	}
}

func (m *LiveMetrics) ConnectionOpened() {
	if m != nil {
		m.ActiveConnections.Inc()
	}
}

func (m *LiveMetrics) ConnectionClosed(reason string) {
	if m != nil {
		m.ActiveConnections.Dec()
		m.ConnectionsClosed.WithLabelValues(reason).Inc()
	}
}

func (m *LiveMetrics) Published(msgType string, fanOut time.Duration) {
	if m != nil {
		m.MessagesPublished.WithLabelValues(msgType).Inc()
		m.FanOutDuration.Observe(fanOut.Seconds())
	}
}

func (m *LiveMetrics) Dropped(reason string) {
	if m != nil {
		m.MessagesDropped.WithLabelValues(reason).Inc()
	}
}

func (m *LiveMetrics) Delivered(write time.Duration) {
	if m != nil {
		m.FramesDelivered.Inc()
		m.FrameWriteDuration.Observe(write.Seconds())
	}
}

func (m *LiveMetrics) RateLimited() {
	if m != nil {
		m.RateLimitedFrames.Inc()
	}
}

func (m *LiveMetrics) ActionForwarded(result string) {
	if m != nil {
		m.ActionsForwarded.WithLabelValues(result).Inc()
	}
}
