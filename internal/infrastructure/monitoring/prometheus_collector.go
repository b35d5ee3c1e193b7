package monitoring

import (
	"koma/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exports hub and session measurements. It satisfies
// both ports.HubMetrics and ports.SessionMetrics.
type PrometheusCollector struct {
	// Hub
	connections prometheus.Gauge
	rooms       *prometheus.GaugeVec
	joins       *prometheus.CounterVec
	leaves      *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	relayed     *prometheus.CounterVec
	recipients  prometheus.Histogram
	dropped     *prometheus.CounterVec

	// Sessions
	offers       *prometheus.CounterVec
	collisions   prometheus.Counter
	staleAnswers prometheus.Counter
	statuses     *prometheus.CounterVec
}

// NewPrometheusCollector registers the koma metrics with reg, or with the
// default registry when reg is nil.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "koma_connections",
			Help: "Number of open signaling connections",
		}),

		rooms: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "koma_rooms",
			Help: "Number of live rooms by class",
		}, []string{"class"}),

		joins: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "koma_room_joins_total",
			Help: "Accepted room joins by class",
		}, []string{"class"}),

		leaves: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "koma_room_leaves_total",
			Help: "Room departures by class",
		}, []string{"class"}),

		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "koma_room_joins_rejected_total",
			Help: "Rejected room joins by reason",
		}, []string{"reason"}),

		relayed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "koma_messages_relayed_total",
			Help: "Envelopes fanned out by the hub by message type",
		}, []string{"type"}),

		recipients: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "koma_relay_recipients",
			Help:    "Number of recipients per relayed envelope",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),

		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "koma_messages_dropped_total",
			Help: "Envelopes the hub discarded by reason",
		}, []string{"reason"}),

		offers: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "koma_offers_total",
			Help: "SDP offers created by sessions",
		}, []string{"ice_restart"}),

		collisions: factory.NewCounter(prometheus.CounterOpts{
			Name: "koma_offer_collisions_total",
			Help: "Offers that arrived while a local offer was outstanding",
		}),

		staleAnswers: factory.NewCounter(prometheus.CounterOpts{
			Name: "koma_stale_answers_total",
			Help: "Answers dropped because no offer was outstanding",
		}),

		statuses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "koma_session_status_total",
			Help: "Session status transitions",
		}, []string{"status"}),
	}
}

func (c *PrometheusCollector) SetConnections(n int) {
	c.connections.Set(float64(n))
}

func (c *PrometheusCollector) SetRooms(class domain.RoomClass, n int) {
	c.rooms.WithLabelValues(string(class)).Set(float64(n))
}

func (c *PrometheusCollector) RecordJoin(class domain.RoomClass) {
	c.joins.WithLabelValues(string(class)).Inc()
}

func (c *PrometheusCollector) RecordLeave(class domain.RoomClass) {
	c.leaves.WithLabelValues(string(class)).Inc()
}

func (c *PrometheusCollector) RecordRejected(reason string) {
	c.rejected.WithLabelValues(reason).Inc()
}

func (c *PrometheusCollector) RecordRelayed(msgType domain.MessageType, recipients int) {
	c.relayed.WithLabelValues(string(msgType)).Inc()
	c.recipients.Observe(float64(recipients))
}

func (c *PrometheusCollector) RecordDropped(reason string) {
	c.dropped.WithLabelValues(reason).Inc()
}

func (c *PrometheusCollector) RecordOffer(iceRestart bool) {
	label := "false"
	if iceRestart {
		label = "true"
	}
	c.offers.WithLabelValues(label).Inc()
}

func (c *PrometheusCollector) RecordCollision() {
	c.collisions.Inc()
}

func (c *PrometheusCollector) RecordStaleAnswer() {
	c.staleAnswers.Inc()
}

func (c *PrometheusCollector) RecordStatus(status domain.SessionStatus) {
	c.statuses.WithLabelValues(string(status)).Inc()
}
