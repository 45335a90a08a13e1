package node

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	// FramesInbound is the total number of inbound frames labelled by
	// message type.
	FramesInbound *prometheus.CounterVec

	// FramesOutbound is the total number of outbound frames labelled by
	// message type.
	FramesOutbound *prometheus.CounterVec

	// BytesInbound is the total number of read bytes.
	BytesInbound prometheus.Counter

	// BytesOutbound is the total number of written bytes.
	BytesOutbound prometheus.Counter

	// HandlersInFlight is the number of frames currently being handled.
	HandlersInFlight prometheus.Gauge

	// HandleLatency is the time to handle a frame labelled by message type,
	// including waiting for the state lock.
	HandleLatency *prometheus.HistogramVec

	// Values is the number of known values.
	Values prometheus.Gauge

	// GossipRounds is the total number of gossip rounds.
	GossipRounds prometheus.Counter

	// GossipMessagesOutbound is the total number of gossip messages sent.
	GossipMessagesOutbound prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		FramesInbound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "glomers",
				Subsystem: "node",
				Name:      "frames_inbound_total",
				Help:      "Total number of inbound frames",
			},
			[]string{"type"},
		),
		FramesOutbound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "glomers",
				Subsystem: "node",
				Name:      "frames_outbound_total",
				Help:      "Total number of outbound frames",
			},
			[]string{"type"},
		),
		BytesInbound: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "glomers",
				Subsystem: "node",
				Name:      "bytes_inbound_total",
				Help:      "Total number of read bytes",
			},
		),
		BytesOutbound: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "glomers",
				Subsystem: "node",
				Name:      "bytes_outbound_total",
				Help:      "Total number of written bytes",
			},
		),
		HandlersInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "glomers",
				Subsystem: "node",
				Name:      "handlers_in_flight",
				Help:      "Number of frames currently being handled",
			},
		),
		HandleLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "glomers",
				Subsystem: "node",
				Name:      "handle_latency_seconds",
				Help:      "Frame handling latency",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
			},
			[]string{"type"},
		),
		Values: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "glomers",
				Subsystem: "node",
				Name:      "values",
				Help:      "Number of known broadcast values",
			},
		),
		GossipRounds: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "glomers",
				Subsystem: "gossip",
				Name:      "rounds_total",
				Help:      "Total number of gossip rounds",
			},
		),
		GossipMessagesOutbound: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "glomers",
				Subsystem: "gossip",
				Name:      "messages_outbound_total",
				Help:      "Total number of gossip messages sent",
			},
		),
	}
}

func (m *Metrics) Register(reg *prometheus.Registry) {
	reg.MustRegister(
		m.FramesInbound,
		m.FramesOutbound,
		m.BytesInbound,
		m.BytesOutbound,
		m.HandlersInFlight,
		m.HandleLatency,
		m.Values,
		m.GossipRounds,
		m.GossipMessagesOutbound,
	)
}
