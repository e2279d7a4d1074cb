package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CallMetrics exposes call engine metrics on the default Prometheus registry.
type CallMetrics struct {
	callsInitiated prometheus.Counter
	callsIncoming  prometheus.Counter
	callsConnected prometheus.Counter
	callOutcomes   *prometheus.CounterVec

	callDuration  prometheus.Histogram
	ringToConnect prometheus.Histogram

	negotiationRoundTrip *prometheus.HistogramVec
	negotiationFailures  *prometheus.CounterVec

	signalingReconnects prometheus.Counter
	remoteTracks        prometheus.Gauge
	inboundPacketLoss   prometheus.Gauge
}

func NewCallMetrics() *CallMetrics {
	return &CallMetrics{
		callsInitiated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "embercall_calls_initiated_total",
			Help: "Total number of outgoing calls initiated",
		}),

		callsIncoming: promauto.NewCounter(prometheus.CounterOpts{
			Name: "embercall_calls_incoming_total",
			Help: "Total number of incoming call notifications received",
		}),

		callsConnected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "embercall_calls_connected_total",
			Help: "Total number of calls that reached the connected state",
		}),

		callOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "embercall_call_outcomes_total",
			Help: "Terminal call outcomes by status",
		}, []string{"outcome"}),

		callDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "embercall_call_duration_seconds",
			Help:    "Connected duration of finished calls",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),

		ringToConnect: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "embercall_ring_to_connect_seconds",
			Help:    "Time from ringing to connected",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),

		negotiationRoundTrip: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "embercall_negotiation_round_trip_seconds",
			Help:    "Duration of SFU negotiation round-trips by operation",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"op"}),

		negotiationFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "embercall_negotiation_failures_total",
			Help: "Failed SFU negotiation round-trips by operation",
		}, []string{"op"}),

		signalingReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "embercall_signaling_reconnects_total",
			Help: "Total number of successful signaling reconnects",
		}),

		remoteTracks: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "embercall_remote_tracks",
			Help: "Number of tracks in the composite remote stream",
		}),

		inboundPacketLoss: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "embercall_inbound_packet_loss_ratio",
			Help: "Smoothed inbound packet loss reported via RTCP",
		}),
	}
}

func (m *CallMetrics) CallInitiated() { m.callsInitiated.Inc() }
func (m *CallMetrics) CallIncoming()  { m.callsIncoming.Inc() }
func (m *CallMetrics) CallConnected() { m.callsConnected.Inc() }

func (m *CallMetrics) CallFinished(outcome string) { m.callOutcomes.WithLabelValues(outcome).Inc() }

func (m *CallMetrics) ObserveCallDuration(d time.Duration) {
	m.callDuration.Observe(d.Seconds())
}

func (m *CallMetrics) ObserveRingToConnect(d time.Duration) {
	m.ringToConnect.Observe(d.Seconds())
}

func (m *CallMetrics) ObserveNegotiation(op string, d time.Duration, err error) {
	m.negotiationRoundTrip.WithLabelValues(op).Observe(d.Seconds())
	if err != nil {
		m.negotiationFailures.WithLabelValues(op).Inc()
	}
}

func (m *CallMetrics) SignalingReconnected() { m.signalingReconnects.Inc() }

func (m *CallMetrics) SetRemoteTracks(n int) { m.remoteTracks.Set(float64(n)) }

func (m *CallMetrics) SetInboundPacketLoss(ratio float64) { m.inboundPacketLoss.Set(ratio) }
