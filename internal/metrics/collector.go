package icemetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespaceTransport = "goice_transport"
	namespaceGather    = "goice_gather"
)

// Label names for transport/gather metrics.
const (
	labelLocalAddr   = "local_addr"
	labelKind        = "kind"
	labelMessageType = "message_type"
	labelTransport   = "transport"
)

// -------------------------------------------------------------------------
// Collector — Prometheus Transport/Gather Metrics
// -------------------------------------------------------------------------

// Collector holds every goice Prometheus metric named in the configuration
// surface (spec §6): queue depth/drops, classify/dispatch counters, gather
// bind failures/candidates, and the live session gauge.
type Collector struct {
	// QueueDepth tracks the current length of each socket's
	// RawMessageQueue, labeled by the socket's bound local address.
	QueueDepth *prometheus.GaugeVec

	// QueueDropped counts RawMessageQueue.Offer calls that returned
	// ErrQueueOverflow, labeled by local address.
	QueueDropped *prometheus.CounterVec

	// ClassifyTotal counts every Classify call by the resulting Kind
	// (stun, dtls, opaque, too_short).
	ClassifyTotal *prometheus.CounterVec

	// DispatchTotal counts every EventDispatcher.Dispatch call by its
	// masked message type (request, indication, old_indication).
	DispatchTotal *prometheus.CounterVec

	// GatherBindFailures counts failed bind attempts across all Harvest
	// calls.
	GatherBindFailures prometheus.Counter

	// GatherCandidates counts HostCandidates successfully bound across
	// all Harvest calls.
	GatherCandidates prometheus.Counter

	// Sessions tracks the number of currently active sessions summed over
	// all SocketWrappers of a transport, labeled by transport (udp/tcp).
	Sessions *prometheus.GaugeVec
}

// NewCollector creates a Collector with all metrics registered against the
// provided prometheus.Registerer. If reg is nil, prometheus.DefaultRegisterer
// is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.QueueDepth,
		c.QueueDropped,
		c.ClassifyTotal,
		c.DispatchTotal,
		c.GatherBindFailures,
		c.GatherCandidates,
		c.Sessions,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	localAddrLabels := []string{labelLocalAddr}

	return &Collector{
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: namespaceTransport + "_queue_depth",
			Help: "Current number of messages queued per bound local address.",
		}, localAddrLabels),

		QueueDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: namespaceTransport + "_queue_dropped_total",
			Help: "Total messages dropped due to a full RawMessageQueue, per bound local address.",
		}, localAddrLabels),

		ClassifyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: namespaceTransport + "_classify_total",
			Help: "Total packets classified, labeled by resulting kind (stun, dtls, opaque, too_short).",
		}, []string{labelKind}),

		DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: namespaceTransport + "_dispatch_total",
			Help: "Total STUN messages dispatched, labeled by masked message type.",
		}, []string{labelMessageType}),

		GatherBindFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: namespaceGather + "_bind_failures_total",
			Help: "Total failed bind attempts across all host candidate harvests.",
		}),

		GatherCandidates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: namespaceGather + "_candidates_total",
			Help: "Total host candidates successfully bound across all harvests.",
		}),

		Sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: namespaceTransport + "_sessions",
			Help: "Number of currently active sessions, labeled by transport.",
		}, []string{labelTransport}),
	}
}

// -------------------------------------------------------------------------
// Queue
// -------------------------------------------------------------------------

// SetQueueDepth records the current queue length for the socket bound at
// localAddr.
func (c *Collector) SetQueueDepth(localAddr string, depth int) {
	c.QueueDepth.WithLabelValues(localAddr).Set(float64(depth))
}

// IncQueueDropped increments the drop counter for the socket bound at
// localAddr by one. QueueDropped counts the messages RawMessageQueue.Offer
// rejected with ErrQueueOverflow, as reported by RawMessageQueue.Dropped.
func (c *Collector) IncQueueDropped(localAddr string) {
	c.QueueDropped.WithLabelValues(localAddr).Inc()
}

// -------------------------------------------------------------------------
// Classification / Dispatch
// -------------------------------------------------------------------------

// IncClassify increments the classify counter for kind ("stun", "dtls",
// "opaque", "too_short").
func (c *Collector) IncClassify(kind string) {
	c.ClassifyTotal.WithLabelValues(kind).Inc()
}

// IncDispatch increments the dispatch counter for messageType ("request",
// "indication", "old_indication").
func (c *Collector) IncDispatch(messageType string) {
	c.DispatchTotal.WithLabelValues(messageType).Inc()
}

// -------------------------------------------------------------------------
// Gather
// -------------------------------------------------------------------------

// IncGatherBindFailures increments the gather bind-failure counter. Called
// once per failed bind attempt a Harvest recorded in its
// HarvestStatistics.
func (c *Collector) IncGatherBindFailures() {
	c.GatherBindFailures.Inc()
}

// IncGatherCandidates increments the gather candidate counter. Called once
// per HostCandidate successfully added to a Component.
func (c *Collector) IncGatherCandidates() {
	c.GatherCandidates.Inc()
}

// -------------------------------------------------------------------------
// Sessions
// -------------------------------------------------------------------------

// SetSessions records the current active-session count for transport
// ("udp"/"tcp").
func (c *Collector) SetSessions(transport string, count int) {
	c.Sessions.WithLabelValues(transport).Set(float64(count))
}
