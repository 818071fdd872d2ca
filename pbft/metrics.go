package pbft

import "github.com/prometheus/client_golang/prometheus"

// Metrics is an instance-scoped collector set, one per Replica, so a
// process hosting several replicas (e.g. the in-memory test cluster) does
// not collide on metric names the way a package-level global registry
// would. Mirrors internal/icenet/metrics's setter-function style
// (SetConsensusStatus, SetConsensusNonce, ...) but bound to an instance
// rather than process-global state.
type Metrics struct {
	MessagesIngested *prometheus.CounterVec
	View             prometheus.Gauge
	StableCheckpoint prometheus.Gauge
	LastExec         prometheus.Gauge
	ViewChanges      prometheus.Counter
	SlotTransitions  *prometheus.CounterVec
}

// NewMetrics creates and registers a fresh collector set against reg. If
// reg is nil, the collectors are created but left unregistered (useful in
// tests that don't want to touch any registry).
func NewMetrics(reg prometheus.Registerer, replicaLabel string) *Metrics {
	constLabels := prometheus.Labels{"replica": replicaLabel}
	m := &Metrics{
		MessagesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "pbft",
			Name:        "messages_ingested_total",
			Help:        "Messages accepted into the replica's log, by kind.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		View: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pbft",
			Name:        "view",
			Help:        "Current view number.",
			ConstLabels: constLabels,
		}),
		StableCheckpoint: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pbft",
			Name:        "stable_checkpoint_seq",
			Help:        "Sequence number of the current stable checkpoint.",
			ConstLabels: constLabels,
		}),
		LastExec: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pbft",
			Name:        "last_exec_seq",
			Help:        "Highest executed sequence number.",
			ConstLabels: constLabels,
		}),
		ViewChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "pbft",
			Name:        "view_changes_total",
			Help:        "View changes initiated by this replica.",
			ConstLabels: constLabels,
		}),
		SlotTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "pbft",
			Name:        "slot_transitions_total",
			Help:        "Slot machine transitions, by resulting state.",
			ConstLabels: constLabels,
		}, []string{"state"}),
	}
	if reg != nil {
		reg.MustRegister(m.MessagesIngested, m.View, m.StableCheckpoint, m.LastExec, m.ViewChanges, m.SlotTransitions)
	}
	return m
}

func (m *Metrics) observeIngest(k Kind) {
	if m == nil {
		return
	}
	m.MessagesIngested.WithLabelValues(k.String()).Inc()
}

func (m *Metrics) observeSlot(state string) {
	if m == nil {
		return
	}
	m.SlotTransitions.WithLabelValues(state).Inc()
}

func (m *Metrics) setView(v View) {
	if m == nil {
		return
	}
	m.View.Set(float64(v))
}

func (m *Metrics) setStableCheckpoint(n SeqNo) {
	if m == nil {
		return
	}
	m.StableCheckpoint.Set(float64(n))
}

func (m *Metrics) setLastExec(n SeqNo) {
	if m == nil {
		return
	}
	m.LastExec.Set(float64(n))
}

func (m *Metrics) incViewChange() {
	if m == nil {
		return
	}
	m.ViewChanges.Inc()
}
