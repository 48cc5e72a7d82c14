package entity

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the set of Prometheus collectors a Context reports tick and
// archetype population stats through. Callers register Metrics with
// whatever registry the host process already exposes.
type Metrics struct {
	TickDuration    prometheus.Histogram
	ArchetypeCount  prometheus.Gauge
	EntityCount     prometheus.Gauge
	CommandsApplied *prometheus.CounterVec
}

// NewMetrics builds a Metrics with the given namespace, registering
// nothing itself; callers call Register against their own registry.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "entity",
			Name:      "tick_duration_seconds",
			Help:      "Duration of one Context.Tick call.",
			Buckets:   prometheus.DefBuckets,
		}),
		ArchetypeCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "entity",
			Name:      "archetype_count",
			Help:      "Number of distinct archetypes currently allocated.",
		}),
		EntityCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "entity",
			Name:      "entity_count",
			Help:      "Number of live entities across all archetypes.",
		}),
		CommandsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "entity",
			Name:      "commands_applied_total",
			Help:      "Structural commands applied per Drain, by kind.",
		}, []string{"kind"}),
	}
}

// Register adds every collector to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.TickDuration, m.ArchetypeCount, m.EntityCount, m.CommandsApplied} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Observe samples the archetype/entity population after a tick.
func (m *Metrics) Observe(archStore *Store, entityCount int) {
	m.ArchetypeCount.Set(float64(archStore.ArchetypeCount()))
	m.EntityCount.Set(float64(entityCount))
}
