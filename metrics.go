package swarm

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors updated by a Manager. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	BotsCreated      prometheus.Counter
	BotsDisconnected prometheus.Counter
	BotsConnected    prometheus.Gauge
	SpawnAttempts    prometheus.Counter
	LatencyReplies   prometheus.Counter
	Respawns         prometheus.Counter
}

// NewMetrics creates unregistered collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		BotsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swarm",
			Name:      "bots_created_total",
			Help:      "Number of bots created.",
		}),
		BotsDisconnected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swarm",
			Name:      "bots_disconnected_total",
			Help:      "Number of bots that disconnected, by either side.",
		}),
		BotsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "swarm",
			Name:      "bots_connected",
			Help:      "Number of bots with a settled session.",
		}),
		SpawnAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swarm",
			Name:      "spawn_attempts_total",
			Help:      "Number of bots the loader tried to connect.",
		}),
		LatencyReplies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swarm",
			Name:      "latency_replies_total",
			Help:      "Number of liveness checks answered.",
		}),
		Respawns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swarm",
			Name:      "respawns_total",
			Help:      "Number of respawn requests sent.",
		}),
	}
}

// Collectors returns all collectors of m.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.BotsCreated,
		m.BotsDisconnected,
		m.BotsConnected,
		m.SpawnAttempts,
		m.LatencyReplies,
		m.Respawns,
	}
}

// Register registers all collectors of m with r.
func (m *Metrics) Register(r prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) inc(c func(*Metrics) prometheus.Counter) {
	if m != nil {
		c(m).Inc()
	}
}

func (m *Metrics) connected(delta float64) {
	if m != nil {
		m.BotsConnected.Add(delta)
	}
}

func botsCreated(m *Metrics) prometheus.Counter      { return m.BotsCreated }
func botsDisconnected(m *Metrics) prometheus.Counter { return m.BotsDisconnected }
func spawnAttempts(m *Metrics) prometheus.Counter    { return m.SpawnAttempts }
func latencyReplies(m *Metrics) prometheus.Counter   { return m.LatencyReplies }
func respawns(m *Metrics) prometheus.Counter         { return m.Respawns }
