// Package metrics exposes Prometheus counters and gauges fed by Node and
// Scheduler activity.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the collectors a running node process updates. Register
// registers them all with a prometheus.Registerer; callers typically pass
// prometheus.DefaultRegisterer.
type Metrics struct {
	PeersDiscovered prometheus.Counter
	MessagesSent    prometheus.Counter
	MessagesRecv    prometheus.Counter
	MalformedDrops  prometheus.Counter
	SchedulerRuns   prometheus.Counter
	RemoteEndpoints prometheus.Gauge
}

// New constructs a fresh Metrics bundle. Collectors are unregistered until
// Register is called.
func New(namespace string) *Metrics {
	return &Metrics{
		PeersDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peers_discovered_total",
			Help:      "Remote subscriber endpoints learned via discovery.",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Unicast data datagrams sent.",
		}),
		MessagesRecv: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Unicast data datagrams received and dispatched.",
		}),
		MalformedDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_datagrams_total",
			Help:      "Datagrams dropped for failing wire-format validation.",
		}),
		SchedulerRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_dispatches_total",
			Help:      "Scheduler task callbacks invoked.",
		}),
		RemoteEndpoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "remote_endpoints",
			Help:      "Current count of known remote subscriber endpoints across all topics.",
		}),
	}
}

// Register adds every collector in m to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.PeersDiscovered,
		m.MessagesSent,
		m.MessagesRecv,
		m.MalformedDrops,
		m.SchedulerRuns,
		m.RemoteEndpoints,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
