package proxy

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors exposed by a running proxy.
// Net-new ambient observability (spec.md has no metrics component) —
// grounded on the retrieval pack's other_examples proxy
// (a0b9fc80_etalazz-vsa) which wires promhttp the same way.
type Metrics struct {
	Connections  prometheus.Counter
	DialErrors   prometheus.Counter
	ChunksActed  *prometheus.CounterVec
}

// NewMetrics constructs and registers the proxy's collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proxy_connections_total",
			Help: "Accepted client connections.",
		}),
		DialErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proxy_dial_errors_total",
			Help: "Failed upstream dial attempts.",
		}),
		ChunksActed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proxy_chunks_total",
			Help: "Inbound chunks evaluated, labeled by the action taken.",
		}, []string{"action"}),
	}
	reg.MustRegister(m.Connections, m.DialErrors, m.ChunksActed)
	return m
}
