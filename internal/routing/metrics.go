package routing

import "github.com/prometheus/client_golang/prometheus"

// metrics holds the engine's Prometheus instrumentation. Registered once
// per Engine instance against a caller-supplied registry (the proxy
// front-end's, exposed at GET /metrics).
type metrics struct {
	accountsTotal     prometheus.Gauge
	accountsAvailable prometheus.Gauge
	openCircuits      prometheus.Gauge
	decisions         *prometheus.CounterVec
	circuitTrips      prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		accountsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_routing_accounts_total",
			Help: "Total accounts known to the routing engine.",
		}),
		accountsAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_routing_accounts_available",
			Help: "Accounts currently eligible for selection.",
		}),
		openCircuits: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_routing_open_circuits",
			Help: "Accounts whose circuit breaker is currently open.",
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_routing_decisions_total",
			Help: "Routing decisions made, labeled by reason tag.",
		}, []string{"reason"}),
		circuitTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_routing_circuit_trips_total",
			Help: "Times an account's circuit breaker transitioned to open.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.accountsTotal, m.accountsAvailable, m.openCircuits, m.decisions, m.circuitTrips)
	}
	return m
}
