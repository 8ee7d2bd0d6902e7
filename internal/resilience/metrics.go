package resilience

import "github.com/prometheus/client_golang/prometheus"

var (
	// StateGauge is 0 closed, 1 open, 2 half-open.
	StateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "funnel",
		Subsystem: "breaker",
		Name:      "state",
		Help:      "Circuit breaker position per guarded dependency.",
	}, []string{"target"})
	Transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "funnel",
		Subsystem: "breaker",
		Name:      "transitions_total",
		Help:      "Circuit breaker state changes.",
	}, []string{"target", "from", "to"})
	Rejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "funnel",
		Subsystem: "breaker",
		Name:      "rejected_total",
		Help:      "Calls refused without reaching the dependency.",
	}, []string{"target"})
)

func init() {
	prometheus.MustRegister(StateGauge, Transitions, Rejections)
}

func publishState(target string, s State) {
	StateGauge.WithLabelValues(target).Set(float64(s))
}

func transitioned(target string, from, to State) {
	Transitions.WithLabelValues(target, from.String(), to.String()).Inc()
}

func rejected(target string) {
	Rejections.WithLabelValues(target).Inc()
}
