package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentIntentTotal counts initial checkout intent creation attempts.
	PaymentIntentTotal *prometheus.CounterVec
	// OfferChargeTotal counts one-click offer charge outcomes.
	OfferChargeTotal *prometheus.CounterVec
	// CouponValidationTotal counts coupon validation results.
	CouponValidationTotal *prometheus.CounterVec
	// FunnelTransitionTotal counts sequencer transitions between steps.
	FunnelTransitionTotal *prometheus.CounterVec
	// QuoteCacheTotal counts price quote cache lookups by result.
	QuoteCacheTotal *prometheus.CounterVec
	// EventsPublishedTotal counts domain events handed to the queue.
	EventsPublishedTotal *prometheus.CounterVec
	// EventsConsumedTotal counts domain events processed by the worker.
	EventsConsumedTotal *prometheus.CounterVec
	// ProcessorLatency observes payment processor call latency in milliseconds.
	ProcessorLatency *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentIntentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_intent_total",
			Help:      "Count of checkout payment intent creation outcomes.",
		}, []string{"processor", "result"})
		OfferChargeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offer_charge_total",
			Help:      "Count of one-click offer charge outcomes.",
		}, []string{"outcome"})
		CouponValidationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coupon_validation_total",
			Help:      "Count of coupon validation results.",
		}, []string{"result"})
		FunnelTransitionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "funnel_transition_total",
			Help:      "Count of funnel step transitions.",
		}, []string{"from", "to", "action"})
		QuoteCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_cache_total",
			Help:      "Count of price quote cache lookups.",
		}, []string{"result"})
		EventsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Count of domain events handed to the queue.",
		}, []string{"type", "result"})
		EventsConsumedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_consumed_total",
			Help:      "Count of domain events processed by the worker.",
		}, []string{"type", "result"})

		ProcessorLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "processor_call_duration_ms",
			Help:      "Payment processor call latency in milliseconds.",
			Buckets:   DefaultBucketsMS,
		}, []string{"processor", "operation", "result"})

		for _, c := range []**prometheus.CounterVec{
			&PaymentIntentTotal, &OfferChargeTotal, &CouponValidationTotal,
			&FunnelTransitionTotal, &QuoteCacheTotal, &EventsPublishedTotal,
			&EventsConsumedTotal,
		} {
			registerOrReuse(reg, c)
		}
		registerOrReuse(reg, &ProcessorLatency)
	})
}

// IncCounter increments vec when it has been registered. Callers in packages
// that run without metrics (tests, tools) can use it unconditionally.
func IncCounter(vec *prometheus.CounterVec, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Inc()
}
