// Package telemetry holds the Prometheus collectors shared by the engine components.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the engine. A nil *Metrics is valid and records nothing.
type Metrics struct {
	eventsIngested   *prometheus.CounterVec
	eventsDropped    *prometheus.CounterVec
	aggregateValue   *prometheus.GaugeVec
	aggregations     *prometheus.CounterVec
	callbackPanics   *prometheus.CounterVec
	ruleErrors       *prometheus.CounterVec
	insightsEmitted  *prometheus.CounterVec
	insightCycle     prometheus.Histogram
	providerErrors   *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	circuitBreaker   *prometheus.GaugeVec
	requestCounter   *prometheus.CounterVec
	websocketClients prometheus.Gauge
	exportedInsights *prometheus.CounterVec
	realtimeAlerts   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "practice_events_ingested_total",
				Help: "Metric events recorded into the realtime cache",
			},
			[]string{"category", "metric"},
		),
		eventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "practice_events_dropped_total",
				Help: "Metric events or changes dropped before reaching the cache",
			},
			[]string{"reason"},
		),
		aggregateValue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "practice_aggregate_value",
				Help: "Latest value of each rolling aggregate",
			},
			[]string{"rule"},
		),
		aggregations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "practice_aggregations_total",
				Help: "Aggregate computations by rule and trigger",
			},
			[]string{"rule", "trigger"},
		),
		callbackPanics: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "practice_callback_panics_total",
				Help: "Recovered panics in subscriber callbacks",
			},
			[]string{"kind"},
		),
		ruleErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "practice_insight_rule_errors_total",
				Help: "Insight rule evaluations that panicked or timed out",
			},
			[]string{"rule"},
		),
		insightsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "practice_insights_emitted_total",
				Help: "Insights emitted by type and priority",
			},
			[]string{"type", "priority"},
		),
		insightCycle: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "practice_insight_cycle_duration_seconds",
				Help:    "Duration of insight generation cycles",
				Buckets: prometheus.DefBuckets,
			},
		),
		providerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "practice_provider_errors_total",
				Help: "Total number of provider errors",
			},
			[]string{"provider"},
		),
		providerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "practice_provider_request_duration_seconds",
				Help:    "Provider request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "status"},
		),
		circuitBreaker: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "practice_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"breaker"},
		),
		requestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "practice_http_requests_total",
				Help: "Total number of API requests processed",
			},
			[]string{"route", "status"},
		),
		websocketClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "practice_websocket_clients",
				Help: "Connected live stream clients",
			},
		),
		exportedInsights: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "practice_exported_insights_total",
				Help: "Insights delivered to the export webhook",
			},
			[]string{"status"},
		),
		realtimeAlerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "practice_realtime_alerts_total",
				Help: "Realtime alerts raised by change handlers",
			},
			[]string{"alert"},
		),
	}

	reg.MustRegister(
		m.eventsIngested,
		m.eventsDropped,
		m.aggregateValue,
		m.aggregations,
		m.callbackPanics,
		m.ruleErrors,
		m.insightsEmitted,
		m.insightCycle,
		m.providerErrors,
		m.providerDuration,
		m.circuitBreaker,
		m.requestCounter,
		m.websocketClients,
		m.exportedInsights,
		m.realtimeAlerts,
	)

	return m
}

// EventIngested counts a recorded metric event.
func (m *Metrics) EventIngested(category, metric string) {
	if m == nil {
		return
	}
	m.eventsIngested.WithLabelValues(category, metric).Inc()
}

// EventDropped counts an event or change that never reached the cache.
func (m *Metrics) EventDropped(reason string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(reason).Inc()
}

// AggregateComputed records the latest value of an aggregate.
func (m *Metrics) AggregateComputed(rule, trigger string, value float64) {
	if m == nil {
		return
	}
	m.aggregations.WithLabelValues(rule, trigger).Inc()
	m.aggregateValue.WithLabelValues(rule).Set(value)
}

// CallbackPanic counts a recovered subscriber panic.
func (m *Metrics) CallbackPanic(kind string) {
	if m == nil {
		return
	}
	m.callbackPanics.WithLabelValues(kind).Inc()
}

// RuleError counts a failed rule evaluation.
func (m *Metrics) RuleError(rule string) {
	if m == nil {
		return
	}
	m.ruleErrors.WithLabelValues(rule).Inc()
}

// InsightEmitted counts an insight returned from a generation cycle.
func (m *Metrics) InsightEmitted(insightType, priority string) {
	if m == nil {
		return
	}
	m.insightsEmitted.WithLabelValues(insightType, priority).Inc()
}

// InsightCycle observes the duration of a generation cycle in seconds.
func (m *Metrics) InsightCycle(seconds float64) {
	if m == nil {
		return
	}
	m.insightCycle.Observe(seconds)
}

// ProviderError counts a failed provider call.
func (m *Metrics) ProviderError(provider string) {
	if m == nil {
		return
	}
	m.providerErrors.WithLabelValues(provider).Inc()
}

// ProviderRequest observes a provider request duration in seconds.
func (m *Metrics) ProviderRequest(provider, status string, seconds float64) {
	if m == nil {
		return
	}
	m.providerDuration.WithLabelValues(provider, status).Observe(seconds)
}

// BreakerState publishes a breaker state (0=closed, 1=open, 2=half-open).
func (m *Metrics) BreakerState(breaker string, state int) {
	if m == nil {
		return
	}
	m.circuitBreaker.WithLabelValues(breaker).Set(float64(state))
}

// Request counts an API request.
func (m *Metrics) Request(route, status string) {
	if m == nil {
		return
	}
	m.requestCounter.WithLabelValues(route, status).Inc()
}

// WebsocketClients sets the number of connected live stream clients.
func (m *Metrics) WebsocketClients(n int) {
	if m == nil {
		return
	}
	m.websocketClients.Set(float64(n))
}

// InsightsExported counts insights delivered to (or rejected by) the webhook.
func (m *Metrics) InsightsExported(status string, n int) {
	if m == nil {
		return
	}
	m.exportedInsights.WithLabelValues(status).Add(float64(n))
}

// RealtimeAlert counts an alert raised by a change handler.
func (m *Metrics) RealtimeAlert(alert string) {
	if m == nil {
		return
	}
	m.realtimeAlerts.WithLabelValues(alert).Inc()
}
