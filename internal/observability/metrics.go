package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Inbound outcomes recorded by the escalation engine.
const (
	OutcomeResponded   = "responded"
	OutcomeEscalated   = "escalated"
	OutcomeRateLimited = "rate_limited"
	OutcomeRejected    = "rejected"
	OutcomeFailed      = "failed"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	registry *prometheus.Registry

	InboundMessages  *prometheus.CounterVec
	Escalations      *prometheus.CounterVec
	RateLimitHits    *prometheus.CounterVec
	Bans             prometheus.Counter
	CacheRequests    *prometheus.CounterVec
	KnowledgeLearned prometheus.Counter
	SweepDuration    prometheus.Histogram
	SweepEscalated   prometheus.Counter
	HTTPRequests     *prometheus.CounterVec
	HTTPErrors       *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
}

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		InboundMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "support_bot_inbound_total",
			Help: "Inbound ticket messages by outcome",
		}, []string{"outcome"}),
		Escalations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "support_bot_escalations_total",
			Help: "Tickets handed over to a human, by reason",
		}, []string{"reason"}),
		RateLimitHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "support_bot_rate_limit_hits_total",
			Help: "Denied actions by action name",
		}, []string{"action"}),
		Bans: factory.NewCounter(prometheus.CounterOpts{
			Name: "support_bot_bans_total",
			Help: "Users automatically banned for repeated violations",
		}),
		CacheRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "support_bot_cache_requests_total",
			Help: "Conversation cache lookups by result",
		}, []string{"result"}),
		KnowledgeLearned: factory.NewCounter(prometheus.CounterOpts{
			Name: "support_bot_knowledge_learned_total",
			Help: "Knowledge entries created or reinforced",
		}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "support_bot_sweep_duration_seconds",
			Help:    "Time taken by a stale ticket sweep",
			Buckets: prometheus.DefBuckets,
		}),
		SweepEscalated: factory.NewCounter(prometheus.CounterOpts{
			Name: "support_bot_sweep_escalated_total",
			Help: "Tickets escalated by the stale sweep",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "support_bot_http_requests_total",
			Help: "HTTP requests by route, method and status",
		}, []string{"path", "method", "status"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "support_bot_http_errors_total",
			Help: "HTTP error responses by route, method and error code",
		}, []string{"path", "method", "code"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "support_bot_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(path, method, code).Inc()
}

// InboundOutcome counts one handled inbound message.
func (m *Metrics) InboundOutcome(outcome string) {
	if m == nil {
		return
	}
	m.InboundMessages.WithLabelValues(outcome).Inc()
}

// Escalated counts a ticket escalation.
func (m *Metrics) Escalated(reason string) {
	if m == nil {
		return
	}
	m.Escalations.WithLabelValues(reason).Inc()
}

// Learned counts a knowledge update.
func (m *Metrics) Learned() {
	if m == nil {
		return
	}
	m.KnowledgeLearned.Inc()
}

// ObserveSweep records one sweep run.
func (m *Metrics) ObserveSweep(d time.Duration, escalated int) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(d.Seconds())
	m.SweepEscalated.Add(float64(escalated))
}

// RateLimitHit implements ratelimit.Observer.
func (m *Metrics) RateLimitHit(action string) {
	if m == nil {
		return
	}
	m.RateLimitHits.WithLabelValues(action).Inc()
}

// UserBanned implements ratelimit.Observer.
func (m *Metrics) UserBanned() {
	if m == nil {
		return
	}
	m.Bans.Inc()
}

// CacheLookup implements cache.Observer.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheRequests.WithLabelValues(result).Inc()
}
