package tenancy

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector receives counters from the engine components.
type MetricsCollector interface {
	RecordCacheHit()
	RecordCacheMiss()
	RecordResolution(outcome StateKind, reason OnboardingReason)
	RecordSwitchRejected()
	RecordGuardSignOut(failed bool)
	RecordIsolationReport(report IsolationReport)
}

// Collector is the Prometheus backed MetricsCollector.
type Collector struct {
	cacheHits         prometheus.Counter
	cacheMisses       prometheus.Counter
	resolutions       *prometheus.CounterVec
	switchRejections  prometheus.Counter
	guardSignOuts     *prometheus.CounterVec
	isolationWarnings prometheus.Counter
	isolationFailures prometheus.Counter
}

// NewCollector registers the tenancy metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tenancy_company_cache_hits_total",
			Help: "Tenant profile lookups served from the company cache",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tenancy_company_cache_misses_total",
			Help: "Tenant profile lookups that required a remote fetch",
		}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenancy_resolutions_total",
			Help: "Settled tenant resolutions by outcome",
		}, []string{"outcome", "reason"}),
		switchRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tenancy_tenant_switch_rejected_total",
			Help: "Rejected active tenant selections",
		}),
		guardSignOuts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenancy_guard_sign_outs_total",
			Help: "Sign-outs forced by the inactivity guard",
		}, []string{"result"}),
		isolationWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tenancy_isolation_warnings_total",
			Help: "Isolation checks that reported warnings",
		}),
		isolationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tenancy_isolation_failures_total",
			Help: "Isolation checks that reported errors",
		}),
	}

	reg.MustRegister(
		c.cacheHits,
		c.cacheMisses,
		c.resolutions,
		c.switchRejections,
		c.guardSignOuts,
		c.isolationWarnings,
		c.isolationFailures,
	)

	return c
}

func (c *Collector) RecordCacheHit() {
	c.cacheHits.Inc()
}

func (c *Collector) RecordCacheMiss() {
	c.cacheMisses.Inc()
}

func (c *Collector) RecordResolution(outcome StateKind, reason OnboardingReason) {
	c.resolutions.WithLabelValues(string(outcome), string(reason)).Inc()
}

func (c *Collector) RecordSwitchRejected() {
	c.switchRejections.Inc()
}

func (c *Collector) RecordGuardSignOut(failed bool) {
	result := "ok"
	if failed {
		result = "failed"
	}
	c.guardSignOuts.WithLabelValues(result).Inc()
}

func (c *Collector) RecordIsolationReport(report IsolationReport) {
	if len(report.Warnings) > 0 {
		c.isolationWarnings.Inc()
	}
	if len(report.Errors) > 0 {
		c.isolationFailures.Inc()
	}
}

// MetricsHandler exposes gatherer for Prometheus scraping.
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

type noopMetrics struct{}

func (noopMetrics) RecordCacheHit()                              {}
func (noopMetrics) RecordCacheMiss()                             {}
func (noopMetrics) RecordResolution(StateKind, OnboardingReason) {}
func (noopMetrics) RecordSwitchRejected()                        {}
func (noopMetrics) RecordGuardSignOut(bool)                      {}
func (noopMetrics) RecordIsolationReport(IsolationReport)        {}

func normalizeMetrics(m MetricsCollector) MetricsCollector {
	if m == nil {
		return noopMetrics{}
	}
	return m
}
