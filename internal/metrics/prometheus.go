// Package metrics exposes Prometheus collectors for refresh and regeneration.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/dynipsets/internal/domain"
)

const namespace = "dynipsets"

// Registry holds the daemon's collectors.
type Registry struct {
	reg *prometheus.Registry

	// Domain metrics
	Domains       prometheus.Gauge
	Groups        prometheus.Gauge
	DomainRefresh *prometheus.CounterVec
	DomainAddrs   *prometheus.GaugeVec
	StaticReloads prometheus.Counter

	// Regeneration metrics
	Regenerations        *prometheus.CounterVec
	RegenerationDuration prometheus.Histogram
	LastRegeneration     prometheus.Gauge
}

// New creates a Registry with its own prometheus.Registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Registry{
		reg: reg,

		Domains: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "domains",
			Help:      "Number of distinct domains held in the registry",
		}),
		Groups: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "groups",
			Help:      "Number of groups loaded",
		}),
		DomainRefresh: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "domain_refresh_total",
			Help:      "DNS resolution attempts by outcome",
		}, []string{"domain", "outcome"}),
		DomainAddrs: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "domain_addresses",
			Help:      "Addresses currently held per domain",
		}, []string{"domain"}),
		StaticReloads: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "static_reloads_total",
			Help:      "Times the static base file was reloaded",
		}),

		Regenerations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "regenerations_total",
			Help:      "Regeneration passes by result",
		}, []string{"result"}),
		RegenerationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "regeneration_duration_seconds",
			Help:      "Time spent writing and propagating the generated config",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		LastRegeneration: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_regeneration_timestamp_seconds",
			Help:      "Unix time of the last successful propagation",
		}),
	}
}

// ObserveRefresh implements domain.Observer.
func (r *Registry) ObserveRefresh(fqdn string, outcome domain.Outcome, addrs int) {
	r.DomainRefresh.WithLabelValues(fqdn, outcome.String()).Inc()
	r.DomainAddrs.WithLabelValues(fqdn).Set(float64(addrs))
}

// ObserveRegeneration records one regeneration pass.
func (r *Registry) ObserveRegeneration(result string, took time.Duration, at time.Time) {
	r.Regenerations.WithLabelValues(result).Inc()
	r.RegenerationDuration.Observe(took.Seconds())
	if result == ResultOK {
		r.LastRegeneration.Set(float64(at.Unix()))
	}
}

// Regeneration results.
const (
	ResultOK              = "ok"
	ResultWriteFailed     = "write_failed"
	ResultPropagateFailed = "propagate_failed"
)

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Gatherer returns the underlying gatherer, for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
