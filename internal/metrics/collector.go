// Package metrics exposes broker activity to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mme"

// Collector owns a private registry so that several brokers (and tests)
// can coexist in one process. A nil *Collector records nothing.
type Collector struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	peerRequestsTotal   *prometheus.CounterVec
	peerRequestDuration *prometheus.HistogramVec

	exchangesTotal   *prometheus.CounterVec
	responseForms    *prometheus.CounterVec
	auditWritesTotal *prometheus.CounterVec
	eventsPublished  *prometheus.CounterVec
}

// NewCollector registers the broker metrics plus Go runtime and process
// collectors on a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	f := factory{reg}

	c := &Collector{registry: reg}

	c.httpRequestsTotal = f.counterVec("http_requests_total",
		"Total number of HTTP requests", "method", "route", "status")
	c.httpRequestDuration = f.histogramVec("http_request_duration_seconds",
		"HTTP request duration in seconds", prometheus.DefBuckets, "method", "route")

	c.peerRequestsTotal = f.counterVec("peer_requests_total",
		"Outbound match requests by peer and status class", "peer", "status")
	c.peerRequestDuration = f.histogramVec("peer_request_duration_seconds",
		"Outbound match round trip in seconds",
		[]float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60}, "peer")

	c.exchangesTotal = f.counterVec("exchanges_total",
		"Exchanges by final outcome", "outcome")
	c.responseForms = f.counterVec("response_normalization_total",
		"Peer responses by the form returned to the caller", "form")
	c.auditWritesTotal = f.counterVec("audit_writes_total",
		"Audit record inserts by result", "result")
	c.eventsPublished = f.counterVec("events_published_total",
		"Lifecycle events by publish result", "result")

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

type factory struct {
	reg prometheus.Registerer
}

func (f factory) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	v := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, labels)
	f.reg.MustRegister(v)
	return v
}

func (f factory) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	v := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
	f.reg.MustRegister(v)
	return v
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry exposes the underlying registry for tests and embedding.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordHTTPRequest records one served request.
func (c *Collector) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordPeerRequest records one outbound call. Status 0 is reported as
// "transport_error".
func (c *Collector) RecordPeerRequest(peer string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.peerRequestsTotal.WithLabelValues(peer, statusClass(status)).Inc()
	c.peerRequestDuration.WithLabelValues(peer).Observe(d.Seconds())
}

// RecordExchange counts an exchange by outcome (completed or an error type).
func (c *Collector) RecordExchange(outcome string) {
	if c == nil {
		return
	}
	c.exchangesTotal.WithLabelValues(outcome).Inc()
}

// RecordResponseForm counts the form of a peer response returned to a caller.
func (c *Collector) RecordResponseForm(form string) {
	if c == nil {
		return
	}
	c.responseForms.WithLabelValues(form).Inc()
}

// RecordAuditWrite counts an audit insert attempt.
func (c *Collector) RecordAuditWrite(err error) {
	if c == nil {
		return
	}
	c.auditWritesTotal.WithLabelValues(result(err)).Inc()
}

// RecordEventPublish counts a lifecycle event publish attempt.
func (c *Collector) RecordEventPublish(err error) {
	if c == nil {
		return
	}
	c.eventsPublished.WithLabelValues(result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}

func statusClass(status int) string {
	if status == 0 {
		return "transport_error"
	}
	return strconv.Itoa(status/100) + "xx"
}
