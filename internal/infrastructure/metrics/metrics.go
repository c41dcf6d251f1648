// Package metrics exposes workflow engine counters in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/garyjia/workflow-engine/internal/application/port"
)

// Recorder implements port.TransitionRecorder on a private registry
type Recorder struct {
	registry *prometheus.Registry

	transitions *prometheus.CounterVec
	created     *prometheus.CounterVec
	completed   *prometheus.CounterVec
	requests    *prometheus.HistogramVec
}

// NewRecorder creates a recorder whose metric names start with namespace
func NewRecorder(namespace string) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Start and Fire attempts by entity type, trigger and outcome.",
		}, []string{"entity_type", "trigger", "outcome"}),
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instances_created_total",
			Help:      "Workflow instances created by entity type.",
		}, []string{"entity_type"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instances_completed_total",
			Help:      "Workflow instances that reached a final state by entity type.",
		}, []string{"entity_type"}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method, route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	r.registry.MustRegister(
		r.transitions,
		r.created,
		r.completed,
		r.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) ObserveTransition(entityType, trigger, outcome string) {
	r.transitions.WithLabelValues(entityType, trigger, outcome).Inc()
}

func (r *Recorder) ObserveInstanceCreated(entityType string) {
	r.created.WithLabelValues(entityType).Inc()
}

func (r *Recorder) ObserveInstanceCompleted(entityType string) {
	r.completed.WithLabelValues(entityType).Inc()
}

// Registry returns the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Middleware records request latency labelled by the matched route template
func (r *Recorder) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		r.requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// Verify interface compliance
var _ port.TransitionRecorder = (*Recorder)(nil)
