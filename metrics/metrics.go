// Package metrics instruments the HTTP adapter and the synchronizer
// outcomes with Prometheus collectors.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cyp0633/kolabdav/record"
)

// Metrics holds the collectors of one registry.
type Metrics struct {
	gatherer prometheus.Gatherer

	httpRequestsTotal   *prometheus.CounterVec
	httpErrorsTotal     *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	writesTotal         *prometheus.CounterVec
	redirectsTotal      prometheus.Counter
}

// New registers the collectors with a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers the collectors with reg and serves g.
func NewWithRegistry(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: g,
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kolabdav_http_requests_total",
			Help: "Total number of HTTP requests processed.",
		}, []string{"method", "route"}),
		httpErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kolabdav_http_errors_total",
			Help: "Total number of HTTP requests resulting in server errors.",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kolabdav_http_request_duration_seconds",
			Help:    "Histogram of latencies for HTTP requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		writesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kolabdav_object_writes_total",
			Help: "Object writes by operation and outcome.",
		}, []string{"operation", "outcome"}),
		redirectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "kolabdav_object_redirects_total",
			Help: "Creates stored under the UID carried by the document instead of the requested name.",
		}),
	}
}

// Middleware records request metrics labelled by chi route pattern.
func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := routePattern(r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			statusCode := strconv.Itoa(status)

			m.httpRequestsTotal.WithLabelValues(r.Method, route).Inc()
			m.httpRequestDuration.WithLabelValues(r.Method, route, statusCode).Observe(time.Since(start).Seconds())
			if status >= http.StatusInternalServerError {
				m.httpErrorsTotal.WithLabelValues(r.Method, route, statusCode).Inc()
			}
		})
	}
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveWrite counts one create, update or delete by its outcome.
func (m *Metrics) ObserveWrite(operation string, err error) {
	m.writesTotal.WithLabelValues(operation, Outcome(err)).Inc()
}

// ObserveRedirect counts a create that landed on an existing UID.
func (m *Metrics) ObserveRedirect() {
	m.redirectsTotal.Inc()
}

// Outcome names the error kind of err, or "ok".
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, record.ErrParse):
		return "parse_error"
	case errors.Is(err, record.ErrIdentityMismatch):
		return "identity_mismatch"
	case errors.Is(err, record.ErrNotFound):
		return "not_found"
	case errors.Is(err, record.ErrServiceUnavailable):
		return "unavailable"
	case errors.Is(err, record.ErrStorageWrite):
		return "write_failure"
	default:
		return "error"
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := strings.TrimSpace(rctx.RoutePattern()); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
