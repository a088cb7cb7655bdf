package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RouteFunc names the route of a request for metric labels. It must return
// a small, fixed set of values.
type RouteFunc func(*http.Request) string

// Metrics records request counts and durations
type Metrics struct {
	duration *prometheus.HistogramVec
	total    *prometheus.CounterVec
	inFlight prometheus.Gauge
	route    RouteFunc
}

// NewMetrics creates the request metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer, route RouteFunc) (*Metrics, error) {
	if route == nil {
		route = func(*http.Request) string { return "unknown" }
	}
	m := &Metrics{
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "restful",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "route", "status"},
		),
		total: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "restful",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "restful",
			Name:      "http_requests_in_flight",
			Help:      "Requests currently being served",
		}),
		route: route,
	}

	for _, c := range []prometheus.Collector{m.duration, m.total, m.inFlight} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Middleware records every request passing through it
func (m *Metrics) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.inFlight.Inc()
			defer m.inFlight.Dec()

			start := time.Now()
			rw := newStatusRecorder(w)
			next.ServeHTTP(rw, r)

			labels := []string{r.Method, m.route(r), strconv.Itoa(rw.status)}
			m.duration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
			m.total.WithLabelValues(labels...).Inc()
		})
	}
}
