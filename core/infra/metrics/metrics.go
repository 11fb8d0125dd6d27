package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics captures packaging pipeline counters.
type Metrics interface {
	IncPackagesStarted(brand string)
	IncPackagesCompleted(brand, status string)
	IncSigningDegraded(brand string)
	ObserveBuildDuration(brand string, durationSeconds float64)
}

// GatewayMetrics captures request metrics for the HTTP gateway.
type GatewayMetrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) IncPackagesStarted(string)            {}
func (Noop) IncPackagesCompleted(string, string)  {}
func (Noop) IncSigningDegraded(string)            {}
func (Noop) ObserveBuildDuration(string, float64) {}

// Prom implements Metrics backed by Prometheus counters.
type Prom struct {
	started   *prometheus.CounterVec
	completed *prometheus.CounterVec
	degraded  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	once      sync.Once
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packages_started_total",
			Help:      "Packaging jobs started by brand",
		}, []string{"brand"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packages_completed_total",
			Help:      "Packaging jobs completed by brand and status",
		}, []string{"brand", "status"}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signing_degraded_total",
			Help:      "Packages shipped unsigned after a signing failure, by brand",
		}, []string{"brand"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "package_build_duration_seconds",
			Help:      "End-to-end packaging duration by brand",
			Buckets:   prometheus.DefBuckets,
		}, []string{"brand"}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(p.started, p.completed, p.degraded, p.duration)
	})
}

func (p *Prom) IncPackagesStarted(brand string) {
	p.started.WithLabelValues(brand).Inc()
}

func (p *Prom) IncPackagesCompleted(brand, status string) {
	p.completed.WithLabelValues(brand, status).Inc()
}

func (p *Prom) IncSigningDegraded(brand string) {
	p.degraded.WithLabelValues(brand).Inc()
}

func (p *Prom) ObserveBuildDuration(brand string, durationSeconds float64) {
	p.duration.WithLabelValues(brand).Observe(durationSeconds)
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// --- Gateway metrics ---

type gatewayProm struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	once     sync.Once
}

// NewGatewayProm constructs a GatewayMetrics with counters/histograms.
func NewGatewayProm(namespace string) GatewayMetrics {
	g := &gatewayProm{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	g.once.Do(func() {
		prometheus.MustRegister(g.requests, g.latency)
	})
	return g
}

func (g *gatewayProm) ObserveRequest(method, route, status string, durationSeconds float64) {
	g.requests.WithLabelValues(method, route, status).Inc()
	g.latency.WithLabelValues(method, route).Observe(durationSeconds)
}
