package adminapi

import "github.com/prometheus/client_golang/prometheus"

var (
	metricsHTTPRequestRt = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_rt_us",
		Help:    "The time of each http request",
		Buckets: []float64{1000, 2000, 3000, 5000, 8000},
	}, []string{"path", "method"})

	metricsHTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "The count of http requests by path, method, and status code",
	}, []string{"path", "method", "code"})

	metricsHTTPCurrentRequests = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "http_current_requests_total",
		Help: "The count of currently in-flight http requests",
	}, []string{"path", "method"})

	metricsContainersCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "containers_created_total",
		Help: "The count of containers successfully created",
	}, []string{})

	metricsContainersCreateFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "containers_create_failed_total",
		Help: "The count of failed container create attempts",
	}, []string{})

	metricsActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "active_terminal_sessions",
		Help: "The number of sessions currently tracked by the broker",
	})
)

func init() {
	prometheus.MustRegister(
		metricsHTTPRequestRt,
		metricsHTTPRequests,
		metricsHTTPCurrentRequests,
		metricsContainersCreated,
		metricsContainersCreateFailed,
		metricsActiveSessions,
	)
}
