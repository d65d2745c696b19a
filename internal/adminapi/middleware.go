package adminapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/felixge/httpsnoop"
)

// wrapPrometheus records request-duration, in-flight, and total-count
// metrics for every request.
func wrapPrometheus(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path, method, start := r.URL.Path, r.Method, time.Now()

		metricsHTTPCurrentRequests.WithLabelValues(path, method).Inc()

		metrics := httpsnoop.CaptureMetrics(next, w, r)

		code := strconv.Itoa(metrics.Code)
		delta := time.Since(start).Milliseconds()

		metricsHTTPCurrentRequests.WithLabelValues(path, method).Dec()
		metricsHTTPRequestRt.WithLabelValues(path, method).Observe(float64(delta))
		metricsHTTPRequests.WithLabelValues(path, method, code).Inc()
	})
}

// withCORS sets the permissive CORS headers the administrative surface
// requires and short-circuits preflight requests.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)

			return
		}

		next.ServeHTTP(w, r)
	})
}
