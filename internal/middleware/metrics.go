package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/Guillaume29200/esport-cms/internal/httputil"
	"github.com/Guillaume29200/esport-cms/internal/metrics"
)

// MetricsMiddleware records HTTP metrics for each request. The metrics
// endpoint itself is not counted.
func MetricsMiddleware(serviceName string, m *metrics.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			m.IncrementInFlight()
			defer m.DecrementInFlight()

			rec := httputil.NewStatusRecorder(w)
			next.ServeHTTP(rec, r)

			m.RecordHTTPRequest(serviceName, r.Method, r.URL.Path, strconv.Itoa(rec.Status), time.Since(start))
		})
	}
}
