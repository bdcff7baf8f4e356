// Package middleware provides the HTTP middleware shared by the CMS server
// and module routes.
package middleware

import (
	"net/http"
	"time"

	"github.com/Guillaume29200/esport-cms/internal/httputil"
	"github.com/Guillaume29200/esport-cms/internal/logging"
)

// TraceHeader carries the request trace ID in and out.
const TraceHeader = "X-Trace-ID"

// TracingMiddleware stamps a trace ID on every request and writes one
// access-log line per response.
type TracingMiddleware struct {
	logger *logging.Logger
}

func NewTracingMiddleware(logger *logging.Logger) *TracingMiddleware {
	return &TracingMiddleware{logger: logger}
}

func (m *TracingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if traceID == "" || len(traceID) > 128 {
			traceID = logging.NewTraceID()
		}
		ctx := logging.WithTraceID(r.Context(), traceID)
		w.Header().Set(TraceHeader, traceID)

		rec := httputil.NewStatusRecorder(w)
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))

		m.logger.LogRequest(ctx, r.Method, r.URL.Path, rec.Status, time.Since(start))
	})
}
