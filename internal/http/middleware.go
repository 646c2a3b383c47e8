package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	m "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"genai-assessor/internal/metrics"
)

// AccessLog writes one line per request and, when mx is set, records the
// request under its route pattern.
func AccessLog(log *zap.Logger, mx *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := m.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				elapsed := time.Since(start)
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				route := routePattern(r)
				log.Info("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("route", route),
					zap.Int("status", status),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", elapsed),
					zap.String("request_id", m.GetReqID(r.Context())),
				)
				if mx != nil {
					mx.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
					mx.HTTPDuration.WithLabelValues(route, r.Method).Observe(elapsed.Seconds())
				}
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// routePattern keeps metric cardinality bounded: unmatched paths collapse
// into one label.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
