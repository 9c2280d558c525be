package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/roach88/unitao/internal/metrics"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-Id"

type requestIDKey struct{}

// RequestID returns the id assigned to the request, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// withRequestID keeps an incoming X-Request-Id or assigns a new uuid.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// observe records the route pattern, status and latency of each request.
func observe(m *metrics.Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			m.ObserveRequest(r.Method, route, status, elapsed)
			logger.Debug("http request",
				"method", r.Method,
				"route", route,
				"status", status,
				"elapsed", elapsed,
				"request_id", RequestID(r.Context()))
		})
	}
}

func newRouter(m *metrics.Metrics, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(withRequestID)
	r.Use(middleware.Recoverer)
	r.Use(observe(m, logger))
	r.NotFound(notFound)
	r.MethodNotAllowed(notAllowed)
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}
	return r
}
