package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/baechuer/asyncorder/internal/logging"
)

// NewRouter wires the orders service's HTTP surface: ops endpoints
// (health, metrics) plus the /api/v1 business routes, behind a request
// id + structured access log + panic recovery middleware stack.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/healthz", Healthz)
	r.Get("/readyz", Healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/orders/new/", h.CreateOrder)
		r.Get("/orders/{order_id}/status", h.GetOrderStatus)
	})

	return r
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		reqID := middleware.GetReqID(r.Context())

		next.ServeHTTP(ww, r)

		logging.WithCtx(logging.WithRequestID(r.Context(), reqID)).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
