// Package api serves the daemon's local HTTP API: sync status, per-key
// progress, on-demand sync and Prometheus metrics.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mmcdole/shelfsync/internal/domain"
	"github.com/mmcdole/shelfsync/internal/metrics"
	"github.com/mmcdole/shelfsync/internal/service"
)

// syncService is the part of SyncService the API exposes (consumer-defined interface)
type syncService interface {
	Status() service.Status
	Progress(key domain.ProgressKey) (*domain.ProgressRecord, bool)
	SyncAll(ctx context.Context) domain.SyncSummary
	SyncItemBidirectional(ctx context.Context, key domain.ProgressKey) (pulled, pushed bool)
	IsOnline() bool
}

// Handler holds the API's dependencies.
type Handler struct {
	sync   syncService
	logger *slog.Logger
}

// NewHandler creates the API handler set.
func NewHandler(sync syncService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{sync: sync, logger: logger}
}

// Router builds the chi route tree.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(h.requestLogger)

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.Status)
		r.Post("/sync", h.SyncAll)

		r.Route("/progress/{itemID}", func(r chi.Router) {
			r.Get("/", h.GetProgress)
			r.Post("/sync", h.SyncItem)
		})
	})

	return r
}

// requestLogger logs each request and records API metrics by route pattern.
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		metrics.APIRequests.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())

		h.logger.Debug("api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", elapsed,
			"request_id", chimiddleware.GetReqID(r.Context()),
		)
	})
}
