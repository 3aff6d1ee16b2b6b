// Package httpapi exposes recording control, WebRTC signaling and live
// speech events over HTTP.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/satindergrewal/voxrec/pkg/logger"
)

// NewRouter mounts every route under /api/v1.
func NewRouter(h *Handler, log *slog.Logger) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(log))
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	router.Route("/api/v1", func(api chi.Router) {
		api.Get("/health", h.Health)
		api.Route("/rooms/{roomId}", func(room chi.Router) {
			room.Post("/recording", h.StartRecording)
			room.Get("/recording", h.GetRecording)
			room.Delete("/recording", h.StopRecording)
			room.Post("/roster", h.RosterChange)
			room.Post("/participants/{participantId}/offer", h.Offer)
			room.Get("/events", h.Events)
		})
	})
	return router
}

// requestLogger logs each request and puts a request-scoped logger in the
// request context.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqLog := log.With(slog.String("request_id", middleware.GetReqID(r.Context())))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context(), reqLog)))

			reqLog.Info("http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)))
		})
	}
}
