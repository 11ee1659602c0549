package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"studio-backend/internal/handlers"
	"studio-backend/internal/middleware"
	"studio-backend/internal/websocket"
)

func New(
	imageHandler *handlers.ImageHandler,
	sessionHandler *handlers.SessionHandler,
	wsHub *websocket.Hub,
	generateLimiter *middleware.RateLimiter,
	logger *slog.Logger,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.CORS(frontendURL))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// ──── Image Proxy ────
	r.With(generateLimiter.Middleware).Post("/api/generate-image", imageHandler.Generate)

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Session Routes ────
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", sessionHandler.Create)
			r.Get("/{id}", sessionHandler.Get)
			r.Delete("/{id}", sessionHandler.Delete)
			r.With(generateLimiter.Middleware).Post("/{id}/messages", sessionHandler.SubmitPrompt)
			r.Put("/{id}/active", sessionHandler.SelectImage)
			r.Put("/{id}/seed", sessionHandler.UploadSeed)
			r.Delete("/{id}/seed", sessionHandler.ClearSeed)
			r.Put("/{id}/settings", sessionHandler.UpdateSettings)
			r.Post("/{id}/reset", sessionHandler.Reset)
		})

		// ──── WebSocket ────
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r
}
