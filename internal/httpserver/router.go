package httpserver

import (
	"net/http"

	"aichat/internal/middleware"

	"log/slog"

	"github.com/go-chi/chi/v5"
)

type RouterDeps struct {
	Logger *slog.Logger
	API    *ChatAPI
}

// NewRouter собирает chi-роутер с общими middleware и JSON API чата.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recover(deps.Logger))
	r.Use(middleware.Logging(deps.Logger))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", deps.API.handleChat)
		r.Get("/history", deps.API.handleHistory)
		r.Post("/conversation/new", deps.API.handleNewConversation)
		r.Post("/conversation/clear", deps.API.handleClearConversation)

		r.Get("/config", deps.API.handleGetConfig)
		r.Put("/config", deps.API.handlePutConfig)
		r.Post("/config/provider", deps.API.handleUpsertProvider)
		r.Post("/config/active", deps.API.handleSetActive)

		r.Get("/presets", deps.API.handlePresets)
		r.Post("/presets/render", deps.API.handleRenderTemplate)

		r.Get("/stats", deps.API.handleStats)
	})

	return r
}
