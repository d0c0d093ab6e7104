package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lingolab/pairchat/backend/internal/config"
	"github.com/lingolab/pairchat/backend/internal/handler/ws"
	middlewarePkg "github.com/lingolab/pairchat/backend/internal/middleware"
	"github.com/lingolab/pairchat/backend/internal/service/match"
	"github.com/lingolab/pairchat/backend/internal/service/session"
	"github.com/lingolab/pairchat/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(cors config.CORSConfig, wsHandler *ws.Handler, matcher *match.Matchmaker, sessions *session.Manager) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(cors.AllowedOrigins))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{
			"message": "Welcome to the Pairchat matchmaking backend.",
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"waiting": matcher.WaitingCount(),
			"active":  sessions.ActiveCount(),
		})
	})

	wsHandler.RegisterRoutes(r)

	return r
}
