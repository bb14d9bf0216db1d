/**
 * @description
 * HTTP router for the read-only status API using go-chi/chi.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers the status routes. When
// jwtSecret is empty the claim routes are open.
func NewRouter(h *Handler, allowedOrigins []string, jwtSecret string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Claimer is healthy"))
	})

	r.Group(func(r chi.Router) {
		r.Use(BearerAuthMiddleware(jwtSecret))
		r.Get("/claims", h.handleListNamespaces)
		r.Get("/claims/{user}", h.handleGetClaims)
		r.Get("/runs/last", h.handleGetLastRun)
	})

	return r
}
