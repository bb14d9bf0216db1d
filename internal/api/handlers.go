/**
 * @description
 * HTTP handlers of the status API: persisted claim records per user and the
 * result of the most recent scheduled pass.
 */
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/rencire/free-games-claimer/internal/app"
	"github.com/rencire/free-games-claimer/internal/domain"
)

// ClaimReader reads persisted ledgers.
type ClaimReader interface {
	Load(ctx context.Context, namespace string) ([]domain.ClaimRecord, error)
	ListNamespaces(ctx context.Context) ([]string, error)
}

// RunStatus reports the most recent claim pass.
type RunStatus interface {
	LastRun() (*app.RunResult, error)
}

// Handler serves the status routes.
type Handler struct {
	claims ClaimReader
	runs   RunStatus
	logger *slog.Logger
}

// NewHandler creates a new Handler. runs may be nil when no scheduler is running.
func NewHandler(claims ClaimReader, runs RunStatus, logger *slog.Logger) *Handler {
	return &Handler{claims: claims, runs: runs, logger: logger}
}

type lastRunResponse struct {
	Result *app.RunResult `json:"result"`
	Error  string         `json:"error,omitempty"`
}

func (h *Handler) handleListNamespaces(w http.ResponseWriter, r *http.Request) {
	namespaces, err := h.claims.ListNamespaces(r.Context())
	if err != nil {
		h.logger.Error("failed to list ledgers", "error", err)
		http.Error(w, "failed to list ledgers", http.StatusInternalServerError)
		return
	}
	if namespaces == nil {
		namespaces = []string{}
	}
	respondWithJSON(w, http.StatusOK, map[string][]string{"users": namespaces})
}

func (h *Handler) handleGetClaims(w http.ResponseWriter, r *http.Request) {
	user := strings.TrimSpace(chi.URLParam(r, "user"))
	if user == "" {
		http.Error(w, "user is required", http.StatusBadRequest)
		return
	}

	records, err := h.claims.Load(r.Context(), user)
	if err != nil {
		h.logger.Error("failed to load ledger", "user", user, "error", err)
		http.Error(w, "failed to load ledger", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []domain.ClaimRecord{}
	}
	respondWithJSON(w, http.StatusOK, records)
}

func (h *Handler) handleGetLastRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		http.Error(w, "scheduler is not running", http.StatusNotFound)
		return
	}
	res, err := h.runs.LastRun()
	if res == nil {
		http.Error(w, "no claim pass has run yet", http.StatusNotFound)
		return
	}

	resp := lastRunResponse{Result: res}
	if err != nil {
		resp.Error = err.Error()
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
