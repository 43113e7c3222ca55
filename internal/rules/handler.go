package rules

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-feed/odyssey-feed/internal/platform/httpx"
	"github.com/odyssey-feed/odyssey-feed/internal/shared"
)

// Handler manages ACL rule endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers rule routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.upsert)
	r.Put("/{id}", h.upsert)
	r.Delete("/{id}", h.delete)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	rules, err := h.service.ListRules(r.Context())
	if err != nil {
		h.logger.Error("list rules", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if rules == nil {
		rules = []Rule{}
	}
	httpx.JSON(w, http.StatusOK, rules)
}

func (h *Handler) upsert(w http.ResponseWriter, r *http.Request) {
	var rule Rule
	if err := httpx.DecodeJSON(r, &rule); err != nil {
		httpx.RespondError(w, shared.NewValidationError("body", "malformed JSON"))
		return
	}
	if id := chi.URLParam(r, "id"); id != "" {
		rule.ID = id
	}
	saved, err := h.service.UpsertRule(r.Context(), rule)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	status := http.StatusOK
	if r.Method == http.MethodPost {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, saved)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteRule(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
