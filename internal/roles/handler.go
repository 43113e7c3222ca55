package roles

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-feed/odyssey-feed/internal/platform/httpx"
	"github.com/odyssey-feed/odyssey-feed/internal/shared"
)

// Handler manages role management endpoints. Authorization is applied by the
// router around MountRoutes.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listRoles)
	r.Post("/", h.upsertRole)
	r.Put("/{id}", h.upsertRole)
	r.Delete("/{id}", h.deleteRole)
	r.Get("/{id}/members", h.listMembers)
	r.Put("/{id}/members/{actor}", h.addMember)
	r.Delete("/{id}/members/{actor}", h.removeMember)
	r.Put("/{id}/actors/{actor}", h.assignMainRole)
}

type roleRequest struct {
	ID          string `json:"id" validate:"omitempty,max=64"`
	ParentID    string `json:"parent_id" validate:"omitempty,max=64"`
	Weight      int    `json:"weight" validate:"gte=0"`
	Description string `json:"description" validate:"max=500"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.logger.Error("list roles", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *Handler) upsertRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.NewValidationError("body", "malformed JSON"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		details := make(map[string]string)
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range fieldErrs {
				details[fe.Field()] = "failed on " + fe.Tag()
			}
		}
		httpx.RespondError(w, &shared.ValidationError{Details: details})
		return
	}
	if id := chi.URLParam(r, "id"); id != "" {
		req.ID = id
	}
	saved, err := h.service.UpsertRole(r.Context(), Role{
		ID:          req.ID,
		ParentID:    req.ParentID,
		Weight:      req.Weight,
		Description: req.Description,
	})
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

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteRole(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.service.Members(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if members == nil {
		members = []string{}
	}
	httpx.JSON(w, http.StatusOK, members)
}

func (h *Handler) addMember(w http.ResponseWriter, r *http.Request) {
	if err := h.service.AddMember(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "actor")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeMember(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RemoveMember(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "actor")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) assignMainRole(w http.ResponseWriter, r *http.Request) {
	if err := h.service.AssignMainRole(r.Context(), chi.URLParam(r, "actor"), chi.URLParam(r, "id")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
