package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-feed/odyssey-feed/internal/platform/httpx"
	"github.com/odyssey-feed/odyssey-feed/internal/shared"
)

// Handler wires HTTP endpoints for token issuing.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/token", h.issueToken)
	r.Delete("/token", h.revokeToken)
}

type loginRequest struct {
	ActorID  string `json:"actor_id" validate:"required,max=64"`
	Password string `json:"password" validate:"required,min=8"`
	Locale   string `json:"locale" validate:"omitempty,bcp47_language_tag"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ActorID   string `json:"actor_id"`
	Locale    string `json:"locale,omitempty"`
	ExpiresAt string `json:"expires_at"`
}

func (h *Handler) issueToken(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
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
	token, err := h.service.Login(r.Context(), req.ActorID, req.Password, req.Locale)
	if err != nil {
		h.logger.Warn("token issue failed", slog.String("actor", req.ActorID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, tokenResponse{
		Token:     token.Token,
		ActorID:   token.ActorID,
		Locale:    token.Locale,
		ExpiresAt: token.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

func (h *Handler) revokeToken(w http.ResponseWriter, r *http.Request) {
	raw, ok := BearerToken(r)
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	if err := h.service.Logout(r.Context(), raw); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
