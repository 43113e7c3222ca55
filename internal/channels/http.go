package channels

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-feed/odyssey-feed/internal/platform/httpx"
	"github.com/odyssey-feed/odyssey-feed/internal/shared"
)

// Handler wires HTTP endpoints for channels.
type Handler struct {
	service   *Service
	logger    *slog.Logger
	validator *validator.Validate
	heartbeat time.Duration
}

// NewHandler constructs a Handler instance.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger, validator: validator.New(), heartbeat: 25 * time.Second}
}

// MountRoutes registers the read and stream routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/channels", h.list)
	r.Put("/channels/{id}", h.update)
	r.Get("/channels/{id}/activities", h.activities)
	r.Post("/hooks/channels/{id}", h.webhook)
}

// MountStreamRoutes registers the long lived event stream. It must not sit
// behind a request timeout.
func (h *Handler) MountStreamRoutes(r chi.Router) {
	r.Get("/channels/{id}/events", h.events)
}

// MountAdminRoutes registers channel creation; the caller applies the CRUD gate.
func (h *Handler) MountAdminRoutes(r chi.Router) {
	r.Post("/channels", h.create)
}

type channelRequest struct {
	ID      string   `json:"id" validate:"required,max=120"`
	Title   string   `json:"title" validate:"max=200"`
	Members []string `json:"members" validate:"dive,required"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req channelRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.NewValidationError("body", "malformed JSON"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, structErrors(err))
		return
	}
	ch, err := h.service.CreateChannel(r.Context(), shared.ActorFromContext(r.Context()),
		Channel{ID: req.ID, Title: req.Title, Members: req.Members})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ch)
}

type channelUpdateRequest struct {
	Title   string   `json:"title" validate:"max=200"`
	Members []string `json:"members" validate:"dive,required"`
}

// update is gated per channel by the service, so it stays out of the admin group.
func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var req channelUpdateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.NewValidationError("body", "malformed JSON"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, structErrors(err))
		return
	}
	ch, err := h.service.UpdateChannel(r.Context(), shared.ActorFromContext(r.Context()),
		Channel{ID: chi.URLParam(r, "id"), Title: req.Title, Members: req.Members})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ch)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	channels, err := h.service.Channels(r.Context(), shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, channels)
}

func (h *Handler) activities(w http.ResponseWriter, r *http.Request) {
	activities, err := h.service.Activities(r.Context(), shared.ActorFromContext(r.Context()), chi.URLParam(r, "id"), 50)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, activities)
}

// events streams change events as newline delimited JSON until the client
// goes away. Idle streams get a blank heartbeat line.
func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "id")
	events, err := h.service.Subscribe(r.Context(), shared.ActorFromContext(r.Context()), channelID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rc := http.NewResponseController(w)
	// streams outlive the server write timeout
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Warn("event stream unsupported", slog.String("channel", channelID), slog.Any("error", err))
		return
	}

	enc := json.NewEncoder(w)
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := w.Write([]byte("\n")); err != nil {
				return
			}
			_ = rc.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := enc.Encode(ev); err != nil {
				h.logger.Debug("event stream closed", slog.String("channel", channelID), slog.Any("error", err))
				return
			}
			_ = rc.Flush()
		}
	}
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	var msg Activity
	if err := httpx.DecodeJSON(r, &msg); err != nil {
		httpx.RespondError(w, shared.NewValidationError("body", "malformed JSON"))
		return
	}
	saved, err := h.service.PublishChecked(r.Context(), shared.ActorFromContext(r.Context()), chi.URLParam(r, "id"), msg)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, saved)
}

func structErrors(err error) error {
	details := make(map[string]string)
	if fieldErrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range fieldErrs {
			details[fe.Field()] = "failed on " + fe.Tag()
		}
	} else {
		details["body"] = err.Error()
	}
	return &shared.ValidationError{Details: details}
}
