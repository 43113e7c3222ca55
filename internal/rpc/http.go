package rpc

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-feed/odyssey-feed/internal/platform/httpx"
	"github.com/odyssey-feed/odyssey-feed/internal/shared"
)

// maxBody bounds the size of a call payload.
const maxBody = 1 << 20

// HTTPHandler exposes the dispatcher over HTTP.
type HTTPHandler struct {
	dispatcher *Dispatcher
	logger     *slog.Logger
	perMinute  int
}

// NewHTTPHandler builds the transport. perMinute limits calls per actor;
// zero disables the limit.
func NewHTTPHandler(dispatcher *Dispatcher, logger *slog.Logger, perMinute int) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandler{dispatcher: dispatcher, logger: logger, perMinute: perMinute}
}

// MountRoutes registers rpc routes on provided router.
func (h *HTTPHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.perMinute > 0 {
			r.Use(httprate.Limit(h.perMinute, time.Minute, httprate.WithKeyFuncs(actorKey)))
		}
		r.Get("/rpc", h.methods)
		r.Post("/rpc/{method}", h.invoke)
	})
}

// actorKey rate limits authenticated callers per actor and guests per IP.
func actorKey(r *http.Request) (string, error) {
	if actor := shared.ActorFromContext(r.Context()).Actor(); actor != "" {
		return "actor:" + actor, nil
	}
	return httprate.KeyByIP(r)
}

type callRequest struct {
	Args []json.RawMessage `json:"args"`
}

func (h *HTTPHandler) invoke(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := httpx.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		httpx.JSON(w, http.StatusBadRequest, Failure("malformed call payload"))
		return
	}
	method := chi.URLParam(r, "method")
	env := h.dispatcher.Invoke(r.Context(), method, shared.ActorFromContext(r.Context()), req.Args)
	httpx.JSON(w, http.StatusOK, env)
}

func (h *HTTPHandler) methods(w http.ResponseWriter, _ *http.Request) {
	httpx.JSON(w, http.StatusOK, Success(h.dispatcher.Methods()))
}
