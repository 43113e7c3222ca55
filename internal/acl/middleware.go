package acl

import (
	"log/slog"
	"net/http"

	"github.com/odyssey-feed/odyssey-feed/internal/platform/httpx"
	"github.com/odyssey-feed/odyssey-feed/internal/shared"
)

// Middleware wires gate checks for HTTP handlers.
type Middleware struct {
	Gate   *Gate
	Domain string
	Logger *slog.Logger
}

// Require lets a request through only when the caller holds every action in
// required on the topic <domain>.<object>.
func (m Middleware) Require(object, required string) func(http.Handler) http.Handler {
	topic := Topic(m.Domain, object)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := shared.ActorFromContext(r.Context())
			if err := m.Gate.Check(r.Context(), token, topic, required, General, ""); err != nil {
				if m.Logger != nil {
					m.Logger.Debug("acl middleware denied",
						slog.String("actor", token.Actor()),
						slog.String("topic", topic),
						slog.String("required", required))
				}
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ForMethod maps an HTTP method onto the CRUD letter it needs.
func ForMethod(method string) string {
	switch method {
	case http.MethodPost:
		return "c"
	case http.MethodPut, http.MethodPatch:
		return "u"
	case http.MethodDelete:
		return "d"
	default:
		return "r"
	}
}

// RequireCRUD is Require with the action derived from the request method.
func (m Middleware) RequireCRUD(object string) func(http.Handler) http.Handler {
	topic := Topic(m.Domain, object)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := shared.ActorFromContext(r.Context())
			if err := m.Gate.Check(r.Context(), token, topic, ForMethod(r.Method), General, ""); err != nil {
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
