package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-feed/odyssey-feed/internal/acl"
	"github.com/odyssey-feed/odyssey-feed/internal/auth"
	"github.com/odyssey-feed/odyssey-feed/internal/channels"
	"github.com/odyssey-feed/odyssey-feed/internal/observability"
	"github.com/odyssey-feed/odyssey-feed/internal/roles"
	"github.com/odyssey-feed/odyssey-feed/internal/rpc"
	"github.com/odyssey-feed/odyssey-feed/internal/rules"
	"github.com/odyssey-feed/odyssey-feed/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	Tokens          TokenResolver
	ACL             acl.Middleware
	AuthHandler     *auth.Handler
	RPCHandler      *rpc.HTTPHandler
	ChannelsHandler *channels.Handler
	RolesHandler    *roles.Handler
	RulesHandler    *rules.Handler
	JobHandler      *jobs.Handler
	Metrics         *observability.Metrics
}

// NewRouter constructs the chi.Router with Odyssey defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Tokens:  params.Tokens,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	if params.ChannelsHandler != nil {
		params.ChannelsHandler.MountStreamRoutes(r)
	}

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(requestTimeout(params.Config)))

		if params.AuthHandler != nil {
			r.Route("/auth", params.AuthHandler.MountRoutes)
		}
		if params.RPCHandler != nil {
			params.RPCHandler.MountRoutes(r)
		}
		if params.ChannelsHandler != nil {
			params.ChannelsHandler.MountRoutes(r)
			r.With(params.ACL.RequireCRUD("channel")).Group(params.ChannelsHandler.MountAdminRoutes)
		}
		if params.RolesHandler != nil {
			r.With(params.ACL.RequireCRUD("role")).Route("/roles", params.RolesHandler.MountRoutes)
		}
		if params.RulesHandler != nil {
			r.With(params.ACL.RequireCRUD("rule")).Route("/rules", params.RulesHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.With(params.ACL.Require("jobs", "r")).Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
