package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/odyssey-feed/odyssey-feed/internal/auth"
	"github.com/odyssey-feed/odyssey-feed/internal/observability"
	"github.com/odyssey-feed/odyssey-feed/internal/platform/httpx"
	"github.com/odyssey-feed/odyssey-feed/internal/shared"
)

// TokenResolver maps a bearer token onto the actor it was issued for.
type TokenResolver interface {
	Resolve(ctx context.Context, raw string) (*shared.ActorToken, error)
}

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger  *slog.Logger
	Config  *Config
	Tokens  TokenResolver
	Metrics *observability.Metrics
}

// ActorMiddleware attaches the caller's token to the request context.
// Requests without a bearer token continue as the guest actor.
func ActorMiddleware(tokens TokenResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := auth.BearerToken(r)
			if !ok || tokens == nil {
				next.ServeHTTP(w, r)
				return
			}
			token, err := tokens.Resolve(r.Context(), raw)
			if err != nil {
				if !errors.Is(err, shared.ErrUnauthorized) {
					logger.Error("resolve actor token", slog.Any("error", err))
				}
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), token)))
		})
	}
}

// MiddlewareStack installs the middleware chain shared by every route.
// Request timeouts are applied per route group by the router.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		SSLRedirect:           cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:         cfg.Config == nil || !cfg.Config.IsProduction(),
	})

	perMinute := 600
	if cfg.Config != nil && cfg.Config.RateLimitPerMinute > 0 {
		perMinute = cfg.Config.RateLimitPerMinute
	}

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					logger.Warn("secure headers blocked request", slog.Any("error", err))
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		middleware.Compress(5, "application/json", "application/problem+json"),
		httprate.Limit(perMinute, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
		ActorMiddleware(cfg.Tokens, logger),
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, func(next http.Handler) http.Handler {
			return cfg.Metrics.Middleware(next)
		})
	}
	return middlewares
}

// requestTimeout returns the configured per request deadline.
func requestTimeout(cfg *Config) time.Duration {
	if cfg != nil && cfg.AppRequestTimeout > 0 {
		return cfg.AppRequestTimeout
	}
	return 30 * time.Second
}
