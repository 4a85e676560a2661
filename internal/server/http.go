package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	devotphandler "webpanel-gate/internal/devotp/handler"
	healthhandler "webpanel-gate/internal/health/handler"
	identityhandler "webpanel-gate/internal/identity/handler"
	"webpanel-gate/internal/platform/httpx"
	"webpanel-gate/internal/platform/logx"
	"webpanel-gate/internal/server/interceptors"
)

// NewRouter returns the panel's HTTP handler: health, login endpoints and the session-guarded API.
func NewRouter(a *App, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(httpx.TrustProxies(a.TrustedProxies))
	r.Use(middleware.RequestID)
	r.Use(logx.HTTPMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(interceptors.AuditContext())
	r.Use(interceptors.TelemetryHTTP(a.Events, map[string]bool{"/healthz": true}))

	r.Method(http.MethodGet, "/healthz", healthhandler.NewHTTPHandler(a.Health))
	if a.DevCodes != nil {
		r.Method(http.MethodGet, "/dev/verification/code", devotphandler.NewHandler(a.DevCodes))
	}

	var loginLimit httpx.Middleware = httpx.RateLimitByIP(a.Config.LoginRatePerMinute)
	if a.Config.LoginRatePerMinute <= 0 {
		loginLimit = passThrough
	}
	h := identityhandler.NewHandler(a.Auth, a.Settings, identityhandler.CookieOptions{
		MaxAge: a.Config.SessionTTL(),
		Secure: a.Config.SessionCookieSecure,
	})
	h.Register(r, loginLimit, interceptors.RequireSession(a.Sessions))
	return r
}

func passThrough(next http.Handler) http.Handler { return next }
