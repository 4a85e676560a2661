package interceptors

import (
	"context"
	"errors"
	"net/http"

	"webpanel-gate/internal/platform/httpx"
	"webpanel-gate/internal/platform/logx"
)

// SessionCookieName is the cookie that carries the panel session ID.
const SessionCookieName = "session_id"

// ErrNoSession is returned by SessionFromRequest when the request carries no session cookie.
var ErrNoSession = errors.New("no session cookie")

// SessionValidator resolves a session ID to its username.
type SessionValidator interface {
	Validate(ctx context.Context, id string) (string, error)
}

// SessionFromRequest returns the session cookie value of r, or ErrNoSession.
func SessionFromRequest(r *http.Request) (string, error) {
	c, err := r.Cookie(SessionCookieName)
	if err != nil || c.Value == "" {
		return "", ErrNoSession
	}
	return c.Value, nil
}

// RequireSession returns a middleware that validates the session cookie and sets username and
// session_id in context for protected routes. Requests without a valid session get 401.
func RequireSession(sessions SessionValidator) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := SessionFromRequest(r)
			if err != nil {
				httpx.WriteError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			username, err := sessions.Validate(r.Context(), id)
			if err != nil {
				logx.FromContext(r.Context()).Debug("auth: session rejected", "error", err)
				httpx.WriteError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			ctx := WithIdentity(r.Context(), username, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
