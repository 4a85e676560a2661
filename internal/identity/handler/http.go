// Package handler serves the panel's login endpoints: primary login, status polling, manual code
// entry, logout, the current user and the runtime bot-approval toggle.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"webpanel-gate/internal/identity/service"
	mfadomain "webpanel-gate/internal/mfa/domain"
	mfarepo "webpanel-gate/internal/mfa/repository"
	"webpanel-gate/internal/notifier"
	"webpanel-gate/internal/platform/httpx"
	"webpanel-gate/internal/platform/logx"
	platformsettingsdomain "webpanel-gate/internal/platformsettings/domain"
	"webpanel-gate/internal/server/interceptors"
	sessiondomain "webpanel-gate/internal/session/domain"
	sessionrepo "webpanel-gate/internal/session/repository"
)

// User-facing messages.
const (
	msgNotifyFailed   = "Failed to send 2FA code. Check bot settings."
	msgSessionExpired = "session expired, please log in again"
	msgCodeExpired    = "code expired, please log in again"
	msgInvalidCode    = "invalid code"
	msgTooManyTries   = "too many attempts, please log in again"
	msgDenied         = "login denied"
	msgAlreadyUsed    = "approval already used, please log in again"
	msgBadCredentials = "invalid username or password"
	msgUnavailable    = "service temporarily unavailable"
	msgInternal       = "internal error"
)

// AuthService is the login flow as used by the handler.
type AuthService interface {
	Login(ctx context.Context, username, password, clientIP string) (*service.LoginResult, error)
	PollStatus(ctx context.Context, token, clientIP string) (*service.PollResult, error)
	VerifyCode(ctx context.Context, token, code, clientIP string) (*service.PollResult, error)
	Logout(ctx context.Context, sessionID string) error
}

// SettingsService reads and writes the runtime bot-approval toggle.
type SettingsService interface {
	AuthSettings(ctx context.Context) (*platformsettingsdomain.AuthSettings, error)
	SetTelegramAuthEnabled(ctx context.Context, enabled bool, actor string) error
}

// CookieOptions controls the session cookie.
type CookieOptions struct {
	MaxAge time.Duration
	Secure bool
}

// Handler serves the login endpoints.
type Handler struct {
	auth     AuthService
	settings SettingsService
	cookie   CookieOptions
}

// NewHandler returns a Handler. settings may be nil, in which case the toggle endpoints are not mounted.
func NewHandler(auth AuthService, settings SettingsService, cookie CookieOptions) *Handler {
	return &Handler{auth: auth, settings: settings, cookie: cookie}
}

// Register mounts the handler's routes on r. loginLimit wraps the endpoints that check a secret
// (/login, /verify-2fa); requireSession wraps the /api/v1 routes.
func (h *Handler) Register(r chi.Router, loginLimit, requireSession httpx.Middleware) {
	r.With(loginLimit).Post("/login", h.Login)
	r.Post("/check-2fa-status", h.CheckStatus)
	r.With(loginLimit).Post("/verify-2fa", h.VerifyCode)
	r.Get("/logout", h.Logout)
	r.Post("/logout", h.Logout)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(requireSession)
		r.Get("/me", h.Me)
		if h.settings != nil {
			r.Get("/config/telegram-auth", h.GetTelegramAuth)
			r.Put("/config/telegram-auth", h.PutTelegramAuth)
		}
	})
}

// Login checks the primary credentials. Responds with a session cookie, or with a verification
// token the browser polls with.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	form, err := httpx.Decode(w, r, "username", "password")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if form["username"] == "" || form["password"] == "" {
		httpx.WriteError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	res, err := h.auth.Login(r.Context(), form["username"], form["password"], httpx.ClientIP(r))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if res.MFARequired {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "mfa_required", "token": res.Token})
		return
	}
	h.setSessionCookie(w, res.Session)
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CheckStatus reports the verification state; on approval it sets the session cookie.
func (h *Handler) CheckStatus(w http.ResponseWriter, r *http.Request) {
	form, err := httpx.Decode(w, r, "token")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.auth.PollStatus(r.Context(), form["token"], httpx.ClientIP(r))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if res.Session != nil {
		h.setSessionCookie(w, res.Session)
	}
	body := map[string]string{"status": string(res.State)}
	if msg := stateMessage(res.State); msg != "" {
		body["message"] = msg
	}
	httpx.WriteJSON(w, http.StatusOK, body)
}

// VerifyCode approves the verification with the code typed on the web.
func (h *Handler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	form, err := httpx.Decode(w, r, "token", "code")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if form["token"] == "" {
		writeState(w, http.StatusBadRequest, mfadomain.StateInvalid)
		return
	}
	res, err := h.auth.VerifyCode(r.Context(), form["token"], form["code"], httpx.ClientIP(r))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	switch res.State {
	case mfadomain.StateApproved:
		if res.Session == nil {
			writeState(w, http.StatusConflict, mfadomain.StateConsumed)
			return
		}
		h.setSessionCookie(w, res.Session)
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": string(res.State)})
	case mfadomain.StateDenied:
		writeState(w, http.StatusForbidden, res.State)
	case mfadomain.StateConsumed:
		writeState(w, http.StatusConflict, res.State)
	case mfadomain.StatePending:
		writeState(w, http.StatusAccepted, res.State)
	default:
		writeState(w, http.StatusBadRequest, res.State)
	}
}

// Logout revokes the session (if any) and clears the cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if id, err := interceptors.SessionFromRequest(r); err == nil {
		if err := h.auth.Logout(r.Context(), id); err != nil {
			logx.FromContext(r.Context()).Error("auth: logout revoke failed", "error", err)
		}
	}
	h.clearSessionCookie(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Me returns the current user. Mounted behind RequireSession.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	username, _ := interceptors.GetUsername(r.Context())
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"username": username})
}

type telegramAuthBody struct {
	Enabled   *bool      `json:"enabled"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// GetTelegramAuth returns the bot-approval toggle.
func (h *Handler) GetTelegramAuth(w http.ResponseWriter, r *http.Request) {
	st, err := h.settings.AuthSettings(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, telegramAuthBody{Enabled: &st.TelegramAuthEnabled, UpdatedAt: st.UpdatedAt})
}

// PutTelegramAuth sets the bot-approval toggle.
func (h *Handler) PutTelegramAuth(w http.ResponseWriter, r *http.Request) {
	var body telegramAuthBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&body); err != nil || body.Enabled == nil {
		httpx.WriteError(w, http.StatusBadRequest, `body must be {"enabled": true|false}`)
		return
	}
	username, _ := interceptors.GetUsername(r.Context())
	if err := h.settings.SetTelegramAuthEnabled(r.Context(), *body.Enabled, username); err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.GetTelegramAuth(w, r)
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, sess *sessiondomain.Session) {
	maxAge := h.cookie.MaxAge
	if maxAge <= 0 {
		maxAge = sess.ExpiresAt.Sub(sess.CreatedAt)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     interceptors.SessionCookieName,
		Value:    sess.ID,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     interceptors.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// writeErr maps service errors to HTTP responses.
func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		httpx.WriteError(w, http.StatusUnauthorized, msgBadCredentials)
	case errors.Is(err, service.ErrCodeMismatch):
		httpx.WriteError(w, http.StatusBadRequest, msgInvalidCode)
	case errors.Is(err, service.ErrTooManyAttempts):
		httpx.WriteError(w, http.StatusForbidden, msgTooManyTries)
	case errors.Is(err, notifier.ErrNotificationFailed):
		httpx.WriteError(w, http.StatusBadGateway, msgNotifyFailed)
	case errors.Is(err, mfarepo.ErrStoreUnavailable), errors.Is(err, sessionrepo.ErrStoreUnavailable):
		logx.FromContext(r.Context()).Error("auth: store unavailable", "error", err)
		httpx.WriteError(w, http.StatusServiceUnavailable, msgUnavailable)
	default:
		logx.FromContext(r.Context()).Error("auth: request failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, msgInternal)
	}
}

func writeState(w http.ResponseWriter, code int, state mfadomain.State) {
	body := map[string]string{"status": string(state)}
	if msg := stateMessage(state); msg != "" {
		body["error"] = msg
	}
	httpx.WriteJSON(w, code, body)
}

func stateMessage(state mfadomain.State) string {
	switch state {
	case mfadomain.StateInvalid:
		return msgSessionExpired
	case mfadomain.StateExpired:
		return msgCodeExpired
	case mfadomain.StateDenied:
		return msgDenied
	case mfadomain.StateConsumed:
		return msgAlreadyUsed
	}
	return ""
}
