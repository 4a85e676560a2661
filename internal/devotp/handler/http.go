// Package handler serves the dev-only code lookup endpoint.
package handler

import (
	"net/http"
	"strings"

	"webpanel-gate/internal/devotp"
	"webpanel-gate/internal/platform/httpx"
)

const devOTPNote = "DEV MODE ONLY"

// Handler serves GET /dev/verification/code?token=. Only mounted when dev code capture is enabled
// and APP_ENV is not production.
type Handler struct {
	store devotp.Store
}

// NewHandler returns a Handler that reads codes from store.
func NewHandler(store devotp.Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		httpx.WriteError(w, http.StatusBadRequest, "token is required")
		return
	}
	code, ok := h.store.Get(r.Context(), token)
	if !ok {
		httpx.WriteError(w, http.StatusNotFound, "code not found or expired")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"code": code, "note": devOTPNote})
}
