package handler

import (
	"net/http"

	"webpanel-gate/internal/platform/httpx"
	"webpanel-gate/internal/platform/logx"
)

// HTTPHandler serves GET /healthz.
type HTTPHandler struct {
	checker *Checker
}

// NewHTTPHandler returns an HTTPHandler using checker.
func NewHTTPHandler(checker *Checker) *HTTPHandler {
	return &HTTPHandler{checker: checker}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rep := h.checker.Check(r.Context())
	if !rep.Serving() {
		logx.FromContext(r.Context()).Warn("health: not serving", "error", rep.Error)
		httpx.WriteJSON(w, http.StatusServiceUnavailable, rep)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rep)
}
