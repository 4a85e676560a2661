package interceptors

import (
	"net/http"

	"webpanel-gate/internal/platform/httpx"
)

// AuditContext returns a middleware that stores the request's client IP in context, where the audit
// logger's IP extractor (ClientIP) picks it up. Mount it before any handler that audits.
func AuditContext() httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithClientIP(r.Context(), httpx.ClientIP(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
