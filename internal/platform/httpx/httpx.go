// Package httpx holds the small HTTP helpers shared by the web handlers: JSON responses, client IP
// extraction, request body decoding and per-key rate limiting.
package httpx

import (
	"encoding/json"
	"errors"
	"mime"
	"net"
	"net/http"
	"strings"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// WriteJSON writes v as JSON with the given status code. Responses are never cached.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	NoCache(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes {"error": msg}.
func WriteError(w http.ResponseWriter, code int, msg string) {
	WriteJSON(w, code, map[string]string{"error": msg})
}

// NoCache sets the Cache-Control and Pragma headers to prevent caching.
func NoCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

// ClientIP returns the host part of r.RemoteAddr. Forwarding headers are not read here; mount
// TrustProxies so that RemoteAddr is rewritten from them only for requests from a trusted proxy.
func ClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// ErrBadBody is returned by Decode for malformed bodies.
var ErrBadBody = errors.New("malformed request body")

const maxBodyBytes = 64 << 10

// Decode reads named fields from a JSON object body or a form-encoded body (including the query
// string). Missing fields are returned as "".
func Decode(w http.ResponseWriter, r *http.Request, fields ...string) (map[string]string, error) {
	out := make(map[string]string, len(fields))
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return nil, ErrBadBody
		}
		for _, f := range fields {
			if s, ok := body[f].(string); ok {
				out[f] = strings.TrimSpace(s)
			}
		}
		return out, nil
	}
	if err := r.ParseForm(); err != nil {
		return nil, ErrBadBody
	}
	for _, f := range fields {
		out[f] = strings.TrimSpace(r.FormValue(f))
	}
	return out, nil
}
