package interceptors

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"webpanel-gate/internal/platform/httpx"
	"webpanel-gate/internal/telemetry"
	"webpanel-gate/internal/telemetry/domain"
)

// TelemetryHTTP returns a middleware that emits an http_request event after each request.
// Best-effort: emits run asynchronously and never fail the request. If emitter is nil, it no-ops.
// skipPaths is the set of URL paths to not emit (e.g. /healthz).
func TelemetryHTTP(emitter telemetry.EventEmitter, skipPaths map[string]bool) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if emitter == nil || skipPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			code := ww.Status()
			if code == 0 {
				code = http.StatusOK
			}
			username, _ := GetUsername(r.Context())
			telemetry.EmitAsync(emitter, r.Context(), &domain.Event{
				Type:     domain.EventHTTPRequest,
				Source:   "http_middleware",
				Outcome:  strconv.Itoa(code),
				Username: username,
				ClientIP: httpx.ClientIP(r),
				Attrs: map[string]string{
					"method":      r.Method,
					"path":        r.URL.Path,
					"duration_ms": strconv.FormatInt(time.Since(start).Milliseconds(), 10),
				},
			})
		})
	}
}

// TelemetryUnary returns a unary server interceptor that emits a grpc_request event after each RPC.
// If emitter is nil, the interceptor no-ops. skipMethods is the set of full method names to not emit.
func TelemetryUnary(emitter telemetry.EventEmitter, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if emitter == nil || skipMethods[info.FullMethod] {
			return resp, err
		}
		telemetry.EmitAsync(emitter, ctx, &domain.Event{
			Type:     domain.EventGRPCRequest,
			Source:   "grpc_interceptor",
			Outcome:  status.Code(err).String(),
			ClientIP: ClientIP(ctx),
			Attrs: map[string]string{
				"full_method": info.FullMethod,
				"duration_ms": strconv.FormatInt(time.Since(start).Milliseconds(), 10),
			},
		})
		return resp, err
	}
}
