package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type contextKey int

const contextKeyCredential contextKey = iota

// RequestLogger logs every request with method, path, status and latency,
// matching the teacher's RequestLogger middleware convention.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("latency", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// requireCredential extracts the caller's provider credential from the
// Authorization header ("Bearer <token>") and stores it in the request
// context. A missing credential is rejected with 401 (§6: "missing
// credential → 401"). This is deliberately not JWT/OIDC validation — the
// token is an opaque upstream-provider credential forwarded to ProviderClient,
// not a session token this service issues or understands (excluded by
// SPEC_FULL §13 Non-goals).
func requireCredential(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			errUnauthorized(w)
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyCredential, parts[1])
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func credentialFromCtx(ctx context.Context) string {
	cred, _ := ctx.Value(contextKeyCredential).(string)
	return cred
}
