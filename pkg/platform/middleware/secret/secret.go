// Package secret guards routes that callers authenticate with a shared
// secret embedded in the URL, such as chat platform webhooks.
package secret

import (
	"crypto/subtle"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"regdesk/pkg/requestcontext"
)

// RequireURLParam rejects requests whose chi URL parameter param does not
// equal expected. An empty expected secret rejects everything.
func RequireURLParam(param, expected string, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := chi.URLParam(r, param)
			if expected == "" || subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
				log.Warn("shared secret mismatch",
					zap.String("path", r.URL.Path),
					zap.String("request_id", requestcontext.RequestID(r.Context())),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
