// Package issuer guards factory-facing endpoints with a shared issuer token.
package issuer

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"skern/pkg/requestcontext"
)

const Header = "X-Issuer-Token"

// RequireToken rejects requests whose issuer token does not match. The
// comparison is constant time.
func RequireToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(Header)
			if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				ctx := r.Context()
				logger.WarnContext(ctx, "issuer token mismatch",
					"request_id", requestcontext.RequestID(ctx),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"issuer token required"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
