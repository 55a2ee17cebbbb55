// Package requestid assigns a correlation id to every request. Clients may
// supply their own via X-Request-ID; otherwise one is minted.
package requestid

import (
	"net/http"

	"github.com/google/uuid"

	"skern/pkg/requestcontext"
)

const Header = "X-Request-ID"

// Middleware ensures a request id is present in context and echoed back.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(Header)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		w.Header().Set(Header, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
