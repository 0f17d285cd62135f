// Package middleware provides the HTTP middleware stack: request IDs,
// authentication, and rate limiting.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/Strob0t/Concord/internal/logger"
)

const headerRequestID = "X-Request-ID"

// RequestID assigns each request an ID, honoring one supplied by the
// client, and echoes it in the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}
