package middleware

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/sealbox/sealbox/internal/ctxkeys"
)

const requestIDHeader = "X-Request-ID"

// RequestID tags every request with an ID, reusing a sane one sent by a
// proxy, and echoes it in the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(ctxkeys.WithRequestID(r.Context(), id)))
	})
}
