package middleware

import (
	"encoding/json"
	"net/http"
	"time"
)

// DefaultRequestTimeout bounds a request including the stats cascade it triggers
const DefaultRequestTimeout = 30 * time.Second

// Timeout cancels the request context after timeout and answers 503 with
// the error envelope if the handler has not written a response by then
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := json.Marshal(newErrorResponse(r, "Service Unavailable", "Request timed out"))
			if err != nil {
				body = []byte(`{"success":false,"error":"Service Unavailable"}`)
			}
			http.TimeoutHandler(next, timeout, string(body)).ServeHTTP(w, r)
		})
	}
}
