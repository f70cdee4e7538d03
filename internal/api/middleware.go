package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/talonhq/linkpilot/internal/ratelimit"
	"github.com/talonhq/linkpilot/pkg/models"
)

// RateLimitMiddleware enforces the per-user limit on session lifecycle
// endpoints. Requests without a resolvable user pass through; the
// handler will reject them anyway.
func RateLimitMiddleware(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := requestUserID(r)
			if userID == "" {
				next.ServeHTTP(w, r)
				return
			}

			if !limiter.Allow(userID) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(models.ErrorResponse{
					Error: "rate limit exceeded",
				})
				return
			}

			w.Header().Set("X-RateLimit-Remaining",
				strconv.Itoa(int(limiter.Tokens(userID))))
			next.ServeHTTP(w, r)
		})
	}
}

// requestUserID resolves the user from the path, query, header or, last,
// a JSON body. Session creation carries the user only in the body, and it
// is the one route that may launch Chrome, so the limiter must see it.
func requestUserID(r *http.Request) string {
	if id := mux.Vars(r)["userId"]; id != "" {
		return id
	}
	if id := r.URL.Query().Get("userId"); id != "" {
		return id
	}
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return bodyUserID(r)
}

// bodyUserID peeks a JSON body for a userId field, restoring the body so
// the handler can still decode it.
func bodyUserID(r *http.Request) string {
	if r.Body == nil {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return ""
	}

	var payload struct {
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.UserID
}
