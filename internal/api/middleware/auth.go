package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pysugar/trade-nexus/internal/db"
	"gorm.io/gorm"
)

// UserHeader carries the authenticated end user forwarded by the front end.
const UserHeader = "X-Nexus-User"

type contextKey string

const userIDKey contextKey = "userId"

// APIKeyAuth validates the API key from the Authorization header (Bearer)
// or the x-api-key header.
func APIKeyAuth(database *gorm.DB) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			expectedKey := db.GetAPIKey(database)
			if expectedKey == "" {
				// No key stored yet (first run before EnsureAPIKey)
				next.ServeHTTP(w, r)
				return
			}

			if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && equal(token, expectedKey) {
				next.ServeHTTP(w, r)
				return
			}
			if equal(r.Header.Get("x-api-key"), expectedKey) {
				next.ServeHTTP(w, r)
				return
			}

			writeError(w, http.StatusUnauthorized, "Invalid API key", "authentication_error")
		})
	}
}

// AdminAuth requires HTTP basic auth with password when one is configured.
func AdminAuth(password string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if password == "" {
				next.ServeHTTP(w, r)
				return
			}
			_, pass, ok := r.BasicAuth()
			if !ok || !equal(pass, password) {
				w.Header().Set("WWW-Authenticate", `Basic realm="Trade Nexus Admin"`)
				writeError(w, http.StatusUnauthorized, "Unauthorized", "authentication_error")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireUser resolves the end user from UserHeader and rejects requests
// without one.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserHeader))
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "Login required", "authentication_error")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserID returns the user resolved by RequireUser, or "".
func UserID(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func writeError(w http.ResponseWriter, status int, message, errType string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"message": message, "type": errType},
	})
}
