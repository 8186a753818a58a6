package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"unicode"

	"github.com/dukerupert/stride/internal/auth"
)

const (
	// UserHeader carries the user id asserted by the upstream auth proxy.
	UserHeader = "X-Stride-User"

	maxUserIDLen = 128
)

// RequireUser reads the user id from UserHeader and populates AuthContext.
// Missing or malformed ids get 401.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserHeader))
		if !validUserID(userID) {
			writeError(w, http.StatusUnauthorized, "missing or invalid user")
			return
		}

		ctx := auth.Update(r.Context(), func(ac *auth.AuthContext) { ac.UserID = userID })
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func validUserID(id string) bool {
	if id == "" || len(id) > maxUserIDLen {
		return false
	}
	for _, r := range id {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// RequireAdmin checks the bearer token against the configured admin token.
// An empty configured token disables the protected routes entirely.
func RequireAdmin(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				writeError(w, http.StatusForbidden, "admin access disabled")
				return
			}
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}

			ctx := auth.Update(r.Context(), func(ac *auth.AuthContext) { ac.Admin = true })
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
