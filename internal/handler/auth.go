package handler

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"
)

// Role is the caller role asserted by the fronting gateway.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// Headers set by the gateway in front of the service. The service trusts
// them as given.
const (
	headerUserID = "X-User-ID"
	headerRole   = "X-User-Role"
)

// Identity is the caller as reported by the gateway.
type Identity struct {
	UserID string
	Role   Role
}

type identityKey struct{}

func identityFrom(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey{}).(Identity)
	return id
}

func identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := Identity{
			UserID: strings.TrimSpace(r.Header.Get(headerUserID)),
			Role:   Role(strings.ToLower(strings.TrimSpace(r.Header.Get(headerRole)))),
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

// requireRole rejects callers whose asserted role is not in allowed.
func requireRole(allowed ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := identityFrom(r.Context())
			if id.UserID == "" {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing " + headerUserID})
				return
			}
			if !slices.Contains(allowed, id.Role) {
				slog.Warn("role not allowed", "path", r.URL.Path, "user_id", id.UserID, "role", id.Role)
				writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
