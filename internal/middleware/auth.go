// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/wavelink-im/chat-platform/internal/auth"
	"github.com/wavelink-im/chat-platform/internal/model"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// UserKey is the context key for the resolved user.
	UserKey ContextKey = "user"
	// CredentialKey is the context key for the raw bearer credential.
	CredentialKey ContextKey = "credential"
)

// Auth creates authentication middleware. The bearer credential is
// resolved once per request; the resolved user and the raw credential
// are both placed on the context. The raw credential is kept because
// subscription filters re-resolve it per event.
func Auth(resolver auth.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential := extractCredential(r)
			if credential == "" {
				http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
				return
			}

			user, err := resolver.Resolve(r.Context(), credential)
			if err != nil {
				http.Error(w, `{"error":"invalid credential"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserKey, user)
			ctx = context.WithValue(ctx, CredentialKey, credential)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractCredential pulls the bearer token from the Authorization header,
// falling back to the access_token query parameter for EventSource
// clients that cannot set headers.
func extractCredential(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

// GetUser gets the resolved user from context.
func GetUser(ctx context.Context) *model.User {
	if v := ctx.Value(UserKey); v != nil {
		return v.(*model.User)
	}
	return nil
}

// GetCredential gets the raw bearer credential from context.
func GetCredential(ctx context.Context) string {
	if v := ctx.Value(CredentialKey); v != nil {
		return v.(string)
	}
	return ""
}
