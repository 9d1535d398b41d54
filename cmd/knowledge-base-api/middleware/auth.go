// Package middleware provides HTTP middleware for the knowledge base API.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Context keys for request-scoped values.
type contextKey string

// UserIDKey is the context key for the authenticated user ID.
const UserIDKey contextKey = "user_id"

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Enabled       bool
	SigningSecret string
}

type userClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Auth returns middleware that resolves the calling user. With auth enabled
// it validates an HS256 bearer token and extracts the user_id claim. With
// auth disabled the caller identifies itself via the X-User-ID header, which
// keeps local development and tests simple.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled {
				userID, err := uuid.Parse(r.Header.Get("X-User-ID"))
				if err != nil {
					http.Error(w, `{"error":"missing or invalid X-User-ID header"}`, http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r.WithContext(withUser(r.Context(), userID)))
				return
			}

			authHeader := r.Header.Get("Authorization")
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				http.Error(w, `{"error":"missing or malformed authorization header"}`, http.StatusUnauthorized)
				return
			}

			claims := &userClaims{}
			token, err := jwt.ParseWithClaims(parts[1], claims,
				func(t *jwt.Token) (interface{}, error) {
					if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
						return nil, jwt.ErrSignatureInvalid
					}
					return []byte(cfg.SigningSecret), nil
				},
				jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			)
			if err != nil || !token.Valid {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			userID, err := uuid.Parse(claims.UserID)
			if err != nil {
				http.Error(w, `{"error":"token missing user_id claim"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(withUser(r.Context(), userID)))
		})
	}
}

func withUser(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// UserFromContext extracts the authenticated user ID from context.
func UserFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(UserIDKey).(uuid.UUID)
	return id, ok
}
