// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// StudentIDKey is the context key for the caller's student identity.
	StudentIDKey ContextKey = "student_id"
)

// Claims represents JWT claims. The subject is the caller's account id; a
// student_id claim, when present, overrides it as the recorded identity.
type Claims struct {
	jwt.RegisteredClaims
	StudentID string `json:"student_id"`
}

// Auth creates JWT authentication middleware that rejects anonymous callers.
func Auth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			studentID, ok := parseBearer(r, jwtSecret)
			if !ok {
				http.Error(w, `{"error":"invalid or missing bearer token"}`, http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), StudentIDKey, studentID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth attaches the caller identity when a valid token is present and
// lets anonymous requests through. Anonymous chats are served but never
// recorded.
func OptionalAuth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if studentID, ok := parseBearer(r, jwtSecret); ok {
				ctx := context.WithValue(r.Context(), StudentIDKey, studentID)
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func parseBearer(r *http.Request, jwtSecret string) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return "", false
	}

	if claims.StudentID != "" {
		return claims.StudentID, true
	}
	if claims.Subject != "" {
		return claims.Subject, true
	}
	return "", false
}

// GetStudentID gets the caller's student identity from context, or "" when
// anonymous.
func GetStudentID(ctx context.Context) string {
	if v := ctx.Value(StudentIDKey); v != nil {
		return v.(string)
	}
	return ""
}
