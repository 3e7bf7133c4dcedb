// Package middleware provides HTTP middleware for operator authentication.
package middleware

import (
	"context"
	"net/http"
	"strings"
)

// ContextKey is a typed key for context values to avoid collisions.
type ContextKey string

// operatorKey is the context key for the authenticated operator.
const operatorKey ContextKey = "operator"

// TokenValidator validates bearer tokens and returns the operator they were issued to.
type TokenValidator interface {
	ValidateToken(tokenString string) (string, error)
}

// AuthMiddleware creates middleware that validates bearer tokens and adds the
// operator name to the request context.
func AuthMiddleware(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				unauthorized(w)
				return
			}

			operator, err := validator.ValidateToken(token)
			if err != nil {
				unauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), operatorKey, operator)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Operator returns the authenticated operator, or "" when the request was not authenticated.
func Operator(r *http.Request) string {
	op, _ := r.Context().Value(operatorKey).(string)
	return op
}

// bearerToken extracts the token from an Authorization header. The scheme is
// case-insensitive. EventSource clients cannot set headers, so an access_token
// query parameter is accepted as well.
func bearerToken(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.Fields(header)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", false
		}
		return parts[1], true
	}
	if token := r.URL.Query().Get("access_token"); token != "" {
		return token, true
	}
	return "", false
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="agency"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}
