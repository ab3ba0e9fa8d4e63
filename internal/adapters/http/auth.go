package httpadapter

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const userIDHeader = "X-User-Id"

type userIDContextKey struct{}

func userIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDContextKey{}).(string)
	return userID
}

// authMiddleware resolves the caller identity. With a secret configured the
// caller must present an HS256 bearer token whose sub (or user_id) claim is
// the user id; otherwise the X-User-Id header set by an upstream gateway is
// trusted.
func authMiddleware(secret string) func(http.Handler) http.Handler {
	hmacSecret := []byte(secret)
	keyFunc := func(token *jwt.Token) (any, error) {
		return hmacSecret, nil
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var userID string
			if len(hmacSecret) == 0 {
				userID = strings.TrimSpace(r.Header.Get(userIDHeader))
			} else {
				id, err := userIDFromBearer(parser, keyFunc, r.Header.Get("Authorization"))
				if err != nil {
					writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid or missing bearer token"})
					return
				}
				userID = id
			}
			if userID == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			ctx := context.WithValue(r.Context(), userIDContextKey{}, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func userIDFromBearer(parser *jwt.Parser, keyFunc jwt.Keyfunc, header string) (string, error) {
	header = strings.TrimSpace(header)
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", fmt.Errorf("missing bearer prefix")
	}
	tokenStr := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))

	claims := jwt.MapClaims{}
	token, err := parser.ParseWithClaims(tokenStr, claims, keyFunc)
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("token is not valid")
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}
	if userID, ok := claims["user_id"].(string); ok && userID != "" {
		return userID, nil
	}
	return "", fmt.Errorf("token has no subject")
}
