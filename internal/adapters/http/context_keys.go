package http

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

// contextKey is a typed key for request context values.
type contextKey string

// claimsContextKey holds the verified JWT claims.
const claimsContextKey contextKey = "claims"

// ClaimsFromContext returns the claims stored by JWTMiddleware.
func ClaimsFromContext(ctx context.Context) (jwt.MapClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(jwt.MapClaims)
	return claims, ok
}
