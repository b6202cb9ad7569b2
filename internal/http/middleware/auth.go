package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/relaycrm/messaging-gateway/internal/tenancy"
)

type contextKey string

const apiClaimsKey contextKey = "apiClaims"

// APIClaims are the claims the CRM backend signs into gateway tokens.
// CompanyID scopes every read and send to one tenant.
type APIClaims struct {
	CompanyID string `json:"company_id"`
	jwt.RegisteredClaims
}

// APIAuth enforces an HMAC-signed JWT and places the token's company id
// in the request context for downstream handlers.
func APIAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "api auth disabled", http.StatusUnauthorized)
				return
			}
			auth := r.Header.Get("Authorization")
			if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			tokenString := strings.TrimPrefix(auth, "Bearer ")
			claims := APIClaims{}
			token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if _, err := uuid.Parse(claims.CompanyID); err != nil {
				http.Error(w, "token missing company scope", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), apiClaimsKey, claims)
			ctx = tenancy.WithCompanyID(ctx, claims.CompanyID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// APIClaimsFromContext returns the verified claims if present.
func APIClaimsFromContext(ctx context.Context) (APIClaims, bool) {
	claims, ok := ctx.Value(apiClaimsKey).(APIClaims)
	return claims, ok
}
