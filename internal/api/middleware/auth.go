package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/3T-LVTN/model/internal/api/models"
	"github.com/3T-LVTN/model/internal/auth"
)

type subjectKey struct{}

// AdminValidator validates admin bearer tokens.
type AdminValidator interface {
	ValidateAdminToken(token string) (*auth.JWTClaims, error)
}

// AdminAuth rejects requests without a valid admin bearer token: 401 for
// missing or invalid tokens, 403 for valid tokens without the admin role.
func AdminAuth(validator AdminValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const bearerPrefix = "Bearer "
			header := r.Header.Get("Authorization")
			if header == "" {
				writeUnauthorized(w, r, "missing authorization header")
				return
			}
			if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
				writeUnauthorized(w, r, "invalid authorization header format")
				return
			}
			token := strings.TrimSpace(header[len(bearerPrefix):])
			if token == "" {
				writeUnauthorized(w, r, "missing bearer token")
				return
			}

			claims, err := validator.ValidateAdminToken(token)
			switch {
			case err == nil:
			case errors.Is(err, auth.ErrForbidden):
				problem := models.NewForbidden(GetRequestID(r.Context()), "admin role required")
				problem.Instance = r.URL.Path
				problem.Write(w)
				return
			case errors.Is(err, auth.ErrAccessTokenExpired):
				writeUnauthorized(w, r, "access token has expired")
				return
			default:
				writeUnauthorized(w, r, "invalid access token")
				return
			}

			ctx := context.WithValue(r.Context(), subjectKey{}, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	problem := models.NewUnauthorized(GetRequestID(r.Context()), detail)
	problem.Instance = r.URL.Path
	w.Header().Set("WWW-Authenticate", `Bearer realm="model-admin"`)
	problem.Write(w)
}

// GetSubject returns the authenticated token subject, or "".
func GetSubject(ctx context.Context) string {
	if s, ok := ctx.Value(subjectKey{}).(string); ok {
		return s
	}
	return ""
}
