package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3T-LVTN/model/internal/auth"
)

func newService(key, issuer, audience string) *auth.JWTService {
	return auth.NewJWTService(auth.JWTConfig{SigningKey: key, Issuer: issuer, Audience: audience})
}

func TestJWTService_GenerateAndValidateAccessToken(t *testing.T) {
	svc := newService("test-secret-key-for-testing-only", "model-api", "model-admin")

	token, expiresAt, err := svc.GenerateAccessToken("ops@example.com", auth.RoleAdmin)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := svc.ValidateAdminToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", claims.Subject)
	assert.Equal(t, "model-api", claims.Issuer)
	assert.True(t, claims.HasRole(auth.RoleAdmin))
}

func TestJWTService_MissingAdminRole(t *testing.T) {
	svc := newService("test-key", "model-api", "model-admin")

	token, _, err := svc.GenerateAccessToken("viewer")
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(token)
	require.NoError(t, err)

	_, err = svc.ValidateAdminToken(token)
	assert.ErrorIs(t, err, auth.ErrForbidden)
}

func TestJWTService_InvalidToken(t *testing.T) {
	svc := newService("test-key", "model-api", "model-admin")

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"malformed token", "not.a.valid.jwt"},
		{"invalid base64", "xxx.yyy.zzz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ValidateAccessToken(tt.token)
			assert.ErrorIs(t, err, auth.ErrInvalidAccessToken)
		})
	}
}

func TestJWTService_Mismatches(t *testing.T) {
	token, _, err := newService("key-one", "model-api", "model-admin").GenerateAccessToken("ops", auth.RoleAdmin)
	require.NoError(t, err)

	for name, svc := range map[string]*auth.JWTService{
		"signing key": newService("key-two", "model-api", "model-admin"),
		"issuer":      newService("key-one", "other", "model-admin"),
		"audience":    newService("key-one", "model-api", "other"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ValidateAccessToken(token)
			assert.ErrorIs(t, err, auth.ErrInvalidAccessToken)
		})
	}
}

func TestJWTService_Expired(t *testing.T) {
	now := time.Now()
	claims := auth.JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "model-api",
			Audience:  jwt.ClaimStrings{"model-admin"},
			IssuedAt:  jwt.NewNumericDate(now.Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour)),
		},
		Roles: []string{auth.RoleAdmin},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)

	_, err = newService("test-key", "model-api", "model-admin").ValidateAccessToken(token)
	assert.ErrorIs(t, err, auth.ErrAccessTokenExpired)
}
