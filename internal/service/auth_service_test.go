package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/qbank-api/internal/models"
	appErrors "github.com/noah-isme/qbank-api/pkg/errors"
)

func TestValidateTokenRoundTrip(t *testing.T) {
	svc := NewAuthService(nil, AuthConfig{AccessTokenSecret: "secret", AccessTokenExpiry: time.Minute})

	token, expiresAt, err := svc.IssueToken(42, "ROLE_ADMIN", "dosen")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), expiresAt, 5*time.Second)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, models.RoleAdmin, claims.Role)
	assert.Equal(t, models.Actor{UserID: 42, Role: models.RoleAdmin}, claims.Actor())
}

func TestValidateTokenRejects(t *testing.T) {
	svc := NewAuthService(nil, AuthConfig{AccessTokenSecret: "secret"})
	other := NewAuthService(nil, AuthConfig{AccessTokenSecret: "other"})

	forged, _, err := other.IssueToken(1, models.RoleLecturer, "")
	require.NoError(t, err)

	anonymous, _, err := svc.IssueToken(0, models.RoleLecturer, "")
	require.NoError(t, err)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, &models.JWTClaims{
		UserID: 1,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	expiredToken, err := expired.SignedString([]byte("secret"))
	require.NoError(t, err)

	wrongAlg := jwt.NewWithClaims(jwt.SigningMethodHS512, &models.JWTClaims{UserID: 1})
	wrongAlgToken, err := wrongAlg.SignedString([]byte("secret"))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"garbage":         "not-a-token",
		"wrong secret":    forged,
		"no user":         anonymous,
		"expired":         expiredToken,
		"wrong algorithm": wrongAlgToken,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ValidateToken(token)
			assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
		})
	}
}
