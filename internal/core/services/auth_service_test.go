package services

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_IssueAndValidate(t *testing.T) {
	svc := NewAuthService("secret", "admin-key", time.Minute)

	token, err := svc.IssueToken("ops", "admin-key")
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, RoleAdmin, claims.Role)
}

func TestAuthService_IssueRejectsWrongKey(t *testing.T) {
	svc := NewAuthService("secret", "admin-key", time.Minute)

	_, err := svc.IssueToken("ops", "guess")
	assert.ErrorIs(t, err, ErrUnauthorized)

	noKey := NewAuthService("secret", "", time.Minute)
	_, err = noKey.IssueToken("ops", "")
	assert.ErrorIs(t, err, ErrUnauthorized, "an empty admin key disables issuance")
}

func TestAuthService_ValidateRejects(t *testing.T) {
	svc := NewAuthService("secret", "admin-key", time.Minute)

	expired := NewAuthService("secret", "admin-key", -time.Minute)
	old, err := expired.IssueToken("ops", "admin-key")
	require.NoError(t, err)
	_, err = svc.ValidateToken(old)
	assert.ErrorIs(t, err, ErrExpiredToken)

	other := NewAuthService("other-secret", "admin-key", time.Minute)
	forged, err := other.IssueToken("ops", "admin-key")
	require.NoError(t, err)
	_, err = svc.ValidateToken(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	viewer := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Role: "viewer",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	})
	signed, err := viewer.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = svc.ValidateToken(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.ValidateToken("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
