package service

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lostfound-api/internal/models"
	appErrors "github.com/noah-isme/lostfound-api/pkg/errors"
)

func TestTokenServiceRoundTrip(t *testing.T) {
	svc := NewTokenService(TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "lostfound-api"})

	token, expiresAt, err := svc.Issue("staff-1", models.RoleStaff, "desk@example.org")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "staff-1", claims.UserID)
	assert.Equal(t, models.RoleStaff, claims.Role)
	assert.True(t, claims.Role.IsStaff())
}

func TestTokenServiceRejects(t *testing.T) {
	svc := NewTokenService(TokenConfig{Secret: "secret", Issuer: "lostfound-api"})

	_, _, err := svc.Issue("", models.RoleUser, "")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	_, _, err = svc.Issue("user-1", models.UserRole("ROOT"), "")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	other := NewTokenService(TokenConfig{Secret: "other", Issuer: "lostfound-api"})
	token, _, err := other.Issue("user-1", models.RoleUser, "")
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))

	foreign := NewTokenService(TokenConfig{Secret: "secret", Issuer: "someone-else"})
	token, _, err = foreign.Issue("user-1", models.RoleUser, "")
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))

	expired := NewTokenService(TokenConfig{Secret: "secret", Issuer: "lostfound-api"})
	expired.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	token, _, err = expired.Issue("user-1", models.RoleUser, "")
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
}

func TestTokenServiceFallsBackToSubject(t *testing.T) {
	svc := NewTokenService(TokenConfig{Secret: "secret"})
	raw := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "user-9",
		"role": "USER",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	token, err := raw.SignedString([]byte("secret"))
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-9", claims.UserID)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "user-9"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = svc.ValidateToken(unsigned)
	assert.Error(t, err)
}
