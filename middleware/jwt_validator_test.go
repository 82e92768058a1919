package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTValidator_RoundTrip(t *testing.T) {
	validator := NewJWTValidator("test-secret", "assistant-backend")
	subject := uuid.New().String()

	token, err := validator.IssueToken(subject, "dev@example.com", time.Hour)
	require.NoError(t, err)

	claims, err := validator.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, subject, claims.Sub)
	assert.Equal(t, "dev@example.com", claims.Email)
	assert.Equal(t, "assistant-backend", claims.Iss)
	assert.Greater(t, claims.Exp, time.Now().Unix())
}

func TestJWTValidator_RejectsExpiredToken(t *testing.T) {
	validator := NewJWTValidator("test-secret", "assistant-backend")

	token, err := validator.IssueToken(uuid.New().String(), "", -time.Minute)
	require.NoError(t, err)

	_, err = validator.ValidateToken(context.Background(), token)
	assert.Error(t, err)
}

func TestJWTValidator_RejectsWrongSecret(t *testing.T) {
	issuer := NewJWTValidator("other-secret", "assistant-backend")
	validator := NewJWTValidator("test-secret", "assistant-backend")

	token, err := issuer.IssueToken(uuid.New().String(), "", time.Hour)
	require.NoError(t, err)

	_, err = validator.ValidateToken(context.Background(), token)
	assert.Error(t, err)
}

func TestJWTValidator_RejectsWrongIssuer(t *testing.T) {
	issuer := NewJWTValidator("test-secret", "someone-else")
	validator := NewJWTValidator("test-secret", "assistant-backend")

	token, err := issuer.IssueToken(uuid.New().String(), "", time.Hour)
	require.NoError(t, err)

	_, err = validator.ValidateToken(context.Background(), token)
	assert.Error(t, err)
}

func TestJWTValidator_RejectsMissingExpiration(t *testing.T) {
	validator := NewJWTValidator("test-secret", "assistant-backend")

	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: uuid.New().String(),
			Issuer:  "assistant-backend",
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = validator.ValidateToken(context.Background(), token)
	assert.Error(t, err)
}

func TestJWTValidator_RejectsUnsignedToken(t *testing.T) {
	validator := NewJWTValidator("test-secret", "assistant-backend")

	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.New().String(),
			Issuer:    "assistant-backend",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = validator.ValidateToken(context.Background(), token)
	assert.Error(t, err)
}
