package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTValidator validates HMAC-signed tokens issued for the API.
// It implements TokenValidator.
type JWTValidator struct {
	secret []byte
	issuer string
}

// NewJWTValidator creates a validator for tokens signed with the given secret
func NewJWTValidator(secret, issuer string) *JWTValidator {
	return &JWTValidator{
		secret: []byte(secret),
		issuer: issuer,
	}
}

// tokenClaims binds the registered claims plus the profile fields we carry
type tokenClaims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// ValidateToken parses and verifies a token, returning its claims
func (v *JWTValidator) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &tokenClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	},
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, fmt.Errorf("token parse failed: %w", err)
	}

	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("token claims are invalid")
	}

	out := &Claims{
		Sub:   claims.Subject,
		Email: claims.Email,
		Name:  claims.Name,
		Iss:   claims.Issuer,
	}
	if claims.ExpiresAt != nil {
		out.Exp = claims.ExpiresAt.Unix()
	}
	if claims.IssuedAt != nil {
		out.Iat = claims.IssuedAt.Unix()
	}
	return out, nil
}

// IssueToken signs a token for the given subject. Used by local tooling and
// tests; production deployments issue tokens from the identity service.
func (v *JWTValidator) IssueToken(subject, email string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := tokenClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
