package keycodec

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Stateless encodes the bound identity and expiry directly into the key
// string, signed with a server-held HMAC secret. Verification recomputes
// the signature, so no persisted registry is needed. The trade-off is that
// such keys cannot be revoked before their natural expiry.
type Stateless struct {
	secret []byte
	issuer string
}

// NewStateless creates a stateless codec with the given HMAC secret
func NewStateless(secret, issuer string) *Stateless {
	return &Stateless{secret: []byte(secret), issuer: issuer}
}

// Encode produces a signed key string carrying identity and expiry
func (s *Stateless) Encode(identity string, expiresAt time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   identity,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		ID:        uuid.New().String(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign key token: %w", err)
	}
	return signed, nil
}

// Decode verifies the signature and recovers the identity and expiry.
// Expiry is NOT enforced here: the registry needs to distinguish an
// expired key from a forged one, so claims validation is skipped and the
// caller checks the returned expiry itself.
func (s *Stateless) Decode(tokenString string) (string, time.Time, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil {
		return "", time.Time{}, fmt.Errorf("invalid key token: %w", err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return "", time.Time{}, errors.New("invalid key token claims")
	}
	if claims.Subject == "" || claims.ExpiresAt == nil {
		return "", time.Time{}, errors.New("key token missing identity or expiry")
	}

	return claims.Subject, claims.ExpiresAt.Time, nil
}
