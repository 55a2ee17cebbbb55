// Package challenge mints and verifies the signed resume tokens handed to a
// client whose scan was suspended for a challenge. The token proves the
// resume request belongs to the suspended run; all real state stays server
// side in the pending-challenge store.
package challenge

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	id "skern/pkg/domain"
	"skern/pkg/platform/sentinel"
)

// TokenSigner mints and verifies HS256 resume tokens bound to a suspended
// submission.
type TokenSigner struct {
	key []byte
	ttl time.Duration
}

func NewTokenSigner(signingKey string, ttl time.Duration) (*TokenSigner, error) {
	if signingKey == "" {
		return nil, errors.New("signing key is required")
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	return &TokenSigner{key: []byte(signingKey), ttl: ttl}, nil
}

// Mint issues a resume token for one suspended submission.
func (s *TokenSigner) Mint(subID id.SubmissionID, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   subID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign resume token: %w", err)
	}
	return token, nil
}

// Verify validates the token signature and expiry and returns the bound
// submission id. Expired tokens map to ErrExpired so handlers can surface
// the retry path.
func (s *TokenSigner) Verify(token string, now time.Time) (id.SubmissionID, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return s.key, nil
	}, jwt.WithTimeFunc(func() time.Time { return now }))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", sentinel.ErrExpired
		}
		return "", fmt.Errorf("parse resume token: %w", err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", errors.New("resume token missing submission binding")
	}
	return id.ParseSubmissionID(claims.Subject)
}
