// Package service contains the application services built on the clinic store:
// booking, persistence and admin authentication.
package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/clinic-keeper/internal/errs"
	"github.com/and161185/clinic-keeper/internal/model"
)

// TokenService issues and validates admin access tokens.
type TokenService interface {
	// Issue signs a token for subject.
	Issue(subject string) (model.Tokens, error)
	// Validate checks a token and returns its subject.
	Validate(token string) (string, error)
}

type TokenServiceImpl struct {
	signKey []byte
	ttl     time.Duration
	now     func() time.Time
}

var _ TokenService = (*TokenServiceImpl)(nil)

// NewTokenService constructs an HS256 token service.
func NewTokenService(signKey []byte, ttl time.Duration) (*TokenServiceImpl, error) {
	if len(signKey) == 0 {
		return nil, errors.New("empty signing key")
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	return &TokenServiceImpl{signKey: signKey, ttl: ttl, now: time.Now}, nil
}

// Issue creates a signed HS256 JWT for the given subject.
func (s *TokenServiceImpl) Issue(subject string) (model.Tokens, error) {
	if subject == "" {
		return model.Tokens{}, fmt.Errorf("%w: empty subject", errs.ErrInvalidArgument)
	}
	now := s.now()
	exp := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.signKey)
	if err != nil {
		return model.Tokens{}, err
	}
	return model.Tokens{AccessToken: signed, ExpiresAt: exp}, nil
}

// Validate verifies signature, method and expiry with 30s leeway.
func (s *TokenServiceImpl) Validate(token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.signKey, nil
	},
		jwt.WithLeeway(30*time.Second),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errs.ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: empty subject", errs.ErrUnauthorized)
	}
	return claims.Subject, nil
}
