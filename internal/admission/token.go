package admission

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultTokenTTL = 24 * time.Hour

var ErrInvalidToken = errors.New("invalid or expired token")

type tokenClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies stateless HS256 tokens. No record of
// issued tokens is kept; replacing the secret invalidates everything
// outstanding.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenService(secret []byte, ttl time.Duration) (*TokenService, error) {
	if len(secret) == 0 {
		return nil, errors.New("token secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	return &TokenService{secret: secret, ttl: ttl, now: time.Now}, nil
}

func (s *TokenService) Issue(identity Identity) (string, error) {
	now := s.now().UTC()
	claims := tokenClaims{
		Username: identity.Username,
		Role:     identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	encoded, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return encoded, nil
}

// Verify checks the signature and expiry of an encoded token. Malformed input
// is reported as ErrInvalidToken, never as a panic or a detailed parse error.
func (s *TokenService) Verify(encoded string) (Claims, error) {
	var parsed tokenClaims
	token, err := jwt.ParseWithClaims(encoded, &parsed, func(token *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	if err != nil || !token.Valid {
		return Claims{}, ErrInvalidToken
	}

	claims := Claims{
		Identity: Identity{
			ID:       parsed.Subject,
			Username: parsed.Username,
			Role:     parsed.Role,
		},
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time
	}
	if parsed.ExpiresAt != nil {
		claims.ExpiresAt = parsed.ExpiresAt.Time
	}

	return claims, nil
}

// Refresh re-issues a valid token with a fresh TTL window. Only the identity
// carries over; iat and exp are stamped anew by Issue. An expired token
// cannot be refreshed.
func (s *TokenService) Refresh(encoded string) (string, error) {
	claims, err := s.Verify(encoded)
	if err != nil {
		return "", err
	}

	return s.Issue(claims.Identity)
}
