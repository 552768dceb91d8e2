package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"intellimed/pkg/domain"
)

const minHS256SecretLen = 16

// JWTOptions configures JWT claim validation behavior.
type JWTOptions struct {
	// Issuer is stamped into and required on tokens when non-empty.
	Issuer string
	// Leeway tolerates clock skew on exp; zero means tokens fail the instant they expire.
	Leeway time.Duration
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// SessionClaims is the token payload: subject email, role, and expiry.
type SessionClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Session is the verified content of a bearer token.
type Session struct {
	Email     string
	Role      domain.Role
	ExpiresAt time.Time
}

// JWTSessionStore issues and validates HS256 JWT session tokens.
type JWTSessionStore struct {
	secret []byte
	ttl    time.Duration
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// NewJWTHS256SessionStore builds a session store signing with a shared secret.
func NewJWTHS256SessionStore(secret string, ttl time.Duration, opts JWTOptions) (*JWTSessionStore, error) {
	secret = strings.TrimSpace(secret)
	if len(secret) < minHS256SecretLen {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", minHS256SecretLen)
	}
	if ttl <= 0 {
		return nil, errors.New("jwt ttl must be positive")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	leeway := opts.Leeway
	if leeway < 0 {
		leeway = 0
	}
	return &JWTSessionStore{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: strings.TrimSpace(opts.Issuer),
		leeway: leeway,
		now:    now,
	}, nil
}

// TTL returns the configured token lifetime.
func (s *JWTSessionStore) TTL() time.Duration {
	return s.ttl
}

// NewSession signs a token for email and role, returning it with its expiry.
func (s *JWTSessionStore) NewSession(email string, role domain.Role) (string, time.Time, error) {
	if strings.TrimSpace(email) == "" {
		return "", time.Time{}, errors.New("session subject required")
	}
	now := s.now().UTC()
	expiresAt := now.Add(s.ttl)
	claims := SessionClaims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseSession verifies signature and expiry and returns the claims.
func (s *JWTSessionStore) ParseSession(token string) (Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Session{}, errors.New("invalid token format")
	}
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(s.issuer))
	}
	claims := SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, parserOptions...)
	if err != nil || !parsed.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return Session{}, err
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Session{}, errors.New("token subject missing")
	}
	role, ok := domain.ParseRole(claims.Role)
	if !ok {
		return Session{}, fmt.Errorf("token role %q invalid", claims.Role)
	}
	return Session{
		Email:     claims.Subject,
		Role:      role,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
