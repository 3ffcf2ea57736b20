package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var (
	// ErrInvalidToken is returned for tokens that fail signature, expiry or claim checks
	ErrInvalidToken = errors.New("invalid token")

	// ErrMissingSecret is returned when no signing secret is configured
	ErrMissingSecret = errors.New("jwt secret is required")
)

const tokenIssuer = "flowchart-gateway"

// AdminClaims are carried by operator tokens
type AdminClaims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// HasRole reports whether any of the token's roles satisfies required
func (c *AdminClaims) HasRole(required Role) bool {
	for _, name := range c.Roles {
		if Role(name).HasPermission(required) {
			return true
		}
	}
	return false
}

// TokenIssuer signs and verifies HS256 admin tokens
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates an issuer. ttl defaults to 24h.
func NewTokenIssuer(secret []byte, ttl time.Duration) (*TokenIssuer, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSecret
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{secret: secret, ttl: ttl, now: time.Now}, nil
}

// Issue mints a token for subject with the given roles
func (i *TokenIssuer) Issue(subject string, roles []Role) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, fmt.Errorf("token subject is required")
	}
	if len(roles) == 0 {
		return "", time.Time{}, fmt.Errorf("at least one role is required")
	}

	names := make([]string, 0, len(roles))
	for _, role := range roles {
		if !role.IsValid() {
			return "", time.Time{}, fmt.Errorf("unknown role %q", role)
		}
		names = append(names, role.String())
	}

	now := i.now()
	expiresAt := now.Add(i.ttl)
	claims := AdminClaims{
		Roles: names,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate verifies the signature, expiry and issuer of a token
func (i *TokenIssuer) Validate(tokenString string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if !claims.VerifyIssuer(tokenIssuer, true) {
		return nil, fmt.Errorf("%w: wrong issuer", ErrInvalidToken)
	}
	if claims.Subject == "" || len(claims.Roles) == 0 {
		return nil, fmt.Errorf("%w: missing subject or roles", ErrInvalidToken)
	}
	return claims, nil
}
