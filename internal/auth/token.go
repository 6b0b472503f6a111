// Package auth issues and checks the bearer tokens that identify callers.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"librarium/internal/access"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

// Identity is the authenticated caller.
type Identity struct {
	UserID uuid.UUID   `json:"user_id"`
	Role   access.Role `json:"role"`
}

// Claims are the JWT claims carried by a token. Subject holds the user id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an issuer. ttl defaults to 24h when zero.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for id and returns it with its expiry.
func (i *Issuer) Issue(id Identity) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.ttl)
	claims := Claims{
		Role: string(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

const bearer = "bearer"

// Parse verifies a token, with or without a "Bearer " prefix.
func (i *Issuer) Parse(raw string) (Identity, error) {
	tokenStr := strings.TrimSpace(raw)
	if len(tokenStr) >= len(bearer) && strings.EqualFold(tokenStr[:len(bearer)], bearer) {
		if rest := tokenStr[len(bearer):]; rest == "" || rest[0] == ' ' || rest[0] == '\t' {
			tokenStr = strings.TrimSpace(rest)
		}
	}
	if tokenStr == "" {
		return Identity{}, ErrMissingToken
	}

	var claims Claims
	tok, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tok.Valid {
		return Identity{}, ErrInvalidToken
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	role, err := access.ParseRole(claims.Role)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: userID, Role: role}, nil
}
