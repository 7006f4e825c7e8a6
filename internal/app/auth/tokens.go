// Package auth issues and validates back-office session tokens.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/storefront/internal/app/domain/user"
	apperrors "github.com/R3E-Network/storefront/internal/errors"
)

// CookieName is the session cookie carrying the token for browser clients.
const CookieName = "sf_token"

const issuer = "storefront"

// Claims represents JWT claims
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies HS256 tokens.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens creates a token issuer. The secret must not be empty.
func NewTokens(secret string, ttl time.Duration) (*Tokens, error) {
	if secret == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// TTL reports how long issued tokens stay valid.
func (t *Tokens) TTL() time.Duration {
	return t.ttl
}

// Issue signs a token for u and returns it with its expiry.
func (t *Tokens) Issue(u user.User) (string, time.Time, error) {
	issued := t.now()
	expires := issued.Add(t.ttl)
	claims := &Claims{
		UserID: u.ID,
		Email:  u.Email,
		Role:   string(u.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// Validate parses a token and returns its claims.
func (t *Tokens) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperrors.InvalidToken(nil).WithDetails("method", token.Header["alg"])
		}
		return t.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(t.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, apperrors.InvalidToken(err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperrors.InvalidToken(nil).WithDetails("reason", "invalid claims")
	}
	if claims.UserID == "" || !user.Role(claims.Role).Valid() {
		return nil, apperrors.InvalidToken(nil).WithDetails("reason", "incomplete claims")
	}
	return claims, nil
}
