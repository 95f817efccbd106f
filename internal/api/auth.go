package api

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Auth validates and issues HMAC-signed bearer tokens shared-secret style:
// any holder of the secret can mint operator tokens (mendctl does this
// locally).
type Auth struct {
	secret   string
	tokenTTL time.Duration
}

// Claims carries the token payload.
type Claims struct {
	Subject string `json:"sub"`
	jwt.RegisteredClaims
}

// NewAuth creates an authenticator. An empty secret disables auth.
func NewAuth(secret string) *Auth {
	return &Auth{
		secret:   secret,
		tokenTTL: 24 * time.Hour,
	}
}

// Enabled reports whether token checks apply.
func (a *Auth) Enabled() bool {
	return a.secret != ""
}

// IssueToken creates a signed token for a subject.
func (a *Auth) IssueToken(subject string) (string, error) {
	if a.secret == "" {
		return "", fmt.Errorf("no JWT secret configured")
	}
	now := time.Now()
	claims := &Claims{
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.secret))
}

// ValidateToken validates a token and returns its claims.
func (a *Auth) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(a.secret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}
