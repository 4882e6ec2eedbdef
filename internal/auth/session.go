package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session is what the client can read from the token issued after login.
// The signature is checked by the server that accepts the token, not here.
type Session struct {
	Subject   string
	Email     string
	ExpiresAt time.Time
}

// ParseSession reads the claims of a JWT without verifying it.
func ParseSession(token string) (*Session, error) {
	if token == "" {
		return nil, errors.New("empty token")
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse session token: %w", err)
	}

	s := &Session{}
	if sub, err := claims.GetSubject(); err == nil {
		s.Subject = sub
	}
	if email, ok := claims["email"].(string); ok {
		s.Email = email
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		s.ExpiresAt = exp.Time
	}
	return s, nil
}

// Expired reports whether the session has an expiry at or before now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}
