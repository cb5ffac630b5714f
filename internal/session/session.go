// Package session holds the patient's authenticated session. It is created
// once at login and passed explicitly to whatever needs it.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoToken is returned when no bearer token was supplied.
	ErrNoToken = errors.New("no session token")
	// ErrSessionExpired is returned when the token's exp claim has passed.
	ErrSessionExpired = errors.New("session expired")
	// ErrInvalidToken is returned when the token cannot be decoded.
	ErrInvalidToken = errors.New("invalid session token")
)

type Claims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

type Session struct {
	Token       string
	PatientID   string
	PatientName string
	ExpiresAt   time.Time // zero when the token has no expiry
}

// FromToken decodes the claims of a backend-issued token. The signature is
// not checked here: the device never holds the signing key, the backend
// verifies it on every request.
func FromToken(token string) (*Session, error) {
	if token == "" {
		return nil, ErrNoToken
	}

	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	s := &Session{
		Token:       token,
		PatientID:   claims.Subject,
		PatientName: claims.Name,
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}

// Valid reports ErrSessionExpired once the token's expiry has passed.
func (s *Session) Valid(now time.Time) error {
	if s == nil || s.Token == "" {
		return ErrNoToken
	}
	if !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt) {
		return ErrSessionExpired
	}
	return nil
}

// DisplayName is the patient name, or the patient id when the token carries
// no name.
func (s *Session) DisplayName() string {
	if s.PatientName != "" {
		return s.PatientName
	}
	return s.PatientID
}

func (s *Session) Bearer() string {
	return "Bearer " + s.Token
}
