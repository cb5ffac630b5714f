package session

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("device-does-not-know"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func TestFromToken(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signToken(t, Claims{
		Name: "Somchai P.",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "patient-42",
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})

	s, err := FromToken(token)
	if err != nil {
		t.Fatalf("FromToken failed: %v", err)
	}
	if s.PatientID != "patient-42" || s.PatientName != "Somchai P." {
		t.Errorf("unexpected session %+v", s)
	}
	if !s.ExpiresAt.Equal(exp) {
		t.Errorf("expected expiry %v, got %v", exp, s.ExpiresAt)
	}
	if s.Bearer() != "Bearer "+token {
		t.Errorf("unexpected bearer header %q", s.Bearer())
	}
	if err := s.Valid(time.Now()); err != nil {
		t.Errorf("expected valid session, got %v", err)
	}
}

func TestFromToken_Errors(t *testing.T) {
	if _, err := FromToken(""); !errors.Is(err, ErrNoToken) {
		t.Errorf("expected ErrNoToken, got %v", err)
	}
	if _, err := FromToken("not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestValid_Expired(t *testing.T) {
	s := &Session{Token: "x", ExpiresAt: time.Unix(1000, 0)}
	if err := s.Valid(time.Unix(1000, 0)); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("expected ErrSessionExpired at expiry, got %v", err)
	}
	if err := s.Valid(time.Unix(999, 0)); err != nil {
		t.Errorf("expected valid before expiry, got %v", err)
	}

	var missing *Session
	if err := missing.Valid(time.Now()); !errors.Is(err, ErrNoToken) {
		t.Errorf("expected ErrNoToken for nil session, got %v", err)
	}
}

func TestDisplayName(t *testing.T) {
	if got := (&Session{PatientID: "patient-42", PatientName: "Somchai P."}).DisplayName(); got != "Somchai P." {
		t.Errorf("expected patient name, got %q", got)
	}
	if got := (&Session{PatientID: "patient-42"}).DisplayName(); got != "patient-42" {
		t.Errorf("expected patient id fallback, got %q", got)
	}
}
