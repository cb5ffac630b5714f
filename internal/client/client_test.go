package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mr1hm/acs-fasttrack/internal/models"
	"github.com/mr1hm/acs-fasttrack/internal/session"
)

var testSession = &session.Session{Token: "tok", PatientID: "p1", PatientName: "Somchai P."}

func validPayload() models.EmergencyPayload {
	return models.EmergencyPayload{
		Latitude:           13.80,
		Longitude:          100.60,
		CurrentAddress:     "Rama IV Rd, Bangkok",
		DistanceToHospital: 10,
		PatientName:        "Somchai P.",
		EmergencyType:      models.EmergencyTypeACS,
	}
}

func TestSubmitEmergency(t *testing.T) {
	var got models.EmergencyPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != submitPath || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer credential, got %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("Idempotency-Key") == "" {
			t.Error("expected an idempotency key")
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"emergency_id":"emg-123","status":"pending"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, testSession)
	id, err := c.SubmitEmergency(context.Background(), validPayload())
	if err != nil {
		t.Fatalf("SubmitEmergency failed: %v", err)
	}
	if id != "emg-123" {
		t.Errorf("expected id emg-123, got %q", id)
	}
	if got != validPayload() {
		t.Errorf("server received %+v", got)
	}
}

func TestSubmitEmergency_ResponseShapes(t *testing.T) {
	bodies := map[string]string{
		`{"id":"a1"}`:                     "a1",
		`{"emergency_id":77}`:             "77",
		`{"data":{"emergency_id":"d-9"}}`: "d-9",
	}
	for body, want := range bodies {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		}))
		id, err := New(srv.URL, testSession).SubmitEmergency(context.Background(), validPayload())
		srv.Close()
		if err != nil {
			t.Errorf("%s: unexpected error %v", body, err)
			continue
		}
		if id != want {
			t.Errorf("%s: expected %q, got %q", body, want, id)
		}
	}
}

func TestSubmitEmergency_MissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, testSession).SubmitEmergency(context.Background(), validPayload())
	if !errors.Is(err, ErrNoEmergencyID) {
		t.Errorf("expected ErrNoEmergencyID, got %v", err)
	}
}

func TestSubmitEmergency_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"dispatch desk offline"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, testSession).SubmitEmergency(context.Background(), validPayload())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Status != http.StatusServiceUnavailable || apiErr.Message != "dispatch desk offline" {
		t.Errorf("unexpected error %+v", apiErr)
	}
}

func TestSubmitEmergency_PlainTextError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL, testSession).SubmitEmergency(context.Background(), validPayload())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "bad gateway" {
		t.Errorf("expected plain-text message, got %v", err)
	}
}

func TestSubmitEmergency_InvalidPayload(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	p := validPayload()
	p.Latitude = 120
	if _, err := New(srv.URL, testSession).SubmitEmergency(context.Background(), p); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload for latitude out of range, got %v", err)
	}
	p = validPayload()
	p.EmergencyType = ""
	if _, err := New(srv.URL, testSession).SubmitEmergency(context.Background(), p); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload for missing emergency type, got %v", err)
	}
	if called {
		t.Error("invalid payload must not reach the network")
	}
}

func TestSubmitEmergency_WithoutPatientName(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"emergency_id":"emg-7"}`))
	}))
	defer srv.Close()

	anon := &session.Session{Token: "tok", PatientID: "p1"}
	p := validPayload()
	p.PatientName = ""

	id, err := New(srv.URL, anon).SubmitEmergency(context.Background(), p)
	if err != nil {
		t.Fatalf("SubmitEmergency failed: %v", err)
	}
	if id != "emg-7" || hits != 1 {
		t.Errorf("expected one request and id emg-7, got %q after %d requests", id, hits)
	}
}

func TestSubmitEmergency_ContextCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := New(srv.URL, testSession).SubmitEmergency(ctx, validPayload())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSubmitEmergency_ExpiredSession(t *testing.T) {
	expired := &session.Session{Token: "tok", ExpiresAt: time.Now().Add(-time.Minute)}
	_, err := New("http://127.0.0.1:0", expired).SubmitEmergency(context.Background(), validPayload())
	if !errors.Is(err, session.ErrSessionExpired) {
		t.Errorf("expected ErrSessionExpired, got %v", err)
	}
}

func TestCancelEmergency(t *testing.T) {
	var got models.CancelPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != cancelPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"status":"cancelled"}`))
	}))
	defer srv.Close()

	if err := New(srv.URL, testSession).CancelEmergency(context.Background(), "emg-5"); err != nil {
		t.Fatalf("CancelEmergency failed: %v", err)
	}
	if got.EmergencyID != "emg-5" {
		t.Errorf("expected emergency_id emg-5, got %q", got.EmergencyID)
	}

	if err := New(srv.URL, testSession).CancelEmergency(context.Background(), ""); err == nil {
		t.Error("expected error for empty emergency id")
	}
}

func TestHealth(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	c := New(srv.URL+"/", nil)
	if err := c.Health(context.Background()); err != nil {
		t.Errorf("expected healthy backend, got %v", err)
	}

	status = http.StatusInternalServerError
	if err := c.Health(context.Background()); err == nil {
		t.Error("expected error for unhealthy backend")
	}
}
