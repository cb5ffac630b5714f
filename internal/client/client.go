package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mr1hm/acs-fasttrack/internal/models"
	"github.com/mr1hm/acs-fasttrack/internal/session"
)

const (
	submitPath = "/api/emergency/request"
	cancelPath = "/api/emergency/cancel"
	healthPath = "/health"
)

var (
	ErrNoEmergencyID  = errors.New("response did not contain an emergency id")
	ErrInvalidPayload = errors.New("invalid payload")
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.Status)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Message)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	session    *session.Session
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func New(baseURL string, sess *session.Session, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		session: sess,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SubmitEmergency posts an emergency request and returns the id assigned by
// the backend. Cancelling ctx aborts the call.
func (c *Client) SubmitEmergency(ctx context.Context, p models.EmergencyPayload) (string, error) {
	if err := p.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	resp, err := c.post(ctx, submitPath, p, uuid.NewString())
	if err != nil {
		return "", err
	}

	id := resp.emergencyID()
	if id == "" {
		return "", ErrNoEmergencyID
	}
	return id, nil
}

func (c *Client) CancelEmergency(ctx context.Context, emergencyID string) error {
	p := models.CancelPayload{EmergencyID: emergencyID}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	_, err := c.post(ctx, cancelPath, p, "")
	return err
}

func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error doing request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode}
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any, idempotencyKey string) (response, error) {
	if err := c.session.Valid(time.Now()); err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("error encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", c.session.Bearer())
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error doing request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	var out response
	if len(bytes.TrimSpace(data)) > 0 {
		// A non-JSON body is still useful as an error message
		if err := json.Unmarshal(data, &out); err != nil && resp.StatusCode < 300 {
			return nil, fmt.Errorf("error decoding response: %w", err)
		}
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg := out.message()
		if msg == "" && out == nil {
			msg = strings.TrimSpace(string(data))
		}
		return nil, &APIError{Status: resp.StatusCode, Message: msg}
	}
	return out, nil
}

type response map[string]any

func (r response) emergencyID() string {
	for _, key := range []string{"emergency_id", "id"} {
		if id := idString(r[key]); id != "" {
			return id
		}
	}
	if data, ok := r["data"].(map[string]any); ok {
		return response(data).emergencyID()
	}
	return ""
}

func (r response) message() string {
	for _, key := range []string{"error", "message", "detail"} {
		if s, ok := r[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	default:
		return ""
	}
}
