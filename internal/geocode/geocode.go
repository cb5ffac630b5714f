// Package geocode resolves coordinates to a street address using a
// LocationIQ-compatible reverse geocoding API.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mr1hm/acs-fasttrack/internal/models"
)

const DefaultBaseURL = "https://us1.locationiq.com/v1"

var ErrNotConfigured = errors.New("reverse geocoder not configured")

type response struct {
	DisplayName string `json:"display_name"`
	Address     struct {
		Road          string `json:"road"`
		Suburb        string `json:"suburb"`
		Neighbourhood string `json:"neighbourhood"`
		City          string `json:"city"`
		Town          string `json:"town"`
		Village       string `json:"village"`
		State         string `json:"state"`
	} `json:"address"`
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a client. An empty apiKey yields a client whose lookups fail
// with ErrNotConfigured.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) ReverseGeocode(ctx context.Context, coords models.Coordinates) (models.Address, error) {
	if c.apiKey == "" {
		return models.Address{}, ErrNotConfigured
	}

	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("lat", strconv.FormatFloat(coords.Latitude, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(coords.Longitude, 'f', 6, 64))
	q.Set("format", "json")
	q.Set("normalizeaddress", "1")
	q.Set("addressdetails", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return models.Address{}, fmt.Errorf("error creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Address{}, fmt.Errorf("error reverse geocoding %s: %w", coords, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return models.Address{}, fmt.Errorf("geocoder returned status %d: %s", resp.StatusCode, body)
	}

	var r response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return models.Address{}, fmt.Errorf("error decoding geocoder response: %w", err)
	}

	return models.Address{
		Street:   r.Address.Road,
		District: firstNonEmpty(r.Address.Suburb, r.Address.Neighbourhood),
		City:     firstNonEmpty(r.Address.City, r.Address.Town, r.Address.Village),
		Region:   r.Address.State,
	}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
