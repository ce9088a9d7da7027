// Package geocode resolves street addresses and coordinates through the
// Google-style geocoding REST API. The session engine owns the
// service-area decision; this package only translates locations.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/keyrush/locksmith-dispatch/pkg/logging"
)

var (
	// ErrNotConfigured is returned when no API key is set.
	ErrNotConfigured = errors.New("geocode: api key not configured")
	// ErrNoResults is returned when the service finds nothing for the input.
	ErrNoResults = errors.New("geocode: no results")
)

// Result is a resolved location. City is the locality component and may
// be empty when the service returns none.
type Result struct {
	Latitude         float64
	Longitude        float64
	City             string
	FormattedAddress string
}

// Client calls the geocoding REST API. Forward lookups are cached for a
// short TTL so funnel retries don't re-bill the same address.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	cache      *gocache.Cache
	logger     *logging.Logger
}

// NewClient builds a geocoder with a 5-minute forward-lookup cache.
func NewClient(apiKey string, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: "https://maps.googleapis.com",
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		cache:  gocache.New(5*time.Minute, 10*time.Minute),
		logger: logger,
	}
}

// WithBaseURL overrides the API host for tests.
func (c *Client) WithBaseURL(base string) *Client {
	c.baseURL = strings.TrimRight(base, "/")
	return c
}

type geocodeResponse struct {
	Status  string `json:"status"`
	Results []struct {
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
		AddressComponents []struct {
			LongName string   `json:"long_name"`
			Types    []string `json:"types"`
		} `json:"address_components"`
	} `json:"results"`
}

// Forward resolves a street address to coordinates and a city.
func (c *Client) Forward(ctx context.Context, address string) (*Result, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("%w: empty address", ErrNoResults)
	}
	if cached, ok := c.cache.Get("fwd:" + address); ok {
		result := cached.(Result)
		return &result, nil
	}

	result, err := c.lookup(ctx, url.Values{"address": []string{address}})
	if err != nil {
		return nil, err
	}
	c.cache.Set("fwd:"+address, *result, gocache.DefaultExpiration)
	return result, nil
}

// Reverse resolves coordinates to a formatted address and city.
func (c *Client) Reverse(ctx context.Context, lat, lng float64) (*Result, error) {
	return c.lookup(ctx, url.Values{"latlng": []string{fmt.Sprintf("%f,%f", lat, lng)}})
}

func (c *Client) lookup(ctx context.Context, params url.Values) (*Result, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}
	params.Set("key", c.apiKey)

	endpoint := c.baseURL + "/maps/api/geocode/json?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("geocode: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("geocode: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocode: status %d", resp.StatusCode)
	}

	var parsed geocodeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("geocode: decode response: %w", err)
	}
	if parsed.Status == "ZERO_RESULTS" || len(parsed.Results) == 0 {
		return nil, ErrNoResults
	}
	if parsed.Status != "OK" {
		return nil, fmt.Errorf("geocode: service status %s", parsed.Status)
	}

	first := parsed.Results[0]
	result := &Result{
		Latitude:         first.Geometry.Location.Lat,
		Longitude:        first.Geometry.Location.Lng,
		FormattedAddress: first.FormattedAddress,
	}
	for _, component := range first.AddressComponents {
		for _, t := range component.Types {
			if t == "locality" {
				result.City = component.LongName
				break
			}
		}
		if result.City != "" {
			break
		}
	}
	return result, nil
}
