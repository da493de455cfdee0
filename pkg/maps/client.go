package maps

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

	"github.com/sethvargo/go-retry"

	pkgerrors "github.com/basketly/basketly-backend/pkg/errors"
)

const (
	defaultPlacesBaseURL        = "https://places.googleapis.com/v1"
	defaultGeocodeBaseURL       = "https://maps.googleapis.com/maps/api/geocode"
	placeResolveFieldMask       = "id,formattedAddress,location"
	requestBodyReadLimit  int64 = 1024
)

var errAPIKeyRequired = errors.New("google maps api key is required")

// Client wraps the Google Maps APIs used for pickup-address resolution and
// delivery-address geocoding.
type Client struct {
	httpClient     *http.Client
	placesBaseURL  string
	geocodeBaseURL string
	apiKey         string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithPlacesBaseURL overrides the configured Places base URL.
func WithPlacesBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.placesBaseURL = trimmed
		}
	}
}

// WithGeocodeBaseURL overrides the configured Geocoding base URL.
func WithGeocodeBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.geocodeBaseURL = trimmed
		}
	}
}

// NewClient builds the Google Maps client given an API key.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	trimmedKey := strings.TrimSpace(apiKey)
	if trimmedKey == "" {
		return nil, errAPIKeyRequired
	}

	client := &Client{
		apiKey:         trimmedKey,
		placesBaseURL:  defaultPlacesBaseURL,
		geocodeBaseURL: defaultGeocodeBaseURL,
		httpClient:     &http.Client{Timeout: 10 * time.Second},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	return client, nil
}

// LatLng is the latitude/longitude pair returned by Google.
type LatLng struct {
	Latitude  float64
	Longitude float64
}

// PlaceDetails represents the normalized data returned by the place-details API.
type PlaceDetails struct {
	PlaceID          string
	FormattedAddress string
	Location         LatLng
}

// ResolvePlace fetches the canonical place data for the provided place ID.
func (c *Client) ResolvePlace(ctx context.Context, placeID string) (*PlaceDetails, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "google maps client not configured")
	}
	trimmed := strings.TrimSpace(placeID)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "place ID is required")
	}

	endpoint := fmt.Sprintf("%s/places/%s", strings.TrimRight(c.placesBaseURL, "/"), url.PathEscape(trimmed))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build place resolve request")
	}

	httpReq.Header.Set("X-Goog-Api-Key", c.apiKey)
	httpReq.Header.Set("X-Goog-FieldMask", placeResolveFieldMask)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute place resolve request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, requestBodyReadLimit))
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "place resolve request failed")
	}

	var apiResp struct {
		ID               string `json:"id"`
		FormattedAddress string `json:"formattedAddress"`
		Location         struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"location"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode place resolve response")
	}

	return &PlaceDetails{
		PlaceID:          apiResp.ID,
		FormattedAddress: apiResp.FormattedAddress,
		Location: LatLng{
			Latitude:  apiResp.Location.Latitude,
			Longitude: apiResp.Location.Longitude,
		},
	}, nil
}

// ResolvePlaceAddress returns just the formatted address for a place ID.
func (c *Client) ResolvePlaceAddress(ctx context.Context, placeID string) (string, error) {
	details, err := c.ResolvePlace(ctx, placeID)
	if err != nil {
		return "", err
	}
	return details.FormattedAddress, nil
}

// Geocode resolves a free-form address into coordinates. Transient upstream
// failures are retried with exponential backoff before surfacing.
func (c *Client) Geocode(ctx context.Context, address string) (*LatLng, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "google maps client not configured")
	}
	if strings.TrimSpace(address) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "address is required")
	}

	params := url.Values{}
	params.Set("address", address)

	var result *LatLng
	err := c.doGeocode(ctx, params, func(results []geocodeResult) error {
		if len(results) == 0 {
			return pkgerrors.New(pkgerrors.CodeNotFound, "address could not be geocoded")
		}
		loc := results[0].Geometry.Location
		result = &LatLng{Latitude: loc.Lat, Longitude: loc.Lng}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReverseGeocode resolves coordinates into a formatted address line.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	if c == nil {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "google maps client not configured")
	}

	params := url.Values{}
	params.Set("latlng", fmt.Sprintf("%f,%f", lat, lng))

	var formatted string
	err := c.doGeocode(ctx, params, func(results []geocodeResult) error {
		if len(results) == 0 {
			return pkgerrors.New(pkgerrors.CodeNotFound, "no address for coordinates")
		}
		formatted = results[0].FormattedAddress
		return nil
	})
	if err != nil {
		return "", err
	}
	return formatted, nil
}

type geocodeResult struct {
	FormattedAddress string `json:"formatted_address"`
	Geometry         struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
	} `json:"geometry"`
}

func (c *Client) doGeocode(ctx context.Context, params url.Values, handle func([]geocodeResult) error) error {
	params.Set("key", c.apiKey)
	endpoint := fmt.Sprintf("%s/json?%s", strings.TrimRight(c.geocodeBaseURL, "/"), params.Encode())

	backoff := retry.WithMaxRetries(2, retry.NewExponential(200*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build geocode request")
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return retry.RetryableError(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute geocode request"))
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= http.StatusInternalServerError {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, requestBodyReadLimit))
			return retry.RetryableError(pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "geocode request failed"))
		}
		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, requestBodyReadLimit))
			return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "geocode request failed")
		}

		var apiResp struct {
			Status  string          `json:"status"`
			Results []geocodeResult `json:"results"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode geocode response")
		}

		switch apiResp.Status {
		case "OK", "ZERO_RESULTS":
		case "OVER_QUERY_LIMIT", "UNKNOWN_ERROR":
			return retry.RetryableError(pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("geocode status %s", apiResp.Status)))
		default:
			return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("geocode status %s", apiResp.Status))
		}

		return handle(apiResp.Results)
	})
}
