// Package places is the boundary to the Google Places API (New). The
// pipeline consumes three operations: details by place ID, place ID by text
// search, and place ID by coordinate proximity. Every failure comes back as
// an *EnrichmentError so callers can degrade instead of aborting.
package places

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/samis-guide/guide-cli/internal/model"
	"github.com/samis-guide/guide-cli/internal/resilience"
)

const (
	defaultBaseURL = "https://places.googleapis.com/v1"
	defaultTimeout = 8 * time.Second

	// Location bias for text search: a circle around the region center.
	searchBiasRadiusMeters = 15000
	// Nearby search stays tight: coordinates from a URL already point at
	// the venue, the search only recovers its identity.
	nearbyRadiusMeters = 150
)

// EnrichmentError marks a failed directory call. The pipeline recovers from
// these locally; they must never reach an ingest response.
type EnrichmentError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *EnrichmentError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("places %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("places %s: %v", e.Op, e.Err)
}

func (e *EnrichmentError) Unwrap() error { return e.Err }

// IsEnrichmentError reports whether err comes from the places directory.
func IsEnrichmentError(err error) bool {
	var ee *EnrichmentError
	return errors.As(err, &ee)
}

// Options configures the client.
type Options struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	// RegionCenter biases text search toward the guide's city.
	RegionCenter model.Coordinates
	// RequestsPerSecond limits outbound calls; the API's own quota errors
	// are retried with backoff on top of this.
	RequestsPerSecond float64
	Retry             resilience.RetryConfig
}

// Client calls the Places API (New) with retry and client-side rate limiting.
type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	center     model.Coordinates
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
}

// New creates a Client. The API key may be empty; every call then fails
// with an EnrichmentError, which the pipeline treats as a degraded (not
// fatal) condition.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 10
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		apiKey:     opts.APIKey,
		baseURL:    opts.BaseURL,
		center:     opts.RegionCenter,
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), int(opts.RequestsPerSecond)),
		retry:      opts.Retry,
	}
}

type latLngJSON struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type placeJSON struct {
	ID          string `json:"id"`
	DisplayName struct {
		Text string `json:"text"`
	} `json:"displayName"`
	FormattedAddress string      `json:"formattedAddress"`
	Location         *latLngJSON `json:"location"`
	GoogleMapsURI    string      `json:"googleMapsUri"`
	PriceLevel       string      `json:"priceLevel"`
	Photos           []struct {
		Name string `json:"name"`
	} `json:"photos"`
}

// Details fetches canonical place data for a stable ID.
func (c *Client) Details(ctx context.Context, placeID string) (*model.PlaceDetails, error) {
	if placeID == "" {
		return nil, &EnrichmentError{Op: "details", Err: eris.New("empty place id")}
	}

	reqURL := fmt.Sprintf("%s/places/%s", c.baseURL, url.PathEscape(placeID))
	fieldMask := "id,displayName,formattedAddress,location,googleMapsUri,priceLevel,photos"

	var p placeJSON
	if err := c.do(ctx, "details", http.MethodGet, reqURL, fieldMask, nil, &p); err != nil {
		return nil, err
	}

	details := &model.PlaceDetails{
		PlaceID: p.ID,
		Name:    p.DisplayName.Text,
		Address: p.FormattedAddress,
		MapsURI: p.GoogleMapsURI,
	}
	if details.Name == "" {
		details.Name = "Unknown place"
	}
	if p.Location != nil {
		coords := model.Coordinates{Lat: p.Location.Latitude, Lng: p.Location.Longitude}
		if coords.Valid() {
			details.Coords = &coords
		}
	}
	if lvl, ok := priceLevelValue(p.PriceLevel); ok {
		details.PriceLevel = &lvl
	}
	if len(p.Photos) > 0 {
		details.PhotoRef = p.Photos[0].Name
	}
	return details, nil
}

// SearchText resolves a free-text query to a place ID, biased toward the
// configured region center. Returns "" without error when nothing matched.
func (c *Client) SearchText(ctx context.Context, query string) (string, error) {
	body := map[string]any{
		"textQuery": query,
		"locationBias": map[string]any{
			"circle": map[string]any{
				"center": latLngJSON{Latitude: c.center.Lat, Longitude: c.center.Lng},
				"radius": searchBiasRadiusMeters,
			},
		},
		"maxResultCount": 1,
	}
	return c.search(ctx, "search_text", c.baseURL+"/places:searchText", body)
}

// SearchNearby resolves coordinates to the closest place ID. Returns ""
// without error when nothing is near enough.
func (c *Client) SearchNearby(ctx context.Context, lat, lng float64) (string, error) {
	body := map[string]any{
		"locationRestriction": map[string]any{
			"circle": map[string]any{
				"center": latLngJSON{Latitude: lat, Longitude: lng},
				"radius": nearbyRadiusMeters,
			},
		},
		"rankPreference": "DISTANCE",
		"maxResultCount": 1,
	}
	return c.search(ctx, "search_nearby", c.baseURL+"/places:searchNearby", body)
}

func (c *Client) search(ctx context.Context, op, reqURL string, body map[string]any) (string, error) {
	var resp struct {
		Places []placeJSON `json:"places"`
	}
	if err := c.do(ctx, op, http.MethodPost, reqURL, "places.id,places.displayName", body, &resp); err != nil {
		return "", err
	}
	if len(resp.Places) == 0 {
		return "", nil
	}
	return resp.Places[0].ID, nil
}

func (c *Client) do(ctx context.Context, op, method, reqURL, fieldMask string, body any, out any) error {
	if c.apiKey == "" {
		return &EnrichmentError{Op: op, Err: eris.New("api key not configured")}
	}

	cfg := c.retry
	cfg.OnRetry = resilience.RetryLogger("places", op)

	data, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limiter wait")
		}

		var reqBody io.Reader
		if body != nil {
			encoded, err := json.Marshal(body)
			if err != nil {
				return nil, eris.Wrap(err, "encode request")
			}
			reqBody = bytes.NewReader(encoded)
		}

		req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
		if err != nil {
			return nil, eris.Wrap(err, "build request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Goog-Api-Key", c.apiKey)
		req.Header.Set("X-Goog-FieldMask", fieldMask)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close() //nolint:errcheck

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "read response")
		}
		if resp.StatusCode != http.StatusOK {
			err := eris.Errorf("status %d: %s", resp.StatusCode, truncateBody(payload))
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(err, resp.StatusCode)
			}
			return nil, err
		}
		return payload, nil
	})
	if err != nil {
		return &EnrichmentError{Op: op, StatusCode: statusOf(err), Err: err}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &EnrichmentError{Op: op, Err: eris.Wrap(err, "decode response")}
	}
	return nil
}

func statusOf(err error) int {
	var te *resilience.TransientError
	if errors.As(err, &te) {
		return te.StatusCode
	}
	return 0
}

func truncateBody(b []byte) string {
	const max = 200
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}

// priceLevelValue maps the API's enum strings onto the stored 0..4 scale.
func priceLevelValue(s string) (int, bool) {
	switch s {
	case "PRICE_LEVEL_FREE":
		return 0, true
	case "PRICE_LEVEL_INEXPENSIVE":
		return 1, true
	case "PRICE_LEVEL_MODERATE":
		return 2, true
	case "PRICE_LEVEL_EXPENSIVE":
		return 3, true
	case "PRICE_LEVEL_VERY_EXPENSIVE":
		return 4, true
	}
	return 0, false
}
