// Package google searches nearby places with the Places API (New)
// searchNearby endpoint.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/rubiojr/shopsense/pkg/geomath"
	"github.com/rubiojr/shopsense/pkg/logger"
	"github.com/rubiojr/shopsense/pkg/model"
)

const (
	DefaultEndpoint = "https://places.googleapis.com/v1/places:searchNearby"
	// MaxResults is the maxResultCount sent with every request.
	MaxResults = 5
	fieldMask  = "places.displayName,places.location"
	// bodyExcerpt bounds how much of an error body ends up in the error.
	bodyExcerpt = 512
	// maxBody caps a response; five places with two fields fit many times over.
	maxBody = 1 << 20
)

// ErrMissingKey is returned by New without an API key.
var ErrMissingKey = errors.New("google places: api key required")

var log = logger.With("google")

type Client struct {
	apiKey   string
	endpoint string
	http     *http.Client
	limiter  *rate.Limiter
}

// Option customises a Client.
type Option func(*Client)

// WithEndpoint points the client at another URL (tests).
func WithEndpoint(u string) Option {
	return func(c *Client) { c.endpoint = u }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRate limits outgoing requests to r per second with burst b.
func WithRate(r float64, b int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(r), b) }
}

func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, ErrMissingKey
	}
	c := &Client{
		apiKey:   apiKey,
		endpoint: DefaultEndpoint,
		http:     &http.Client{Timeout: 15 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(5), 5),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

type latLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type circle struct {
	Center latLng  `json:"center"`
	Radius float64 `json:"radius"`
}

type locationRestriction struct {
	Circle circle `json:"circle"`
}

type searchRequest struct {
	IncludedTypes       []string            `json:"includedTypes"`
	MaxResultCount      int                 `json:"maxResultCount"`
	LocationRestriction locationRestriction `json:"locationRestriction"`
}

type searchResponse struct {
	Places []struct {
		DisplayName *struct {
			Text string `json:"text"`
		} `json:"displayName"`
		Location *latLng `json:"location"`
	} `json:"places"`
}

// SearchNearby implements places.Searcher. Places without a display name or
// location are skipped.
func (c *Client) SearchNearby(ctx context.Context, center geomath.Point, radiusMeters float64, types []string) ([]model.NearbyPlace, error) {
	if len(types) == 0 {
		return nil, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(searchRequest{
		IncludedTypes:  types,
		MaxResultCount: MaxResults,
		LocationRestriction: locationRestriction{Circle: circle{
			Center: latLng{Latitude: center.Lat, Longitude: center.Lng},
			Radius: radiusMeters,
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", fieldMask)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request to places api: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if len(raw) > maxBody {
		return nil, fmt.Errorf("places api response exceeds %d bytes", maxBody)
	}
	if resp.StatusCode/100 != 2 {
		excerpt := raw
		if len(excerpt) > bodyExcerpt {
			excerpt = excerpt[:bodyExcerpt]
		}
		return nil, fmt.Errorf("places api returned %s: %s", resp.Status, excerpt)
	}

	var parsed searchResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal response json: %w", err)
	}

	out := make([]model.NearbyPlace, 0, len(parsed.Places))
	for _, p := range parsed.Places {
		if p.DisplayName == nil || p.DisplayName.Text == "" || p.Location == nil {
			continue
		}
		out = append(out, model.NearbyPlace{
			Name: p.DisplayName.Text,
			Lat:  p.Location.Latitude,
			Lng:  p.Location.Longitude,
		})
	}
	log.Debug("search done", "types", types, "radius", radiusMeters, "results", len(out))
	return out, nil
}
