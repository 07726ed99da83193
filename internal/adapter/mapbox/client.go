package mapbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/couchcryptid/climate-witness/internal/domain"
	"github.com/couchcryptid/climate-witness/internal/observability"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.mapbox.com/geocoding/v5/mapbox.places"

// Client implements domain.Geocoder using the Mapbox Geocoding API.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a Mapbox geocoding client. Requests are paced to stay
// under the free tier's 600 requests per minute.
func NewClient(token string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		token: token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: defaultBaseURL,
		limiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 5),
		metrics: metrics,
		logger:  logger,
	}
}

// ForwardGeocode resolves a region name ("Turkana, Kenya") to coordinates.
func (c *Client) ForwardGeocode(ctx context.Context, region string) (domain.Place, error) {
	u := fmt.Sprintf("%s/%s.json", c.baseURL, url.PathEscape(strings.TrimSpace(region)))
	params := url.Values{
		"access_token": {c.token},
		"limit":        {"1"},
		"types":        {"region,district,place,locality"},
	}

	return c.doRequest(ctx, u+"?"+params.Encode(), "forward")
}

// ReverseGeocode resolves coordinates to the administrative region containing them.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lon float64) (domain.Place, error) {
	// Mapbox uses lon,lat order.
	coord := fmt.Sprintf("%.6f,%.6f", lon, lat)
	u := fmt.Sprintf("%s/%s.json", c.baseURL, coord)
	params := url.Values{
		"access_token": {c.token},
		"limit":        {"1"},
	}

	return c.doRequest(ctx, u+"?"+params.Encode(), "reverse")
}

func (c *Client) doRequest(ctx context.Context, fullURL, method string) (domain.Place, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			c.metrics.GeocodeRequests.WithLabelValues(method, "error").Inc()
			return domain.Place{}, fmt.Errorf("%s geocode: rate limiter wait: %w", method, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return domain.Place{}, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.GeocodeAPIDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.GeocodeRequests.WithLabelValues(method, "error").Inc()
		return domain.Place{}, fmt.Errorf("%s geocode request: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.metrics.GeocodeRequests.WithLabelValues(method, "error").Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.Place{}, fmt.Errorf("mapbox API error: status %d: %s", resp.StatusCode, body)
	}

	var mapboxResp response
	if err := json.NewDecoder(resp.Body).Decode(&mapboxResp); err != nil {
		c.metrics.GeocodeRequests.WithLabelValues(method, "error").Inc()
		return domain.Place{}, fmt.Errorf("decode response: %w", err)
	}

	if len(mapboxResp.Features) == 0 {
		c.metrics.GeocodeRequests.WithLabelValues(method, "empty").Inc()
		c.logger.Debug("geocode returned no features", "method", method)
		return domain.Place{}, nil
	}

	c.metrics.GeocodeRequests.WithLabelValues(method, "success").Inc()
	f := mapboxResp.Features[0]
	place := domain.Place{
		FormattedAddress: f.PlaceName,
		Region:           f.region(),
		Confidence:       f.Relevance,
	}
	if len(f.Center) == 2 {
		place.Point = domain.GeoPoint{Lat: f.Center[1], Lon: f.Center[0]}
	}
	return place, nil
}

// Mapbox API response types.

type response struct {
	Features []feature `json:"features"`
}

type feature struct {
	ID        string        `json:"id"`     // "<type>.<id>", e.g. "region.9241"
	Center    []float64     `json:"center"` // [lon, lat]
	PlaceName string        `json:"place_name"`
	Text      string        `json:"text"`
	Relevance float64       `json:"relevance"`
	Context   []contextItem `json:"context"`
}

type contextItem struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// region returns the first-level administrative area of the feature: the
// feature itself when it is a region, otherwise its region context entry.
// Features with no region context fall back to the feature text.
func (f feature) region() string {
	if strings.HasPrefix(f.ID, "region.") {
		return f.Text
	}
	for _, c := range f.Context {
		if strings.HasPrefix(c.ID, "region.") {
			return c.Text
		}
	}
	return f.Text
}
