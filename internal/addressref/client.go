// Package addressref links lease records to the external address reference
// dataset: UPRN, postcode, and coordinates. Lookups are read-only and
// best-effort; a failed resolution flags the record, never blocks a batch.
package addressref

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/leasedata/goldenrec/internal/model"
	"github.com/leasedata/goldenrec/internal/resilience"
)

// Client resolves property identifiers to address links.
type Client interface {
	// Resolve returns the address link for a property identifier, or nil
	// when the identifier is unknown to the reference dataset.
	Resolve(ctx context.Context, propertyID string) (*model.AddressLink, error)
}

// HTTPClient talks to a postcodes.io-style lookup service.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// Options tunes the HTTP client.
type Options struct {
	Timeout    time.Duration
	RatePerSec float64
}

func NewHTTP(baseURL string, opts Options) *HTTPClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 10
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), 1),
		retry: resilience.RetryConfig{
			MaxAttempts: 3,
			OnRetry:     resilience.RetryLogger("addressref", "lookup"),
		},
	}
}

// lookupResponse mirrors the service's envelope.
type lookupResponse struct {
	Status int `json:"status"`
	Result *struct {
		UPRN      string   `json:"uprn"`
		Postcode  string   `json:"postcode"`
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	} `json:"result"`
}

func (c *HTTPClient) Resolve(ctx context.Context, propertyID string) (*model.AddressLink, error) {
	if propertyID == "" {
		return nil, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "addressref: rate limit")
	}

	endpoint := c.baseURL + "/properties/" + url.PathEscape(propertyID)

	body, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		return c.fetch(ctx, endpoint)
	})
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}

	var resp lookupResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "addressref: decode response")
	}
	if resp.Result == nil {
		return nil, nil
	}

	link := &model.AddressLink{
		UPRN:      resp.Result.UPRN,
		Postcode:  resp.Result.Postcode,
		Latitude:  resp.Result.Latitude,
		Longitude: resp.Result.Longitude,
	}
	if loc, err := GeoJSONPoint(resp.Result.Latitude, resp.Result.Longitude); err != nil {
		zap.L().Warn("addressref: encode location", zap.String("property_id", propertyID), zap.Error(err))
	} else {
		link.Location = loc
	}
	return link, nil
}

// fetch performs one GET, classifying retryable statuses as transient.
func (c *HTTPClient) fetch(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "addressref: build request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(err, 0)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return nil, resilience.NewTransientError(eris.Errorf("addressref: status %d", resp.StatusCode), resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, eris.Errorf("addressref: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(err, 0)
	}
	return body, nil
}

// GeoJSONPoint encodes a lon/lat pair as a GeoJSON Point, WGS84.
func GeoJSONPoint(lat, lon *float64) ([]byte, error) {
	if lat == nil || lon == nil {
		return nil, nil
	}
	point := geom.NewPointFlat(geom.XY, []float64{*lon, *lat}).SetSRID(4326)
	data, err := geojson.Marshal(point)
	if err != nil {
		return nil, eris.Wrap(err, "addressref: marshal point")
	}
	return data, nil
}
