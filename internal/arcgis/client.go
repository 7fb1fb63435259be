// Package arcgis fetches features and rasters from ArcGIS REST services and
// the USDA soil data service, returning geometry in the working CRS.
//
// Every call goes through one primitive that is wrapped, outermost first, by
// the response cache, a per-host circuit breaker, retries with backoff, and a
// shared rate limiter. Failures never surface as errors: the typed methods
// return an empty result marked StatusUnavailable instead.
package arcgis

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/parcel-feasibility/internal/cache"
	"github.com/sells-group/parcel-feasibility/internal/geometry"
	"github.com/sells-group/parcel-feasibility/internal/resilience"
)

// Status distinguishes "no features" from "could not ask".
type Status int

const (
	// StatusAvailable means the service answered; the result may be empty.
	StatusAvailable Status = iota
	// StatusUnavailable means retries were exhausted or the answer was unusable.
	StatusUnavailable
)

func (s Status) String() string {
	if s == StatusAvailable {
		return "available"
	}
	return "unavailable"
}

// Format selects the response encoding requested from a service.
type Format string

const (
	// FormatEsri requests Esri JSON (f=json), which carries its spatial reference.
	FormatEsri Format = "json"
	// FormatGeoJSON requests GeoJSON (f=geojson), always WGS84.
	FormatGeoJSON Format = "geojson"
)

// Service describes one external data source.
type Service struct {
	// Name is a stable identifier used for logs, cache keys and offline fixtures.
	Name string
	// URL is the layer endpoint (…/MapServer/0) or service root for images
	// and tabular services.
	URL string
	// OutSR is the spatial reference requested for output. Zero leaves the
	// service's native reference system.
	OutSR int
	// Format is the response encoding. Empty means Esri JSON.
	Format Format
}

// Fetcher is the read-only view of the client used by resolvers and layers.
type Fetcher interface {
	Query(ctx context.Context, svc Service, q Query) FeatureSet
	ExportImage(ctx context.Context, svc Service, req ImageRequest) Raster
	Samples(ctx context.Context, svc Service, points []geom.Coord) SampleSet
	PostTabular(ctx context.Context, svc Service, sql string) Table
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithCache sets the response cache.
func WithCache(store cache.Cache) Option {
	return func(c *Client) {
		c.cache = store
	}
}

// WithPolicy sets retry and circuit breaking.
func WithPolicy(p resilience.Policy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

// WithMinDelay enforces a minimum spacing between consecutive outbound
// requests. Zero disables spacing.
func WithMinDelay(d time.Duration) Option {
	return func(c *Client) {
		if d <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithOfflineDir serves responses from fixture files instead of the network.
func WithOfflineDir(dir string) Option {
	return func(c *Client) {
		c.offlineDir = dir
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithReprojector shares a transformer cache.
func WithReprojector(r *geometry.Reprojector) Option {
	return func(c *Client) {
		c.reproj = r
	}
}

// WithSimplifyTolerance sets the Douglas-Peucker tolerance (feet) applied to
// polygons sent as spatial filters.
func WithSimplifyTolerance(ft float64) Option {
	return func(c *Client) {
		c.simplifyTol = ft
	}
}

// Client talks to ArcGIS REST endpoints.
type Client struct {
	http        *http.Client
	cache       cache.Cache
	policy      resilience.Policy
	limiter     *rate.Limiter
	reproj      *geometry.Reprojector
	offlineDir  string
	userAgent   string
	simplifyTol float64
	log         *zap.Logger
}

// BreakerStates reports the circuit state of every GIS host contacted so
// far. It returns nil when circuit breaking is disabled.
func (c *Client) BreakerStates() map[string]string {
	if c.policy.Breakers == nil {
		return nil
	}
	states := c.policy.Breakers.States()
	out := make(map[string]string, len(states))
	for host, st := range states {
		out[host] = st.String()
	}
	return out
}

// NewClient creates a Client. Defaults: 30s timeout, no cache, three
// attempts, 500ms between requests.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http:      &http.Client{Timeout: 30 * time.Second},
		cache:     cache.Nop{},
		policy:    resilience.Policy{Retry: resilience.DefaultRetryConfig()},
		limiter:   rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
		reproj:    geometry.NewReprojector(),
		userAgent: "parcel-feasibility/1.0",
		log:       zap.L().With(zap.String("component", "arcgis")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// request is the single shape of every outbound call.
type request struct {
	service   string
	operation string
	method    string
	url       string
	params    url.Values
	body      []byte
	// check validates a response body; a non-nil error fails the attempt.
	check func(body []byte) error
}

func (r request) cacheKey() string {
	return cache.Key(r.service, r.operation, r.method, r.url, r.params.Encode(), string(r.body))
}

// do is the one external-call primitive. Successful bodies are cached.
func (c *Client) do(ctx context.Context, req request) ([]byte, error) {
	key := req.cacheKey()
	if data, ok, err := c.cache.Get(ctx, key); err != nil {
		c.log.Warn("arcgis: cache read failed", zap.String("service", req.service), zap.Error(err))
	} else if ok {
		c.log.Debug("arcgis: cache hit", zap.String("service", req.service), zap.String("key", key[:12]))
		return data, nil
	}

	if c.offlineDir != "" {
		return c.offline(req)
	}

	u, err := url.Parse(req.url)
	if err != nil || u.Host == "" {
		return nil, eris.Errorf("arcgis: %s has no endpoint configured", req.service)
	}
	host := u.Host

	body, err := resilience.Call(ctx, c.policy, host, req.operation, func(ctx context.Context) ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "arcgis: rate limit wait")
		}
		return c.send(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	if err := c.cache.Set(ctx, key, body); err != nil {
		c.log.Warn("arcgis: cache write failed", zap.String("service", req.service), zap.Error(err))
	}
	return body, nil
}

func (c *Client) send(ctx context.Context, req request) ([]byte, error) {
	var (
		httpReq *http.Request
		err     error
	)
	switch {
	case req.body != nil:
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost, req.url, bytes.NewReader(req.body))
		if err == nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
	case req.method == http.MethodPost:
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost, req.url, bytes.NewBufferString(req.params.Encode()))
		if err == nil {
			httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	default:
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodGet, req.url+"?"+req.params.Encode(), nil)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "arcgis: build %s request", req.service)
	}
	httpReq.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrapf(err, "arcgis: %s request", req.service)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrapf(err, "arcgis: read %s response", req.service), resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.StatusFailure(req.service, resp.StatusCode, truncate(string(body), 200))
	}
	if req.check != nil {
		if err := req.check(body); err != nil {
			return nil, err
		}
	}
	return body, nil
}

// checkEnvelope rejects the {"error":{...}} body ArcGIS returns with HTTP 200.
func checkEnvelope(service string) func([]byte) error {
	return func(body []byte) error {
		var env struct {
			Error *struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(body, &env); err != nil {
			return eris.Wrapf(err, "arcgis: decode %s response", service)
		}
		if env.Error != nil {
			return resilience.StatusFailure(service, env.Error.Code, env.Error.Message)
		}
		return nil
	}
}

func (c *Client) offline(req request) ([]byte, error) {
	path := filepath.Join(c.offlineDir, req.service+"."+req.operation)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "arcgis: offline fixture %s", path)
	}
	return data, nil
}

func (c *Client) unavailable(svc, op string, err error) {
	c.log.Warn("arcgis: data unavailable",
		zap.String("service", svc),
		zap.String("operation", op),
		zap.Error(err),
	)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
