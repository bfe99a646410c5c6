// Package provider is the HTTP client for the ranking-data provider: search
// positions, competitor overlap and backlinks. It also probes tenant pages
// directly for status and latency.
package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/rankpulse/am"
	"github.com/teranos/rankpulse/errors"
	"github.com/teranos/rankpulse/internal/httpclient"
)

const (
	// DefaultTimeout applies to each provider call and each page probe
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRequestsPerMinute caps provider calls across all runs
	DefaultMaxRequestsPerMinute = 30

	// maxErrorBody bounds how much of a failed response is kept in the error
	maxErrorBody = 512
)

// Ranking is the position of a domain for one keyword
type Ranking struct {
	Keyword  string      `json:"keyword"`
	Domain   string      `json:"domain"`
	Position *int        `json:"position"` // nil = not in the results
	URL      string      `json:"url"`
	Results  []SERPEntry `json:"results"`
}

// SERPEntry is one organic result on the results page
type SERPEntry struct {
	Position int    `json:"position"`
	URL      string `json:"url"`
	Domain   string `json:"domain"`
}

// Competitor is a domain competing for the same keywords
type Competitor struct {
	Domain  string  `json:"domain"`
	Overlap float64 `json:"overlap"`
}

// Backlink is one inbound link to a target URL
type Backlink struct {
	SourceURL  string `json:"source_url"`
	TargetURL  string `json:"target_url"`
	AnchorText string `json:"anchor_text"`
}

// ProbeResult is the outcome of fetching a tenant page
type ProbeResult struct {
	URL        string
	StatusCode int
	Latency    time.Duration
}

// StatusError is returned for non-2xx provider responses
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return "provider returned status " + strconv.Itoa(e.Code)
}

// Config holds provider client configuration
type Config struct {
	BaseURL              string
	APIKey               string
	Timeout              time.Duration
	MaxRequestsPerMinute int  // <= 0 disables the cap
	AllowPrivateProbes   bool // permit probing loopback and private addresses
	Logger               *zap.SugaredLogger
}

// ConfigFrom maps the provider section of the loaded configuration
func ConfigFrom(c am.ProviderConfig) Config {
	return Config{
		BaseURL:              c.BaseURL,
		APIKey:               c.APIKey,
		Timeout:              time.Duration(c.TimeoutSeconds) * time.Second,
		MaxRequestsPerMinute: c.MaxRequestsPerMinute,
		AllowPrivateProbes:   c.AllowPrivateProbes,
	}
}

// Client calls the provider API and probes pages
type Client struct {
	baseURL *url.URL
	apiKey  string
	api     *httpclient.SaferClient
	probe   *httpclient.SaferClient
	limiter *rate.Limiter
	logger  *zap.SugaredLogger
}

// NewClient creates a provider client
func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.WithHint(
			errors.NewInvalidRequestError("invalid provider base URL %q", cfg.BaseURL),
			"set provider.base_url to an absolute URL such as https://api.example.com")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	limit := rate.Inf
	if cfg.MaxRequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.MaxRequestsPerMinute) / 60.0)
	}

	// The provider URL is operator configuration, so it may live on a
	// private network. Probe targets come from tenant data and do not.
	blockAPI := false
	blockProbes := !cfg.AllowPrivateProbes

	return &Client{
		baseURL: base,
		apiKey:  cfg.APIKey,
		api:     httpclient.NewSaferClientWithOptions(cfg.Timeout, httpclient.Options{BlockPrivateIP: &blockAPI}),
		probe:   httpclient.NewSaferClientWithOptions(cfg.Timeout, httpclient.Options{BlockPrivateIP: &blockProbes}),
		limiter: rate.NewLimiter(limit, 1),
		logger:  log,
	}, nil
}

// RankLookup returns the position of domain for keyword
func (c *Client) RankLookup(ctx context.Context, keyword, domain string) (*Ranking, error) {
	var out Ranking
	q := url.Values{"keyword": {keyword}, "domain": {domain}}
	if err := c.get(ctx, "/v1/rank", q, &out); err != nil {
		return nil, errors.WithDetailf(err, "Keyword: %s", keyword)
	}
	if out.Keyword == "" {
		out.Keyword = keyword
	}
	if out.Domain == "" {
		out.Domain = domain
	}
	return &out, nil
}

// CompetitorList returns domains that compete with domain
func (c *Client) CompetitorList(ctx context.Context, domain string) ([]Competitor, error) {
	var out struct {
		Competitors []Competitor `json:"competitors"`
	}
	if err := c.get(ctx, "/v1/competitors", url.Values{"domain": {domain}}, &out); err != nil {
		return nil, errors.WithDetailf(err, "Domain: %s", domain)
	}
	return out.Competitors, nil
}

// BacklinkPage returns known backlinks pointing at target
func (c *Client) BacklinkPage(ctx context.Context, target string) ([]Backlink, error) {
	var out struct {
		Backlinks []Backlink `json:"backlinks"`
	}
	if err := c.get(ctx, "/v1/backlinks", url.Values{"url": {target}}, &out); err != nil {
		return nil, errors.WithDetailf(err, "Target URL: %s", target)
	}
	for i := range out.Backlinks {
		if out.Backlinks[i].TargetURL == "" {
			out.Backlinks[i].TargetURL = target
		}
	}
	return out.Backlinks, nil
}

// PageProbe fetches pageURL and reports its status code and latency. Any
// HTTP status is a result; only transport failures are errors.
func (c *Client) PageProbe(ctx context.Context, pageURL string) (*ProbeResult, error) {
	if _, err := c.probe.ValidateURL(pageURL); err != nil {
		return nil, errors.WithDetailf(err, "URL: %s", pageURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create probe request")
	}

	start := time.Now()
	resp, err := c.probe.Do(req)
	if err != nil {
		return nil, errors.WithDetailf(errors.Wrap(err, "probe failed"), "URL: %s", pageURL)
	}
	defer resp.Body.Close()
	// Latency covers the full body, as a browser would see it
	_, _ = io.Copy(io.Discard, resp.Body)

	return &ProbeResult{
		URL:        pageURL,
		StatusCode: resp.StatusCode,
		Latency:    time.Since(start),
	}, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limiter wait cancelled")
	}

	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.api.Do(req)
	if err != nil {
		return errors.Wrapf(err, "provider request %s failed", path)
	}
	defer resp.Body.Close()

	c.logger.Debugw("Provider call",
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		err := errors.WithStack(&StatusError{Code: resp.StatusCode, Body: string(body)})
		err = errors.WithDetailf(err, "Status code: %d", resp.StatusCode)
		return errors.Wrapf(err, "provider request %s failed", path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "failed to decode %s response", path)
	}
	return nil
}

// StatusCode returns the HTTP status of a provider error, or 0 when err is
// not a status error.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}
