// Package stac provides a client for STAC API item search.
package stac

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/sells-group/landcover-cli/internal/apperr"
	"github.com/sells-group/landcover-cli/internal/resilience"
)

// Client defines the STAC operations the pipeline depends on.
type Client interface {
	// Search returns every item matching req, following next links.
	Search(ctx context.Context, req SearchRequest) ([]Item, error)
}

// SearchRequest selects items by collection, bounding box and a half-open
// time window [Start, End).
type SearchRequest struct {
	Collections []string
	BBox        [4]float64
	Start       time.Time
	End         time.Time
	Limit       int
}

// Item is a STAC item (one scene).
type Item struct {
	ID         string           `json:"id"`
	Collection string           `json:"collection"`
	BBox       []float64        `json:"bbox"`
	Properties Properties       `json:"properties"`
	Assets     map[string]Asset `json:"assets"`
}

// Properties holds the item properties the pipeline reads.
type Properties struct {
	Datetime   time.Time `json:"datetime"`
	CloudCover *float64  `json:"eo:cloud_cover,omitempty"`
	Platform   string    `json:"platform,omitempty"`
}

// Asset is a downloadable file of an item.
type Asset struct {
	Href  string   `json:"href"`
	Type  string   `json:"type,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// Cloud returns the cloud cover percentage, or 100 when unknown.
func (i Item) Cloud() float64 {
	if i.Properties.CloudCover == nil {
		return 100
	}
	return *i.Properties.CloudCover
}

// APIError is returned when the STAC API responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stac: HTTP %d: %s", e.StatusCode, e.Body)
}

type searchPage struct {
	Features []Item `json:"features"`
	Links    []link `json:"links"`
}

type link struct {
	Rel    string         `json:"rel"`
	Href   string         `json:"href"`
	Method string         `json:"method,omitempty"`
	Body   map[string]any `json:"body,omitempty"`
	Merge  bool           `json:"merge,omitempty"`
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithRetry sets the retry policy applied to each page request.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// WithClientCredentials authenticates requests with an OAuth2 client
// credentials grant. Empty credentials leave the client anonymous.
func WithClientCredentials(tokenURL, clientID, clientSecret string) Option {
	return func(c *httpClient) {
		if tokenURL == "" || clientID == "" {
			return
		}
		c.creds = &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
		}
	}
}

// WithPageLimit sets the page size requested from the API.
func WithPageLimit(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.pageLimit = n
		}
	}
}

type httpClient struct {
	baseURL   string
	http      *http.Client
	creds     *clientcredentials.Config
	limiter   *rate.Limiter
	retry     resilience.RetryConfig
	pageLimit int
	maxPages  int
}

// NewClient creates a STAC API client rooted at baseURL.
func NewClient(baseURL string, opts ...Option) Client {
	c := &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry:     resilience.DefaultRetryConfig().Named("stac", "search"),
		pageLimit: 100,
		maxPages:  1000,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.creds != nil {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, c.http)
		c.http = c.creds.Client(ctx)
	}
	return c
}

// Search implements Client.
func (c *httpClient) Search(ctx context.Context, req SearchRequest) ([]Item, error) {
	log := zap.L().With(
		zap.String("component", "stac.search"),
		zap.Strings("collections", req.Collections),
	)

	if !req.Start.Before(req.End) {
		return nil, eris.Errorf("stac: empty time window %s/%s", req.Start, req.End)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = c.pageLimit
	}

	body := map[string]any{
		"collections": req.Collections,
		"bbox":        req.BBox[:],
		"datetime":    Interval(req.Start, req.End),
		"limit":       limit,
	}
	next := &link{Href: c.baseURL + "/search", Method: http.MethodPost, Body: body}

	var items []Item
	for page := 0; next != nil; page++ {
		if page >= c.maxPages {
			return nil, eris.Errorf("stac: gave up after %d pages", page)
		}

		p, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*searchPage, error) {
			return c.fetchPage(ctx, next)
		})
		if err != nil {
			return nil, err
		}

		for _, it := range p.Features {
			dt := it.Properties.Datetime
			if dt.Before(req.Start) || !dt.Before(req.End) {
				continue
			}
			items = append(items, it)
		}
		log.Debug("fetched search page", zap.Int("page", page), zap.Int("features", len(p.Features)))

		next = nextLink(p.Links, next)
	}

	log.Info("search complete", zap.Int("items", len(items)))
	return items, nil
}

// Interval formats a half-open window as a closed STAC datetime interval by
// stepping the end back one nanosecond.
func Interval(start, end time.Time) string {
	return start.UTC().Format(time.RFC3339Nano) + "/" + end.Add(-time.Nanosecond).UTC().Format(time.RFC3339Nano)
}

// nextLink returns the follow-up request for the rel=next link, if any.
func nextLink(links []link, prev *link) *link {
	for _, l := range links {
		if l.Rel != "next" || l.Href == "" {
			continue
		}
		n := l
		if n.Method == "" {
			n.Method = http.MethodGet
		}
		if n.Method == http.MethodPost && (n.Merge || n.Body == nil) {
			merged := make(map[string]any, len(prev.Body)+len(n.Body))
			for k, v := range prev.Body {
				merged[k] = v
			}
			for k, v := range n.Body {
				merged[k] = v
			}
			n.Body = merged
		}
		return &n
	}
	return nil
}

func (c *httpClient) fetchPage(ctx context.Context, l *link) (*searchPage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "stac: rate limit wait")
		}
	}

	var reqBody io.Reader
	if l.Method == http.MethodPost {
		data, err := json.Marshal(l.Body)
		if err != nil {
			return nil, eris.Wrap(err, "stac: marshal search body")
		}
		reqBody = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, l.Method, l.Href, reqBody)
	if err != nil {
		return nil, eris.Wrap(err, "stac: build request")
	}
	httpReq.Header.Set("Accept", "application/geo+json")
	if reqBody != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, apperr.NewExternal("stac", "search", true, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.NewExternal("stac", "search", true, eris.Wrap(err, "read body"))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.NewExternal("stac", "search",
			resilience.IsTransientHTTPStatus(resp.StatusCode),
			&APIError{StatusCode: resp.StatusCode, Body: string(data)})
	}

	var page searchPage
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, eris.Wrap(err, "stac: decode search page")
	}
	return &page, nil
}
