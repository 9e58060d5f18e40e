// ABOUTME: HTTP client for one upstream service with retry, circuit breaking, bulkheading and rate limits.
// ABOUTME: GET responses are cached per service TTL; concurrent identical fills collapse via singleflight.

package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/bulkhead"
	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/retry"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const userAgent = "toolgate/1.0"

var (
	// ErrClientStatus marks 4xx responses, which are never retried.
	ErrClientStatus = errors.New("upstream rejected request")
	// ErrRateLimited is returned when an endpoint's per-minute limit is spent.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrUnknownEndpoint is returned for endpoint names the service lacks.
	ErrUnknownEndpoint = errors.New("unknown endpoint")
)

// StatusError is an HTTP error status returned by an upstream service.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// Is reports 4xx errors as ErrClientStatus.
func (e *StatusError) Is(target error) bool {
	return target == ErrClientStatus && e.Status >= 400 && e.Status < 500
}

// ClientOptions tunes a Client. Zero values pick defaults.
type ClientOptions struct {
	HTTPClient       *http.Client
	RetryDelay       time.Duration // initial backoff, doubled per attempt
	MaxConcurrent    int
	BreakerThreshold int // consecutive failures before the breaker opens
	BreakerTimeout   time.Duration
	CacheSize        int
	Logger           *slog.Logger
}

// Client calls the endpoints of one service.
type Client struct {
	service  *Service
	http     *http.Client
	logger   *slog.Logger
	cache    *Cache
	group    singleflight.Group
	limiters map[string]*rate.Limiter
	fillMax  time.Duration // bound on a shared cache fill, detached from any one caller

	bulkhead bulkhead.Bulkhead[any]
	breaker  circuitbreaker.CircuitBreaker[any]
	retry    retry.Retry[any]
}

// NewClient creates a client for svc.
func NewClient(svc *Service, opts ClientOptions) *Client {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 10
	}
	if opts.BreakerThreshold <= 0 {
		opts.BreakerThreshold = 5
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 30 * time.Second
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1000
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: svc.Timeout}
	}
	threshold := opts.BreakerThreshold

	c := &Client{
		service:  svc,
		http:     httpClient,
		logger:   opts.Logger.With("service", svc.Name),
		limiters: make(map[string]*rate.Limiter),
		bulkhead: bulkhead.New[any](bulkhead.Config{
			MaxConcurrent: opts.MaxConcurrent,
		}),
		breaker: circuitbreaker.New[any](circuitbreaker.Config{
			MaxRequests: 1,
			Interval:    opts.BreakerTimeout,
			Timeout:     opts.BreakerTimeout,
			ReadyToTrip: func(counts circuitbreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(threshold) // #nosec G115 -- threshold is positive
			},
		}),
		retry: retry.New[any](retry.Config{
			MaxAttempts:        svc.MaxRetries,
			InitialDelay:       opts.RetryDelay,
			BackoffPolicy:      retry.BackoffExponential,
			Multiplier:         2.0,
			NonRetryableErrors: []error{ErrClientStatus},
		}),
	}
	c.fillMax = fillTimeout(svc, opts.RetryDelay)
	if svc.CacheTTL > 0 {
		c.cache = NewCache(svc.CacheTTL, opts.CacheSize, svc.CacheTTL)
	}
	for _, ep := range svc.Endpoints {
		if ep.RateLimit > 0 {
			c.limiters[ep.Name] = rate.NewLimiter(rate.Every(time.Minute/time.Duration(ep.RateLimit)), ep.RateLimit)
		}
	}
	return c
}

// Service returns the service definition the client was built from.
func (c *Client) Service() *Service { return c.service }

// BreakerState returns the circuit breaker state name.
func (c *Client) BreakerState() string { return c.breaker.State().String() }

// Call invokes an endpoint with the given parameters.
func (c *Client) Call(ctx context.Context, endpoint string, params map[string]any) (any, error) {
	ep, ok := c.service.Endpoint(endpoint)
	if !ok {
		return nil, fmt.Errorf("%w: %s_%s", ErrUnknownEndpoint, c.service.Name, endpoint)
	}

	if lim := c.limiters[ep.Name]; lim != nil && !lim.Allow() {
		return nil, fmt.Errorf("%w for %s (%d/min)", ErrRateLimited, ep.Path, ep.RateLimit)
	}

	if ep.Method != http.MethodGet || c.cache == nil {
		return c.execute(ctx, ep, params)
	}

	key, err := cacheKey(ep.Name, params)
	if err != nil {
		return nil, err
	}
	if v, ok := c.cache.Get(key); ok {
		c.logger.Debug("upstream cache hit", "endpoint", ep.Name)
		return v, nil
	}

	// The fill is shared by every waiter on key, so it must not inherit the
	// first caller's cancellation. Each waiter still honours its own ctx.
	ch := c.group.DoChan(key, func() (any, error) {
		fillCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fillMax)
		defer cancel()
		v, err := c.execute(fillCtx, ep, params)
		if err == nil {
			c.cache.Set(key, v)
		}
		return v, err
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fillTimeout bounds a detached fill: every attempt may use the full service
// timeout, plus the exponential backoff between attempts.
func fillTimeout(svc *Service, retryDelay time.Duration) time.Duration {
	perAttempt := svc.Timeout
	if perAttempt <= 0 {
		perAttempt = 30 * time.Second
	}
	attempts := max(svc.MaxRetries, 1)
	total := time.Duration(attempts) * perAttempt
	delay := retryDelay
	for i := 1; i < attempts; i++ {
		total += delay
		delay *= 2
	}
	return total
}

// PurgeCache drops expired cache entries and returns how many were removed.
func (c *Client) PurgeCache() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.Purge()
}

// CachedEntries returns the number of cached responses.
func (c *Client) CachedEntries() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.Len()
}

// Close releases the client's cache.
func (c *Client) Close() {
	if c.cache != nil {
		c.cache.Close()
	}
}

// execute applies bulkhead, breaker and retry, in that order, around one request.
func (c *Client) execute(ctx context.Context, ep Endpoint, params map[string]any) (any, error) {
	return c.bulkhead.Execute(ctx, func(ctx context.Context) (any, error) {
		return c.breaker.Execute(ctx, func(ctx context.Context) (any, error) {
			attempt := 0
			return c.retry.Do(ctx, func(ctx context.Context) (any, error) {
				attempt++
				v, err := c.do(ctx, ep, params)
				if err != nil {
					c.logger.Warn("upstream attempt failed", "endpoint", ep.Name, "attempt", attempt, "error", err)
				}
				return v, err
			})
		})
	})
}

func (c *Client) do(ctx context.Context, ep Endpoint, params map[string]any) (any, error) {
	req, err := c.newRequest(ctx, ep, params)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s %s: %w", ep.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	c.logger.Debug("upstream responded",
		"endpoint", ep.Name,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode >= 400 {
		return nil, &StatusError{Status: resp.StatusCode, Body: truncate(string(body), 512)}
	}
	return decodeResponse(ep, body)
}

func (c *Client) newRequest(ctx context.Context, ep Endpoint, params map[string]any) (*http.Request, error) {
	target := endpointURL(c.service, ep)

	var (
		body        io.Reader
		contentType string
	)
	switch ep.Method {
	case http.MethodGet, http.MethodDelete:
		if len(params) > 0 {
			target += "?" + encodeValues(params).Encode()
		}
	default:
		if ep.ContentType == ContentForm {
			values := encodeValues(params)
			if c.service.APIKey != "" {
				values.Set("appKey", c.service.APIKey)
			}
			body = strings.NewReader(values.Encode())
			contentType = "application/x-www-form-urlencoded"
		} else {
			payload, err := json.Marshal(params)
			if err != nil {
				return nil, fmt.Errorf("encoding request body: %w", err)
			}
			body = strings.NewReader(string(payload))
			contentType = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, ep.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if ep.RequiresAuth && c.service.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.service.APIKey)
	}
	return req, nil
}

// endpointURL joins base_url, version and path.
func endpointURL(svc *Service, ep Endpoint) string {
	parts := []string{strings.TrimRight(svc.BaseURL, "/")}
	if v := strings.Trim(svc.Version, "/"); v != "" {
		parts = append(parts, v)
	}
	parts = append(parts, strings.TrimLeft(ep.Path, "/"))
	return strings.Join(parts, "/")
}

// decodeResponse returns JSON bodies decoded, unwrapping data.list when
// present, and text bodies as {"content": text}.
func decodeResponse(ep Endpoint, body []byte) (any, error) {
	if ep.ResponseFormat == FormatText {
		return map[string]any{"content": string(body)}, nil
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("decoding JSON response: %w", err)
	}
	if obj, ok := v.(map[string]any); ok {
		if data, ok := obj["data"].(map[string]any); ok {
			if list, ok := data["list"]; ok {
				return list, nil
			}
		}
	}
	return v, nil
}

func encodeValues(params map[string]any) url.Values {
	values := url.Values{}
	for k, v := range params {
		if items, ok := v.([]any); ok {
			for _, item := range items {
				values.Add(k, formatValue(item))
			}
			continue
		}
		values.Set(k, formatValue(v))
	}
	return values
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case nil:
		return ""
	case map[string]any, []any:
		b, _ := json.Marshal(x)
		return string(b)
	default:
		return fmt.Sprint(x)
	}
}

// cacheKey is the endpoint name plus the canonical JSON of params
// (encoding/json sorts map keys).
func cacheKey(endpoint string, params map[string]any) (string, error) {
	b, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("building cache key: %w", err)
	}
	return endpoint + "?" + string(b), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
