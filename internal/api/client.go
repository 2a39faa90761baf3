// Package api – Client
//
// Client is the single choke point for all network I/O against the
// storefront REST API. It enforces the outbound policy uniformly:
//
//   - per-attempt timeout
//   - retry with exponential backoff, never for 4xx responses
//   - deduplication of concurrent identical requests via singleflight
//   - response caching for GET requests (TTL-based, injected cache)
//   - central 401 handling (session teardown + user notification)
//   - outbound rate limiting
//
// Feature services never touch net/http directly; they describe a Request
// and receive either decoded JSON or a typed error from the taxonomy in
// errors.go.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-shop-client/internal/cache"
	"github.com/tbourn/go-shop-client/internal/config"
	"github.com/tbourn/go-shop-client/internal/notify"
)

// maxResponseBytes caps how much of a response body is read. Storefront
// payloads are small JSON documents; anything larger is a server bug.
const maxResponseBytes = 8 << 20

// CachePolicy controls response caching for a single request.
type CachePolicy struct {
	// Use enables cache lookup and storage for GET requests.
	Use bool
	// TTL overrides the cache default when > 0.
	TTL time.Duration
	// ForceRefresh skips the lookup but still stores the fresh response.
	ForceRefresh bool
}

// Request describes one API call. Path is the endpoint relative to the
// configured base URL; Route is the low-cardinality template used for
// metrics and trace names (falls back to Path when empty).
type Request struct {
	Method       string
	Path         string
	Route        string
	Query        url.Values
	Header       http.Header
	Body         any
	RequiresAuth bool
	Cache        CachePolicy
}

// Option customizes a Client at construction time.
type Option func(*Client)

// WithTokenSource sets the function used to read the current bearer token.
func WithTokenSource(fn func() string) Option {
	return func(c *Client) { c.tokenFn = fn }
}

// WithUnauthorizedHook sets the callback invoked when any request receives
// an HTTP 401. The session manager uses this to tear down persisted state.
func WithUnauthorizedHook(fn func()) Option {
	return func(c *Client) { c.onUnauthorized = fn }
}

// WithHTTPClient replaces the underlying *http.Client (test seam).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpc = h }
}

// Client executes storefront API requests. It is safe for concurrent use.
type Client struct {
	baseURL  string
	httpc    *http.Client
	cache    *cache.Cache
	notifier *notify.Hub
	limiter  *rate.Limiter

	timeout     time.Duration
	retryMax    int
	retryBase   time.Duration
	retryGrowth float64

	tokenFn        func() string
	onUnauthorized func()

	sf     singleflight.Group
	tracer trace.Tracer
	log    zerolog.Logger
}

// New constructs a Client from the outbound policy in cfg. The cache may be
// nil, in which case CachePolicy.Use is ignored.
func New(cfg config.APIConfig, cch *cache.Cache, hub *notify.Hub, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		httpc:       &http.Client{},
		cache:       cch,
		notifier:    hub,
		timeout:     cfg.Timeout,
		retryMax:    cfg.RetryMax,
		retryBase:   cfg.RetryBase,
		retryGrowth: cfg.RetryGrowth,
		tracer:      otel.Tracer("shop-api-client"),
		log:         log.With().Str("component", "api").Logger(),
	}
	if cfg.RateRPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateRPS), cfg.RateBurst)
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) token() string {
	if c.tokenFn == nil {
		return ""
	}
	return c.tokenFn()
}

// Do executes req and returns the raw response body.
//
// GET requests with CachePolicy.Use are served from cache when a valid entry
// exists (unless ForceRefresh). Concurrent requests with the same cache key
// share a single network call; every caller receives the same result. The
// in-flight entry is released when that call settles, regardless of outcome,
// so a later identical request is free to run.
func (c *Client) Do(ctx context.Context, req Request) ([]byte, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	route := req.Route
	if route == "" {
		route = req.Path
	}
	start := time.Now()

	if req.RequiresAuth && c.token() == "" {
		observe(method, route, "auth_required", start)
		return nil, ErrAuthRequired
	}

	endpoint := req.Path
	if len(req.Query) > 0 {
		endpoint += "?" + req.Query.Encode()
	}
	key := cache.Key(method, endpoint, req.Body)
	cacheable := method == http.MethodGet && req.Cache.Use && c.cache != nil

	if cacheable && !req.Cache.ForceRefresh {
		if v, ok := c.cache.Get(key); ok {
			if raw, ok := v.([]byte); ok {
				observe(method, route, "cache_hit", start)
				return raw, nil
			}
		}
	}

	v, err, shared := c.sf.Do(key, func() (any, error) {
		return c.roundTrip(ctx, req, method, endpoint, route, key, cacheable)
	})
	if shared {
		apiDedup.Inc()
	}

	if err != nil {
		var (
			se *ServerError
			te *TimeoutError
			ne *NetworkError
		)
		switch {
		case errors.Is(err, context.Canceled):
			observe(method, route, "canceled", start)
		case errors.As(err, &se):
			if c.notifier != nil {
				c.notifier.Publish(notify.LevelError, notify.CodeServerError,
					"Something went wrong on our side. Please try again.")
			}
			observe(method, route, "server_error", start)
		case errors.As(err, &te):
			observe(method, route, "timeout", start)
		case errors.As(err, &ne):
			observe(method, route, "network_error", start)
		default:
			observe(method, route, "client_error", start)
		}
		c.log.Debug().Err(err).Str("method", method).Str("route", route).Msg("request failed")
		return nil, err
	}

	observe(method, route, "success", start)
	return v.([]byte), nil
}

// roundTrip runs the retry loop for one deduplicated request and stores the
// response in the cache on GET success.
func (c *Client) roundTrip(ctx context.Context, req Request, method, endpoint, route, key string, cacheable bool) (any, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.retryBase
	expo.Multiplier = c.retryGrowth
	expo.RandomizationFactor = 0

	attempts := 0
	op := func() ([]byte, error) {
		attempts++
		if attempts > 1 {
			apiRetries.WithLabelValues(method, route).Inc()
		}
		raw, err := c.attempt(ctx, req, method, endpoint, route)
		if err != nil {
			var ce *ClientError
			if errors.As(err, &ce) {
				// 4xx is the caller's mistake, never transient.
				return nil, backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, err
		}
		return raw, nil
	}

	raw, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(c.retryMax)),
	)
	if err != nil {
		return nil, err
	}
	if cacheable {
		c.cache.Set(key, raw, req.Cache.TTL)
	}
	return raw, nil
}

// attempt performs exactly one network round trip and maps the result onto
// the error taxonomy. HTTP 401 is handled centrally here: the session is
// invalidated and a session-expired notification is published before the
// error propagates to the caller.
func (c *Client) attempt(ctx context.Context, req Request, method, endpoint, route string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	actx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	actx, span := c.tracer.Start(actx, method+" "+route, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	var body io.Reader
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s body: %w", method, endpoint, err)
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(actx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.RequiresAuth {
		httpReq.Header.Set("Authorization", "Bearer "+c.token())
	}

	apiInflight.Inc()
	resp, err := c.httpc.Do(httpReq)
	apiInflight.Dec()
	if err != nil {
		if ctx.Err() != nil {
			// The caller's context ended; report that, not a transport error.
			span.SetStatus(codes.Error, "canceled")
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			span.SetStatus(codes.Error, "timeout")
			return nil, &TimeoutError{Endpoint: endpoint, After: c.timeout}
		}
		span.SetStatus(codes.Error, "network")
		return nil, &NetworkError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		span.SetStatus(codes.Error, "read")
		return nil, &NetworkError{Endpoint: endpoint, Err: err}
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.log.Warn().Str("route", route).Msg("unauthorized response, clearing session")
		if c.onUnauthorized != nil {
			c.onUnauthorized()
		}
		if c.notifier != nil {
			c.notifier.Publish(notify.LevelWarn, notify.CodeSessionExpired,
				"Your session has expired. Please log in again.")
		}
		return nil, &ClientError{Status: resp.StatusCode, Body: errBody(raw)}
	case resp.StatusCode >= 500:
		return nil, &ServerError{Status: resp.StatusCode, Body: errBody(raw)}
	case resp.StatusCode >= 400:
		return nil, &ClientError{Status: resp.StatusCode, Body: errBody(raw)}
	}
	return raw, nil
}

// Upload performs a multipart POST (admin image upload). Uploads are never
// cached, deduplicated, or retried: re-sending a partially consumed
// multipart body is not safe.
func (c *Client) Upload(ctx context.Context, path, route string, files map[string][]byte) ([]byte, error) {
	if route == "" {
		route = path
	}
	start := time.Now()
	if c.token() == "" {
		observe(http.MethodPost, route, "auth_required", start)
		return nil, ErrAuthRequired
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, data := range files {
		part, err := mw.CreateFormFile("images", name)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(data); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	actx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(actx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+c.token())

	apiInflight.Inc()
	resp, err := c.httpc.Do(httpReq)
	apiInflight.Dec()
	if err != nil {
		observe(http.MethodPost, route, "network_error", start)
		return nil, &NetworkError{Endpoint: path, Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		observe(http.MethodPost, route, "network_error", start)
		return nil, &NetworkError{Endpoint: path, Err: err}
	}
	if resp.StatusCode >= 400 {
		outcome := "client_error"
		var retErr error = &ClientError{Status: resp.StatusCode, Body: errBody(raw)}
		if resp.StatusCode >= 500 {
			outcome = "server_error"
			retErr = &ServerError{Status: resp.StatusCode, Body: errBody(raw)}
		}
		observe(http.MethodPost, route, outcome, start)
		return nil, retErr
	}
	observe(http.MethodPost, route, "success", start)
	return raw, nil
}

// DoJSON executes req via c.Do and decodes the JSON response body into T.
// An empty body decodes to T's zero value.
func DoJSON[T any](ctx context.Context, c *Client, req Request) (T, error) {
	var out T
	raw, err := c.Do(ctx, req)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s %s response: %w", req.Method, req.Path, err)
	}
	return out, nil
}

// errBody extracts a compact error message from a response body. Storefront
// errors arrive as {"error": "..."} or {"message": "..."}; anything else is
// returned trimmed and truncated.
func errBody(raw []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
