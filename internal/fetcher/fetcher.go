// Package fetcher implements the uniform HTTP call (spec C4): conditional
// caching, rate-governed pacing, and classified retry over
// github.com/cenkalti/backoff/v5, sitting in front of every connector's
// network access.
package fetcher

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/cenkalti/backoff/v5"

	"github.com/wiseflow-dev/wiseflow/internal/cache"
	"github.com/wiseflow-dev/wiseflow/internal/ratelimit"
)

// OutcomeKind classifies the terminal result of a Call.
type OutcomeKind string

const (
	Success       OutcomeKind = "success"
	RateLimited   OutcomeKind = "rate_limited"
	ProviderErr   OutcomeKind = "provider_error"
	TransportFail OutcomeKind = "transport"
)

// ProviderError carries a classified non-2xx response that was not
// retried (4xx other than 429).
type ProviderError struct {
	Code    int
	Message string
	Details string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

// Outcome is the terminal result of a Call: exactly one of Success,
// RateLimited, ProviderErr, or TransportFail.
type Outcome struct {
	Kind    OutcomeKind
	Status  int
	Headers http.Header
	Body    []byte
	Cached  bool

	ProviderError *ProviderError
	Err           error
}

// Fetcher performs the uniform call operation described by spec C4. It
// owns no concurrency bound of its own — callers (connectors) wrap Call
// in their own semaphore sized to the source they're fetching from.
type Fetcher struct {
	client     *http.Client
	governor   *ratelimit.Governor
	cache      *cache.Cache
	logger     *slog.Logger
	maxRetries int
	userAgent  string
}

// Option configures a Fetcher at construction.
type Option func(*Fetcher)

// WithUserAgent overrides the default User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.userAgent = ua }
}

// WithMaxRetries caps the number of attempts for 429/5xx responses and
// retryable transport errors.
func WithMaxRetries(n int) Option {
	return func(f *Fetcher) { f.maxRetries = n }
}

// New constructs a Fetcher. governor and responseCache are both required
// collaborators — C4 always runs under C2 pacing and C3 caching.
func New(logger *slog.Logger, governor *ratelimit.Governor, responseCache *cache.Cache, opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{
			Transport: &http.Transport{DisableCompression: true},
		},
		governor:   governor,
		cache:      responseCache,
		logger:     logger.With("component", "fetcher"),
		maxRetries: 3,
		userAgent:  "wiseflow/1.0",
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Call performs one uniform fetch. key identifies the target for rate
// governance and caching purposes — typically the request host for web
// targets, or a provider-specific key (e.g. "github") for REST
// connectors.
func (f *Fetcher) Call(ctx context.Context, key, method, rawURL string, query url.Values, body []byte, headers http.Header, timeout time.Duration) Outcome {
	cacheable := strings.EqualFold(method, http.MethodGet)
	cacheKey := cache.Key(method, rawURL, query)

	if cacheable {
		if cachedBody, _, ok := f.cache.Get(cacheKey); ok {
			return Outcome{Kind: Success, Status: http.StatusOK, Body: cachedBody, Cached: true}
		}
	}

	etag, haveETag := "", false
	if cacheable {
		etag, haveETag = f.cache.ETag(cacheKey)
	}

	// Attempts are capped at maxRetries (spec §4.4 step 9); delays between
	// retryable outcomes come from a fresh exponential backoff, honoring
	// Retry-After where the attempt already computed its own wait.
	bo := backoff.NewExponentialBackOff()
	maxTries := maxInt(1, f.maxRetries)

	var last Outcome
	for attempt := 0; attempt < maxTries; attempt++ {
		outcome, retry := f.attempt(ctx, key, method, rawURL, query, body, headers, timeout, cacheable, cacheKey, etag, haveETag)
		last = outcome
		if !retry {
			return outcome
		}
		if attempt == maxTries-1 {
			break
		}
		delay, err := bo.NextBackOff()
		if err != nil {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Outcome{Kind: TransportFail, Err: ctx.Err()}
		}
	}
	return last
}

// attempt performs one fetch attempt, returning the outcome and whether
// the caller should retry.
func (f *Fetcher) attempt(ctx context.Context, key, method, rawURL string, query url.Values, body []byte, headers http.Header, timeout time.Duration, cacheable bool, cacheKey, etag string, haveETag bool) (Outcome, bool) {
	if wait, d := f.governor.ShouldThrottle(key); wait {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return Outcome{Kind: TransportFail, Err: ctx.Err()}, false
		}
	}

	reqCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	fullURL := rawURL
	if len(query) > 0 {
		u, err := url.Parse(rawURL)
		if err != nil {
			return Outcome{Kind: TransportFail, Err: err}, false
		}
		u.RawQuery = query.Encode()
		fullURL = u.String()
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = strings.NewReader(string(body))
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, method, fullURL, reader)
	if err != nil {
		return Outcome{Kind: TransportFail, Err: err}, false
	}
	for k, vs := range headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("User-Agent", f.userAgent)
	httpReq.Header.Set("Accept-Encoding", "gzip, deflate, br")
	if cacheable && haveETag && etag != "" {
		httpReq.Header.Set("If-None-Match", etag)
	}

	start := time.Now()
	f.governor.Register(key)
	httpResp, err := f.client.Do(httpReq)
	latency := time.Since(start)

	if err != nil {
		if isRetryableError(err) {
			return Outcome{Kind: TransportFail, Err: err}, true
		}
		return Outcome{Kind: TransportFail, Err: err}, false
	}
	defer httpResp.Body.Close()

	f.governor.Adapt(key, latency, httpResp.StatusCode)

	if httpResp.StatusCode == http.StatusNotModified && cacheable {
		cachedBody, _, ok := f.cache.Get(cacheKey)
		if ok {
			return Outcome{Kind: Success, Status: http.StatusOK, Headers: httpResp.Header, Body: cachedBody, Cached: true}, false
		}
	}

	if httpResp.StatusCode == http.StatusTooManyRequests {
		wait := rateLimitWait(httpResp.Header)
		out := Outcome{Kind: RateLimited, Status: httpResp.StatusCode, Headers: httpResp.Header}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return Outcome{Kind: TransportFail, Err: ctx.Err()}, false
		}
		return out, true
	}

	if httpResp.StatusCode >= 500 {
		out := Outcome{Kind: TransportFail, Status: httpResp.StatusCode}
		return out, true
	}

	reader2, err := decompressReader(httpResp)
	if err != nil {
		return Outcome{Kind: TransportFail, Err: err}, false
	}
	respBody, err := io.ReadAll(reader2)
	if err != nil {
		return Outcome{Kind: TransportFail, Err: err}, true
	}

	if httpResp.StatusCode >= 400 {
		perr := &ProviderError{Code: httpResp.StatusCode, Message: http.StatusText(httpResp.StatusCode), Details: string(respBody)}
		out := Outcome{Kind: ProviderErr, Status: httpResp.StatusCode, Headers: httpResp.Header, ProviderError: perr}
		return out, false
	}

	if cacheable {
		newETag := httpResp.Header.Get("ETag")
		if err := f.cache.Put(cacheKey, respBody, newETag); err != nil {
			f.logger.Warn("cache put failed", "error", err)
		}
	}

	return Outcome{Kind: Success, Status: httpResp.StatusCode, Headers: httpResp.Header, Body: respBody}, false
}

// rateLimitWait computes the wait per spec §4.4 step 6: max(1s, Reset-now+5s).
func rateLimitWait(h http.Header) time.Duration {
	resetHeader := h.Get("X-RateLimit-Reset")
	if resetHeader == "" {
		if ra := h.Get("Retry-After"); ra != "" {
			return parseRetryAfter(ra)
		}
		return time.Second
	}
	resetUnix, err := strconv.ParseInt(resetHeader, 10, 64)
	if err != nil {
		return time.Second
	}
	wait := time.Until(time.Unix(resetUnix, 0)) + 5*time.Second
	if wait < time.Second {
		wait = time.Second
	}
	return wait
}

func parseRetryAfter(header string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil {
		if secs > 120 {
			secs = 120
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		d := time.Until(t)
		if d < 0 {
			return time.Second
		}
		if d > 2*time.Minute {
			return 2 * time.Minute
		}
		return d
	}
	return 5 * time.Second
}

func decompressReader(resp *http.Response) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "deflate":
		return flate.NewReader(resp.Body), nil
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}

// isRetryableError classifies a transport-level error as worth a retry:
// timeouts, connection resets/refused, and unexpected EOF. Context
// cancellation is never retryable.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.ECONNRESET) || errors.Is(opErr.Err, syscall.ECONNREFUSED) {
			return true
		}
	}
	return false
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
