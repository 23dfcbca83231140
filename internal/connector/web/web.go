// Package web implements the web connector (spec C6): bounded,
// concurrency-limited collection over a list of URLs, converting each
// page into a DataItem via an injectable HTMLFetcher collaborator.
package web

import (
	"context"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wiseflow-dev/wiseflow/internal/connector"
	"github.com/wiseflow-dev/wiseflow/internal/ratelimit"
	"github.com/wiseflow-dev/wiseflow/internal/types"
)

// binaryExtensions is the known set of non-HTML path suffixes C6 skips
// without attempting a fetch.
var binaryExtensions = map[string]struct{}{
	".pdf": {}, ".docx": {}, ".doc": {}, ".xlsx": {}, ".xls": {}, ".pptx": {}, ".ppt": {},
	".zip": {}, ".tar": {}, ".gz": {}, ".rar": {}, ".7z": {},
	".mp4": {}, ".mp3": {}, ".avi": {}, ".mov": {}, ".wav": {},
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {}, ".svg": {}, ".ico": {},
	".exe": {}, ".dmg": {}, ".iso": {},
}

func isBinaryURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	_, skip := binaryExtensions[ext]
	return skip
}

// FetchResult is what an HTMLFetcher returns for one URL.
type FetchResult struct {
	Markdown    string
	Media       []string
	Title       string
	Author      string
	PublishDate time.Time
	StatusCode  int
	Latency     time.Duration
	Cached      bool
}

// HTMLFetcher renders a URL into Markdown-ish text plus metadata. The
// default implementation (NewGoqueryFetcher) sits on top of internal/
// fetcher + C2/C3; tests and alternative renderers can substitute their
// own.
type HTMLFetcher interface {
	FetchHTML(ctx context.Context, rawURL string, headers map[string][]string, timeout time.Duration, forceRefresh bool) (FetchResult, error)
}

// failedEntry is one bounded record in the failed-URL retention map.
type failedEntry struct {
	Error     string
	Timestamp time.Time
	Attempts  int
}

// Stats mirrors spec §4.6's reporting surface.
type Stats struct {
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	CachedRequests     int64
	DomainsAccessed    map[string]struct{}
	totalProcessingNs  int64
}

// Snapshot computes the derived rates/averages from the raw counters.
type Snapshot struct {
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	CachedRequests     int64
	DomainsAccessed    int
	AvgProcessingTime  time.Duration
	SuccessRate        float64
}

const maxFailedURLs = 1000

// Connector collects DataItems from a list of URLs.
type Connector struct {
	*connector.Base

	logger      *slog.Logger
	governor    *ratelimit.Governor
	htmlFetcher HTMLFetcher
	semaphore   chan struct{}

	mu       sync.Mutex
	total    int64
	success  int64
	failed   int64
	cached   int64
	domains  map[string]struct{}
	procNs   int64
	failedMu sync.Mutex
	failedURLs map[string]*failedEntry
}

// New constructs a web Connector. concurrency bounds in-flight fetches
// (the semaphore C4's doc comment defers to the connector).
func New(logger *slog.Logger, governor *ratelimit.Governor, htmlFetcher HTMLFetcher, concurrency int, cfg connector.BaseConfig) *Connector {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Connector{
		Base:        connector.NewBase("web", "web", cfg),
		logger:      logger.With("component", "web_connector"),
		governor:    governor,
		htmlFetcher: htmlFetcher,
		semaphore:   make(chan struct{}, concurrency),
		domains:     make(map[string]struct{}),
		failedURLs:  make(map[string]*failedEntry),
	}
}

func (c *Connector) Initialize(ctx context.Context) error { return nil }
func (c *Connector) Shutdown(ctx context.Context) error    { return nil }

// Collect is the synchronous contract: it runs CollectAsync directly.
func (c *Connector) Collect(ctx context.Context, params map[string]any) ([]*types.DataItem, error) {
	return c.CollectAsync(ctx, params)
}

// CollectAsync fetches every URL under the connector's concurrency
// semaphore, per spec §4.6 steps 1-6. A zero-URL input returns
// immediately without touching the fetcher (boundary behavior).
func (c *Connector) CollectAsync(ctx context.Context, params map[string]any) ([]*types.DataItem, error) {
	urls := extractURLs(params)
	if len(urls) == 0 {
		return nil, nil
	}

	headers, _ := params["headers"].(map[string][]string)
	timeout, _ := params["timeout"].(time.Duration)
	forceRefresh, _ := params["force_refresh"].(bool)

	var wg sync.WaitGroup
	results := make([]*types.DataItem, len(urls))
	for i, rawURL := range urls {
		if isBinaryURL(rawURL) {
			continue
		}
		wg.Add(1)
		go func(i int, rawURL string) {
			defer wg.Done()
			c.semaphore <- struct{}{}
			defer func() { <-c.semaphore }()
			item := c.fetchOne(ctx, rawURL, headers, timeout, forceRefresh)
			results[i] = item
		}(i, rawURL)
	}
	wg.Wait()

	items := make([]*types.DataItem, 0, len(results))
	for _, item := range results {
		if item != nil {
			items = append(items, item)
		}
	}
	return items, nil
}

func (c *Connector) fetchOne(ctx context.Context, rawURL string, headers map[string][]string, timeout time.Duration, forceRefresh bool) *types.DataItem {
	u, err := url.Parse(rawURL)
	if err != nil {
		c.recordFailure(rawURL, err)
		return nil
	}
	host := u.Hostname()

	if wait, d := c.governor.ShouldThrottle(host); wait {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			c.recordFailure(rawURL, ctx.Err())
			return nil
		}
	}
	c.governor.Register(host)

	atomic.AddInt64(&c.total, 1)
	c.mu.Lock()
	c.domains[host] = struct{}{}
	c.mu.Unlock()

	start := time.Now()
	result, err := c.htmlFetcher.FetchHTML(ctx, rawURL, headers, timeout, forceRefresh)
	latency := time.Since(start)
	c.governor.Adapt(host, latency, result.StatusCode)

	if err != nil {
		atomic.AddInt64(&c.failed, 1)
		c.recordFailure(rawURL, err)
		return nil
	}

	atomic.AddInt64(&c.success, 1)
	atomic.AddInt64(&c.procNs, int64(latency))
	if result.Cached {
		atomic.AddInt64(&c.cached, 1)
	}

	item, err := types.NewDataItem(rawURL, result.Markdown)
	if err != nil {
		c.recordFailure(rawURL, err)
		return nil
	}
	item.ContentType = "text/markdown"
	item.URL = rawURL
	if !result.PublishDate.IsZero() {
		item.Timestamp = result.PublishDate
	}
	author := result.Author
	if author == "" {
		author = host
	}
	item.Set("title", result.Title)
	item.Set("author", author)
	item.Set("publish_date", result.PublishDate)
	item.Set("images", result.Media)
	item.Set("word_count", len(strings.Fields(result.Markdown)))
	item.Set("crawl_duration_ms", latency.Milliseconds())
	item.Set("domain", host)

	return item
}

func (c *Connector) recordFailure(rawURL string, err error) {
	c.failedMu.Lock()
	defer c.failedMu.Unlock()
	if len(c.failedURLs) >= maxFailedURLs {
		// Bounded map: drop an arbitrary entry rather than grow unbounded.
		for k := range c.failedURLs {
			delete(c.failedURLs, k)
			break
		}
	}
	entry, ok := c.failedURLs[rawURL]
	if !ok {
		entry = &failedEntry{}
		c.failedURLs[rawURL] = entry
	}
	entry.Error = err.Error()
	entry.Timestamp = time.Now()
	entry.Attempts++
}

// RetryFailedURLs re-enqueues URLs from the failed map whose age is under
// maxAge and whose attempt count is under retryCount, per spec §4.6's
// retry_failed_urls operation. It does not itself retry the fetch — it
// returns the URLs eligible for a fresh CollectAsync call.
func (c *Connector) RetryFailedURLs(maxAge time.Duration, retryCount int) []string {
	c.failedMu.Lock()
	defer c.failedMu.Unlock()
	now := time.Now()
	var eligible []string
	for u, entry := range c.failedURLs {
		if now.Sub(entry.Timestamp) < maxAge && entry.Attempts < retryCount {
			eligible = append(eligible, u)
		}
	}
	return eligible
}

// Snapshot computes the current stats view.
func (c *Connector) Snapshot() Snapshot {
	c.mu.Lock()
	domains := len(c.domains)
	c.mu.Unlock()

	total := atomic.LoadInt64(&c.total)
	success := atomic.LoadInt64(&c.success)
	failed := atomic.LoadInt64(&c.failed)
	cached := atomic.LoadInt64(&c.cached)
	procNs := atomic.LoadInt64(&c.procNs)

	var avg time.Duration
	var rate float64
	if success > 0 {
		avg = time.Duration(procNs / success)
	}
	if total > 0 {
		rate = float64(success) / float64(total)
	}

	return Snapshot{
		TotalRequests:      total,
		SuccessfulRequests: success,
		FailedRequests:     failed,
		CachedRequests:     cached,
		DomainsAccessed:    domains,
		AvgProcessingTime:  avg,
		SuccessRate:        rate,
	}
}

func extractURLs(params map[string]any) []string {
	raw, ok := params["urls"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
