// Package rest implements the REST/GitHub-shaped connector (spec C7):
// repo/issue/PR/user/search operations over github.com/google/go-github,
// with every HTTP call routed through the uniform fetcher (C4) via a
// custom http.RoundTripper so caching, rate governance, and retry still
// apply.
package rest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v69/github"

	"github.com/wiseflow-dev/wiseflow/internal/connector"
	"github.com/wiseflow-dev/wiseflow/internal/fetcher"
	"github.com/wiseflow-dev/wiseflow/internal/types"
)

// Connector implements the GitHub-shaped REST connector.
type Connector struct {
	*connector.Base

	client  *github.Client
	rt      *roundTripper
	timeout time.Duration
}

// Config configures a Connector beyond connector.BaseConfig.
type Config struct {
	Token      string
	BaseConfig connector.BaseConfig
	Timeout    time.Duration
}

// New constructs a REST connector whose transport routes through f.
func New(f *fetcher.Fetcher, cfg Config) *Connector {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rt := newRoundTripper(f, cfg.Token, timeout)
	httpClient := &httpClientAdapter{rt: rt}
	client := github.NewClient(httpClient.Client())

	return &Connector{
		Base:    connector.NewBase("github", "rest", cfg.BaseConfig),
		client:  client,
		rt:      rt,
		timeout: timeout,
	}
}

func (c *Connector) Initialize(ctx context.Context) error { return nil }
func (c *Connector) Shutdown(ctx context.Context) error    { return nil }

// Collect runs CollectAsync directly — the connector has no separate
// sync/async execution strategy.
func (c *Connector) Collect(ctx context.Context, params map[string]any) ([]*types.DataItem, error) {
	return c.CollectAsync(ctx, params)
}

// CollectAsync dispatches on params, per spec §4.7: repo (+ optional
// issue_number/pr_number/path), search, or user.
func (c *Connector) CollectAsync(ctx context.Context, params map[string]any) ([]*types.DataItem, error) {
	items, err := c.dispatch(ctx, params)
	if err != nil {
		return []*types.DataItem{c.errorItem(err)}, nil
	}
	return items, nil
}

func (c *Connector) dispatch(ctx context.Context, params map[string]any) ([]*types.DataItem, error) {
	if repo, ok := params["repo"].(string); ok {
		owner, name, splitErr := splitRepo(repo)
		if splitErr != nil {
			return nil, &Validation{Message: splitErr.Error()}
		}
		switch {
		case params["issue_number"] != nil:
			n, _ := toInt(params["issue_number"])
			return c.collectIssue(ctx, owner, name, n)
		case params["pr_number"] != nil:
			n, _ := toInt(params["pr_number"])
			return c.collectPR(ctx, owner, name, n)
		case params["path"] != nil:
			path, _ := params["path"].(string)
			return c.collectContent(ctx, owner, name, path)
		default:
			return c.collectRepoInfo(ctx, owner, name)
		}
	}
	if query, ok := params["search"].(string); ok {
		searchType, _ := params["search_type"].(string)
		if searchType == "" {
			searchType = "repositories"
		}
		maxItems, _ := toInt(params["max_items"])
		return c.search(ctx, searchType, query, maxItems)
	}
	if user, ok := params["user"].(string); ok {
		return c.collectUserInfo(ctx, user)
	}
	return nil, &Validation{Message: "no repo, search, or user parameter provided"}
}

func (c *Connector) errorItem(err error) *types.DataItem {
	item, _ := types.NewDataItem(fmt.Sprintf("github_error_%d", time.Now().UnixNano()), err.Error())
	item.ContentType = "text/plain"
	item.Set("error", errorKind(err))
	var rl *RateLimited
	if rle, ok := err.(*RateLimited); ok {
		rl = rle
		item.Set("reset_time", rl.Reset.Format(time.RFC3339))
	}
	return item
}

func splitRepo(repo string) (owner, name string, err error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo %q, expected owner/name", repo)
	}
	return parts[0], parts[1], nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	default:
		return 0, false
	}
}

func classifyGithubError(err error) error {
	if err == nil {
		return nil
	}
	if ghErr, ok := err.(*github.ErrorResponse); ok {
		switch ghErr.Response.StatusCode {
		case 404:
			return &NotFound{Resource: ghErr.Response.Request.URL.String()}
		case 401, 403:
			if isRateLimitMessage(ghErr) {
				return &RateLimited{Reset: resetFromHeader(ghErr.Response.Header)}
			}
			return &AuthFailed{Message: ghErr.Message}
		case 422:
			return &Validation{Message: ghErr.Message}
		default:
			return &ServerError{Status: ghErr.Response.StatusCode, Message: ghErr.Message}
		}
	}
	if rlErr, ok := err.(*github.RateLimitError); ok {
		return &RateLimited{Reset: rlErr.Rate.Reset}
	}
	return &Transport{Err: err}
}

func isRateLimitMessage(e *github.ErrorResponse) bool {
	return strings.Contains(strings.ToLower(e.Message), "rate limit")
}

func resetFromHeader(h interface{ Get(string) string }) time.Time {
	reset := h.Get("X-RateLimit-Reset")
	ts, err := strconv.ParseInt(reset, 10, 64)
	if err != nil {
		return time.Now().Add(time.Minute)
	}
	return time.Unix(ts, 0)
}
