package web

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/wiseflow-dev/wiseflow/internal/fetcher"
)

// GoqueryFetcher is the default HTMLFetcher: it pulls a page through the
// uniform fetcher (C4, itself under C2/C3) and renders the DOM into a
// readable Markdown-ish text with goquery, the same HTML library the
// teacher used for its response parsing.
type GoqueryFetcher struct {
	fetcher *fetcher.Fetcher
	timeout time.Duration
}

// NewGoqueryFetcher wraps f as an HTMLFetcher with a default timeout used
// when the caller does not specify one.
func NewGoqueryFetcher(f *fetcher.Fetcher, defaultTimeout time.Duration) *GoqueryFetcher {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &GoqueryFetcher{fetcher: f, timeout: defaultTimeout}
}

func (g *GoqueryFetcher) FetchHTML(ctx context.Context, rawURL string, headers map[string][]string, timeout time.Duration, forceRefresh bool) (FetchResult, error) {
	if timeout <= 0 {
		timeout = g.timeout
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return FetchResult{}, fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	host := parsed.Hostname()

	out := g.fetcher.Call(ctx, host, http.MethodGet, rawURL, nil, nil, http.Header(headers), timeout)
	if out.Kind != fetcher.Success {
		if out.Err != nil {
			return FetchResult{StatusCode: out.Status}, out.Err
		}
		if out.ProviderError != nil {
			return FetchResult{StatusCode: out.Status}, out.ProviderError
		}
		return FetchResult{StatusCode: out.Status}, fmt.Errorf("fetch %q: outcome %s", rawURL, out.Kind)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(out.Body)))
	if err != nil {
		return FetchResult{StatusCode: out.Status}, fmt.Errorf("parse html: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	author := strings.TrimSpace(firstMetaContent(doc, "author", "article:author"))
	publishDate := parsePublishDate(firstMetaContent(doc, "article:published_time", "date"))

	var media []string
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok && src != "" {
			media = append(media, src)
		}
	})

	markdown := renderMarkdown(doc)

	return FetchResult{
		Markdown:    markdown,
		Media:       media,
		Title:       title,
		Author:      author,
		PublishDate: publishDate,
		StatusCode:  out.Status,
		Cached:      out.Cached,
	}, nil
}

func firstMetaContent(doc *goquery.Document, names ...string) string {
	for _, name := range names {
		if v, ok := doc.Find(fmt.Sprintf(`meta[name="%s"]`, name)).First().Attr("content"); ok && v != "" {
			return v
		}
		if v, ok := doc.Find(fmt.Sprintf(`meta[property="%s"]`, name)).First().Attr("content"); ok && v != "" {
			return v
		}
	}
	return ""
}

func parsePublishDate(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

// renderMarkdown converts headings and paragraphs into a Markdown-ish
// plain text rendering; it is intentionally simple, matching the
// "rendered Markdown" contract without a full HTML-to-Markdown library.
func renderMarkdown(doc *goquery.Document) string {
	var b strings.Builder
	doc.Find("h1, h2, h3, h4, h5, h6, p, li").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		switch goquery.NodeName(s) {
		case "h1":
			b.WriteString("# " + text + "\n\n")
		case "h2":
			b.WriteString("## " + text + "\n\n")
		case "h3":
			b.WriteString("### " + text + "\n\n")
		case "h4", "h5", "h6":
			b.WriteString("#### " + text + "\n\n")
		case "li":
			b.WriteString("- " + text + "\n")
		default:
			b.WriteString(text + "\n\n")
		}
	})
	return strings.TrimSpace(b.String())
}
