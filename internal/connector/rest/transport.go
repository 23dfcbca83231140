package rest

import (
	"bytes"
	"encoding/base64"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wiseflow-dev/wiseflow/internal/fetcher"
)

// rateGovernorKey is the single C2 key every GitHub call shares — the
// provider applies one account-wide quota, not a per-host one.
const rateGovernorKey = "github-api"

// jwtPattern recognizes a three dot-separated base64url segment JWT,
// distinguishing a GitHub App installation token from an opaque PAT.
var jwtPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+$`)

func isJWT(token string) bool {
	if !jwtPattern.MatchString(token) {
		return false
	}
	parts := strings.Split(token, ".")
	for _, p := range parts[:2] {
		if _, err := base64.RawURLEncoding.DecodeString(p); err != nil {
			return false
		}
	}
	return true
}

func authorizationHeader(token string) string {
	if token == "" {
		return ""
	}
	if isJWT(token) {
		return "Bearer " + token
	}
	return "token " + token
}

// quotaState tracks GitHub's own remaining/reset headers, distinct from
// C2's adaptive budget: spec §4.7 requires pacing on the provider's
// actual advertised quota, not just our own governor's guess.
type quotaState struct {
	mu        sync.Mutex
	remaining int
	reset     time.Time
	have      bool
}

func (q *quotaState) update(h http.Header) {
	remaining := h.Get("X-RateLimit-Remaining")
	reset := h.Get("X-RateLimit-Reset")
	if remaining == "" || reset == "" {
		return
	}
	r, err1 := strconv.Atoi(remaining)
	ts, err2 := strconv.ParseInt(reset, 10, 64)
	if err1 != nil || err2 != nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.remaining = r
	q.reset = time.Unix(ts, 0)
	q.have = true
}

// waitIfLow blocks until the provider's own quota window resets plus a
// 5-second buffer, when remaining < 5 (spec §4.7).
func (q *quotaState) waitIfLow() {
	q.mu.Lock()
	remaining, reset, have := q.remaining, q.reset, q.have
	q.mu.Unlock()
	if !have || remaining >= 5 {
		return
	}
	wait := time.Until(reset) + 5*time.Second
	if wait > 0 {
		time.Sleep(wait)
	}
}

// roundTripper adapts internal/fetcher.Fetcher (and therefore C2+C3+
// retry) into an http.RoundTripper so go-github's client routes every
// call through the uniform fetch pipeline instead of net/http directly.
type roundTripper struct {
	fetcher *fetcher.Fetcher
	token   string
	timeout time.Duration
	quota   *quotaState
}

func newRoundTripper(f *fetcher.Fetcher, token string, timeout time.Duration) *roundTripper {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &roundTripper{fetcher: f, token: token, timeout: timeout, quota: &quotaState{}}
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	rt.quota.waitIfLow()

	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		req.Body.Close()
	}

	headers := req.Header.Clone()
	if headers.Get("Authorization") == "" {
		if auth := authorizationHeader(rt.token); auth != "" {
			headers.Set("Authorization", auth)
		}
	}

	out := rt.fetcher.Call(req.Context(), rateGovernorKey, req.Method, req.URL.String(), nil, body, headers, rt.timeout)
	rt.quota.update(out.Headers)

	switch out.Kind {
	case fetcher.Success:
		return rt.buildResponse(req, out), nil
	case fetcher.RateLimited:
		return rt.buildResponse(req, out), nil
	case fetcher.ProviderErr:
		return rt.buildResponse(req, out), nil
	default:
		if out.Err == nil && out.Status != 0 {
			// An exhausted 5xx carries a status but no error.
			return rt.buildResponse(req, out), nil
		}
		return nil, out.Err
	}
}

// httpClientAdapter builds the *http.Client go-github needs, backed by
// roundTripper.
type httpClientAdapter struct {
	rt *roundTripper
}

func (h *httpClientAdapter) Client() *http.Client {
	return &http.Client{Transport: h.rt}
}

func (rt *roundTripper) buildResponse(req *http.Request, out fetcher.Outcome) *http.Response {
	status := out.Status
	if status == 0 {
		status = http.StatusTooManyRequests
	}
	header := out.Headers
	if header == nil {
		header = make(http.Header)
	}
	var respBody []byte
	if out.ProviderError != nil {
		respBody = []byte(out.ProviderError.Details)
	} else {
		respBody = out.Body
	}
	return &http.Response{
		Status:        http.StatusText(status),
		StatusCode:    status,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(respBody)),
		ContentLength: int64(len(respBody)),
		Request:       req,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
	}
}
