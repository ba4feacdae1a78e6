// Package client calls the visit increment endpoint. Client implements
// visitguard.Incrementer.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/eternovinculo/visitguard"
)

const defaultMaxErrorBody = 4 << 10

// ErrMalformed is returned for a 2xx answer without a numeric visit_count.
var ErrMalformed = errors.New("client: malformed visit response")

type Config struct {
	BaseURL    string       // e.g. https://api.eternovinculo.com
	HTTPClient *http.Client // if nil, http.DefaultClient (no timeout; cancel via ctx)
	Headers    http.Header  // added to every request
	// MaxErrorBody caps how much of a response body is read; 0 => 4 KiB.
	MaxErrorBody int64
}

type Client struct {
	base    *url.URL
	hc      *http.Client
	headers http.Header
	maxBody int64
}

var _ visitguard.Incrementer = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("client: BaseURL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("client: base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("client: base url %q must be absolute", cfg.BaseURL)
	}
	c := &Client{
		base:    base,
		hc:      cfg.HTTPClient,
		headers: cfg.Headers.Clone(),
		maxBody: cfg.MaxErrorBody,
	}
	if c.hc == nil {
		c.hc = http.DefaultClient
	}
	if c.maxBody <= 0 {
		c.maxBody = defaultMaxErrorBody
	}
	return c, nil
}

// IncrementVisit posts to /{route}/public/{slug}/visit and returns the new
// count. Non-2xx answers become *visitguard.RemoteError; a 429 satisfies
// errors.Is(err, visitguard.ErrRateLimited).
func (c *Client) IncrementVisit(ctx context.Context, kind visitguard.Kind, slug string) (int64, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("client: unknown kind %q", kind)
	}
	u := c.base.String() + kind.VisitPath(slug)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return 0, err
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("client: post %s: %w", kind.VisitPath(slug), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return 0, fmt.Errorf("client: read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &visitguard.RemoteError{Status: resp.StatusCode, Message: errorText(body)}
	}

	count := gjson.GetBytes(body, "visit_count")
	if count.Type != gjson.Number {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, truncate(body, 128))
	}
	return count.Int(), nil
}

// errorText pulls the user-facing message out of an error payload:
// {"error":"..."} first, then {"message":"..."}. Non-JSON bodies give "".
func errorText(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	res := gjson.GetManyBytes(body, "error", "message")
	for _, r := range res {
		if r.Type == gjson.String && strings.TrimSpace(r.Str) != "" {
			return strings.TrimSpace(r.Str)
		}
	}
	return ""
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
