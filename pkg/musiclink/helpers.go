package musiclink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
)

const (
	// commonUserAgent is the user agent string used for all HTTP requests.
	commonUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	// commonAcceptHeader is the accept header used for all HTTP requests.
	commonAcceptHeader = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	// maxHTTPRedirects is the maximum number of HTTP redirects to follow.
	maxHTTPRedirects = 10
	// maxReadSize caps response bodies; provider script bundles are a few megabytes.
	maxReadSize = 16 << 20
)

var (
	// ErrTooManyRedirects is returned when too many redirects are encountered.
	ErrTooManyRedirects = errors.New("too many redirects")
)

// UpstreamStatusError is returned when a required provider fetch does not answer 200.
type UpstreamStatusError struct {
	URL    string
	Status int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.URL, e.Status)
}

// Response is the result of a provider request. Any status code is a valid response.
type Response struct {
	Status int
	URL    string // Final URL after redirects.
	Text   string
}

// OK reports whether the upstream answered 200.
func (r *Response) OK() bool {
	return r != nil && r.Status == http.StatusOK
}

// JSON decodes the body into v. It reports false instead of failing on non-JSON bodies.
func (r *Response) JSON(v any) bool {
	if r == nil || r.Text == "" {
		return false
	}
	return json.Unmarshal([]byte(r.Text), v) == nil
}

// require turns a non-200 response into an UpstreamStatusError.
func (r *Response) require() error {
	if !r.OK() {
		return &UpstreamStatusError{URL: r.URL, Status: r.Status}
	}
	return nil
}

// Client is the HTTP request primitive shared by all adapters.
type Client struct {
	http    *http.Client
	metrics *Metrics
}

// NewClient creates a request client. A zero timeout means requests are never cut short.
func NewClient(timeout time.Duration, metrics *Metrics) *Client {
	return &Client{
		http:    newHTTPClient(timeout),
		metrics: metrics,
	}
}

// newHTTPClient creates a new HTTP client with standard settings and redirect validation.
func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxHTTPRedirects {
				return ErrTooManyRedirects
			}
			return nil
		},
	}
}

// withTokenSource returns a client sharing c's settings whose requests carry the tokens of src.
func (c *Client) withTokenSource(src oauth2.TokenSource) *Client {
	authorized := *c.http
	authorized.Transport = &oauth2.Transport{Source: src, Base: c.http.Transport}
	return &Client{http: &authorized, metrics: c.metrics}
}

// Get fetches rawURL with the given extra query parameters and headers.
// Only transport failures are returned as errors; the status is left to the caller.
func (c *Client) Get(ctx context.Context, rawURL string, query url.Values, headers http.Header) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if len(query) > 0 {
		q := u.Query()
		for key, values := range query {
			for _, v := range values {
				q.Add(key, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, err
	}

	// Set realistic browser headers.
	req.Header.Set("User-Agent", commonUserAgent)
	req.Header.Set("Accept", commonAcceptHeader)
	for key, values := range headers {
		req.Header.Del(key)
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.recordUpstream(u.Hostname(), 0)
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	c.metrics.recordUpstream(u.Hostname(), resp.StatusCode)

	// Read response body (limited to avoid excessive memory use).
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReadSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{
		Status: resp.StatusCode,
		URL:    resp.Request.URL.String(),
		Text:   string(body),
	}, nil
}
