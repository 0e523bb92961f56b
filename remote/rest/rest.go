// Package rest is the small JSON-over-HTTP client shared by the remote
// adapters. Requests are authorized with the caller's OAuth2 token and
// non-2xx responses become *Error values classified for retrying.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/fivestones/gmpreport/backoff"
	"github.com/fivestones/gmpreport/credential"
)

// Error is a non-2xx response.
type Error struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// Retryable reports whether the request may succeed if repeated.
func (e *Error) Retryable() bool {
	switch {
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}

// Client issues JSON requests against BaseURL.
type Client struct {
	BaseURL string

	// Transport is the base client the OAuth2 client wraps. Nil means
	// http.DefaultClient.
	Transport *http.Client
}

// HTTP returns a client that authorizes requests with tok.
func (c *Client) HTTP(ctx context.Context, tok *oauth2.Token) *http.Client {
	if c.Transport != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.Transport)
	}
	return credential.HTTPClient(ctx, tok)
}

// Do sends in (when non-nil) as JSON to path and decodes the response into
// out (when non-nil). Non-retryable HTTP errors come back marked
// backoff.Permanent.
func (c *Client) Do(ctx context.Context, tok *oauth2.Token, method, path string, query url.Values, in, out any) error {
	u := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("encode request: %w", err))
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return backoff.Permanent(err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP(ctx, tok).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := Check(resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, u, err)
	}
	return nil
}

// Open issues a GET to an absolute URL and returns the body for streaming.
func (c *Client) Open(ctx context.Context, tok *oauth2.Token, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	resp, err := c.HTTP(ctx, tok).Do(req)
	if err != nil {
		return nil, err
	}
	if err := Check(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

// Check turns a non-2xx response into an *Error, marked permanent unless
// it is retryable. The body is read but not closed.
func Check(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	e := &Error{
		Method:     resp.Request.Method,
		URL:        resp.Request.URL.Redacted(),
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(snippet)),
	}
	if e.Retryable() {
		return e
	}
	return backoff.Permanent(e)
}
