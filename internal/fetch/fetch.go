// Package fetch retrieves MUD documents and their detached signatures.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"grimm.is/mudgate/internal/brand"
)

// Defaults for HTTPFetcher.
const (
	DefaultTimeout  = 30 * time.Second
	DefaultMaxBytes = 1 << 20

	acceptHeader = "application/mud+json, application/pkcs7-signature;q=0.9, */*;q=0.1"
	maxRedirects = 5
)

// Fetcher returns the raw bytes behind a URL. Implementations do not retry.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetchError reports a document or signature that could not be retrieved.
// Status is the HTTP status code, or 0 when no response was received.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: http status %d: %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

var (
	ErrTooLarge         = errors.New("response exceeds size limit")
	ErrUnexpectedStatus = errors.New("unexpected status")
	ErrInsecureRedirect = errors.New("redirect to non-https url")
	ErrTooManyRedirects = errors.New("too many redirects")
)

// HTTPFetcher fetches over HTTPS.
type HTTPFetcher struct {
	client    *http.Client
	maxBytes  int64
	userAgent string
}

// Option configures an HTTPFetcher.
type Option func(*HTTPFetcher)

// WithClient replaces the HTTP client. Its redirect policy is kept only if set.
func WithClient(c *http.Client) Option {
	return func(f *HTTPFetcher) { f.client = c }
}

// WithMaxBytes caps the response body size.
func WithMaxBytes(n int64) Option {
	return func(f *HTTPFetcher) { f.maxBytes = n }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *HTTPFetcher) { f.userAgent = ua }
}

// NewHTTPFetcher creates a fetcher with a timeout-bound client that refuses
// redirects away from https.
func NewHTTPFetcher(opts ...Option) *HTTPFetcher {
	f := &HTTPFetcher{
		maxBytes:  DefaultMaxBytes,
		userAgent: brand.UserAgent(brand.Version),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = &http.Client{Timeout: DefaultTimeout}
	}
	if f.client.CheckRedirect == nil {
		c := *f.client
		c.CheckRedirect = checkRedirect
		f.client = &c
	}
	return f
}

func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return ErrTooManyRedirects
	}
	if req.URL.Scheme != "https" {
		return fmt.Errorf("%w: %s", ErrInsecureRedirect, req.URL)
	}
	return nil
}

// Fetch performs a single GET.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &FetchError{URL: url, Status: resp.StatusCode, Err: ErrUnexpectedStatus}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, &FetchError{URL: url, Status: resp.StatusCode, Err: err}
	}
	if int64(len(body)) > f.maxBytes {
		return nil, &FetchError{URL: url, Status: resp.StatusCode, Err: fmt.Errorf("%w: %d bytes", ErrTooLarge, f.maxBytes)}
	}
	return body, nil
}
