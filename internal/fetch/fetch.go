// Package fetch downloads source documents.
package fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

// Fetcher returns the bytes of the document at rawURL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

var (
	// ErrTooLarge is returned when a document exceeds the configured size limit.
	ErrTooLarge = errors.New("document exceeds size limit")
	// ErrLocalDisabled is returned for file:// URLs and bare paths when the
	// client was not built with AllowLocal.
	ErrLocalDisabled = errors.New("local documents are not allowed")
	// ErrScheme is returned for URLs that are neither http(s) nor local.
	ErrScheme = errors.New("unsupported url scheme")
)

// StatusError is a non-2xx answer from the document server.
type StatusError struct {
	URL    string
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %s: %s", e.URL, e.Status, e.Body)
}

// Temporary reports whether retrying may help.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

type Options struct {
	Timeout            time.Duration
	Retries            int
	Backoff            time.Duration
	MaxBytes           int64
	InsecureSkipVerify bool
	// AllowLocal lets file:// URLs and bare paths be read from disk. Leave it
	// off wherever the URL comes from a remote caller.
	AllowLocal bool
}

// Client fetches over HTTP(S) with exponential backoff between attempts.
// With AllowLocal, file:// URLs and bare paths are read from disk.
type Client struct {
	client     *http.Client
	retries    int
	backoff    time.Duration
	maxBytes   int64
	allowLocal bool
}

func NewClient(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Backoff == 0 {
		opts.Backoff = 300 * time.Millisecond
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &Client{
		client:     &http.Client{Timeout: opts.Timeout, Transport: transport},
		retries:    opts.Retries,
		backoff:    opts.Backoff,
		maxBytes:   opts.MaxBytes,
		allowLocal: opts.AllowLocal,
	}
}

func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	switch u.Scheme {
	case "http", "https":
	case "", "file":
		if !c.allowLocal {
			return nil, fmt.Errorf("fetch %s: %w", rawURL, ErrLocalDisabled)
		}
		path := rawURL
		if u.Scheme == "file" {
			path = u.Path
		}
		return c.readFile(path)
	default:
		return nil, fmt.Errorf("fetch %s: %w %q", rawURL, ErrScheme, u.Scheme)
	}

	var lastErr error
	tries := c.retries + 1
	for attempt := 0; attempt < tries; attempt++ {
		body, err := c.get(ctx, rawURL)
		if err == nil {
			return body, nil
		}
		lastErr = err
		var se *StatusError
		if errors.Is(err, ErrTooLarge) || (errors.As(err, &se) && !se.Temporary()) {
			return nil, err
		}
		if attempt < tries-1 {
			select {
			case <-time.After(c.backoff * time.Duration(1<<attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: rawURL, Code: resp.StatusCode, Status: resp.Status, Body: string(b)}
	}
	return c.readAll(resp.Body)
}

func (c *Client) readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return c.readAll(f)
}

func (c *Client) readAll(r io.Reader) ([]byte, error) {
	if c.maxBytes <= 0 {
		return io.ReadAll(r)
	}
	b, err := io.ReadAll(io.LimitReader(r, c.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > c.maxBytes {
		return nil, ErrTooLarge
	}
	return b, nil
}
