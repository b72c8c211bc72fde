// Package httpclient provides the shared tuned HTTP client used by the
// fetchers, the validator, and the embedder, plus request helpers that set
// the Prismis User-Agent, decode compressed bodies, and pace per-host
// request rates.
package httpclient

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/andybalholm/brotli"
)

const (
	// UserAgent identifies prismis on every outbound request. Forum providers
	// reject unidentified traffic, so this must be set on every request.
	UserAgent = "Prismis/0.3"

	DefaultTimeout         = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
	MaxIdleConnsPerHost    = 8
)

var defaultClient *http.Client

func init() {
	defaultClient = &http.Client{
		Timeout: DefaultTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        64,
			MaxIdleConnsPerHost: MaxIdleConnsPerHost,
			IdleConnTimeout:     DefaultIdleConnTimeout,
		},
	}
}

// Default returns the shared tuned HTTP client.
func Default() *http.Client {
	return defaultClient
}

// WithTimeout returns a client with the given timeout and the same transport
// as Default (or a copy).
func WithTimeout(timeout time.Duration) *http.Client {
	t, ok := defaultClient.Transport.(*http.Transport)
	if !ok {
		return &http.Client{Timeout: timeout}
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: t.Clone(),
	}
}

// NewRequest builds a GET request with the Prismis User-Agent and an explicit
// Accept-Encoding. Setting Accept-Encoding manually disables Go's transparent
// gzip, so callers must read bodies through DecodeBody.
func NewRequest(ctx context.Context, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept-Encoding", "gzip, br")
	return req, nil
}

// DecodeBody wraps resp.Body according to Content-Encoding (gzip or br).
// The returned reader must be closed; closing it closes resp.Body too.
func DecodeBody(resp *http.Response) (io.ReadCloser, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		return &wrappedBody{r: gz, underlying: resp.Body}, nil
	case "br":
		return &wrappedBody{r: io.NopCloser(brotli.NewReader(resp.Body)), underlying: resp.Body}, nil
	default:
		return resp.Body, nil
	}
}

// ReadBody drains and decodes the full response body.
func ReadBody(resp *http.Response) ([]byte, error) {
	r, err := DecodeBody(resp)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

type wrappedBody struct {
	r          io.ReadCloser
	underlying io.ReadCloser
}

func (w *wrappedBody) Read(p []byte) (int, error) { return w.r.Read(p) }

func (w *wrappedBody) Close() error {
	_ = w.r.Close()
	return w.underlying.Close()
}
