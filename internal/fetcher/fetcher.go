// Package fetcher turns a configured source into a bounded list of candidate
// records. Four adapters share the Fetcher interface: feed (RSS/Atom), forum
// (reddit), video (youtube channels), and file (tracked text URLs).
//
// Every adapter honors the same gates: at most MaxItems records per fetch,
// nothing older than the lookback window, and timezone-aware UTC timestamps.
// Records with no usable published timestamp are dropped by the freshness
// gate rather than admitted; admitting stale or undated items would feed
// them straight into paid LLM analysis.
package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prismis/prismisd/internal/content"
	"github.com/prismis/prismisd/internal/httpclient"
)

// Bounds for MaxItems. The config layer rejects out-of-range values loudly;
// the clamp here is a second line of defense for programmatic callers.
const (
	MinItems     = 1
	MaxItemsCap  = 100
	DefaultItems = 50

	DefaultLookback = 7 * 24 * time.Hour
)

// ErrNotModified is returned by conditionalGet when the upstream answers 304.
// Adapters translate it into an empty, successful fetch.
var ErrNotModified = errors.New("fetcher: not modified")

// Fetcher produces candidate records for one source. Adapters may update the
// source's cache validators (ETag, LastModified) in place; the pipeline
// persists them alongside the fetch outcome.
type Fetcher interface {
	Fetch(ctx context.Context, src *content.Source) ([]content.FetchRecord, error)
}

// PrevContent is the slice of the store the file fetcher needs: the raw body
// of the previous ingest, for diffing.
type PrevContent interface {
	LatestContent(sourceID string) (string, bool, error)
}

// Options is shared adapter configuration. The zero value is usable; New*
// constructors apply defaults.
type Options struct {
	MaxItems int           // clamped to [MinItems, MaxItemsCap]
	Lookback time.Duration // freshness window, default 7 days
	Client   *http.Client  // default httpclient.Default()
	Now      func() time.Time
}

func (o *Options) applyDefaults() {
	if o.MaxItems == 0 {
		o.MaxItems = DefaultItems
	}
	if o.MaxItems < MinItems {
		o.MaxItems = MinItems
	}
	if o.MaxItems > MaxItemsCap {
		o.MaxItems = MaxItemsCap
	}
	if o.Lookback <= 0 {
		o.Lookback = DefaultLookback
	}
	if o.Client == nil {
		o.Client = httpclient.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// fresh is the freshness gate: true only for records whose published
// timestamp is known and inside the lookback window. nil never passes.
func (o Options) fresh(t *time.Time) bool {
	if t == nil {
		return false
	}
	return !t.Before(o.Now().UTC().Add(-o.Lookback))
}

// Registry builds the type → fetcher map the pipeline dispatches on.
func Registry(opts Options, prev PrevContent) map[content.SourceType]Fetcher {
	return map[content.SourceType]Fetcher{
		content.SourceFeed:  NewFeed(opts),
		content.SourceForum: NewForum(opts),
		content.SourceVideo: NewVideo(opts),
		content.SourceFile:  NewFile(opts, prev),
	}
}

// ─── FetchError ──────────────────────────────────────────────────────────────

// FetchError wraps any transport or parse failure with the source URL so the
// pipeline can record it on the source row.
type FetchError struct {
	SourceURL string
	Err       error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch %s: %v", e.SourceURL, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

func wrapFetch(sourceURL string, err error) error {
	return &FetchError{SourceURL: sourceURL, Err: err}
}

// ─── shared HTTP ─────────────────────────────────────────────────────────────

// conditionalGet issues a GET with If-None-Match / If-Modified-Since from the
// source's stored validators. On 200 it captures the new validators into src
// and returns the decoded body plus content type. Returns ErrNotModified on
// 304 so callers can treat the fetch as successful with zero records.
func conditionalGet(ctx context.Context, client *http.Client, src *content.Source, url string) (body []byte, contentType string, err error) {
	req, err := httpclient.NewRequest(ctx, url)
	if err != nil {
		return nil, "", err
	}
	if src.ETag != "" {
		req.Header.Set("If-None-Match", src.ETag)
	}
	if src.LastModified != "" {
		req.Header.Set("If-Modified-Since", src.LastModified)
	}
	resp, err := httpclient.DoWithRetry(ctx, client, req, httpclient.DefaultRetryPolicy)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotModified {
		return nil, "", ErrNotModified
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err = httpclient.ReadBody(resp)
	if err != nil {
		return nil, "", err
	}
	src.ETag = resp.Header.Get("ETag")
	src.LastModified = resp.Header.Get("Last-Modified")
	return body, resp.Header.Get("Content-Type"), nil
}

// get is conditionalGet without cache validators.
func get(ctx context.Context, client *http.Client, url string) (body []byte, contentType string, err error) {
	req, err := httpclient.NewRequest(ctx, url)
	if err != nil {
		return nil, "", err
	}
	resp, err := httpclient.DoWithRetry(ctx, client, req, httpclient.DefaultRetryPolicy)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err = httpclient.ReadBody(resp)
	if err != nil {
		return nil, "", err
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// shortHash is sha256 truncated to 16 hex chars, the stable external-id
// building block shared by the feed and file adapters.
func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
