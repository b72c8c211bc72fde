// Package validator probes a candidate source URL before it is admitted:
// classify by declared type, confirm the target is reachable and well-formed.
package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/prismis/prismisd/internal/content"
	"github.com/prismis/prismisd/internal/fetcher"
	"github.com/prismis/prismisd/internal/httpclient"
	"github.com/prismis/prismisd/internal/safeurl"
)

// ProbeTimeout is the wall-clock budget per network probe.
const ProbeTimeout = 5 * time.Second

// Validator probes candidate sources. The zero value is not usable; call New.
type Validator struct {
	client *http.Client

	// Endpoints, overridable for tests.
	ForumBaseURL string
	VideoBaseURL string
}

func New() *Validator {
	return &Validator{
		client:       httpclient.WithTimeout(ProbeTimeout),
		ForumBaseURL: fetcher.DefaultForumBaseURL,
		VideoBaseURL: fetcher.DefaultVideoBaseURL,
	}
}

// Validate probes rawURL as the declared type. Returns ok plus a human
// reason on rejection. An unrecognized type fails without any network call.
func (v *Validator) Validate(ctx context.Context, rawURL, typ string) (bool, string) {
	st, err := content.ParseSourceType(typ)
	if err != nil {
		return false, fmt.Sprintf("Unknown source type: %s", typ)
	}
	switch st {
	case content.SourceFeed:
		return v.validateFeed(ctx, rawURL)
	case content.SourceForum:
		return v.validateForum(ctx, rawURL)
	case content.SourceVideo:
		return v.validateVideo(ctx, rawURL)
	case content.SourceFile:
		return v.validateFile(ctx, rawURL)
	}
	return false, fmt.Sprintf("Unknown source type: %s", typ)
}

// validateFeed fetches and parses the URL as RSS/Atom; at least one entry or
// a channel title is required.
func (v *Validator) validateFeed(ctx context.Context, rawURL string) (bool, string) {
	if !safeurl.IsHTTPOrHTTPS(rawURL) {
		return false, "feed URL must be http(s)"
	}
	body, _, err := v.get(ctx, rawURL)
	if err != nil {
		return false, fmt.Sprintf("feed unreachable: %v", err)
	}
	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return false, fmt.Sprintf("not a valid feed: %v", err)
	}
	if len(feed.Items) == 0 && feed.Title == "" {
		return false, "feed has no entries and no title"
	}
	return true, ""
}

// redditAbout is the slice of /r/<name>/about.json we check.
type redditAbout struct {
	Kind string `json:"kind"`
	Data struct {
		SubredditType string `json:"subreddit_type"`
	} `json:"data"`
}

// validateForum canonicalizes the subreddit handle and verifies the
// subreddit exists and is not private.
func (v *Validator) validateForum(ctx context.Context, rawURL string) (bool, string) {
	name, err := fetcher.NormalizeSubreddit(rawURL)
	if err != nil {
		return false, fmt.Sprintf("invalid forum url: %v", err)
	}
	body, _, err := v.get(ctx, fmt.Sprintf("%s/r/%s/about.json?raw_json=1", v.ForumBaseURL, name))
	if err != nil {
		return false, fmt.Sprintf("subreddit r/%s not reachable: %v", name, err)
	}
	var about redditAbout
	if err := json.Unmarshal(body, &about); err != nil || about.Kind != "t5" {
		return false, fmt.Sprintf("r/%s does not exist", name)
	}
	if about.Data.SubredditType == "private" {
		return false, fmt.Sprintf("r/%s is private", name)
	}
	return true, ""
}

// validateVideo resolves the channel (handle or 24-char id) and confirms its
// upload feed parses.
func (v *Validator) validateVideo(ctx context.Context, rawURL string) (bool, string) {
	channelID, handle, err := fetcher.NormalizeChannel(rawURL)
	if err != nil {
		return false, fmt.Sprintf("invalid channel url: %v", err)
	}
	if channelID == "" {
		body, _, err := v.get(ctx, v.VideoBaseURL+"/"+handle)
		if err != nil {
			return false, fmt.Sprintf("channel %s not reachable: %v", handle, err)
		}
		channelID = fetcher.FindChannelID(string(body))
		if channelID == "" {
			return false, fmt.Sprintf("channel %s did not resolve", handle)
		}
	}
	body, _, err := v.get(ctx, v.VideoBaseURL+"/feeds/videos.xml?channel_id="+channelID)
	if err != nil {
		return false, fmt.Sprintf("channel feed unreachable: %v", err)
	}
	if _, err := gofeed.NewParser().ParseString(string(body)); err != nil {
		return false, fmt.Sprintf("channel feed invalid: %v", err)
	}
	return true, ""
}

// validateFile requires a 200 and a text-like content type.
func (v *Validator) validateFile(ctx context.Context, rawURL string) (bool, string) {
	if !safeurl.IsHTTPOrHTTPS(rawURL) {
		return false, "file URL must be http(s)"
	}
	_, contentType, err := v.get(ctx, rawURL)
	if err != nil {
		return false, fmt.Sprintf("file unreachable: %v", err)
	}
	if !fetcher.TextLike(contentType) {
		return false, fmt.Sprintf("not a text content type: %q", contentType)
	}
	return true, ""
}

func (v *Validator) get(ctx context.Context, url string) (body []byte, contentType string, err error) {
	req, err := httpclient.NewRequest(ctx, url)
	if err != nil {
		return nil, "", err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	body, err = httpclient.ReadBody(resp)
	if err != nil {
		return nil, "", err
	}
	return body, resp.Header.Get("Content-Type"), nil
}
