package fetcher

import (
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/prismis/prismisd/internal/content"
)

// Defaults for the youtube endpoints. Overridable for tests.
const (
	DefaultVideoBaseURL     = "https://www.youtube.com"
	DefaultTimedtextBaseURL = "https://video.google.com/timedtext"
)

var (
	channelIDRe     = regexp.MustCompile(`UC[0-9A-Za-z_-]{22}`)
	channelIDPathRe = regexp.MustCompile(`/channel/(UC[0-9A-Za-z_-]{22})`)
	handleRe        = regexp.MustCompile(`@[A-Za-z0-9._-]{3,30}`)
)

// Video fetches recent uploads from a youtube channel via its Atom feed.
// Transcripts are downloaded best-effort; when unavailable the description
// stands in as the content.
type Video struct {
	opts Options

	// BaseURL / TimedtextURL are the youtube endpoints; tests point them at
	// a local server.
	BaseURL      string
	TimedtextURL string

	parser *gofeed.Parser
}

func NewVideo(opts Options) *Video {
	opts.applyDefaults()
	return &Video{
		opts:         opts,
		BaseURL:      DefaultVideoBaseURL,
		TimedtextURL: DefaultTimedtextBaseURL,
		parser:       gofeed.NewParser(),
	}
}

// NormalizeChannel extracts either a 24-char channel id or an @handle from
// the accepted video URL shapes: "https://…/channel/<id>", "https://…/@h",
// "video://@h", "@h", or a bare channel id.
func NormalizeChannel(raw string) (channelID, handle string, err error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "video://")
	if m := channelIDPathRe.FindStringSubmatch(s); m != nil {
		return m[1], "", nil
	}
	if channelIDRe.MatchString(s) && len(strings.Trim(s, "/")) == 24 {
		return strings.Trim(s, "/"), "", nil
	}
	if m := handleRe.FindString(s); m != "" {
		return "", m, nil
	}
	return "", "", fmt.Errorf("unrecognized channel url %q", raw)
}

func (v *Video) Fetch(ctx context.Context, src *content.Source) ([]content.FetchRecord, error) {
	channelID, err := v.resolveChannelID(ctx, src.URL)
	if err != nil {
		return nil, wrapFetch(src.URL, err)
	}
	feedURL := v.BaseURL + "/feeds/videos.xml?channel_id=" + channelID
	body, _, err := conditionalGet(ctx, v.opts.Client, src, feedURL)
	if err == ErrNotModified {
		return nil, nil
	}
	if err != nil {
		return nil, wrapFetch(src.URL, err)
	}
	feed, err := v.parser.ParseString(string(body))
	if err != nil {
		return nil, wrapFetch(src.URL, fmt.Errorf("parse channel feed: %w", err))
	}

	// Gate, order, and cap first; transcripts are a network round-trip per
	// video, so only the entries that survive the cap pay for one.
	type entry struct {
		item      *gofeed.Item
		published *time.Time
	}
	fresh := make([]entry, 0, len(feed.Items))
	for _, item := range feed.Items {
		published := feedPublished(item)
		if !v.opts.fresh(published) {
			continue
		}
		fresh = append(fresh, entry{item: item, published: published})
	}
	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].published.After(*fresh[j].published)
	})
	if len(fresh) > v.opts.MaxItems {
		fresh = fresh[:v.opts.MaxItems]
	}

	records := make([]content.FetchRecord, 0, len(fresh))
	for _, e := range fresh {
		body := e.item.Description
		if videoID := videoIDFromEntry(e.item); videoID != "" {
			if transcript := v.transcript(ctx, videoID); transcript != "" {
				body = transcript
			}
		}
		rec := content.FetchRecord{
			ExternalID:  feedExternalID(e.item, v.opts.Now),
			Title:       e.item.Title,
			URL:         e.item.Link,
			Content:     body,
			PublishedAt: e.published,
		}
		if views := videoViews(e.item); views != "" {
			rec.Metrics = map[string]any{"views": views}
		}
		records = append(records, rec)
	}
	return records, nil
}

// resolveChannelID turns an @handle into a channel id by scraping the channel
// page. A direct channel id skips the network round-trip.
func (v *Video) resolveChannelID(ctx context.Context, rawURL string) (string, error) {
	channelID, handle, err := NormalizeChannel(rawURL)
	if err != nil {
		return "", err
	}
	if channelID != "" {
		return channelID, nil
	}
	body, _, err := get(ctx, v.opts.Client, v.BaseURL+"/"+handle)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", handle, err)
	}
	if id := FindChannelID(string(body)); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("resolve %s: no channel id on page", handle)
}

// FindChannelID scans a channel page for the first channel id it carries.
func FindChannelID(page string) string {
	return channelIDRe.FindString(page)
}

// transcript downloads the auto-caption track. Absence is not an error; the
// caller falls back to the video description.
func (v *Video) transcript(ctx context.Context, videoID string) string {
	body, _, err := get(ctx, v.opts.Client, v.TimedtextURL+"?lang=en&v="+videoID)
	if err != nil || len(body) == 0 {
		return ""
	}
	var doc struct {
		Texts []struct {
			Body string `xml:",chardata"`
		} `xml:"text"`
	}
	if err := xml.Unmarshal(body, &doc); err != nil {
		return ""
	}
	parts := make([]string, 0, len(doc.Texts))
	for _, t := range doc.Texts {
		if s := strings.TrimSpace(html.UnescapeString(t.Body)); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// videoIDFromEntry pulls the video id out of the Atom entry id
// ("yt:video:<id>") or falls back to the yt extension element.
func videoIDFromEntry(item *gofeed.Item) string {
	if id, ok := strings.CutPrefix(item.GUID, "yt:video:"); ok {
		return id
	}
	for _, ext := range item.Extensions["yt"]["videoId"] {
		if ext.Value != "" {
			return ext.Value
		}
	}
	return ""
}

// videoViews digs the view count out of media:group/media:community when the
// feed surfaces it.
func videoViews(item *gofeed.Item) string {
	for _, group := range item.Extensions["media"]["group"] {
		for _, community := range group.Children["community"] {
			for _, stats := range community.Children["statistics"] {
				if views := stats.Attrs["views"]; views != "" {
					return views
				}
			}
		}
	}
	return ""
}
