package fetcher

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/prismis/prismisd/internal/content"
)

// Feed fetches RSS/Atom feeds.
type Feed struct {
	opts   Options
	parser *gofeed.Parser
}

func NewFeed(opts Options) *Feed {
	opts.applyDefaults()
	return &Feed{opts: opts, parser: gofeed.NewParser()}
}

// Fetch downloads and parses the feed, applies the freshness gate, and
// returns at most MaxItems records, newest first. A 304 from the upstream is
// a successful fetch with zero records.
func (f *Feed) Fetch(ctx context.Context, src *content.Source) ([]content.FetchRecord, error) {
	body, _, err := conditionalGet(ctx, f.opts.Client, src, src.URL)
	if err == ErrNotModified {
		return nil, nil
	}
	if err != nil {
		return nil, wrapFetch(src.URL, err)
	}
	feed, err := f.parser.ParseString(string(body))
	if err != nil {
		return nil, wrapFetch(src.URL, fmt.Errorf("parse feed: %w", err))
	}

	records := make([]content.FetchRecord, 0, len(feed.Items))
	for _, item := range feed.Items {
		published := feedPublished(item)
		if !f.opts.fresh(published) {
			continue
		}
		records = append(records, content.FetchRecord{
			ExternalID:  feedExternalID(item, f.opts.Now),
			Title:       item.Title,
			URL:         item.Link,
			Content:     feedContent(item),
			PublishedAt: published,
		})
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].PublishedAt.After(*records[j].PublishedAt)
	})
	if len(records) > f.opts.MaxItems {
		records = records[:f.opts.MaxItems]
	}
	return records, nil
}

// feedExternalID derives a stable per-entry id. Order matters: entry id,
// then hashed link, then hashed title, then hashed nanosecond clock as the
// uniqueness-guaranteeing last resort.
func feedExternalID(item *gofeed.Item, now func() time.Time) string {
	switch {
	case item.GUID != "":
		return item.GUID
	case item.Link != "":
		return shortHash(item.Link)
	case item.Title != "":
		return shortHash(item.Title)
	default:
		return shortHash(strconv.FormatInt(now().UnixNano(), 10))
	}
}

// feedPublished prefers published over updated; a feed whose date failed to
// parse yields nil, which the freshness gate treats as "never admit".
func feedPublished(item *gofeed.Item) *time.Time {
	if item.PublishedParsed != nil {
		return utc(item.PublishedParsed)
	}
	if item.UpdatedParsed != nil {
		return utc(item.UpdatedParsed)
	}
	return nil
}

func feedContent(item *gofeed.Item) string {
	if item.Content != "" {
		return item.Content
	}
	return item.Description
}
