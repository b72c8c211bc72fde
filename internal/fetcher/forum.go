package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/prismis/prismisd/internal/content"
)

// DefaultForumBaseURL is reddit's public JSON API. Overridable for tests.
const DefaultForumBaseURL = "https://www.reddit.com"

// linkDomainsSkipped are image/video CDNs whose link posts carry no text
// worth analyzing. youtube link posts are skipped too; the video fetcher is
// the right tool for those.
var linkDomainsSkipped = map[string]bool{
	"i.redd.it":   true,
	"i.imgur.com": true,
	"imgur.com":   true,
	"v.redd.it":   true,
	"youtube.com": true,
	"youtu.be":    true,
}

var subredditRe = regexp.MustCompile(`^[A-Za-z0-9_]{2,21}$`)

// NormalizeSubreddit canonicalizes every accepted forum URL shape ("foo",
// "r/foo", "/r/foo/", "https://…/r/foo", "forum://foo") to the bare
// subreddit name.
func NormalizeSubreddit(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if after, ok := strings.CutPrefix(s, "forum://"); ok {
		s = after
	} else if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return "", fmt.Errorf("forum url %q: %w", raw, err)
		}
		s = u.Path
	}
	s = strings.Trim(s, "/")
	if after, ok := strings.CutPrefix(s, "r/"); ok {
		s = after
	}
	// Drop anything after the name (e.g. /r/foo/top).
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	if !subredditRe.MatchString(s) {
		return "", fmt.Errorf("invalid subreddit in %q", raw)
	}
	return strings.ToLower(s), nil
}

// Forum fetches new submissions from a subreddit via the public JSON listing.
type Forum struct {
	opts Options

	// BaseURL is the reddit endpoint; tests point it at a local server.
	BaseURL string
}

func NewForum(opts Options) *Forum {
	opts.applyDefaults()
	return &Forum{opts: opts, BaseURL: DefaultForumBaseURL}
}

// redditListing mirrors the slice of the listing response we consume.
type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	Title       string  `json:"title"`
	SelfText    string  `json:"selftext"`
	URL         string  `json:"url"`
	Permalink   string  `json:"permalink"`
	CreatedUTC  float64 `json:"created_utc"`
	Score       int     `json:"score"`
	UpvoteRatio float64 `json:"upvote_ratio"`
	NumComments int     `json:"num_comments"`
	Author      string  `json:"author"`
	Subreddit   string  `json:"subreddit"`
	IsSelf      bool    `json:"is_self"`
	Domain      string  `json:"domain"`
}

func (f *Forum) Fetch(ctx context.Context, src *content.Source) ([]content.FetchRecord, error) {
	name, err := NormalizeSubreddit(src.URL)
	if err != nil {
		return nil, wrapFetch(src.URL, err)
	}
	listingURL := fmt.Sprintf("%s/r/%s/new.json?limit=%d&raw_json=1", f.BaseURL, name, f.opts.MaxItems)
	body, _, err := get(ctx, f.opts.Client, listingURL)
	if err != nil {
		return nil, wrapFetch(src.URL, err)
	}
	var listing redditListing
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, wrapFetch(src.URL, fmt.Errorf("parse listing: %w", err))
	}

	records := make([]content.FetchRecord, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		post := child.Data
		if !post.IsSelf && linkDomainsSkipped[strings.ToLower(post.Domain)] {
			continue
		}
		published := redditTime(post.CreatedUTC)
		if !f.opts.fresh(published) {
			continue
		}
		records = append(records, content.FetchRecord{
			ExternalID:  post.Permalink,
			Title:       post.Title,
			URL:         f.BaseURL + post.Permalink,
			Content:     postContent(post),
			PublishedAt: published,
			Metrics: map[string]any{
				"score":        post.Score,
				"upvote_ratio": post.UpvoteRatio,
				"num_comments": post.NumComments,
				"author":       post.Author,
				"subreddit":    post.Subreddit,
			},
		})
		if len(records) >= f.opts.MaxItems {
			break
		}
	}
	return records, nil
}

func postContent(post redditPost) string {
	if post.IsSelf {
		return post.SelfText
	}
	return "Link: " + post.URL
}

func redditTime(createdUTC float64) *time.Time {
	if createdUTC <= 0 {
		return nil
	}
	t := time.Unix(int64(createdUTC), 0).UTC()
	return &t
}
