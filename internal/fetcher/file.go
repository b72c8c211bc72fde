package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/net/html"

	"github.com/prismis/prismisd/internal/content"
)

// File tracks a single text URL. The external id bakes in a content hash, so
// an unchanged file dedups naturally and a changed file shows up as a new
// record carrying a unified diff against the previous ingest.
type File struct {
	opts Options
	prev PrevContent
}

func NewFile(opts Options, prev PrevContent) *File {
	opts.applyDefaults()
	return &File{opts: opts, prev: prev}
}

func (f *File) Fetch(ctx context.Context, src *content.Source) ([]content.FetchRecord, error) {
	body, contentType, err := conditionalGet(ctx, f.opts.Client, src, src.URL)
	if err == ErrNotModified {
		return nil, nil
	}
	if err != nil {
		return nil, wrapFetch(src.URL, err)
	}
	if !TextLike(contentType) {
		return nil, wrapFetch(src.URL, fmt.Errorf("not a text content type: %q", contentType))
	}

	text := string(body)
	if isHTML(contentType) {
		text = extractText(text)
	}
	text = normalizeContent(text)

	contentHash := sha256.Sum256([]byte(text))
	hashHex := hex.EncodeToString(contentHash[:])
	now := f.opts.Now().UTC()

	rec := content.FetchRecord{
		ExternalID:  shortHash(src.URL + "|" + hashHex),
		Title:       fileTitle(src),
		URL:         src.URL,
		Content:     text,
		PublishedAt: &now, // a file "publishes" when we observe a new version
		Metrics: map[string]any{
			"content_hash": hashHex,
			"bytes":        len(text),
		},
	}

	// Diff against the previous ingest so the summarizer can emphasize the
	// delta instead of re-describing the whole file.
	if f.prev != nil {
		if prevText, ok, err := f.prev.LatestContent(src.ID); err == nil && ok && prevText != text {
			rec.Diff = diffContents(prevText, text)
		}
	}
	return []content.FetchRecord{rec}, nil
}

func fileTitle(src *content.Source) string {
	if src.Name != "" {
		return src.Name
	}
	u, err := url.Parse(src.URL)
	if err != nil || u.Path == "" || u.Path == "/" {
		return src.URL
	}
	return path.Base(u.Path)
}

// normalizeContent canonicalizes line endings and strips trailing blank
// space so cosmetic upstream churn doesn't defeat the content hash.
func normalizeContent(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

// diffContents builds a unified diff plus per-file line counters.
func diffContents(prev, curr string) *content.FileDiff {
	unified, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(prev),
		B:        difflib.SplitLines(curr),
		FromFile: "previous",
		ToFile:   "current",
		Context:  3,
	})
	if err != nil {
		return nil
	}
	d := &content.FileDiff{Unified: unified}
	for _, line := range strings.Split(unified, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			d.Added++
		case strings.HasPrefix(line, "-"):
			d.Removed++
		}
	}
	d.Changed = min(d.Added, d.Removed)
	return d
}

// TextLike reports whether a content type is analyzable text. An absent
// content type is given the benefit of the doubt.
func TextLike(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch {
	case ct == "":
		return true
	case strings.HasPrefix(ct, "text/"):
		return true
	case ct == "application/json", ct == "application/xml",
		ct == "application/yaml", ct == "application/x-yaml",
		ct == "application/toml", ct == "application/markdown":
		return true
	case strings.HasSuffix(ct, "+json"), strings.HasSuffix(ct, "+xml"):
		return true
	}
	return false
}

func isHTML(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "+html")
}

// extractText strips tags from an HTML body, skipping script/style blocks.
func extractText(htmlBody string) string {
	tok := html.NewTokenizer(strings.NewReader(htmlBody))
	var (
		sb   strings.Builder
		skip int
	)
	for {
		switch tok.Next() {
		case html.ErrorToken:
			return sb.String()
		case html.StartTagToken:
			name, _ := tok.TagName()
			if n := string(name); n == "script" || n == "style" {
				skip++
			}
		case html.EndTagToken:
			name, _ := tok.TagName()
			if n := string(name); (n == "script" || n == "style") && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				if s := strings.TrimSpace(string(tok.Text())); s != "" {
					sb.WriteString(s)
					sb.WriteByte('\n')
				}
			}
		}
	}
}
