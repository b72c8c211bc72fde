package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prismis/prismisd/internal/content"
)

// prevStub satisfies PrevContent with a canned previous body.
type prevStub struct {
	text string
	ok   bool
}

func (p prevStub) LatestContent(string) (string, bool, error) { return p.text, p.ok, nil }

func TestFileFetch(t *testing.T) {
	body := "line one\nline two\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	f := NewFile(Options{Client: srv.Client()}, prevStub{})
	src := &content.Source{ID: "s1", URL: srv.URL + "/notes.txt", Name: "notes"}
	records, err := f.Fetch(context.Background(), src)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	rec := records[0]
	if rec.Title != "notes" {
		t.Errorf("title = %q", rec.Title)
	}
	if rec.PublishedAt == nil {
		t.Errorf("file record must carry an observation timestamp")
	}
	if rec.Diff != nil {
		t.Errorf("no previous ingest, diff must be nil")
	}
	if rec.Metrics["content_hash"] == "" {
		t.Errorf("metrics = %v", rec.Metrics)
	}

	// Same content again yields the same external id, so the store dedups it.
	again, err := f.Fetch(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if again[0].ExternalID != rec.ExternalID {
		t.Errorf("external id changed for unchanged content: %s vs %s", again[0].ExternalID, rec.ExternalID)
	}
}

func TestFileFetch_changedContentGetsDiff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "alpha\ngamma\ndelta\n")
	}))
	defer srv.Close()

	f := NewFile(Options{Client: srv.Client()}, prevStub{text: "alpha\nbeta\ndelta", ok: true})
	records, err := f.Fetch(context.Background(), &content.Source{ID: "s1", URL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	d := records[0].Diff
	if d == nil {
		t.Fatal("changed content must carry a diff")
	}
	if !strings.Contains(d.Unified, "-beta") || !strings.Contains(d.Unified, "+gamma") {
		t.Errorf("unified diff missing change:\n%s", d.Unified)
	}
	if d.Added != 1 || d.Removed != 1 || d.Changed != 1 {
		t.Errorf("counters = +%d -%d ~%d, want 1/1/1", d.Added, d.Removed, d.Changed)
	}
}

func TestFileFetch_rejectsBinary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte{0x7f, 0x45, 0x4c, 0x46})
	}))
	defer srv.Close()

	f := NewFile(Options{Client: srv.Client()}, prevStub{})
	if _, err := f.Fetch(context.Background(), &content.Source{URL: srv.URL}); err == nil {
		t.Errorf("want error for non-text content type")
	}
}

func TestFileFetch_htmlExtraction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><style>.x{}</style><script>var x=1;</script></head><body><p>visible text</p></body></html>`)
	}))
	defer srv.Close()

	f := NewFile(Options{Client: srv.Client()}, prevStub{})
	records, err := f.Fetch(context.Background(), &content.Source{URL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	got := records[0].Content
	if !strings.Contains(got, "visible text") {
		t.Errorf("content = %q, want visible text", got)
	}
	if strings.Contains(got, "var x") || strings.Contains(got, ".x{}") {
		t.Errorf("script/style leaked into content: %q", got)
	}
}

func TestTextLike(t *testing.T) {
	yes := []string{"", "text/plain", "text/markdown; charset=utf-8", "application/json",
		"application/xml", "application/ld+json", "image/svg+xml", "application/yaml"}
	no := []string{"application/octet-stream", "image/png", "video/mp4", "application/pdf"}
	for _, ct := range yes {
		if !TextLike(ct) {
			t.Errorf("TextLike(%q) = false, want true", ct)
		}
	}
	for _, ct := range no {
		if TextLike(ct) {
			t.Errorf("TextLike(%q) = true, want false", ct)
		}
	}
}

func TestNormalizeContent(t *testing.T) {
	in := "a \r\nb\t\r\nc\n\n"
	if got := normalizeContent(in); got != "a\nb\nc" {
		t.Errorf("normalizeContent = %q", got)
	}
}
