package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prismis/prismisd/internal/content"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "prismis.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddSource(t *testing.T) {
	s := openTest(t)
	id, err := s.AddSource("https://example.com/feed.xml", "feed", "example")
	if err != nil {
		t.Fatalf("AddSource: %v", err)
	}
	if len(id) != 36 {
		t.Errorf("id length = %d, want 36", len(id))
	}

	src, err := s.GetSource(id)
	if err != nil {
		t.Fatalf("GetSource: %v", err)
	}
	if src.Type != content.SourceFeed || !src.Active || src.ErrorCount != 0 {
		t.Errorf("unexpected source: %+v", src)
	}
}

func TestAddSource_invalidType(t *testing.T) {
	s := openTest(t)
	_, err := s.AddSource("https://example.com", "podcast", "")
	if !errors.Is(err, ErrInvalidType) {
		t.Errorf("err = %v, want ErrInvalidType", err)
	}
}

func TestAddSource_duplicate(t *testing.T) {
	s := openTest(t)
	if _, err := s.AddSource("https://example.com/feed.xml", "feed", "a"); err != nil {
		t.Fatalf("first AddSource: %v", err)
	}
	_, err := s.AddSource("https://example.com/feed.xml", "feed", "b")
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("err = %v, want ErrDuplicate", err)
	}
	// Same URL under a different type is a different source.
	if _, err := s.AddSource("https://example.com/feed.xml", "file", "c"); err != nil {
		t.Errorf("same url, file type: %v", err)
	}
}

func TestMarkSourceFetched(t *testing.T) {
	s := openTest(t)
	id, _ := s.AddSource("https://example.com/feed.xml", "feed", "")

	for i := 0; i < 3; i++ {
		if err := s.MarkSourceFetched(id, false, "boom"); err != nil {
			t.Fatalf("MarkSourceFetched(false): %v", err)
		}
	}
	src, _ := s.GetSource(id)
	if src.ErrorCount != 3 || src.LastError != "boom" {
		t.Errorf("after failures: count=%d lastErr=%q", src.ErrorCount, src.LastError)
	}
	if src.LastFetchedAt != nil {
		t.Errorf("LastFetchedAt set before any success")
	}

	if err := s.MarkSourceFetched(id, true, ""); err != nil {
		t.Fatalf("MarkSourceFetched(true): %v", err)
	}
	src, _ = s.GetSource(id)
	if src.ErrorCount != 0 || src.LastError != "" {
		t.Errorf("success must clear counter and error: count=%d lastErr=%q", src.ErrorCount, src.LastError)
	}
	if src.LastFetchedAt == nil {
		t.Errorf("LastFetchedAt not set on success")
	}
}

func TestInsertItem_dedup(t *testing.T) {
	s := openTest(t)
	srcID, _ := s.AddSource("https://example.com/feed.xml", "feed", "")

	item := &content.Item{
		SourceID:   srcID,
		ExternalID: "entry-1",
		Title:      "hello",
		Priority:   content.PriorityLow,
	}
	if _, err := s.InsertItem(item); err != nil {
		t.Fatalf("InsertItem: %v", err)
	}
	if item.FetchedAt.IsZero() {
		t.Errorf("InsertItem must stamp FetchedAt")
	}

	ok, err := s.Exists(srcID, "entry-1")
	if err != nil || !ok {
		t.Errorf("Exists = %v, %v; want true", ok, err)
	}
	ok, _ = s.Exists(srcID, "entry-2")
	if ok {
		t.Errorf("Exists(entry-2) = true, want false")
	}

	dup := &content.Item{SourceID: srcID, ExternalID: "entry-1", Priority: content.PriorityLow}
	if _, err := s.InsertItem(dup); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate insert err = %v, want ErrDuplicate", err)
	}
}

func TestInit_idempotent(t *testing.T) {
	s := openTest(t)
	id, _ := s.AddSource("https://example.com/feed.xml", "feed", "")
	if err := s.Init(); err != nil {
		t.Fatalf("second Init: %v", err)
	}
	// Data survives a re-init.
	if _, err := s.GetSource(id); err != nil {
		t.Errorf("GetSource after re-init: %v", err)
	}
}

func TestPrune(t *testing.T) {
	s := openTest(t)
	srcID, _ := s.AddSource("https://example.com/feed.xml", "feed", "")

	keep := &content.Item{SourceID: srcID, ExternalID: "keep", Priority: content.PriorityHigh}
	drop := &content.Item{SourceID: srcID, ExternalID: "drop", Priority: content.PriorityNone}
	if _, err := s.InsertItem(keep); err != nil {
		t.Fatal(err)
	}
	dropID, err := s.InsertItem(drop)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.InsertVector(dropID, []float32{1, 2, 3}); err != nil {
		t.Fatal(err)
	}

	n, err := s.Prune(0)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("Prune = %d, want 1", n)
	}
	if ok, _ := s.Exists(srcID, "keep"); !ok {
		t.Errorf("high-priority item pruned")
	}
	if ok, _ := s.Exists(srcID, "drop"); ok {
		t.Errorf("none-priority item survived prune")
	}
	if _, err := s.GetVector(dropID); err == nil {
		t.Errorf("vector survived prune")
	}
}

func TestPrune_olderThan(t *testing.T) {
	s := openTest(t)
	srcID, _ := s.AddSource("https://example.com/feed.xml", "feed", "")
	fresh := &content.Item{SourceID: srcID, ExternalID: "fresh", Priority: content.PriorityNone}
	if _, err := s.InsertItem(fresh); err != nil {
		t.Fatal(err)
	}
	// A just-inserted item is newer than the cutoff: nothing to prune.
	n, err := s.Prune(24 * time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 0 {
		t.Errorf("Prune = %d, want 0", n)
	}
}

func TestSaveSourceCache(t *testing.T) {
	s := openTest(t)
	id, _ := s.AddSource("https://example.com/feed.xml", "feed", "")
	if err := s.SaveSourceCache(id, `W/"abc"`, "Tue, 25 Aug 2026 00:00:00 GMT"); err != nil {
		t.Fatalf("SaveSourceCache: %v", err)
	}
	src, _ := s.GetSource(id)
	if src.ETag != `W/"abc"` || src.LastModified == "" {
		t.Errorf("validators not persisted: %+v", src)
	}
}

func TestListSources_activeOnly(t *testing.T) {
	s := openTest(t)
	a, _ := s.AddSource("https://a.example/feed.xml", "feed", "a")
	b, _ := s.AddSource("https://b.example/feed.xml", "feed", "b")
	if err := s.SetSourceActive(b, false); err != nil {
		t.Fatalf("SetSourceActive: %v", err)
	}
	active, err := s.ListSources(true)
	if err != nil {
		t.Fatalf("ListSources: %v", err)
	}
	if len(active) != 1 || active[0].ID != a {
		t.Errorf("active = %+v, want only %s", active, a)
	}
	all, _ := s.ListSources(false)
	if len(all) != 2 {
		t.Errorf("all = %d sources, want 2", len(all))
	}
}
