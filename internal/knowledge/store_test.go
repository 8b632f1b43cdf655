package knowledge

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"huginn/internal/browserpool"
	logx "huginn/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "knowledge.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAddDocumentDedup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ok, err := s.AddDocument(ctx, "the wifi password is hunter2", map[string]string{"kind": "note"})
	if err != nil || !ok {
		t.Fatalf("AddDocument = (%v, %v), want (true, nil)", ok, err)
	}
	// Identical content is skipped without error, even with different metadata.
	ok, err = s.AddDocument(ctx, "the wifi password is hunter2", map[string]string{"kind": "other"})
	if err != nil {
		t.Fatalf("AddDocument dup: %v", err)
	}
	if ok {
		t.Fatalf("duplicate content was stored")
	}
	if n, _ := s.Count(ctx); n != 1 {
		t.Fatalf("Count = %d, want 1", n)
	}
}

func TestAddDocumentRejectsEmpty(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.AddDocument(context.Background(), "   ", nil); err == nil {
		t.Fatalf("empty content accepted")
	}
}

func TestSearch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	docs := []string{
		"Go scheduler internals deep dive",
		"Rust borrow checker explained",
		"Go garbage collector tuning notes",
	}
	for i, d := range docs {
		tick := base.Add(time.Duration(i) * time.Minute)
		s.now = func() time.Time { return tick }
		if _, err := s.AddDocument(ctx, d, nil); err != nil {
			t.Fatalf("AddDocument: %v", err)
		}
	}

	got, err := s.Search(ctx, "Go", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Search returned %d docs, want 2", len(got))
	}
	// newest first
	if got[0].Content != docs[2] || got[1].Content != docs[0] {
		t.Fatalf("unexpected order: %q, %q", got[0].Content, got[1].Content)
	}

	// LIKE metacharacters in the query are literals, not wildcards.
	if got, err := s.Search(ctx, "100% effective", 10); err != nil || len(got) != 0 {
		t.Fatalf("wildcard query = (%d docs, %v), want (0, nil)", len(got), err)
	}
}

func TestSearchTopK(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		if _, err := s.AddDocument(ctx, "note number "+string(rune('a'+i)), nil); err != nil {
			t.Fatalf("AddDocument: %v", err)
		}
	}
	got, err := s.Search(ctx, "note", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Search returned %d docs, want 3", len(got))
	}
}

func TestAddSearchResults(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	results := []browserpool.SearchResult{
		{Title: "Go 1.25 released", URL: "https://go.dev/blog", Snippet: "the latest release"},
		{Title: "", URL: "https://empty.example", Snippet: ""},
		{Title: "Go 1.25 released", URL: "https://mirror.example", Snippet: "the latest release"},
	}
	added, err := s.AddSearchResults(ctx, "go release", results)
	if err != nil {
		t.Fatalf("AddSearchResults: %v", err)
	}
	// One real hit, one empty, one duplicate.
	if added != 1 {
		t.Fatalf("added = %d, want 1", added)
	}

	docs, err := s.Search(ctx, "1.25", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("Search returned %d docs, want 1", len(docs))
	}
	if docs[0].Meta["source_query"] != "go release" || docs[0].Meta["url"] != "https://go.dev/blog" {
		t.Fatalf("metadata not captured: %+v", docs[0].Meta)
	}
}
