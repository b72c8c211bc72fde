package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prismis/prismisd/internal/content"
)

func embeddingServer(t *testing.T) (*httptest.Server, *string) {
	t.Helper()
	var lastInput string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Input) > 0 {
			lastInput = req.Input[0]
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{0.1, 0.2, 0.3}, "index": 0}},
		})
	}))
	return srv, &lastInput
}

func TestEmbedAnalysis(t *testing.T) {
	srv, lastInput := embeddingServer(t)
	defer srv.Close()

	c := testClient(t, srv)
	vec, err := c.EmbedAnalysis(context.Background(), &content.Analysis{
		Summary:        "short",
		ReadingSummary: "the long condensed read",
	})
	if err != nil {
		t.Fatalf("EmbedAnalysis: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("vec = %v", vec)
	}
	// Reading summary is the preferred embedding text.
	if *lastInput != "the long condensed read" {
		t.Errorf("embedded %q, want reading summary", *lastInput)
	}
}

func TestEmbedAnalysis_summaryFallback(t *testing.T) {
	srv, lastInput := embeddingServer(t)
	defer srv.Close()

	c := testClient(t, srv)
	if _, err := c.EmbedAnalysis(context.Background(), &content.Analysis{Summary: "only short"}); err != nil {
		t.Fatal(err)
	}
	if *lastInput != "only short" {
		t.Errorf("embedded %q, want summary fallback", *lastInput)
	}
}
