//go:build integration

package embedder

import (
	"context"
	"math"
	"os"
	"testing"
	"time"
)

// TestOllamaEmbedder_Integration embeds course material against a running
// Ollama and checks that a student question lands nearest the passage that
// answers it.
//
//	ollama pull nomic-embed-text
//	go test -tags=integration -run TestOllamaEmbedder_Integration ./internal/embedder/
//
// OLLAMA_HOST and EMBEDDING_MODEL override the defaults.
func TestOllamaEmbedder_Integration(t *testing.T) {
	cfg := Config{
		Provider: "ollama",
		Endpoint: os.Getenv("OLLAMA_HOST"),
		Model:    os.Getenv("EMBEDDING_MODEL"),
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	backend, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	client := NewClient(backend, ClientOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	passages := []string{
		"The final exam covers chapters one through six and is open book.",
		"Lab reports are due every Friday before midnight via the course portal.",
	}
	results := client.EmbedEach(ctx, passages)
	for _, r := range results {
		if !r.Embedded() {
			t.Fatalf("passage %d: %v (is %q pulled?)", r.Index, r.Err, cfg.Model)
		}
	}

	q, err := client.EmbedOne(ctx, "When are lab reports due?")
	if err != nil {
		t.Fatalf("EmbedOne: %v", err)
	}
	if len(q) != len(results[0].Vector) {
		t.Fatalf("query dim %d, passage dim %d", len(q), len(results[0].Vector))
	}

	exam, lab := cosine(q, results[0].Vector), cosine(q, results[1].Vector)
	t.Logf("model=%s dim=%d exam=%.3f lab=%.3f", cfg.Model, len(q), exam, lab)
	if lab <= exam {
		t.Errorf("lab passage scored %.3f, exam passage %.3f; want the lab passage first", lab, exam)
	}
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
