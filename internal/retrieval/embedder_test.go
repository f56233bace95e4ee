package retrieval

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rada-agent/rada/internal/engine"
)

// countingEngine records how many Embed calls it served.
type countingEngine struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingEngine) Chat(ctx context.Context, model string, messages []engine.Message) (string, error) {
	return "", nil
}
func (c *countingEngine) Embed(ctx context.Context, model, text string) ([]float32, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return []float32{float32(len(text))}, nil
}
func (c *countingEngine) IsRunning(ctx context.Context) bool               { return true }
func (c *countingEngine) ListModels(ctx context.Context) ([]string, error) { return nil, nil }
func (c *countingEngine) HasModel(ctx context.Context, name string) bool   { return true }
func (c *countingEngine) PullModel(ctx context.Context, name string, onProgress func(engine.PullProgress)) error {
	return nil
}

func TestEmbedBatch(t *testing.T) {
	eng := &countingEngine{}
	e := NewEmbedder(eng, "test-embed")

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vecs), len(texts))
	}
	// Results must land at the index of their input text despite concurrency.
	for i, text := range texts {
		if vecs[i][0] != float32(len(text)) {
			t.Errorf("vecs[%d] = %v, want [%d]", i, vecs[i], len(text))
		}
	}
	if eng.calls != len(texts) {
		t.Errorf("engine served %d calls, want %d", eng.calls, len(texts))
	}
}

func TestEmbedBatchEmpty(t *testing.T) {
	e := NewEmbedder(&countingEngine{}, "test-embed")
	vecs, err := e.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch(nil): %v", err)
	}
	if vecs != nil {
		t.Errorf("got %v, want nil for empty input", vecs)
	}
}

func TestEmbedBatchPropagatesError(t *testing.T) {
	eng := &countingEngine{err: errors.New("model missing")}
	e := NewEmbedder(eng, "test-embed")
	if _, err := e.EmbedBatch(context.Background(), []string{"a", "b"}); err == nil {
		t.Error("expected error when engine fails")
	}
}
