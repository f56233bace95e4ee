package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rada-agent/rada/internal/engine"
	"github.com/rada-agent/rada/internal/retrieval"
	"github.com/rada-agent/rada/internal/sandbox"
	"github.com/rada-agent/rada/internal/storage"
)

// stubEngine produces deterministic embeddings so similarity search has
// something to rank. Chat is unused; generation goes through stubGenerator.
type stubEngine struct{}

func (stubEngine) Chat(ctx context.Context, model string, messages []engine.Message) (string, error) {
	return "", errors.New("not used")
}
func (stubEngine) Embed(ctx context.Context, model, text string) ([]float32, error) {
	vec := make([]float32, 8)
	for i, r := range text {
		vec[i%8] += float32(r) / 100
	}
	return vec, nil
}
func (stubEngine) IsRunning(ctx context.Context) bool               { return true }
func (stubEngine) ListModels(ctx context.Context) ([]string, error) { return nil, nil }
func (stubEngine) HasModel(ctx context.Context, name string) bool   { return true }
func (stubEngine) PullModel(ctx context.Context, name string, onProgress func(engine.PullProgress)) error {
	return nil
}

// stubGenerator returns canned code and records the prompt it was given.
type stubGenerator struct {
	code   string
	err    error
	prompt string
}

func (g *stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.prompt = prompt
	return g.code, g.err
}

func newTestAgent(t *testing.T, gen engine.Generator) *Agent {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	vectors := retrieval.NewSQLiteStore(store.DB())
	embedder := retrieval.NewEmbedder(stubEngine{}, "test-embed")
	executor := sandbox.New(10 * time.Second)

	return New(store, vectors, embedder, gen, executor, Options{
		ContextTopK:      3,
		InteractionTopK:  2,
		SuccessThreshold: 0.7,
	})
}

func TestAnalyzeEndToEnd(t *testing.T) {
	gen := &stubGenerator{code: "sum := 0\nfor i := 1; i <= 10; i++ { sum += i }\nresult := sum"}
	a := newTestAgent(t, gen)
	ctx := context.Background()

	res, err := a.Analyze(ctx, "Calculate the sum of numbers from 1 to 10")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Result != 55 {
		t.Errorf("result = %v, want 55", res.Result)
	}
	if res.SuccessScore < 0.8 {
		t.Errorf("score = %v, want >= 0.8", res.SuccessScore)
	}
	if res.InteractionID == "" {
		t.Error("missing interaction ID")
	}
	if !strings.Contains(gen.prompt, "Calculate the sum of numbers from 1 to 10") {
		t.Error("prompt missing task text")
	}

	// The interaction must be durable and retrievable via similarity search.
	stored, err := a.GetInteraction(res.InteractionID)
	if err != nil {
		t.Fatalf("GetInteraction: %v", err)
	}
	if stored.Status != storage.StatusCompleted {
		t.Errorf("status = %q, want completed", stored.Status)
	}
	if stored.ResultJSON != "55" {
		t.Errorf("result_json = %q, want 55", stored.ResultJSON)
	}

	similar := retrieval.NewRetriever(retrieval.NewEmbedder(stubEngine{}, "test-embed"),
		retrieval.NewSQLiteStore(a.store.DB())).SimilarInteractions(ctx, "sum numbers", 5)
	found := false
	for _, doc := range similar {
		if doc.ID == res.InteractionID {
			found = true
		}
	}
	if !found {
		t.Error("interaction not retrievable via similarity search")
	}
}

func TestAnalyzeTriggersLearning(t *testing.T) {
	gen := &stubGenerator{code: "result := []int{1, 2, 3}"}
	a := newTestAgent(t, gen)
	ctx := context.Background()

	res, err := a.Analyze(ctx, "list three numbers")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.SuccessScore != 1.0 {
		t.Fatalf("score = %v, want 1.0", res.SuccessScore)
	}

	// Exactly one learned pattern, carrying the original query in metadata.
	records, err := a.vectors.ExportAll(retrieval.ContextTable)
	if err != nil {
		t.Fatal(err)
	}
	var patterns []retrieval.Record
	for _, r := range records {
		var meta map[string]any
		if err := json.Unmarshal([]byte(r.Metadata), &meta); err != nil {
			continue
		}
		if meta["type"] == "learned_pattern" {
			patterns = append(patterns, r)
			if meta["original_query"] != "list three numbers" {
				t.Errorf("original_query = %v", meta["original_query"])
			}
		}
	}
	if len(patterns) != 1 {
		t.Errorf("got %d learned patterns, want 1", len(patterns))
	}
}

func TestAnalyzeLowScoreNoLearning(t *testing.T) {
	// A scalar result scores 0.8, above threshold. An unbound result scores
	// 0.5 and must not learn.
	gen := &stubGenerator{code: "x := 1\n_ = x"}
	a := newTestAgent(t, gen)

	res, err := a.Analyze(context.Background(), "do nothing useful")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.SuccessScore != 0.5 {
		t.Errorf("score = %v, want 0.5", res.SuccessScore)
	}

	count, err := a.vectors.Count(retrieval.ContextTable)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("context entries = %d, want 0 (no learning below threshold)", count)
	}
}

func TestAnalyzeExecutionFailure(t *testing.T) {
	gen := &stubGenerator{code: "var xs []int\nresult := xs[9]"}
	a := newTestAgent(t, gen)

	_, err := a.Analyze(context.Background(), "break things")
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("err = %v, want *ExecutionError", err)
	}
	if execErr.Trace == "" || execErr.GeneratedCode == "" {
		t.Error("execution error missing trace or code")
	}

	// Failure is still recorded, at score zero.
	stored, err := a.GetInteraction(execErr.InteractionID)
	if err != nil {
		t.Fatalf("GetInteraction: %v", err)
	}
	if stored.Status != storage.StatusFailed {
		t.Errorf("status = %q, want failed", stored.Status)
	}
	if stored.SuccessScore != 0 {
		t.Errorf("score = %v, want 0", stored.SuccessScore)
	}
}

func TestAnalyzeGenerationFailure(t *testing.T) {
	gen := &stubGenerator{err: errors.New("model unavailable")}
	a := newTestAgent(t, gen)

	if _, err := a.Analyze(context.Background(), "anything"); err == nil {
		t.Fatal("expected generation error to propagate")
	}
}

func TestSubmitFeedback(t *testing.T) {
	gen := &stubGenerator{code: "result := 42"}
	a := newTestAgent(t, gen)
	ctx := context.Background()

	res, err := a.Analyze(ctx, "the answer")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	score, err := a.SubmitFeedback(ctx, res.InteractionID, "This was great!", nil)
	if err != nil {
		t.Fatalf("SubmitFeedback: %v", err)
	}
	if score != 1.0 {
		t.Errorf("score = %v, want 1.0 (0.8 + positive feedback, clamped)", score)
	}

	stored, _ := a.GetInteraction(res.InteractionID)
	if stored.UserFeedback != "This was great!" {
		t.Errorf("feedback = %q", stored.UserFeedback)
	}
	if stored.SuccessScore != 1.0 {
		t.Errorf("stored score = %v, want 1.0", stored.SuccessScore)
	}
}

func TestSubmitFeedbackOverride(t *testing.T) {
	gen := &stubGenerator{code: "result := 42"}
	a := newTestAgent(t, gen)
	ctx := context.Background()

	res, err := a.Analyze(ctx, "q")
	if err != nil {
		t.Fatal(err)
	}

	override := 2.5 // out of range, must clamp
	score, err := a.SubmitFeedback(ctx, res.InteractionID, "custom", &override)
	if err != nil {
		t.Fatalf("SubmitFeedback: %v", err)
	}
	if score != 1.0 {
		t.Errorf("score = %v, want clamped 1.0", score)
	}
}

func TestSubmitFeedbackNotFound(t *testing.T) {
	a := newTestAgent(t, &stubGenerator{})
	_, err := a.SubmitFeedback(context.Background(), "no-such-id", "hi", nil)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAddContextAndStats(t *testing.T) {
	gen := &stubGenerator{code: "result := map[string]int{\"n\": 1}"}
	a := newTestAgent(t, gen)
	ctx := context.Background()

	id, err := a.AddContext(ctx, "useful fact", map[string]any{"topic": "testing"})
	if err != nil {
		t.Fatalf("AddContext: %v", err)
	}
	if id == "" {
		t.Fatal("empty entry ID")
	}

	if _, err := a.Analyze(ctx, "count things"); err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	stats, err := a.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalInteractions != 1 {
		t.Errorf("total = %d, want 1", stats.TotalInteractions)
	}
	if stats.SuccessfulInteractions != 1 {
		t.Errorf("successful = %d, want 1 (score 1.0 > 0.7)", stats.SuccessfulInteractions)
	}
	if stats.SuccessRate != 1.0 {
		t.Errorf("success rate = %v, want 1.0", stats.SuccessRate)
	}
	// The manual entry plus one learned pattern.
	if stats.ContextCount != 2 {
		t.Errorf("context count = %d, want 2", stats.ContextCount)
	}
}

func TestBootstrap(t *testing.T) {
	a := newTestAgent(t, &stubGenerator{})
	ctx := context.Background()

	if err := a.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	count, err := a.vectors.Count(retrieval.ContextTable)
	if err != nil {
		t.Fatal(err)
	}
	if count != len(defaultEntries) {
		t.Fatalf("count = %d, want %d", count, len(defaultEntries))
	}

	// Second run is a no-op against a populated collection.
	if err := a.Bootstrap(ctx); err != nil {
		t.Fatalf("second Bootstrap: %v", err)
	}
	count, _ = a.vectors.Count(retrieval.ContextTable)
	if count != len(defaultEntries) {
		t.Errorf("count after rerun = %d, want %d", count, len(defaultEntries))
	}
}

func TestBootstrapSkipsNonEmpty(t *testing.T) {
	a := newTestAgent(t, &stubGenerator{})
	ctx := context.Background()

	if _, err := a.AddContext(ctx, "pre-existing entry", nil); err != nil {
		t.Fatal(err)
	}
	if err := a.Bootstrap(ctx); err != nil {
		t.Fatal(err)
	}
	count, _ := a.vectors.Count(retrieval.ContextTable)
	if count != 1 {
		t.Errorf("count = %d, want 1 (bootstrap must skip non-empty collection)", count)
	}
}
