// Package agent orchestrates the analysis pipeline: retrieve context, build
// a prompt, generate code, execute it in the sandbox, score the outcome,
// persist the interaction, and feed high-scoring results back into the
// knowledge base.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rada-agent/rada/internal/composer"
	"github.com/rada-agent/rada/internal/engine"
	"github.com/rada-agent/rada/internal/retrieval"
	"github.com/rada-agent/rada/internal/sandbox"
	"github.com/rada-agent/rada/internal/scoring"
	"github.com/rada-agent/rada/internal/storage"
)

// Options are the tunables the agent needs from configuration.
type Options struct {
	ContextTopK      int
	InteractionTopK  int
	SuccessThreshold float64
}

// Agent runs analysis tasks end to end and owns the learning loop.
type Agent struct {
	store     *storage.Store
	vectors   retrieval.VectorStore
	embedder  *retrieval.Embedder
	retriever *retrieval.Retriever
	composer  *composer.Composer
	generator engine.Generator
	executor  *sandbox.Executor
	opts      Options
	logger    *slog.Logger
}

// New wires an Agent from its collaborators.
func New(store *storage.Store, vectors retrieval.VectorStore, embedder *retrieval.Embedder, generator engine.Generator, executor *sandbox.Executor, opts Options) *Agent {
	return &Agent{
		store:     store,
		vectors:   vectors,
		embedder:  embedder,
		retriever: retrieval.NewRetriever(embedder, vectors),
		composer:  composer.New(),
		generator: generator,
		executor:  executor,
		opts:      opts,
		logger:    slog.Default(),
	}
}

// AnalyzeResult is the successful outcome of one analysis task.
type AnalyzeResult struct {
	InteractionID string
	Result        any
	GeneratedCode string
	ContextUsed   []string
	SuccessScore  float64
}

// ExecutionError reports that generated code failed in the sandbox. The
// trace and the offending code are kept for debuggability; the interaction
// is already recorded with a zero score by the time this is returned.
type ExecutionError struct {
	InteractionID string
	GeneratedCode string
	Trace         string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed: %s", e.Trace)
}

// Analyze runs one task through the full pipeline. Retrieval failures
// degrade to an empty prompt context; generation failures propagate;
// execution failures come back as *ExecutionError with the interaction
// already persisted at score zero.
func (a *Agent) Analyze(ctx context.Context, query string) (AnalyzeResult, error) {
	contextDocs := a.retriever.RetrieveContext(ctx, query, a.opts.ContextTopK)
	similar := a.retriever.SimilarInteractions(ctx, query, a.opts.InteractionTopK)

	prompt := a.composer.Build(query, contextDocs, similar)

	code, err := a.generator.Generate(ctx, prompt)
	if err != nil {
		return AnalyzeResult{}, fmt.Errorf("generating code: %w", err)
	}

	result, execErr := a.executor.Run(ctx, code)

	interaction := storage.Interaction{
		ID:            uuid.NewString(),
		CreatedAt:     time.Now().UTC(),
		UserQuery:     query,
		GeneratedCode: code,
		ContextUsed:   marshalContextUsed(contextDocs),
	}

	if execErr != nil {
		interaction.Status = storage.StatusFailed
		interaction.ErrorTrace = execErr.Error()
		interaction.SuccessScore = 0
		a.persistInteraction(ctx, interaction)
		return AnalyzeResult{}, &ExecutionError{
			InteractionID: interaction.ID,
			GeneratedCode: code,
			Trace:         execErr.Error(),
		}
	}

	score := scoring.Score(result, "")
	interaction.Status = storage.StatusCompleted
	interaction.SuccessScore = score
	if result != nil {
		if b, err := json.Marshal(result); err == nil {
			interaction.ResultJSON = string(b)
		} else {
			a.logger.Warn("result not serializable", "interaction", interaction.ID, "error", err)
		}
	}

	a.persistInteraction(ctx, interaction)

	if score > a.opts.SuccessThreshold {
		a.learn(ctx, interaction)
	}

	return AnalyzeResult{
		InteractionID: interaction.ID,
		Result:        result,
		GeneratedCode: code,
		ContextUsed:   contextDocs,
		SuccessScore:  score,
	}, nil
}

// SubmitFeedback records feedback text against an interaction and re-scores
// it. A non-nil scoreOverride wins over the recomputed heuristic. Raising
// the score past the learning threshold fires the learning loop again; a
// duplicate learned pattern from an interaction that already qualified at
// creation is accepted.
func (a *Agent) SubmitFeedback(ctx context.Context, interactionID, feedback string, scoreOverride *float64) (float64, error) {
	interaction, err := a.store.GetInteraction(interactionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, storage.ErrNotFound
		}
		return 0, fmt.Errorf("loading interaction: %w", err)
	}

	var score float64
	if scoreOverride != nil {
		score = clamp(*scoreOverride)
	} else {
		var result any
		if interaction.ResultJSON != "" {
			if err := json.Unmarshal([]byte(interaction.ResultJSON), &result); err != nil {
				a.logger.Warn("stored result not parseable, scoring as absent", "interaction", interactionID, "error", err)
			}
		}
		score = scoring.Score(result, feedback)
	}

	if err := a.store.UpdateFeedback(interactionID, feedback, score); err != nil {
		return 0, fmt.Errorf("updating feedback: %w", err)
	}

	if score > a.opts.SuccessThreshold {
		interaction.SuccessScore = score
		a.learn(ctx, interaction)
	}

	return score, nil
}

// AddContext inserts a knowledge snippet into the context collection and its
// vector table. Returns the new entry's ID.
func (a *Agent) AddContext(ctx context.Context, content string, metadata map[string]any) (string, error) {
	return a.addContextEntry(ctx, content, metadata, "user")
}

func (a *Agent) addContextEntry(ctx context.Context, content string, metadata map[string]any, source string) (string, error) {
	if content == "" {
		return "", errors.New("empty content")
	}

	metaJSON := "{}"
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return "", fmt.Errorf("marshaling metadata: %w", err)
		}
		metaJSON = string(b)
	}

	vec, err := a.embedder.Embed(ctx, content)
	if err != nil {
		return "", fmt.Errorf("embedding content: %w", err)
	}

	entryID := uuid.NewString()
	vectorID := uuid.NewString()
	now := time.Now().UTC()

	if err := a.vectors.Insert(retrieval.ContextTable, []retrieval.Record{{
		ID:         vectorID,
		SourceID:   entryID,
		SourceType: "context",
		Document:   content,
		Metadata:   metaJSON,
		Embedding:  vec,
		CreatedAt:  now,
	}}); err != nil {
		return "", fmt.Errorf("inserting vector: %w", err)
	}

	if err := a.store.SaveContextEntry(storage.ContextEntry{
		ID:        entryID,
		Content:   content,
		Metadata:  metaJSON,
		Source:    source,
		CreatedAt: now,
		VectorID:  vectorID,
	}); err != nil {
		return "", fmt.Errorf("saving context entry: %w", err)
	}

	return entryID, nil
}

// Stats summarizes the interaction log and knowledge base.
type Stats struct {
	TotalInteractions      int     `json:"total_interactions"`
	SuccessfulInteractions int     `json:"successful_interactions"`
	SuccessRate            float64 `json:"success_rate"`
	AverageSuccessScore    float64 `json:"average_success_score"`
	ContextCount           int     `json:"context_count"`
}

// Stats aggregates counters for the stats endpoint. Successful means score
// strictly above the learning threshold.
func (a *Agent) Stats(ctx context.Context) (Stats, error) {
	st, err := a.store.InteractionStats(a.opts.SuccessThreshold)
	if err != nil {
		return Stats{}, err
	}

	contextCount, err := a.vectors.Count(retrieval.ContextTable)
	if err != nil {
		return Stats{}, fmt.Errorf("counting context entries: %w", err)
	}

	out := Stats{
		TotalInteractions:      st.Total,
		SuccessfulInteractions: st.Successful,
		AverageSuccessScore:    st.AverageScore,
		ContextCount:           contextCount,
	}
	if st.Total > 0 {
		out.SuccessRate = float64(st.Successful) / float64(st.Total)
	}
	return out, nil
}

// ListInteractions exposes recent interactions for inspection.
func (a *Agent) ListInteractions(limit, offset int) ([]storage.Interaction, error) {
	return a.store.ListInteractions(limit, offset)
}

// GetInteraction looks up one interaction by ID.
func (a *Agent) GetInteraction(id string) (storage.Interaction, error) {
	return a.store.GetInteraction(id)
}

// persistInteraction writes the interaction record and its vector document.
// Persistence failures are logged and swallowed: the caller still gets the
// in-memory result.
func (a *Agent) persistInteraction(ctx context.Context, interaction storage.Interaction) {
	vectorID := uuid.NewString()
	interaction.VectorID = vectorID

	if err := a.store.SaveInteraction(interaction); err != nil {
		a.logger.Error("persisting interaction failed", "interaction", interaction.ID, "error", err)
		return
	}

	doc, err := retrieval.EncodeInteractionDoc(retrieval.InteractionDoc{
		ID:            interaction.ID,
		CreatedAt:     interaction.CreatedAt,
		UserQuery:     interaction.UserQuery,
		GeneratedCode: interaction.GeneratedCode,
		SuccessScore:  interaction.SuccessScore,
	})
	if err != nil {
		a.logger.Error("encoding interaction document failed", "interaction", interaction.ID, "error", err)
		return
	}

	vec, err := a.embedder.Embed(ctx, interaction.UserQuery)
	if err != nil {
		a.logger.Error("embedding interaction failed", "interaction", interaction.ID, "error", err)
		return
	}

	if err := a.vectors.Insert(retrieval.InteractionTable, []retrieval.Record{{
		ID:         vectorID,
		SourceID:   interaction.ID,
		SourceType: "interaction",
		Document:   doc,
		Embedding:  vec,
		CreatedAt:  interaction.CreatedAt,
	}}); err != nil {
		a.logger.Error("indexing interaction failed", "interaction", interaction.ID, "error", err)
	}
}

// learn synthesizes a learned-pattern context entry from a high-scoring
// interaction. Failures are logged and swallowed: learning never blocks the
// response.
func (a *Agent) learn(ctx context.Context, interaction storage.Interaction) {
	content := fmt.Sprintf("Task: %s\nSolution:\n%s", interaction.UserQuery, interaction.GeneratedCode)
	metadata := map[string]any{
		"type":           "learned_pattern",
		"success_score":  interaction.SuccessScore,
		"original_query": interaction.UserQuery,
	}

	if _, err := a.addContextEntry(ctx, content, metadata, "learning"); err != nil {
		a.logger.Error("learning step failed", "interaction", interaction.ID, "error", err)
		return
	}
	a.logger.Info("learned new pattern", "interaction", interaction.ID, "score", interaction.SuccessScore)
}

func marshalContextUsed(docs []string) string {
	if len(docs) == 0 {
		return "[]"
	}
	b, err := json.Marshal(docs)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
