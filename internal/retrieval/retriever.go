package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// interactionDocVersion is the current schema of serialized interaction
// documents stored in the interaction vector table.
const interactionDocVersion = 1

// InteractionDoc is the versioned serialized form of an interaction as stored
// in the interaction vector table. Documents with an unknown schema version
// are skipped during retrieval, never reconstructed blindly.
type InteractionDoc struct {
	SchemaVersion int       `json:"schema_version"`
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	UserQuery     string    `json:"user_query"`
	GeneratedCode string    `json:"generated_code"`
	SuccessScore  float64   `json:"success_score"`
}

// EncodeInteractionDoc serializes an interaction document at the current
// schema version.
func EncodeInteractionDoc(doc InteractionDoc) (string, error) {
	doc.SchemaVersion = interactionDocVersion
	b, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encoding interaction document: %w", err)
	}
	return string(b), nil
}

// DecodeInteractionDoc parses a serialized interaction document, rejecting
// unknown schema versions.
func DecodeInteractionDoc(data string) (InteractionDoc, error) {
	var doc InteractionDoc
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return InteractionDoc{}, fmt.Errorf("parsing interaction document: %w", err)
	}
	if doc.SchemaVersion != interactionDocVersion {
		return InteractionDoc{}, fmt.Errorf("unsupported interaction document version %d", doc.SchemaVersion)
	}
	return doc, nil
}

// Retriever combines embedding and vector search to find relevant context
// and similar past interactions.
type Retriever struct {
	embedder *Embedder
	store    VectorStore
	logger   *slog.Logger
}

// NewRetriever creates a Retriever backed by the given Embedder and VectorStore.
func NewRetriever(embedder *Embedder, store VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: store, logger: slog.Default()}
}

// RetrieveContext embeds the query and returns up to topK context documents
// ranked by similarity. Retrieval failures degrade to an empty result: the
// knowledge base being unavailable must never block the analysis pipeline.
func (r *Retriever) RetrieveContext(ctx context.Context, query string, topK int) []string {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.logger.Error("context retrieval: embedding failed", "error", err)
		return nil
	}

	scored, err := r.store.Search(ContextTable, vec, topK)
	if err != nil {
		r.logger.Error("context retrieval: search failed", "error", err)
		return nil
	}

	docs := make([]string, 0, len(scored))
	for _, s := range scored {
		docs = append(docs, s.Document)
	}
	return docs
}

// SimilarInteractions embeds the query and returns up to topK past
// interactions ranked by similarity. Records that fail to deserialize are
// skipped and logged; retrieval failures degrade to an empty result.
func (r *Retriever) SimilarInteractions(ctx context.Context, query string, topK int) []InteractionDoc {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.logger.Error("interaction retrieval: embedding failed", "error", err)
		return nil
	}

	scored, err := r.store.Search(InteractionTable, vec, topK)
	if err != nil {
		r.logger.Error("interaction retrieval: search failed", "error", err)
		return nil
	}

	docs := make([]InteractionDoc, 0, len(scored))
	for _, s := range scored {
		doc, err := DecodeInteractionDoc(s.Document)
		if err != nil {
			r.logger.Warn("skipping malformed interaction record", "id", s.ID, "error", err)
			continue
		}
		docs = append(docs, doc)
	}
	return docs
}
