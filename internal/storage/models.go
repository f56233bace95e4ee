package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Interaction statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Interaction is one durable record of a submitted analysis task: the query,
// the code the model produced, the execution outcome, and its score.
// Created once after execution finishes; only feedback fields mutate later.
type Interaction struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	UserQuery     string    `json:"user_query"`
	GeneratedCode string    `json:"generated_code"`
	// ResultJSON holds the execution result serialized as JSON, or "" when
	// execution produced no result (failure or unbound result variable).
	ResultJSON   string  `json:"result_json"`
	ErrorTrace   string  `json:"error_trace"`
	Status       string  `json:"status"`
	UserFeedback string  `json:"user_feedback"`
	SuccessScore float64 `json:"success_score"`
	// ContextUsed is the JSON array of context documents active at
	// generation time, in retrieval-rank order.
	ContextUsed string `json:"context_used"`
	VectorID    string `json:"vector_id"`
}

// ContextEntry is one knowledge snippet. Append-only: the system never
// updates or deletes entries it has inserted.
type ContextEntry struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	// Metadata is a JSON object of scalar values, used for description and
	// filtering only.
	Metadata  string    `json:"metadata"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
	VectorID  string    `json:"vector_id"`
}

// InteractionStats aggregates the learning metrics reported by the stats API.
type InteractionStats struct {
	Total        int
	Successful   int
	AverageScore float64
}
