// Package api exposes the analysis agent over HTTP and MCP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/rada-agent/rada/internal/agent"
	"github.com/rada-agent/rada/internal/engine"
	"github.com/rada-agent/rada/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps holds everything the HTTP layer needs.
type Deps struct {
	Agent  *agent.Agent
	Engine engine.Engine // optional; health reports engine reachability when set
	Token  string
}

// NewHandler builds the full HTTP API. /health stays open; everything under
// /api requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))

	r.Route("/api", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Post("/analyze", handleAnalyze(deps))
		r.Post("/feedback", handleFeedback(deps))
		r.Post("/context", handleAddContext(deps))
		r.Get("/stats", handleStats(deps))
		r.Get("/interactions", handleListInteractions(deps))
		r.Get("/interactions/{id}", handleGetInteraction(deps))
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"status": "ok"}
		if deps.Engine != nil {
			if deps.Engine.IsRunning(r.Context()) {
				status["engine"] = "running"
			} else {
				status["engine"] = "unreachable"
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	}
}

type analyzeRequest struct {
	Query string `json:"query"`
}

type analyzeResponse struct {
	InteractionID string   `json:"interaction_id"`
	Result        any      `json:"result"`
	GeneratedCode string   `json:"generated_code"`
	ContextUsed   []string `json:"context_used"`
	SuccessScore  float64  `json:"success_score"`
}

func handleAnalyze(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req analyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}

		res, err := deps.Agent.Analyze(r.Context(), req.Query)
		if err != nil {
			var execErr *agent.ExecutionError
			if errors.As(err, &execErr) {
				// Execution failures carry the trace and the offending code
				// back to the caller for debuggability.
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnprocessableEntity)
				json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{
						"message":        "generated code failed to execute",
						"type":           "execution_error",
						"trace":          execErr.Trace,
						"generated_code": execErr.GeneratedCode,
						"interaction_id": execErr.InteractionID,
					},
				})
				return
			}
			httpError(w, http.StatusBadGateway, "api_error", "analysis failed: %v", err)
			return
		}

		ctxUsed := res.ContextUsed
		if ctxUsed == nil {
			ctxUsed = []string{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(analyzeResponse{
			InteractionID: res.InteractionID,
			Result:        res.Result,
			GeneratedCode: res.GeneratedCode,
			ContextUsed:   ctxUsed,
			SuccessScore:  res.SuccessScore,
		})
	}
}

type feedbackRequest struct {
	InteractionID string   `json:"interaction_id"`
	Feedback      string   `json:"feedback"`
	SuccessScore  *float64 `json:"success_score,omitempty"`
}

func handleFeedback(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req feedbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.InteractionID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "interaction_id is required")
			return
		}

		score, err := deps.Agent.SubmitFeedback(r.Context(), req.InteractionID, req.Feedback, req.SuccessScore)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "interaction not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to record feedback: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":        "ok",
			"success_score": score,
		})
	}
}

type contextRequest struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

func handleAddContext(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req contextRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}

		id, err := deps.Agent.AddContext(r.Context(), req.Content, req.Metadata)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to add context: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status": "ok",
			"id":     id,
		})
	}
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Agent.Stats(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to compute stats: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	}
}

func handleListInteractions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		interactions, err := deps.Agent.ListInteractions(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list interactions: %v", err)
			return
		}
		if interactions == nil {
			interactions = []storage.Interaction{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(interactions)
	}
}

func handleGetInteraction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		interaction, err := deps.Agent.GetInteraction(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "interaction not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get interaction: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(interaction)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
