package engine

import (
	"context"
	"fmt"
	"io"
)

// EnsureReady verifies the engine is reachable and that the required models
// are present locally, pulling any that are missing. Progress is written to
// w. An empty model name is skipped; that is how hosted codegen providers
// avoid pulling a local code model.
func EnsureReady(ctx context.Context, e Engine, codeModel, embedModel string, w io.Writer) error {
	if !e.IsRunning(ctx) {
		return fmt.Errorf("local inference engine is not running; start it before rada")
	}

	for _, model := range requiredModels(codeModel, embedModel) {
		if e.HasModel(ctx, model) {
			fmt.Fprintf(w, "model %s: ready\n", model)
			continue
		}
		if err := pullWithProgress(ctx, e, model, w); err != nil {
			return err
		}
	}
	return nil
}

func requiredModels(codeModel, embedModel string) []string {
	models := make([]string, 0, 2)
	if codeModel != "" {
		models = append(models, codeModel)
	}
	if embedModel != "" && embedModel != codeModel {
		models = append(models, embedModel)
	}
	return models
}

func pullWithProgress(ctx context.Context, e Engine, model string, w io.Writer) error {
	fmt.Fprintf(w, "model %s: pulling...\n", model)
	err := e.PullModel(ctx, model, func(p PullProgress) {
		if p.Total > 0 {
			fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, float64(p.Completed)/float64(p.Total)*100)
		} else {
			fmt.Fprintf(w, "  %s\n", p.Status)
		}
	})
	if err != nil {
		return fmt.Errorf("pulling model %s: %w", model, err)
	}
	fmt.Fprintf(w, "model %s: ready\n", model)
	return nil
}
