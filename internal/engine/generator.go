package engine

import "context"

// Generator produces executable code from a fully assembled prompt. The
// local engine and the cloud client both satisfy it, so the analysis
// pipeline does not care which provider is configured.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ChatGenerator adapts an Engine's chat endpoint into a Generator.
type ChatGenerator struct {
	engine Engine
	model  string
}

// NewChatGenerator creates a Generator backed by the given Engine and model.
func NewChatGenerator(e Engine, model string) *ChatGenerator {
	return &ChatGenerator{engine: e, model: model}
}

func (g *ChatGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return g.engine.Chat(ctx, g.model, []Message{{Role: "user", Content: prompt}})
}
