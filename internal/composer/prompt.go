// Package composer assembles the adaptive code-generation prompt from the
// task text, retrieved knowledge snippets, and similar past interactions.
package composer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rada-agent/rada/internal/retrieval"
)

// patternScoreThreshold gates which past interactions qualify as successful
// patterns worth showing to the model. Strictly greater-than.
const patternScoreThreshold = 0.7

// codeExcerptLen caps how much of a past interaction's generated code is
// quoted in the prompt.
const codeExcerptLen = 200

const preamble = `You are a data analysis assistant. You write Go code that runs in a
restricted interpreter with these helper functions available:

- ScrapeTable(url string) ([]map[string]string, error): fetch a web page and
  parse its first HTML table into row maps keyed by column header.
- RunQuery(query string, files ...string) ([]map[string]any, error): run a SQL
  query against an in-memory database, optionally attaching SQLite files first.
- RenderPNG(f *Figure) (string, error): render a figure to a base64-encoded
  PNG data URI.

The standard math, sort and strings packages are also available.`

const resultInstruction = `Bind the final answer to a variable named result.
Return only code, no explanations and no markdown fences.`

// Composer builds prompts for the code-generation engine.
type Composer struct{}

// New creates a Composer.
func New() *Composer {
	return &Composer{}
}

// Build assembles the full prompt. Sections appear in a fixed order: helper
// preamble, retrieved context, successful past patterns, the task itself, and
// the result-binding instruction. Context documents and interactions are
// rendered in the rank order they were retrieved in.
func (c *Composer) Build(query string, contextDocs []string, interactions []retrieval.InteractionDoc) string {
	var sb strings.Builder

	sb.WriteString(preamble)
	sb.WriteString("\n")

	if len(contextDocs) > 0 {
		sb.WriteString("\nRelevant knowledge:\n")
		for _, doc := range contextDocs {
			sb.WriteString("- ")
			sb.WriteString(doc)
			sb.WriteString("\n")
		}
	}

	patterns := qualifyingPatterns(interactions)
	if len(patterns) > 0 {
		sb.WriteString("\nSuccessful patterns from past tasks:\n")
		for _, p := range patterns {
			fmt.Fprintf(&sb, "Task: %s\nCode:\n%s\n\n", p.UserQuery, excerpt(p.GeneratedCode, codeExcerptLen))
		}
	}

	sb.WriteString("\nTask: ")
	sb.WriteString(query)
	sb.WriteString("\n\n")
	sb.WriteString(resultInstruction)

	return sb.String()
}

// qualifyingPatterns filters interactions to those scoring strictly above the
// pattern threshold, preserving order.
func qualifyingPatterns(interactions []retrieval.InteractionDoc) []retrieval.InteractionDoc {
	var out []retrieval.InteractionDoc
	for _, doc := range interactions {
		if doc.SuccessScore > patternScoreThreshold {
			out = append(out, doc)
		}
	}
	return out
}

// excerpt returns the first limit characters of code, never splitting a rune.
func excerpt(code string, limit int) string {
	if utf8.RuneCountInString(code) <= limit {
		return code
	}
	return string([]rune(code)[:limit])
}
