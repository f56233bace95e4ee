package agent

import (
	"context"
	"fmt"

	"github.com/rada-agent/rada/internal/retrieval"
)

// defaultEntries seed an empty knowledge base with one snippet per helper
// capability plus general analysis guidance.
var defaultEntries = []struct {
	content  string
	category string
}{
	{
		content:  "To extract tabular data from a web page, call ScrapeTable(url). It returns the first HTML table as a slice of row maps keyed by column header. Convert cell strings to numbers before doing arithmetic.",
		category: "scraping",
	},
	{
		content:  "To run SQL, call RunQuery(query, files...). Files are attached as db1, db2, ... so tables can be addressed as db1.tablename. Aggregations like AVG, SUM and GROUP BY run inside the database, which is usually simpler than looping in code.",
		category: "sql",
	},
	{
		content:  "To produce a chart, build a figure with NewFigure(), add series with AddLine(name, xs, ys) or AddBars(name, values), then call RenderPNG(f) to get a base64 PNG data URI suitable for embedding.",
		category: "plotting",
	},
	{
		content:  "Tabular results are slices of maps. To compute per-column statistics, iterate the rows and accumulate; to reshape, build a new slice of maps. Keep the final answer in the result variable.",
		category: "tabular",
	},
	{
		content:  "For descriptive statistics: mean is the sum divided by the count, median needs the values sorted first (use sort.Float64s), and standard deviation is the square root of the average squared deviation from the mean (use math.Sqrt).",
		category: "statistics",
	},
}

// Bootstrap seeds the knowledge base with the default entries. It is a
// no-op whenever the context collection already has any entries, so
// restarting the service never duplicates the seeds.
func (a *Agent) Bootstrap(ctx context.Context) error {
	count, err := a.vectors.Count(retrieval.ContextTable)
	if err != nil {
		return fmt.Errorf("counting context entries: %w", err)
	}
	if count > 0 {
		a.logger.Debug("knowledge base already populated, skipping bootstrap", "entries", count)
		return nil
	}

	for _, entry := range defaultEntries {
		metadata := map[string]any{"type": "default", "category": entry.category}
		if _, err := a.addContextEntry(ctx, entry.content, metadata, "bootstrap"); err != nil {
			return fmt.Errorf("seeding %s entry: %w", entry.category, err)
		}
	}

	a.logger.Info("seeded knowledge base", "entries", len(defaultEntries))
	return nil
}
