package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/rada-agent/rada/internal/ingest"
)

// --- analyze ---

var analyzeCmd = &cobra.Command{
	Use:   "analyze <task>",
	Short: "Run a data analysis task",
	Long: `Run a natural-language data analysis task.

Examples:
  rada analyze "Calculate the sum of numbers from 1 to 10"
  rada analyze "Scrape the first table from https://example.com/prices and average the Price column"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Analyzing...")
		resp, err := client.post(cmd.Context(), "/api/analyze", map[string]string{"query": query})
		if err != nil {
			return err
		}

		var result struct {
			InteractionID string   `json:"interaction_id"`
			Result        any      `json:"result"`
			GeneratedCode string   `json:"generated_code"`
			ContextUsed   []string `json:"context_used"`
			SuccessScore  float64  `json:"success_score"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		showCode, _ := cmd.Flags().GetBool("show-code")
		if showCode {
			fmt.Println(colorize(colorBold, "Generated code:"))
			fmt.Println(result.GeneratedCode)
			fmt.Println()
		}

		fmt.Println(colorize(colorBold, "Result:"))
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result.Result); err != nil {
			return err
		}
		printStatus("Score", "%.2f", result.SuccessScore)
		printStatus("Interaction", "%s", result.InteractionID)
		return nil
	},
}

func init() {
	analyzeCmd.Flags().Bool("show-code", false, "print the generated code before the result")
}

// --- feedback ---

var feedbackCmd = &cobra.Command{
	Use:   "feedback <interaction-id> <text>",
	Short: "Rate a past analysis",
	Long: `Rate a past analysis. Positive feedback raises the score and can turn
the interaction into a learned pattern for future tasks.

Examples:
  rada feedback 3f2a81c0 "great, exactly what I needed"
  rada feedback 3f2a81c0 "wrong column" `,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		interactionID := args[0]
		feedback := strings.Join(args[1:], " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{
			"interaction_id": interactionID,
			"feedback":       feedback,
		}
		if cmd.Flags().Changed("score") {
			score, _ := cmd.Flags().GetFloat64("score")
			body["success_score"] = score
		}

		resp, err := client.post(cmd.Context(), "/api/feedback", body)
		if err != nil {
			return err
		}

		var result struct {
			SuccessScore float64 `json:"success_score"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Feedback recorded, new score %.2f", result.SuccessScore)
		return nil
	},
}

func init() {
	feedbackCmd.Flags().Float64("score", 0, "explicit score override in [0,1]")
}

// --- context ---

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Add knowledge to the agent",
	Long: `Add a knowledge snippet the agent can retrieve for future tasks.

Examples:
  rada context --text "Prices on our dashboard are in cents, divide by 100"
  rada context --file ./handbook.pdf --topic finance`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		topic, _ := cmd.Flags().GetString("topic")

		if text == "" && file == "" {
			return fmt.Errorf("one of --text or --file is required")
		}

		content := text
		if file != "" {
			extracted, err := ingest.ExtractFile(file)
			if err != nil {
				return err
			}
			content = extracted
		}

		metadata := map[string]any{}
		if topic != "" {
			metadata["topic"] = topic
		}
		if file != "" {
			metadata["source_file"] = file
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/context", map[string]any{
			"content":  content,
			"metadata": metadata,
		})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Stored context entry %s", result["id"])
		return nil
	},
}

func init() {
	contextCmd.Flags().String("text", "", "text content to store")
	contextCmd.Flags().String("file", "", "file to extract and store (pdf or plain text)")
	contextCmd.Flags().String("topic", "", "topic label for the entry")
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show learning statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/stats")
		if err != nil {
			return err
		}

		var stats struct {
			TotalInteractions      int     `json:"total_interactions"`
			SuccessfulInteractions int     `json:"successful_interactions"`
			SuccessRate            float64 `json:"success_rate"`
			AverageSuccessScore    float64 `json:"average_success_score"`
			ContextCount           int     `json:"context_count"`
		}
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		printStatus("Interactions", "%d", stats.TotalInteractions)
		printStatus("Successful", "%d", stats.SuccessfulInteractions)
		printStatus("Success rate", "%.0f%%", stats.SuccessRate*100)
		printStatus("Average score", "%.2f", stats.AverageSuccessScore)
		printStatus("Context entries", "%d", stats.ContextCount)
		return nil
	},
}

// --- interactions ---

var interactionsCmd = &cobra.Command{
	Use:   "interactions",
	Short: "Inspect interaction history",
}

var interactionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent interactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/api/interactions?limit=%d", limit))
		if err != nil {
			return err
		}

		var interactions []struct {
			ID           string  `json:"id"`
			CreatedAt    string  `json:"created_at"`
			UserQuery    string  `json:"user_query"`
			Status       string  `json:"status"`
			SuccessScore float64 `json:"success_score"`
		}
		if err := decodeJSON(resp, &interactions); err != nil {
			return err
		}

		if len(interactions) == 0 {
			fmt.Println("No interactions found.")
			return nil
		}

		for _, ix := range interactions {
			query := truncate(ix.UserQuery, 80)
			fmt.Printf("%s  %.2f  %-9s  %s\n",
				colorize(colorCyan, ix.ID[:8]),
				ix.SuccessScore,
				ix.Status,
				query,
			)
		}
		return nil
	},
}

var interactionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single interaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/interactions/"+args[0])
		if err != nil {
			return err
		}

		var interaction any
		if err := decodeJSON(resp, &interaction); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(interaction)
	},
}

func init() {
	interactionsListCmd.Flags().Int("limit", 20, "maximum number of interactions to list")
	interactionsCmd.AddCommand(interactionsListCmd)
	interactionsCmd.AddCommand(interactionsShowCmd)
}

// truncate shortens display text to max characters without splitting runes.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "..."
}
