package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rag-agent/backend/internal/evaluation"
	"github.com/rag-agent/backend/internal/ingestion"
	"github.com/rag-agent/backend/internal/thesaurus"
)

var (
	askTrace bool

	searchLimit int
	searchJSON  bool

	indexID    string
	indexTitle string

	evalJSON bool
)

var askCmd = &cobra.Command{
	Use:   "ask [input]",
	Short: "Run one input through the agent workflow",
	Long: `Classifies the input, then answers it from the indexed documents,
lists matching documents or removes a document ("remove | <id>").`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st := agent.Engine.Execute(cmd.Context(), strings.Join(args, " "))

		cmd.Println(st.Response)
		if askTrace {
			cmd.Println()
			cmd.Println(faint(fmt.Sprintf("intent: %s  path: %v", st.Intent.Kind, st.Trace)))
		}
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Run a hybrid search over indexed chunks",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		results, err := agent.Retriever.Search(cmd.Context(), strings.Join(args, " "), searchLimit)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}

		if searchJSON {
			return printJSON(cmd, results)
		}
		if len(results) == 0 {
			cmd.Println("No results found.")
			return nil
		}
		for i, r := range results {
			cmd.Printf("[%d] %s %s\n", i+1, accent(r.Title), faint(fmt.Sprintf("(%s, %.3f)", r.DocID, r.Score)))
			cmd.Printf("    %s\n", snippet(r.Content, 160))
		}
		return nil
	},
}

var indexCmd = &cobra.Command{
	Use:   "index [file]",
	Short: "Chunk, embed and index a text or HTML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		req := ingestion.IndexRequest{
			DocID:   indexID,
			Title:   indexTitle,
			Content: string(data),
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".html", ".htm":
			req.ContentType = ingestion.ContentTypeHTML
		default:
			if req.Title == "" {
				req.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			}
		}

		res, err := agent.Processor.IndexDocument(cmd.Context(), req)
		if err != nil {
			return err
		}
		cmd.Printf("%s %s %s\n", heading("indexed"), accent(res.DocID), faint(fmt.Sprintf("(%q, %d chunks)", res.Title, res.Chunks)))
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove [doc-id]",
	Short: "Remove a document and its chunks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := agent.Processor.RemoveDocument(cmd.Context(), args[0]); err != nil {
			return err
		}
		cmd.Printf("%s %s\n", heading("removed"), accent(args[0]))
		return nil
	},
}

var evalCmd = &cobra.Command{
	Use:   "eval [dataset.json]",
	Short: "Score agent answers against expected answers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open dataset: %w", err)
		}
		defer f.Close()

		items, err := evaluation.LoadDataset(f)
		if err != nil {
			return err
		}

		evaluator := evaluation.NewEvaluator(agent.Engine, agent.Embedder)
		report, err := evaluator.RunDatasetEvaluation(cmd.Context(), items)
		if err != nil {
			return err
		}

		if evalJSON {
			return printJSON(cmd, report)
		}
		for _, item := range report.Items {
			mark := heading("ok  ")
			if item.Fallback {
				mark = failure("miss")
			}
			cmd.Printf("%s %.3f  %s\n", mark, item.Similarity, item.Query)
		}
		cmd.Println(evaluation.GenerateReport(report))
		return nil
	},
}

var synonymsCmd = &cobra.Command{
	Use:   "synonyms",
	Short: "Manage the redis thesaurus",
}

var synonymsLoadCmd = &cobra.Command{
	Use:   "load [synonyms.yaml]",
	Short: "Copy a YAML synonym file into redis synonym sets",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if agent.Redis == nil {
			return errors.New("redis is not configured: set thesaurus.backend to redis or enable cache.redisEnabled")
		}
		src, err := thesaurus.LoadFile(args[0])
		if err != nil {
			return err
		}
		n, err := thesaurus.NewRedis(agent.Redis).Import(cmd.Context(), src)
		if err != nil {
			return err
		}
		cmd.Printf("%s %s\n", heading("loaded"), accent(fmt.Sprintf("%d words", n)))
		return nil
	},
}

func init() {
	synonymsCmd.AddCommand(synonymsLoadCmd)

	askCmd.Flags().BoolVar(&askTrace, "trace", false, "print the intent and the visited workflow nodes")

	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 5, "maximum number of results")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")

	indexCmd.Flags().StringVar(&indexID, "id", "", "document id (generated when empty)")
	indexCmd.Flags().StringVar(&indexTitle, "title", "", "document title (file name, or the HTML <title>, when empty)")

	evalCmd.Flags().BoolVar(&evalJSON, "json", false, "output the report as JSON")
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func snippet(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
