package cli

import (
	"context"

	"github.com/spf13/cobra"

	"docrag/internal/domain/rag"
	ragtool "docrag/internal/tool/rag"
)

var searchCmd = &cobra.Command{
	Use:   "search [question]",
	Short: "Search all indexed documents",
	Long: `Embeds the question, queries every document index and shared index,
and prints the passages above the similarity threshold with citations.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

var askCmd = &cobra.Command{
	Use:   "ask [file] [question]",
	Short: "Answer a question from one document",
	Long: `Processes the document into the working cache and queries it once.
The working state is removed afterwards.`,
	Args: cobra.ExactArgs(2),
	RunE: runAsk,
}

var summarizeCmd = &cobra.Command{
	Use:   "summarize [file]",
	Short: "Summarize one document",
	Args:  cobra.ExactArgs(1),
	RunE:  runSummarize,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(summarizeCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	return withPipeline(cmd, nil, func(ctx context.Context, p ragtool.Pipeline) error {
		res, err := p.Search(ctx, args[0])
		if err != nil {
			return err
		}
		return printQuery(cmd, res)
	})
}

func runAsk(cmd *cobra.Command, args []string) error {
	return withPipeline(cmd, args[:1], func(ctx context.Context, p ragtool.Pipeline) error {
		proc, err := p.ProcessDocument(ctx, args[0])
		if err != nil {
			return err
		}
		res, err := p.QueryDocument(ctx, proc.Key, args[1])
		if err != nil {
			return err
		}
		return printQuery(cmd, res)
	})
}

func runSummarize(cmd *cobra.Command, args []string) error {
	return withPipeline(cmd, args[:1], func(ctx context.Context, p ragtool.Pipeline) error {
		proc, err := p.ProcessDocument(ctx, args[0])
		if err != nil {
			return err
		}
		res, err := p.SummarizeDocument(ctx, proc.Key)
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(cmd, res)
		}
		if res.Extractive {
			cmd.Println("(extractive summary)")
		}
		cmd.Println(res.Summary)
		return nil
	})
}

func printQuery(cmd *cobra.Command, res *rag.QueryResult) error {
	if outputJSON {
		return printJSON(cmd, res)
	}
	if res.Status == rag.StatusFailed {
		cmd.Println("Error: " + res.Error)
		return nil
	}
	if res.Context == nil || len(res.Context.Chunks) == 0 {
		cmd.Println(res.Message)
		return nil
	}

	cmd.Println(res.Message)
	cmd.Println()
	for i, h := range res.Context.Chunks {
		cmd.Printf("  [%d] %s (%.3f)\n", i+1, h.Citation, h.Similarity)
		cmd.Printf("      %s\n\n", preview(h.Content, 240))
	}
	if len(res.IndicesFailed) > 0 {
		cmd.Printf("Skipped indices: %v\n", res.IndicesFailed)
	}
	return nil
}
