package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"docrag/internal/domain/rag"
	ragtool "docrag/internal/tool/rag"
)

var ingestID string

var ingestCmd = &cobra.Command{
	Use:   "ingest [file...]",
	Short: "Index documents for knowledge search",
	Long: `Parses, chunks and embeds each file into its own vector index.
Re-ingesting a file overwrites its chunks.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestID, "id", "", "document id (single file only; defaults to the file name)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if ingestID != "" && len(args) > 1 {
		return errors.New("--id can only be used with a single file")
	}

	return withPipeline(cmd, args, func(ctx context.Context, p ragtool.Pipeline) error {
		var results []*rag.IngestResult
		failed := 0
		for _, path := range args {
			res, err := p.IngestDocument(ctx, rag.IngestInput{DocumentID: ingestID, Path: path})
			if res == nil {
				return err
			}
			if res.Status == rag.StatusFailed {
				failed++
			}
			results = append(results, res)
			if !outputJSON {
				printIngest(cmd, path, res)
			}
		}
		if outputJSON {
			if err := printJSON(cmd, results); err != nil {
				return err
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d documents failed", failed, len(args))
		}
		return nil
	})
}

func printIngest(cmd *cobra.Command, path string, res *rag.IngestResult) {
	switch res.Status {
	case rag.StatusFailed:
		cmd.Printf("FAIL %s: %s\n", path, res.Error)
	case rag.StatusPartial:
		cmd.Printf("PART %s -> %s (%d/%d chunks, %d failed)\n", path, res.IndexName, res.Upserted, res.Requested, len(res.FailedKeys))
	default:
		cmd.Printf("OK   %s -> %s (%d chunks, %s)\n", path, res.IndexName, res.Upserted, res.Elapsed.Round(time.Millisecond))
	}
}
