package cli

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"docrag/internal/domain/rag"
)

var statusCmd = &cobra.Command{
	Use:   "status [document-id]",
	Short: "Show the last ingestion of a document",
	Long: `Reads the most recent ingestion outcome of a document from the ingest log.
Needs DATABASE_URL; the id defaults to the file name used at ingestion.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withBackend(cmd, nil, func(ctx context.Context, b *backend) error {
		if b.history == nil {
			return errors.New("no ingest log configured (set DATABASE_URL)")
		}
		res, err := b.history.Latest(ctx, args[0])
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(cmd, res)
		}
		cmd.Printf("%s: %s in %s\n", res.DocumentID, res.Status, res.IndexName)
		cmd.Printf("  chunks %d/%d, took %s\n", res.Upserted, res.Requested, res.Elapsed.Round(time.Millisecond))
		if len(res.FailedKeys) > 0 {
			cmd.Printf("  failed keys: %v\n", res.FailedKeys)
		}
		if res.Error != "" && res.Status != rag.StatusIngested {
			cmd.Printf("  error: %s\n", res.Error)
		}
		return nil
	})
}
