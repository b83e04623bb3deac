package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"docrag/internal/domain/rag"
)

var (
	chunkStrategy string
	chunkMax      int
	chunkMin      int
	chunkOverlap  int
)

var chunkCmd = &cobra.Command{
	Use:   "chunk [file]",
	Short: "Split a document into chunks",
	Long: `Parses a document and prints the chunks the pipeline would embed.
Nothing is embedded or stored.`,
	Args: cobra.ExactArgs(1),
	RunE: runChunk,
}

func init() {
	d := rag.DefaultConfig()
	chunkCmd.Flags().StringVarP(&chunkStrategy, "strategy", "s", d.ChunkStrategy, "fixed, paragraph or section")
	chunkCmd.Flags().IntVar(&chunkMax, "max", d.ChunkMaxSize, "maximum chunk size in characters")
	chunkCmd.Flags().IntVar(&chunkMin, "min", d.ChunkMinSize, "minimum chunk size in characters")
	chunkCmd.Flags().IntVar(&chunkOverlap, "overlap", d.ChunkOverlap, "overlap between chunks in characters")
	rootCmd.AddCommand(chunkCmd)
}

func runChunk(cmd *cobra.Command, args []string) error {
	parsed, err := rag.NewParserRegistry().ParseFile(args[0])
	if err != nil {
		return err
	}

	chunker, err := rag.NewChunker(rag.ChunkOptions{
		MaxSize:  chunkMax,
		MinSize:  chunkMin,
		Overlap:  chunkOverlap,
		Strategy: rag.ChunkStrategy(chunkStrategy),
	})
	if err != nil {
		return err
	}
	chunks, err := chunker.Chunk(parsed.Content, parsed.Pages)
	if err != nil {
		return err
	}

	if outputJSON {
		return printJSON(cmd, chunks)
	}

	cmd.Printf("%d chunks\n\n", len(chunks))
	for _, c := range chunks {
		header := fmt.Sprintf("[%d] %d chars", c.Index, len([]rune(c.Content)))
		if c.PageStart > 0 {
			header += ", " + rag.PageReference(c.PageStart, c.PageEnd)
		}
		if c.Section != "" {
			header += ", section " + c.Section
		}
		cmd.Println(header)
		cmd.Println("    " + preview(c.Content, 160))
		cmd.Println()
	}
	return nil
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
