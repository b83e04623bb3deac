// Package cli implements the docragctl commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"docrag/internal/app/bootstrap"
	"docrag/internal/domain/rag"
	"docrag/internal/platform/config"
	applog "docrag/internal/platform/log"
	ragtool "docrag/internal/tool/rag"
)

var (
	configFile string
	outputJSON bool
)

// ingestHistory reads recorded ingestion outcomes.
type ingestHistory interface {
	Latest(ctx context.Context, documentID string) (*rag.IngestResult, error)
}

// backend is what the commands work against.
type backend struct {
	pipeline ragtool.Pipeline
	history  ingestHistory // nil without a database
	close    func()
}

// connect builds the pipeline from configuration. The directories of files
// become document roots so the named files can be read. Tests replace it.
var connect = func(ctx context.Context, files []string) (*backend, error) {
	if configFile != "" {
		os.Setenv("APP_CONFIG_FILE", configFile)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	applog.Init(applog.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: os.Stderr})

	for _, f := range files {
		cfg.RAG.DocumentRoots = append(cfg.RAG.DocumentRoots, filepath.Dir(f))
	}
	app, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	b := &backend{pipeline: app.Pipeline, close: func() { app.Close() }}
	if app.IngestLog != nil {
		b.history = app.IngestLog
	}
	return b, nil
}

var rootCmd = &cobra.Command{
	Use:   "docragctl",
	Short: "Chunk, index and search documents",
	Long: `docragctl drives the document retrieval pipeline from the command line.
It uses the same configuration as the server (APP_CONFIG_FILE and environment).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (JSON or YAML)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "print results as JSON")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func withBackend(cmd *cobra.Command, files []string, fn func(ctx context.Context, b *backend) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := connect(ctx, files)
	if err != nil {
		return fmt.Errorf("setup failed: %w", err)
	}
	defer b.close()
	return fn(ctx, b)
}

func withPipeline(cmd *cobra.Command, files []string, fn func(ctx context.Context, p ragtool.Pipeline) error) error {
	return withBackend(cmd, files, func(ctx context.Context, b *backend) error {
		return fn(ctx, b.pipeline)
	})
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
