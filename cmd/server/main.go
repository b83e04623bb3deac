package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docrag/internal/api"
	"docrag/internal/app/bootstrap"
	"docrag/internal/domain/rag"
	"docrag/internal/platform/config"
	applog "docrag/internal/platform/log"
	"docrag/internal/watcher"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	applog.Init(applog.Config{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: "docrag",
	})
	defer applog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		applog.Fatalf("[Server] Bootstrap failed: %v", err)
	}
	defer app.Close()

	serverConfig := api.DefaultServerConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	serverConfig.ReadTimeout = time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second
	serverConfig.WriteTimeout = time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second
	serverConfig.JWTSecret = cfg.Auth.JWTSecret
	serverConfig.JWTIssuer = cfg.Auth.JWTIssuer
	serverConfig.TempDir = cfg.RAG.TempDir
	serverConfig.MaxFileMB = cfg.RAG.MaxFileSize
	server := api.NewServer(serverConfig, app.Tools, app.Pipeline)

	if cfg.Watcher.InboxDir != "" {
		inbox := watcher.NewInbox(cfg.Watcher.InboxDir, app.Pipeline.Parsers().Supports, ingestFile(app.Pipeline), watcher.WithScanExisting())
		go func() {
			if err := inbox.Run(ctx); err != nil {
				applog.Error("[Watcher] Stopped", "error", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		applog.Info("[Server] Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Stop(shutdownCtx); err != nil {
			applog.Errorf("[Server] Shutdown error: %v", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		applog.Fatalf("[Server] Server error: %v", err)
	}

	applog.Info("[Server] Stopped")
}

// ingestFile indexes an inbox file under its file name.
func ingestFile(p *rag.Pipeline) watcher.IngestFunc {
	return func(ctx context.Context, path string) error {
		res, err := p.IngestDocument(ctx, rag.IngestInput{Path: path})
		if err != nil {
			return err
		}
		if res.Status == rag.StatusFailed {
			return errors.New(res.Error)
		}
		return nil
	}
}
