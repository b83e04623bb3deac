package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"docrag/internal/domain/rag"
	applog "docrag/internal/platform/log"
	"docrag/internal/tool"
)

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ToolTimeout  time.Duration // per tool call
	JWTSecret    string        // required
	JWTIssuer    string        // optional
	TempDir      string        // uploads are written here
	MaxFileMB    int
}

func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		ToolTimeout:  5 * time.Minute,
		TempDir:      os.TempDir(),
		MaxFileMB:    50,
	}
}

// Documents is the part of the pipeline behind the upload endpoints.
type Documents interface {
	ProcessUpload(ctx context.Context, tempPath, filename string) (*rag.ProcessResult, error)
	IngestDocument(ctx context.Context, in rag.IngestInput) (*rag.IngestResult, error)
}

type Server struct {
	config  *ServerConfig
	tools   *tool.Registry
	docs    Documents
	httpSrv *http.Server
}

func NewServer(config *ServerConfig, tools *tool.Registry, docs Documents) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	if tools == nil {
		tools = tool.NewRegistry()
	}
	return &Server{
		config: config,
		tools:  tools,
		docs:   docs,
	}
}

func (s *Server) Start() error {
	r, err := s.buildRouter()
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	applog.Infof("[API] docrag server starting on %s", addr)
	return s.httpSrv.ListenAndServe()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler {
	r, err := s.buildRouter()
	if err != nil {
		panic(err)
	}
	return r
}

func (s *Server) buildRouter() (http.Handler, error) {
	if strings.TrimSpace(s.config.JWTSecret) == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	authMW := authMiddleware(&JWTConfig{
		Secret: s.config.JWTSecret,
		Issuer: s.config.JWTIssuer,
	})

	toolHandler := NewToolHandler(s.tools, s.config.ToolTimeout)
	r.Group(func(r chi.Router) {
		r.Use(authMW)
		toolHandler.RegisterRoutes(r)
		if s.docs != nil {
			NewDocumentHandler(s.docs, s.config.TempDir, s.config.MaxFileMB).RegisterRoutes(r)
		}
	})
	return r, nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
