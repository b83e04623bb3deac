package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	applog "docrag/internal/platform/log"
	"docrag/internal/tool"
)

// maxToolBody bounds the JSON arguments of one tool call.
const maxToolBody = 1 << 20

type ToolHandler struct {
	tools   *tool.Registry
	timeout time.Duration
}

func NewToolHandler(tools *tool.Registry, timeout time.Duration) *ToolHandler {
	return &ToolHandler{tools: tools, timeout: timeout}
}

func (h *ToolHandler) RegisterRoutes(r chi.Router) {
	r.Route("/tools", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/{name}", h.Call)
	})
}

// List returns the tool definitions in function-calling format.
func (h *ToolHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.tools.Definitions())
}

// Call runs one tool. The request body is the tool's JSON arguments and the
// response data is the tool's JSON result.
func (h *ToolHandler) Call(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !h.tools.Has(name) {
		writeError(w, r, http.StatusNotFound, "tool not found: "+name)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxToolBody))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) == 0 {
		body = []byte("{}")
	}

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := h.tools.Execute(ctx, name, string(body))
	if err != nil {
		switch {
		case errors.Is(err, tool.ErrInvalidArguments):
			writeError(w, r, http.StatusBadRequest, err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			writeError(w, r, http.StatusGatewayTimeout, "tool call timed out")
		default:
			applog.Error("[API] Tool call failed", "tool", name, "subject", subjectOf(ctx), "error", err)
			writeError(w, r, http.StatusInternalServerError, "tool call failed")
		}
		return
	}

	applog.Info("[API] Tool call", "tool", name, "subject", subjectOf(ctx), "elapsed", time.Since(start))
	writeJSON(w, r, http.StatusOK, json.RawMessage(out))
}
