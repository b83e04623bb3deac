package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"docrag/internal/domain/rag"
	applog "docrag/internal/platform/log"
)

// DocumentHandler accepts multipart uploads for the working cache and for
// permanent indexing.
type DocumentHandler struct {
	docs      Documents
	tempDir   string
	maxFileMB int
}

func NewDocumentHandler(docs Documents, tempDir string, maxFileMB int) *DocumentHandler {
	if maxFileMB <= 0 {
		maxFileMB = 50
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &DocumentHandler{
		docs:      docs,
		tempDir:   tempDir,
		maxFileMB: maxFileMB,
	}
}

func (h *DocumentHandler) RegisterRoutes(r chi.Router) {
	r.Route("/documents", func(r chi.Router) {
		r.Post("/upload", h.Upload)
		r.Post("/ingest", h.Ingest)
	})
}

// Upload stores the file and processes it into the document cache. The
// response key is the "document" argument of document_query and
// summarize_document.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	path, filename, status, err := h.saveUpload(w, r)
	if err != nil {
		writeError(w, r, status, err.Error())
		return
	}

	res, err := h.docs.ProcessUpload(r.Context(), path, filename)
	if err != nil {
		// never cached, so nothing else removes it
		_ = os.Remove(path)
		if rag.IsUnreadable(err) {
			writeJSON(w, r, http.StatusBadRequest, res)
			return
		}
		applog.Error("[API] Upload processing failed", "filename", filename, "error", err)
		writeError(w, r, http.StatusInternalServerError, "failed to process document")
		return
	}
	writeJSON(w, r, http.StatusCreated, res)
}

// Ingest stores the file, indexes it into its own vector index and deletes
// the temp copy.
func (h *DocumentHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	path, filename, status, err := h.saveUpload(w, r)
	if err != nil {
		writeError(w, r, status, err.Error())
		return
	}
	defer os.Remove(path)

	docID := strings.TrimSpace(r.FormValue("document_id"))
	if docID == "" {
		docID = filename
	}

	res, err := h.docs.IngestDocument(r.Context(), rag.IngestInput{
		DocumentID: docID,
		Filename:   filename,
		Path:       path,
	})
	switch {
	case err != nil && rag.IsUnreadable(err):
		writeJSON(w, r, http.StatusBadRequest, res)
	case err != nil && res == nil:
		applog.Error("[API] Ingest failed", "filename", filename, "error", err)
		writeError(w, r, http.StatusInternalServerError, "failed to ingest document")
	case res.Status == rag.StatusFailed:
		writeJSON(w, r, http.StatusBadGateway, res)
	default:
		writeJSON(w, r, http.StatusOK, res)
	}
}

// saveUpload copies the "file" form field to a uniquely named file in the
// temp dir, keeping the extension so the parser can be chosen.
func (h *DocumentHandler) saveUpload(w http.ResponseWriter, r *http.Request) (path, filename string, status int, err error) {
	limitBytes := int64(h.maxFileMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, limitBytes+(1<<20))

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			return "", "", http.StatusRequestEntityTooLarge, fmt.Errorf("file size exceeds limit (%dMB)", h.maxFileMB)
		}
		return "", "", http.StatusBadRequest, fmt.Errorf("failed to parse multipart form")
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return "", "", http.StatusBadRequest, fmt.Errorf("file field is required")
	}
	defer file.Close()

	if header.Size > limitBytes {
		return "", "", http.StatusRequestEntityTooLarge, fmt.Errorf("file size exceeds limit (%dMB)", h.maxFileMB)
	}

	filename = filepath.Base(header.Filename)
	ext := strings.ToLower(filepath.Ext(filename))
	if err := os.MkdirAll(h.tempDir, 0o700); err != nil {
		applog.Error("[API] Create temp dir failed", "dir", h.tempDir, "error", err)
		return "", "", http.StatusInternalServerError, fmt.Errorf("failed to store upload")
	}
	path = filepath.Join(h.tempDir, rag.UploadFilePrefix+uuid.NewString()+ext)

	out, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		applog.Error("[API] Create temp file failed", "path", path, "error", err)
		return "", "", http.StatusInternalServerError, fmt.Errorf("failed to store upload")
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.Remove(path)
		return "", "", http.StatusInternalServerError, fmt.Errorf("failed to store upload")
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", "", http.StatusInternalServerError, fmt.Errorf("failed to store upload")
	}

	applog.Debug("[API] Upload stored", "filename", filename, "path", path, "bytes", header.Size)
	return path, filename, http.StatusOK, nil
}
