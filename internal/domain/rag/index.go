package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	applog "docrag/internal/platform/log"
)

const (
	maxIndexNameLen = 63
	defaultMetric   = "cosine"
)

// Slugify lowercases s, maps runs of non [a-z0-9] to a single '-', and trims
// dashes from the ends.
func Slugify(s string) string {
	var sb strings.Builder
	dash := false
	for _, c := range strings.ToLower(s) {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			sb.WriteRune(c)
			dash = false
			continue
		}
		if !dash && sb.Len() > 0 {
			sb.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(sb.String(), "-")
}

// IndexManager names per-document indices and creates them before upload.
type IndexManager struct {
	store   VectorIndexStore
	prefix  string
	shared  []string
	working string
	now     func() time.Time

	mu      sync.Mutex
	ensured map[string]bool
}

// NewIndexManager creates a manager. shared lists the indices queried when
// the store cannot list any. The working index is never searched.
func NewIndexManager(store VectorIndexStore, prefix string, shared []string, working string) *IndexManager {
	if prefix == "" {
		prefix = "file"
	}
	return &IndexManager{
		store:   store,
		prefix:  prefix,
		shared:  append([]string(nil), shared...),
		working: working,
		now:     time.Now,
		ensured: make(map[string]bool),
	}
}

// IndexNameFor derives "<prefix>-<slug>-<YYYY-MM-DD>" from a document id or
// filename. Names longer than 63 characters keep a truncated slug plus eight
// hex characters of the id's sha256 so distinct ids stay distinct.
func (m *IndexManager) IndexNameFor(documentID string) string {
	return IndexNameFor(m.prefix, documentID, m.now())
}

// IndexNameFor is the pure form of IndexManager.IndexNameFor.
func IndexNameFor(prefix, documentID string, at time.Time) string {
	base := strings.TrimSuffix(filepath.Base(documentID), filepath.Ext(documentID))
	slug := Slugify(base)
	if slug == "" {
		slug = Slugify(documentID)
	}
	if slug == "" {
		slug = "document"
	}
	date := at.UTC().Format("2006-01-02")
	p := Slugify(prefix)

	name := fmt.Sprintf("%s-%s-%s", p, slug, date)
	if len(name) <= maxIndexNameLen {
		return name
	}

	sum := sha256.Sum256([]byte(documentID))
	hash := hex.EncodeToString(sum[:])[:8]
	room := maxIndexNameLen - len(p) - len(date) - len(hash) - 3
	if room < 1 {
		room = 1
	}
	if len(slug) > room {
		slug = strings.TrimRight(slug[:room], "-")
	}
	return fmt.Sprintf("%s-%s-%s-%s", p, slug, hash, date)
}

// EnsureIndex creates name if needed. An existing index is success.
func (m *IndexManager) EnsureIndex(ctx context.Context, name string, dims int) (bool, error) {
	m.mu.Lock()
	done := m.ensured[name]
	m.mu.Unlock()
	if done {
		return true, nil
	}

	created, err := m.store.CreateIndex(ctx, name, dims, defaultMetric)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrIndexCreate, name, err)
	}

	m.mu.Lock()
	m.ensured[name] = true
	m.mu.Unlock()

	if created {
		applog.Info("[RAG/Index] Index created", "index", name, "dims", dims)
	}
	return true, nil
}

// KnownIndices lists the indices to fan a search out to: everything the store
// reports, or the shared indices when the listing is empty or fails.
// Transient working vectors are left out.
func (m *IndexManager) KnownIndices(ctx context.Context) []string {
	names, err := m.store.ListIndices(ctx)
	if err != nil {
		applog.Warn("[RAG/Index] List indices failed, using shared indices", "error", err)
	}
	if len(names) == 0 {
		names = m.shared
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if m.working != "" && n == m.working {
			continue
		}
		out = append(out, n)
	}
	return out
}
