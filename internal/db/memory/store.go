// Package memory provides in-process implementations of the rag storage ports.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"docrag/internal/domain/rag"
)

type index struct {
	dims    int
	metric  string
	records map[string]rag.VectorRecord
}

// Store is a VectorIndexStore held in memory. Query returns genuine cosine
// similarities.
type Store struct {
	mu      sync.RWMutex
	indices map[string]*index
}

var _ rag.VectorIndexStore = (*Store)(nil)

func NewStore() *Store {
	return &Store{indices: make(map[string]*index)}
}

func (s *Store) CreateIndex(_ context.Context, name string, dims int, metric string) (bool, error) {
	if strings.TrimSpace(name) == "" {
		return false, fmt.Errorf("index name is empty")
	}
	if dims <= 0 {
		return false, fmt.Errorf("index %s: dims must be positive", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.indices[name]; ok {
		if idx.dims != dims {
			return false, fmt.Errorf("index %s exists with dims %d, requested %d", name, idx.dims, dims)
		}
		return false, nil
	}
	s.indices[name] = &index{dims: dims, metric: metric, records: make(map[string]rag.VectorRecord)}
	return true, nil
}

func (s *Store) Upsert(_ context.Context, name string, records []rag.VectorRecord) (*rag.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indices[name]
	if !ok {
		return nil, fmt.Errorf("%w: index %s", rag.ErrNotFound, name)
	}

	res := &rag.UpsertResult{}
	for _, r := range records {
		if r.Key == "" || len(r.Embedding) != idx.dims {
			res.FailedKeys = append(res.FailedKeys, r.Key)
			continue
		}
		idx.records[r.Key] = rag.VectorRecord{
			Key:       r.Key,
			Embedding: append([]float32(nil), r.Embedding...),
			Metadata:  cloneMap(r.Metadata),
		}
		res.Upserted++
	}
	return res, nil
}

func (s *Store) Query(_ context.Context, name string, vector []float32, topK int) ([]rag.SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.indices[name]
	if !ok {
		return nil, fmt.Errorf("%w: index %s", rag.ErrNotFound, name)
	}

	hits := make([]rag.SearchHit, 0, len(idx.records))
	for _, r := range idx.records {
		content, _ := r.Metadata[rag.MetaContent].(string)
		hits = append(hits, rag.SearchHit{
			Key:       r.Key,
			Content:   content,
			Metadata:  cloneMap(r.Metadata),
			Score:     rag.CosineSimilarity(vector, r.Embedding),
			ScoreKind: rag.ScoreCosine,
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Key < hits[j].Key
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *Store) ListIndices(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.indices))
	for name := range s.indices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) DeleteRecords(_ context.Context, name string, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indices[name]
	if !ok {
		return nil
	}
	for _, k := range keys {
		delete(idx.records, k)
	}
	return nil
}

// Count returns the number of records in an index, -1 when it does not exist.
func (s *Store) Count(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.indices[name]
	if !ok {
		return -1
	}
	return len(idx.records)
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
