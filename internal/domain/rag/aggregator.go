package rag

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	applog "docrag/internal/platform/log"
)

// defaultRankStep spaces synthetic scores for stores that return no score.
const defaultRankStep = 0.05

// SearchOptions bounds a fan-out search.
type SearchOptions struct {
	TopKPerIndex  int
	GlobalTopK    int
	MinSimilarity float64 // hits at or below are dropped
	MaxFanout     int     // concurrent index queries
	RankStep      float64
}

func (o SearchOptions) withDefaults() SearchOptions {
	if o.TopKPerIndex <= 0 {
		o.TopKPerIndex = 5
	}
	if o.MaxFanout <= 0 {
		o.MaxFanout = 8
	}
	if o.RankStep <= 0 {
		o.RankStep = defaultRankStep
	}
	return o
}

// AggregateResult is the merged, ranked outcome of one fan-out.
type AggregateResult struct {
	Hits           []SearchHit
	IndicesQueried int
	IndicesFailed  []string
	// Approximate is set when any returned hit carries a rank-derived score.
	Approximate bool
}

// Aggregator queries many indices and merges the hits into one ranking.
type Aggregator struct {
	store VectorIndexStore
}

func NewAggregator(store VectorIndexStore) *Aggregator {
	return &Aggregator{store: store}
}

// Search queries every index for TopKPerIndex hits. An index that fails is
// logged and skipped. Only ctx cancellation is returned as an error.
func (a *Aggregator) Search(ctx context.Context, query []float32, indices []string, opts SearchOptions) (*AggregateResult, error) {
	opts = opts.withDefaults()
	start := time.Now()

	perIndex := make([][]SearchHit, len(indices))
	var (
		mu     sync.Mutex
		failed []string
	)

	var g errgroup.Group
	g.SetLimit(opts.MaxFanout)
	for i, index := range indices {
		g.Go(func() error {
			hits, err := a.store.Query(ctx, index, query, opts.TopKPerIndex)
			if err != nil {
				applog.Warn("[RAG/Aggregator] Index query failed, skipping", "index", index, "error", err)
				mu.Lock()
				failed = append(failed, index)
				mu.Unlock()
				return nil
			}
			for rank := range hits {
				hits[rank].SourceIndex = index
				hits[rank].Rank = rank
			}
			perIndex[i] = hits
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var all []SearchHit
	for _, hits := range perIndex {
		all = append(all, hits...)
	}
	ranked, approx := RankHits(all, query, opts)

	sort.Strings(failed)
	applog.Debug("[RAG/Aggregator] Search done",
		"indices", len(indices),
		"failed", len(failed),
		"raw_hits", len(all),
		"hits", len(ranked),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return &AggregateResult{
		Hits:           ranked,
		IndicesQueried: len(indices),
		IndicesFailed:  failed,
		Approximate:    approx,
	}, nil
}

// RankHits normalizes similarities, filters by MinSimilarity, removes
// duplicate (index, key) pairs, sorts and truncates to GlobalTopK. Hits with
// genuine similarity always rank ahead of rank-derived ones.
func RankHits(hits []SearchHit, query []float32, opts SearchOptions) ([]SearchHit, bool) {
	opts = opts.withDefaults()

	best := make(map[[2]string]int, len(hits))
	var out []SearchHit
	for _, h := range hits {
		normalizeHit(&h, query, opts.RankStep)
		if h.Similarity <= opts.MinSimilarity {
			continue
		}
		if h.Content == "" {
			if s, ok := h.Metadata["content"].(string); ok {
				h.Content = s
			}
		}
		id := [2]string{h.SourceIndex, h.Key}
		if j, seen := best[id]; seen {
			if h.Similarity > out[j].Similarity {
				out[j] = h
			}
			continue
		}
		best[id] = len(out)
		out = append(out, h)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Approximate != b.Approximate {
			return !a.Approximate
		}
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.Rank != b.Rank {
			return a.Rank < b.Rank
		}
		if a.SourceIndex != b.SourceIndex {
			return a.SourceIndex < b.SourceIndex
		}
		return a.Key < b.Key
	})
	if opts.GlobalTopK > 0 && len(out) > opts.GlobalTopK {
		out = out[:opts.GlobalTopK]
	}

	approx := false
	for _, h := range out {
		approx = approx || h.Approximate
	}
	return out, approx
}

func normalizeHit(h *SearchHit, query []float32, step float64) {
	h.Approximate = false
	switch h.ScoreKind {
	case ScoreCosine:
		h.Similarity = h.Score
	case ScoreDistance:
		h.Similarity = 1 - h.Score
	case ScoreUnitCosine:
		h.Similarity = 2*h.Score - 1
	default:
		if len(h.Vector) > 0 {
			h.Similarity = CosineSimilarity(query, h.Vector)
		} else {
			h.Similarity = 1 - float64(h.Rank)*step
			h.Approximate = true
		}
	}
	if h.Similarity > 1 {
		h.Similarity = 1
	}
	if h.Similarity < -1 {
		h.Similarity = -1
	}
}
