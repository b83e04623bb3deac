package rag

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedStore returns canned hits per index.
type scriptedStore struct {
	hits    map[string][]SearchHit
	fail    map[string]error
	indices []string
	listErr error
	queried []string
}

func (s *scriptedStore) CreateIndex(context.Context, string, int, string) (bool, error) {
	return true, nil
}

func (s *scriptedStore) Upsert(_ context.Context, _ string, records []VectorRecord) (*UpsertResult, error) {
	return &UpsertResult{Upserted: len(records)}, nil
}

func (s *scriptedStore) Query(_ context.Context, index string, _ []float32, topK int) ([]SearchHit, error) {
	if err := s.fail[index]; err != nil {
		return nil, err
	}
	hits := append([]SearchHit(nil), s.hits[index]...)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *scriptedStore) ListIndices(context.Context) ([]string, error) {
	return s.indices, s.listErr
}

func (s *scriptedStore) DeleteRecords(context.Context, string, []string) error { return nil }

func cosineHits(prefix string, scores ...float64) []SearchHit {
	hits := make([]SearchHit, len(scores))
	for i, sc := range scores {
		hits[i] = SearchHit{
			Key:       fmt.Sprintf("%s:%d", prefix, i),
			Score:     sc,
			ScoreKind: ScoreCosine,
			Metadata:  map[string]any{MetaContent: fmt.Sprintf("content %s %d", prefix, i)},
		}
	}
	return hits
}

func keys(hits []SearchHit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Key
	}
	return out
}

func TestSearchFiltersBySimilarity(t *testing.T) {
	store := &scriptedStore{hits: map[string][]SearchHit{
		"a": cosineHits("a", 0.95, 0.71, 0.70, 0.2),
	}}
	res, err := NewAggregator(store).Search(context.Background(), []float32{1}, []string{"a"},
		SearchOptions{TopKPerIndex: 10, GlobalTopK: 10, MinSimilarity: 0.7})
	require.NoError(t, err)

	assert.Equal(t, []string{"a:0", "a:1"}, keys(res.Hits), "0.70 is at the threshold and dropped")
	assert.Equal(t, "content a 0", res.Hits[0].Content)
	assert.False(t, res.Approximate)
}

func TestSearchMergesAcrossIndices(t *testing.T) {
	store := &scriptedStore{hits: map[string][]SearchHit{
		"a": cosineHits("a", 0.99, 0.80, 0.75, 0.74, 0.73),
		"b": cosineHits("b", 0.98, 0.97, 0.72, 0.71, 0.705),
	}}
	res, err := NewAggregator(store).Search(context.Background(), []float32{1}, []string{"a", "b"},
		SearchOptions{TopKPerIndex: 5, GlobalTopK: 3, MinSimilarity: 0.1})
	require.NoError(t, err)
	assert.Equal(t, []string{"a:0", "b:0", "b:1"}, keys(res.Hits))
	assert.Equal(t, 2, res.IndicesQueried)
}

func TestSearchSkipsFailingIndex(t *testing.T) {
	store := &scriptedStore{
		hits: map[string][]SearchHit{"good": cosineHits("good", 0.9)},
		fail: map[string]error{"bad": errors.New("index_not_found_exception")},
	}
	res, err := NewAggregator(store).Search(context.Background(), []float32{1}, []string{"bad", "good"},
		SearchOptions{MinSimilarity: 0.5})
	require.NoError(t, err)
	assert.Equal(t, []string{"good:0"}, keys(res.Hits))
	assert.Equal(t, []string{"bad"}, res.IndicesFailed)
}

func TestSearchEmptyIsNotAnError(t *testing.T) {
	store := &scriptedStore{hits: map[string][]SearchHit{"a": cosineHits("a", 0.3, 0.1)}}
	res, err := NewAggregator(store).Search(context.Background(), []float32{1}, []string{"a", "empty"},
		SearchOptions{MinSimilarity: 0.7})
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
}

func TestSearchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewAggregator(&scriptedStore{}).Search(ctx, []float32{1}, []string{"a"}, SearchOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRankHitsNormalizesScoreKinds(t *testing.T) {
	query := []float32{1, 0}
	hits := []SearchHit{
		{Key: "cos", SourceIndex: "i", Score: 0.8, ScoreKind: ScoreCosine},
		{Key: "dist", SourceIndex: "i", Score: 0.1, ScoreKind: ScoreDistance},
		{Key: "unit", SourceIndex: "i", Score: 0.95, ScoreKind: ScoreUnitCosine},
		{Key: "vec", SourceIndex: "i", ScoreKind: ScoreNone, Vector: []float32{1, 1}},
		{Key: "zero", SourceIndex: "i", ScoreKind: ScoreNone, Vector: []float32{0, 0}},
	}
	out, approx := RankHits(hits, query, SearchOptions{MinSimilarity: -1})
	require.False(t, approx)

	sims := map[string]float64{}
	for _, h := range out {
		sims[h.Key] = h.Similarity
	}
	assert.InDelta(t, 0.8, sims["cos"], 1e-9)
	assert.InDelta(t, 0.9, sims["dist"], 1e-9)
	assert.InDelta(t, 0.9, sims["unit"], 1e-9)
	assert.InDelta(t, 0.7071, sims["vec"], 1e-4)
	assert.InDelta(t, 0.0, sims["zero"], 1e-9)
}

func TestRankHitsKeepsApproximateScoresApart(t *testing.T) {
	hits := []SearchHit{
		{Key: "r0", SourceIndex: "unscored", Rank: 0, ScoreKind: ScoreNone},
		{Key: "r1", SourceIndex: "unscored", Rank: 1, ScoreKind: ScoreNone},
		{Key: "c", SourceIndex: "scored", Score: 0.75, ScoreKind: ScoreCosine},
	}
	out, approx := RankHits(hits, []float32{1}, SearchOptions{MinSimilarity: 0.5})
	assert.True(t, approx)
	assert.Equal(t, []string{"c", "r0", "r1"}, keys(out), "genuine similarity ranks first")
	assert.True(t, out[1].Approximate)
	assert.InDelta(t, 0.95, out[2].Similarity, 1e-9)
}

func TestRankHitsTieBreaksAndDedup(t *testing.T) {
	hits := []SearchHit{
		{Key: "x", SourceIndex: "b", Rank: 2, Score: 0.9, ScoreKind: ScoreCosine},
		{Key: "y", SourceIndex: "a", Rank: 1, Score: 0.9, ScoreKind: ScoreCosine},
		{Key: "z", SourceIndex: "a", Rank: 2, Score: 0.9, ScoreKind: ScoreCosine},
		{Key: "y", SourceIndex: "a", Rank: 3, Score: 0.8, ScoreKind: ScoreCosine},
		{Key: "y", SourceIndex: "b", Rank: 0, Score: 0.8, ScoreKind: ScoreCosine},
	}
	out, _ := RankHits(hits, nil, SearchOptions{MinSimilarity: 0})
	require.Len(t, out, 4)
	assert.Equal(t, "a/y", out[0].SourceIndex+"/"+out[0].Key)
	assert.Equal(t, "a/z", out[1].SourceIndex+"/"+out[1].Key)
	assert.Equal(t, "b/x", out[2].SourceIndex+"/"+out[2].Key)
	assert.Equal(t, "b/y", out[3].SourceIndex+"/"+out[3].Key)
}
