// Package index owns the vector indexes built over filing sections: their
// persistence, nearest-neighbor search, and the freshness-managed
// lifecycle coordinated by the Manager.
package index

import (
	"context"
	"math"
	"sort"

	"github.com/finsight-labs/filingrag/internal/domain"
)

// ScoredPassage is one search hit: a passage and its similarity to the
// query vector.
type ScoredPassage struct {
	Passage domain.Passage
	Score   float64
}

// Store persists one IndexEntry per document key and serves
// nearest-neighbor search over it.
//
// Put replaces any prior entry for the key as a single atomic swap;
// a reader concurrent with Put sees either the old snapshot or the new
// one, never a mix. Search returns up to k results by descending cosine
// similarity, ties broken by ascending ordinal, and fails with
// domain.ErrIndexNotBuilt when no entry exists. GetReference is a cheap
// metadata read for freshness checks; it returns nil when absent.
type Store interface {
	Put(ctx context.Context, entry *domain.IndexEntry) error
	Search(ctx context.Context, key domain.DocumentKey, queryVec []float32, k int) ([]ScoredPassage, error)
	GetReference(ctx context.Context, key domain.DocumentKey) (*domain.FilingReference, error)
	ListKeys(ctx context.Context) ([]domain.DocumentKey, error)
	Clear(ctx context.Context, key domain.DocumentKey) error
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Zero vectors score zero.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// rankPassages scores every passage against the query vector and returns
// the top k, descending by score with ties broken by ascending ordinal so
// results are deterministic.
func rankPassages(passages []domain.Passage, queryVec []float32, k int) []ScoredPassage {
	scored := make([]ScoredPassage, 0, len(passages))
	for _, p := range passages {
		scored = append(scored, ScoredPassage{
			Passage: p,
			Score:   cosineSimilarity(p.Embedding, queryVec),
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Passage.Ordinal < scored[j].Passage.Ordinal
	})

	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored
}
