// Package memory orchestrates the record store: deduplicating writes and
// similarity search across the relational store and the vector index.
package memory

import (
	"sort"

	"github.com/hyperjump/kioku/internal/models"
)

// Ranking parameters. These are design constants of the dedup and search
// behavior, not runtime configuration.
const (
	// DedupThreshold is the maximum cosine distance at which a new record
	// is merged into an existing one (inclusive).
	DedupThreshold = 0.15
	// DedupCandidates is how many neighbors the dedup lookup considers.
	DedupCandidates = 5
	// MinSimilarity is the lowest boosted similarity kept in search
	// results (inclusive).
	MinSimilarity = 0.3
	// CurrentProjectBoost is added to the similarity of candidates owned
	// by the caller's current project, capped so similarity never
	// exceeds 1.0.
	CurrentProjectBoost = 0.1
	// SearchOverfetch is how many times limit the index is asked for, to
	// survive the similarity filter.
	SearchOverfetch = 3
)

// isDuplicate reports whether a nearest-neighbor distance is close enough
// to merge. The threshold is inclusive: a candidate at exactly
// DedupThreshold is a duplicate.
func isDuplicate(distance float64) bool {
	return distance <= DedupThreshold
}

// scoredRecord is a search candidate moving through the ranking pipeline.
type scoredRecord struct {
	detail     *models.RecordDetail
	distance   float64
	similarity float64
}

// scoreCandidates computes boosted similarity for each candidate:
// similarity = 1 − distance, plus CurrentProjectBoost when the candidate
// belongs to currentProjectID, capped at 1.0. The boost compares against the
// caller's current project, not the search target project, so same-project
// matches outrank cross-project ones even at slightly larger raw distance.
func scoreCandidates(cands []scoredRecord, currentProjectID int64) []scoredRecord {
	for i := range cands {
		sim := 1 - cands[i].distance
		if cands[i].detail.ProjectID == currentProjectID {
			sim += CurrentProjectBoost
		}
		if sim > 1.0 {
			sim = 1.0
		}
		cands[i].similarity = sim
	}
	return cands
}

// filterCandidates drops candidates whose boosted similarity is below
// MinSimilarity. A candidate at exactly MinSimilarity is kept.
func filterCandidates(cands []scoredRecord) []scoredRecord {
	kept := cands[:0]
	for _, c := range cands {
		if c.similarity >= MinSimilarity {
			kept = append(kept, c)
		}
	}
	return kept
}

// sortCandidates orders candidates descending by boosted similarity. The
// index's ascending-distance order is not final once the boost applies, so
// this is a real re-sort; the sort is stable to keep the closer candidate
// first on ties.
func sortCandidates(cands []scoredRecord) []scoredRecord {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].similarity > cands[j].similarity
	})
	return cands
}

// truncateCandidates keeps at most limit candidates. Fewer survivors than
// limit is normal; the result is never padded.
func truncateCandidates(cands []scoredRecord, limit int) []scoredRecord {
	if limit > 0 && len(cands) > limit {
		return cands[:limit]
	}
	return cands
}

// toResults strips internal bookkeeping (raw distance, index key) and
// returns caller-facing results.
func toResults(cands []scoredRecord) []*models.SearchResult {
	results := make([]*models.SearchResult, len(cands))
	for i, c := range cands {
		results[i] = &models.SearchResult{
			Record:     &c.detail.Record,
			Project:    c.detail.Project,
			Similarity: c.similarity,
		}
	}
	return results
}
