package usecase

import (
	"sort"

	"github.com/mkravets/taxcore/internal/core/domain"
)

// neutralNorm is the normalized score assigned to every candidate in a
// zero-range pool (all raw scores equal), instead of dividing by zero.
const neutralNorm = 0.5

type fusionWeights struct {
	lexical float64
	vector  float64
}

// fusedCandidate accumulates one chunk's scores across both retrieval
// paths and the later pipeline stages.
type fusedCandidate struct {
	chunkID string
	docID   string
	text    string

	lexRaw float64
	vecRaw float64
	lexHit bool
	vecHit bool

	normLex float64
	normVec float64
	fused   float64

	scopeMatched bool
	scopeBoosted bool
	matchedNodes []string

	rerank float64
}

// mergeCandidates joins the two candidate pools on chunk id. A chunk
// seen by both paths keeps both raw scores.
func mergeCandidates(lexical, vector []domain.Candidate) []*fusedCandidate {
	byChunk := make(map[string]*fusedCandidate, len(lexical)+len(vector))
	order := make([]*fusedCandidate, 0, len(lexical)+len(vector))

	get := func(c domain.Candidate) *fusedCandidate {
		if existing, ok := byChunk[c.ChunkID]; ok {
			if existing.text == "" {
				existing.text = c.Text
			}
			if existing.docID == "" {
				existing.docID = c.DocID
			}
			return existing
		}
		fc := &fusedCandidate{chunkID: c.ChunkID, docID: c.DocID, text: c.Text}
		byChunk[c.ChunkID] = fc
		order = append(order, fc)
		return fc
	}

	for _, c := range lexical {
		fc := get(c)
		fc.lexRaw = c.Score
		fc.lexHit = true
	}
	for _, c := range vector {
		fc := get(c)
		fc.vecRaw = c.Score
		fc.vecHit = true
	}
	return order
}

// normalizeScores min-max normalizes each path against its own
// candidate pool. Chunks missed by a path contribute zero from it.
func normalizeScores(candidates []*fusedCandidate) {
	normalizePath(candidates,
		func(c *fusedCandidate) (float64, bool) { return c.lexRaw, c.lexHit },
		func(c *fusedCandidate, v float64) { c.normLex = v },
	)
	normalizePath(candidates,
		func(c *fusedCandidate) (float64, bool) { return c.vecRaw, c.vecHit },
		func(c *fusedCandidate, v float64) { c.normVec = v },
	)
}

func normalizePath(candidates []*fusedCandidate, raw func(*fusedCandidate) (float64, bool), set func(*fusedCandidate, float64)) {
	var minScore, maxScore float64
	seen := false
	for _, c := range candidates {
		score, hit := raw(c)
		if !hit {
			continue
		}
		if !seen {
			minScore, maxScore = score, score
			seen = true
			continue
		}
		if score < minScore {
			minScore = score
		}
		if score > maxScore {
			maxScore = score
		}
	}
	if !seen {
		return
	}

	span := maxScore - minScore
	for _, c := range candidates {
		score, hit := raw(c)
		if !hit {
			continue
		}
		if span <= 0 {
			set(c, neutralNorm)
			continue
		}
		set(c, (score-minScore)/span)
	}
}

func fuseScores(candidates []*fusedCandidate, weights fusionWeights) {
	for _, c := range candidates {
		c.fused = weights.lexical*c.normLex + weights.vector*c.normVec
	}
}

// sortFused orders by fused score; ties break by raw vector similarity,
// then lexical score, then chunk id, so rankings are deterministic.
func sortFused(candidates []*fusedCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].fused != candidates[j].fused {
			return candidates[i].fused > candidates[j].fused
		}
		if candidates[i].vecRaw != candidates[j].vecRaw {
			return candidates[i].vecRaw > candidates[j].vecRaw
		}
		if candidates[i].lexRaw != candidates[j].lexRaw {
			return candidates[i].lexRaw > candidates[j].lexRaw
		}
		return candidates[i].chunkID < candidates[j].chunkID
	})
}
