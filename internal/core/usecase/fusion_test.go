package usecase

import (
	"math"
	"sort"
	"testing"

	"pgregory.net/rapid"

	"github.com/mkravets/taxcore/internal/core/domain"
)

func TestMergeCandidatesJoinsOnChunkID(t *testing.T) {
	lexical := []domain.Candidate{
		{ChunkID: "c-1", DocID: "d-1", Text: "alpha", Score: 3.0},
		{ChunkID: "c-2", DocID: "d-1", Text: "beta", Score: 1.0},
	}
	vector := []domain.Candidate{
		{ChunkID: "c-1", DocID: "d-1", Text: "alpha", Score: 0.9},
		{ChunkID: "c-3", DocID: "d-2", Text: "gamma", Score: 0.4},
	}

	merged := mergeCandidates(lexical, vector)
	if len(merged) != 3 {
		t.Fatalf("expected 3 merged candidates, got %d", len(merged))
	}

	byID := make(map[string]*fusedCandidate, len(merged))
	for _, c := range merged {
		byID[c.chunkID] = c
	}
	both := byID["c-1"]
	if !both.lexHit || !both.vecHit || both.lexRaw != 3.0 || both.vecRaw != 0.9 {
		t.Fatalf("dual-path candidate lost a score: %+v", both)
	}
	if only := byID["c-3"]; only.lexHit || !only.vecHit {
		t.Fatalf("vector-only candidate mislabeled: %+v", only)
	}
}

func TestNormalizeScoresMinMaxPerPath(t *testing.T) {
	candidates := []*fusedCandidate{
		{chunkID: "c-1", lexRaw: 2.0, lexHit: true},
		{chunkID: "c-2", lexRaw: 6.0, lexHit: true},
		{chunkID: "c-3", lexRaw: 4.0, lexHit: true},
		{chunkID: "c-4", vecRaw: 0.5, vecHit: true},
	}
	normalizeScores(candidates)

	if candidates[0].normLex != 0 || candidates[1].normLex != 1 {
		t.Fatalf("min/max not mapped to 0/1: %+v %+v", candidates[0], candidates[1])
	}
	if math.Abs(candidates[2].normLex-0.5) > 1e-9 {
		t.Fatalf("midpoint expected 0.5, got %v", candidates[2].normLex)
	}
	// A chunk the lexical path missed contributes zero from it.
	if candidates[3].normLex != 0 {
		t.Fatalf("missed-path contribution must stay 0, got %v", candidates[3].normLex)
	}
	// Single-hit vector pool has zero range.
	if candidates[3].normVec != neutralNorm {
		t.Fatalf("zero-range pool expected %v, got %v", neutralNorm, candidates[3].normVec)
	}
}

func TestNormalizeScoresZeroRangePool(t *testing.T) {
	candidates := []*fusedCandidate{
		{chunkID: "c-1", lexRaw: 7.0, lexHit: true},
		{chunkID: "c-2", lexRaw: 7.0, lexHit: true},
	}
	normalizeScores(candidates)
	for _, c := range candidates {
		if c.normLex != neutralNorm {
			t.Fatalf("equal raw scores must normalize to %v, got %v", neutralNorm, c.normLex)
		}
	}
}

func TestFuseScoresAppliesWeights(t *testing.T) {
	c := &fusedCandidate{normLex: 0.5, normVec: 1.0}
	fuseScores([]*fusedCandidate{c}, fusionWeights{lexical: 0.4, vector: 0.6})
	if math.Abs(c.fused-0.8) > 1e-9 {
		t.Fatalf("expected fused 0.8, got %v", c.fused)
	}
}

func TestSortFusedDeterministicTieBreaks(t *testing.T) {
	candidates := []*fusedCandidate{
		{chunkID: "c-b", fused: 0.5, vecRaw: 0.2},
		{chunkID: "c-a", fused: 0.5, vecRaw: 0.2},
		{chunkID: "c-c", fused: 0.5, vecRaw: 0.9},
		{chunkID: "c-d", fused: 0.7},
	}
	sortFused(candidates)

	got := []string{candidates[0].chunkID, candidates[1].chunkID, candidates[2].chunkID, candidates[3].chunkID}
	want := []string{"c-d", "c-c", "c-a", "c-b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

// Raising the vector weight must never lower any candidate's fused
// score, and must never demote a candidate below another that it
// already beat while holding an equal or higher vector score.
func TestFuseScoresMonotonicInVectorWeightProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		count := rapid.IntRange(2, 20).Draw(t, "count")
		weightLex := rapid.Float64Range(0, 1).Draw(t, "wlex")
		weightLo := rapid.Float64Range(0, 1).Draw(t, "wlo")
		weightHi := rapid.Float64Range(weightLo, 1).Draw(t, "whi")

		low := make([]*fusedCandidate, count)
		high := make([]*fusedCandidate, count)
		for i := 0; i < count; i++ {
			normLex := rapid.Float64Range(0, 1).Draw(t, "lex")
			normVec := rapid.Float64Range(0, 1).Draw(t, "vec")
			low[i] = &fusedCandidate{normLex: normLex, normVec: normVec}
			high[i] = &fusedCandidate{normLex: normLex, normVec: normVec}
		}
		fuseScores(low, fusionWeights{lexical: weightLex, vector: weightLo})
		fuseScores(high, fusionWeights{lexical: weightLex, vector: weightHi})

		const eps = 1e-9
		for i := 0; i < count; i++ {
			if high[i].fused < low[i].fused-eps {
				t.Fatalf("raising vector weight %v -> %v lowered fused score %v -> %v",
					weightLo, weightHi, low[i].fused, high[i].fused)
			}
			for j := 0; j < count; j++ {
				if low[i].normVec >= low[j].normVec && low[i].fused >= low[j].fused &&
					high[i].fused < high[j].fused-eps {
					t.Fatalf("raising vector weight demoted candidate %d (vec %v) below %d (vec %v)",
						i, low[i].normVec, j, low[j].normVec)
				}
			}
		}
	})
}

// Min-max normalization must keep every value in [0,1] and preserve the
// raw ordering within a path, whatever the score distribution.
func TestNormalizeScoresProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		scores := rapid.SliceOfN(rapid.Float64Range(-1e6, 1e6), 2, 40).Draw(t, "scores")

		candidates := make([]*fusedCandidate, len(scores))
		for i, s := range scores {
			candidates[i] = &fusedCandidate{chunkID: string(rune('a' + i%26)), lexRaw: s, lexHit: true}
		}
		normalizeScores(candidates)

		for _, c := range candidates {
			if c.normLex < 0 || c.normLex > 1 {
				t.Fatalf("normalized score %v out of [0,1]", c.normLex)
			}
		}

		sorted := append([]*fusedCandidate(nil), candidates...)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].lexRaw < sorted[j].lexRaw })
		for i := 1; i < len(sorted); i++ {
			if sorted[i-1].normLex > sorted[i].normLex {
				t.Fatalf("normalization broke ordering: raw %v/%v norm %v/%v",
					sorted[i-1].lexRaw, sorted[i].lexRaw, sorted[i-1].normLex, sorted[i].normLex)
			}
		}
	})
}
