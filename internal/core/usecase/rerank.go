package usecase

import (
	"sort"
	"strings"
	"unicode"
)

// rerankCandidates rescores the top M fused candidates directly against
// the query and reorders them by the new score. Only the head is
// rescored to bound cost; the tail keeps its fusion order.
func rerankCandidates(query string, fused []*fusedCandidate, topM int) {
	if len(fused) == 0 {
		return
	}
	if topM <= 0 || topM > len(fused) {
		topM = len(fused)
	}

	head := fused[:topM]
	queryTokens := tokenSet(query)

	minFused := head[0].fused
	maxFused := head[0].fused
	for _, c := range head[1:] {
		if c.fused < minFused {
			minFused = c.fused
		}
		if c.fused > maxFused {
			maxFused = c.fused
		}
	}
	span := maxFused - minFused

	for _, c := range head {
		normalized := neutralNorm
		if span > 0 {
			normalized = (c.fused - minFused) / span
		}
		overlap := tokenOverlap(queryTokens, tokenSet(c.text))
		c.rerank = 0.65*normalized + 0.35*overlap
	}

	sort.SliceStable(head, func(i, j int) bool {
		if head[i].rerank != head[j].rerank {
			return head[i].rerank > head[j].rerank
		}
		return head[i].chunkID < head[j].chunkID
	})
}

func tokenOverlap(query, chunk map[string]struct{}) float64 {
	if len(query) == 0 || len(chunk) == 0 {
		return 0
	}
	matches := 0
	for token := range query {
		if _, ok := chunk[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

func tokenSet(s string) map[string]struct{} {
	tokens := tokenizeLower(s)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}

func tokenizeLower(s string) []string {
	if s == "" {
		return nil
	}
	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}
