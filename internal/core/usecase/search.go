package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mkravets/taxcore/internal/core/domain"
	"github.com/mkravets/taxcore/internal/core/ports"
)

type SearchPolicy struct {
	DefaultTopK         int
	MinCandidates       int
	CandidateMultiplier int
	RerankTopM          int
	WeightLexical       float64
	WeightVector        float64
	ScopeBoostFactor    float64
}

func (p SearchPolicy) normalize() SearchPolicy {
	out := p
	if out.DefaultTopK <= 0 {
		out.DefaultTopK = 5
	}
	if out.MinCandidates <= 0 {
		out.MinCandidates = 50
	}
	if out.CandidateMultiplier <= 0 {
		out.CandidateMultiplier = 5
	}
	if out.RerankTopM <= 0 {
		out.RerankTopM = 20
	}
	if out.WeightLexical <= 0 && out.WeightVector <= 0 {
		out.WeightLexical = 0.4
		out.WeightVector = 0.6
	}
	if out.ScopeBoostFactor <= 0 {
		out.ScopeBoostFactor = 1.25
	}
	return out
}

type SearchUseCase struct {
	embedder    ports.Embedder
	index       ports.VectorIndex
	assignments ports.AssignmentStore
	taxonomy    ports.TaxonomyService
	policy      SearchPolicy
	logger      *slog.Logger
}

func NewSearchUseCase(
	embedder ports.Embedder,
	index ports.VectorIndex,
	assignments ports.AssignmentStore,
	taxonomy ports.TaxonomyService,
	policy SearchPolicy,
	logger *slog.Logger,
) *SearchUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchUseCase{
		embedder:    embedder,
		index:       index,
		assignments: assignments,
		taxonomy:    taxonomy,
		policy:      policy.normalize(),
		logger:      logger,
	}
}

// Search fans out to the lexical and vector paths concurrently, joins
// before fusion, and degrades to the surviving path when one fails.
// Only the failure of both paths is a hard error.
func (uc *SearchUseCase) Search(ctx context.Context, query domain.SearchQuery) (*domain.SearchResponse, error) {
	if strings.TrimSpace(query.Text) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search", errors.New("query text is empty"))
	}
	topK := query.TopK
	if topK <= 0 {
		topK = uc.policy.DefaultTopK
	}
	overFetch := uc.policy.CandidateMultiplier * topK
	if overFetch < uc.policy.MinCandidates {
		overFetch = uc.policy.MinCandidates
	}

	lexical, vector, degraded, err := uc.retrieveBothPaths(ctx, query.Text, overFetch)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	candidates := mergeCandidates(lexical, vector)

	scope := scopeFilter{}
	if query.ScopeNodeID != "" {
		mode := query.ScopeMode
		if mode == domain.ScopeModeNone {
			mode = domain.ScopeModeRestrict
		}
		scope, err = uc.buildScopeFilter(ctx, query.ScopeNodeID, candidates)
		if err != nil {
			return nil, err
		}
		scope.mode = mode
		candidates = scope.apply(candidates)
	}

	weights := fusionWeights{lexical: uc.policy.WeightLexical, vector: uc.policy.WeightVector}
	if query.WeightLexical != nil {
		weights.lexical = *query.WeightLexical
	}
	if query.WeightVector != nil {
		weights.vector = *query.WeightVector
	}

	normalizeScores(candidates)
	fuseScores(candidates, weights)
	if scope.mode == domain.ScopeModeBoost {
		for _, c := range candidates {
			if c.scopeMatched {
				c.fused *= uc.policy.ScopeBoostFactor
				c.scopeBoosted = true
			}
		}
	}
	sortFused(candidates)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	topM := uc.policy.RerankTopM
	if topM < topK {
		topM = topK
	}
	rerankCandidates(query.Text, candidates, topM)

	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	response := &domain.SearchResponse{
		Results:       make([]domain.SearchResult, 0, len(candidates)),
		Degraded:      len(degraded) > 0,
		DegradedPaths: degraded,
	}
	for _, c := range candidates {
		response.Results = append(response.Results, uc.toResult(ctx, c, weights, scope))
	}
	return response, nil
}

func (uc *SearchUseCase) retrieveBothPaths(ctx context.Context, text string, limit int) (lexical, vector []domain.Candidate, degraded []string, err error) {
	var wg sync.WaitGroup
	var lexErr, vecErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		lexical, lexErr = uc.index.SearchSparse(ctx, text, limit)
	}()
	go func() {
		defer wg.Done()
		queryVector, embedErr := uc.embedder.EmbedQuery(ctx, text)
		if embedErr != nil {
			vecErr = fmt.Errorf("embed query: %w", embedErr)
			return
		}
		vector, vecErr = uc.index.SearchDense(ctx, queryVector, limit)
	}()
	wg.Wait()

	switch {
	case lexErr != nil && vecErr != nil:
		return nil, nil, nil, domain.WrapError(domain.ErrRetrievalUnavailable, "search",
			fmt.Errorf("lexical: %w; vector: %w", lexErr, vecErr))
	case lexErr != nil:
		uc.logger.Warn("search_path_degraded", "path", "lexical", "error", lexErr)
		return nil, vector, []string{"lexical"}, nil
	case vecErr != nil:
		uc.logger.Warn("search_path_degraded", "path", "vector", "error", vecErr)
		return lexical, nil, []string{"vector"}, nil
	default:
		return lexical, vector, nil, nil
	}
}

// scopeFilter resolves which candidates carry an active assignment on
// the scope node or one of its descendants.
type scopeFilter struct {
	mode      domain.ScopeMode
	nodeID    string
	matched   map[string][]string // doc id -> matched node ids
	pathCache map[string][]string // node id -> ancestor path
}

func (uc *SearchUseCase) buildScopeFilter(ctx context.Context, scopeNodeID string, candidates []*fusedCandidate) (scopeFilter, error) {
	// Validates the scope node as a side effect: an unknown node is a
	// hard failure, not a degraded response.
	if _, err := uc.taxonomy.ResolvePath(ctx, scopeNodeID, domain.VersionHead); err != nil {
		return scopeFilter{}, err
	}

	docIDs := make([]string, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if c.docID == "" || seen[c.docID] {
			continue
		}
		seen[c.docID] = true
		docIDs = append(docIDs, c.docID)
	}

	assigned, err := uc.assignments.ActiveNodesForSubjects(ctx, docIDs)
	if err != nil {
		return scopeFilter{}, fmt.Errorf("load assignments for scope: %w", err)
	}

	filter := scopeFilter{
		nodeID:    scopeNodeID,
		matched:   make(map[string][]string),
		pathCache: make(map[string][]string),
	}
	for docID, nodeIDs := range assigned {
		for _, nodeID := range nodeIDs {
			inScope, err := uc.nodeInScope(ctx, nodeID, scopeNodeID, filter.pathCache)
			if err != nil {
				return scopeFilter{}, err
			}
			if inScope {
				filter.matched[docID] = append(filter.matched[docID], nodeID)
			}
		}
	}
	return filter, nil
}

// nodeInScope is true when nodeID equals the scope node or has it as an
// ancestor, i.e. the assignment sits inside the scoped subtree.
func (uc *SearchUseCase) nodeInScope(ctx context.Context, nodeID, scopeNodeID string, cache map[string][]string) (bool, error) {
	if nodeID == scopeNodeID {
		return true, nil
	}
	ancestors, ok := cache[nodeID]
	if !ok {
		var err error
		ancestors, err = uc.taxonomy.ResolvePath(ctx, nodeID, domain.VersionHead)
		if err != nil {
			// An assignment may reference a node absent from the head
			// version after a rollback; treat it as out of scope.
			if domain.IsKind(err, domain.ErrUnknownNode) {
				cache[nodeID] = nil
				return false, nil
			}
			return false, err
		}
		cache[nodeID] = ancestors
	}
	for _, ancestor := range ancestors {
		if ancestor == scopeNodeID {
			return true, nil
		}
	}
	return false, nil
}

func (f scopeFilter) apply(candidates []*fusedCandidate) []*fusedCandidate {
	for _, c := range candidates {
		if nodes, ok := f.matched[c.docID]; ok && len(nodes) > 0 {
			c.scopeMatched = true
			c.matchedNodes = nodes
		}
	}
	if f.mode != domain.ScopeModeRestrict {
		return candidates
	}
	kept := candidates[:0]
	for _, c := range candidates {
		if c.scopeMatched {
			kept = append(kept, c)
		}
	}
	return kept
}

func (uc *SearchUseCase) toResult(ctx context.Context, c *fusedCandidate, weights fusionWeights, scope scopeFilter) domain.SearchResult {
	explain := domain.Explain{
		LexicalScore:  c.lexRaw,
		VectorScore:   c.vecRaw,
		NormLexical:   c.normLex,
		NormVector:    c.normVec,
		FusedScore:    c.fused,
		RerankScore:   c.rerank,
		ScopeBoosted:  c.scopeBoosted,
		MatchedNodes:  c.matchedNodes,
		LexicalHit:    c.lexHit,
		VectorHit:     c.vecHit,
		WeightLexical: weights.lexical,
		WeightVector:  weights.vector,
	}
	if len(c.matchedNodes) > 0 {
		nodeID := c.matchedNodes[0]
		if ancestors, ok := scope.pathCache[nodeID]; ok {
			explain.TaxonomyPath = append([]string{nodeID}, ancestors...)
		} else if ancestors, err := uc.taxonomy.ResolvePath(ctx, nodeID, domain.VersionHead); err == nil {
			explain.TaxonomyPath = append([]string{nodeID}, ancestors...)
		}
	}

	return domain.SearchResult{
		ChunkID: c.chunkID,
		DocID:   c.docID,
		Text:    c.text,
		Score:   c.rerank,
		Explain: explain,
	}
}
