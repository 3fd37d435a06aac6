package domain

type ScopeMode string

const (
	ScopeModeNone     ScopeMode = ""
	ScopeModeRestrict ScopeMode = "restrict"
	ScopeModeBoost    ScopeMode = "boost"
)

// SearchQuery carries one retrieval request. Weight overrides are
// optional; nil means the deployment default applies.
type SearchQuery struct {
	Text          string    `json:"text"`
	TopK          int       `json:"top_k"`
	ScopeNodeID   string    `json:"scope_node_id,omitempty"`
	ScopeMode     ScopeMode `json:"scope_mode,omitempty"`
	WeightLexical *float64  `json:"weight_lexical,omitempty"`
	WeightVector  *float64  `json:"weight_vector,omitempty"`
}

// Candidate is one raw hit from a single retrieval path, before
// normalization and fusion.
type Candidate struct {
	ChunkID string  `json:"chunk_id"`
	DocID   string  `json:"doc_id"`
	Text    string  `json:"text"`
	Score   float64 `json:"score"`
}

// Explain exposes every component that contributed to a result's final
// position, for audit and offline evaluation.
type Explain struct {
	LexicalScore  float64  `json:"lexical_score"`
	VectorScore   float64  `json:"vector_score"`
	NormLexical   float64  `json:"norm_lexical"`
	NormVector    float64  `json:"norm_vector"`
	FusedScore    float64  `json:"fused_score"`
	RerankScore   float64  `json:"rerank_score"`
	ScopeBoosted  bool     `json:"scope_boosted,omitempty"`
	MatchedNodes  []string `json:"matched_nodes,omitempty"`
	TaxonomyPath  []string `json:"taxonomy_path,omitempty"`
	LexicalHit    bool     `json:"lexical_hit"`
	VectorHit     bool     `json:"vector_hit"`
	WeightLexical float64  `json:"weight_lexical"`
	WeightVector  float64  `json:"weight_vector"`
}

type SearchResult struct {
	ChunkID string  `json:"chunk_id"`
	DocID   string  `json:"doc_id"`
	Text    string  `json:"text"`
	Score   float64 `json:"score"`
	Explain Explain `json:"explain"`
}

// SearchResponse flags partial degradation: a single failed retrieval
// path yields degraded=true rather than a hard failure.
type SearchResponse struct {
	Results       []SearchResult `json:"results"`
	Degraded      bool           `json:"degraded"`
	DegradedPaths []string       `json:"degraded_paths,omitempty"`
}
