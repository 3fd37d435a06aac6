package httpadapter

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mkravets/taxcore/internal/config"
	"github.com/mkravets/taxcore/internal/core/domain"
	"github.com/mkravets/taxcore/internal/core/ports"
	"github.com/mkravets/taxcore/internal/observability/metrics"
)

const serviceName = "api"

type Router struct {
	cfg      config.Config
	taxonomy ports.TaxonomyService
	classify ports.ClassificationService
	review   ports.ReviewService
	search   ports.SearchService
	ingestor ports.ChunkIngestor
	subjects ports.SubjectStore
	queue    ports.MessageQueue
	metrics  *metrics.HTTPServerMetrics
}

func NewRouter(
	cfg config.Config,
	taxonomy ports.TaxonomyService,
	classify ports.ClassificationService,
	review ports.ReviewService,
	search ports.SearchService,
	ingestor ports.ChunkIngestor,
	subjects ports.SubjectStore,
	queue ports.MessageQueue,
	m *metrics.HTTPServerMetrics,
) *Router {
	return &Router{
		cfg:      cfg,
		taxonomy: taxonomy,
		classify: classify,
		review:   review,
		search:   search,
		ingestor: ingestor,
		subjects: subjects,
		queue:    queue,
		metrics:  m,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/search", rt.handleSearch)
	mux.HandleFunc("/v1/classify", rt.handleClassify)
	mux.HandleFunc("/v1/chunks", rt.handleIngestChunks)
	mux.HandleFunc("/v1/taxonomy/nodes", rt.handleNodes)
	mux.HandleFunc("/v1/taxonomy/nodes/", rt.handleNodeByID)
	mux.HandleFunc("/v1/taxonomy/edges", rt.handleEdges)
	mux.HandleFunc("/v1/taxonomy/versions", rt.handleSnapshot)
	mux.HandleFunc("/v1/taxonomy/rollback", rt.handleRollback)
	mux.HandleFunc("/v1/review/items", rt.handleListReviewItems)
	mux.HandleFunc("/v1/review/items/", rt.handleResolveReviewItem)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, 100*time.Millisecond)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var query domain.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	start := time.Now()
	response, err := rt.search.Search(r.Context(), query)
	if err != nil {
		writeError(w, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordSearch(serviceName, string(query.ScopeMode), len(response.Results), response.DegradedPaths, time.Since(start))
	}
	writeJSON(w, http.StatusOK, response)
}

func (rt *Router) handleClassify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req struct {
		SubjectID string `json:"subject_id"`
		Text      string `json:"text"`
		Version   int64  `json:"version"`
		Async     bool   `json:"async"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.SubjectID) == "" || strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "subject_id and text are required"})
		return
	}

	subject := domain.Subject{ID: req.SubjectID, Text: req.Text}

	if req.Async {
		if err := rt.subjects.PutSubject(r.Context(), &subject); err != nil {
			writeError(w, err)
			return
		}
		if err := rt.queue.PublishSubjectQueued(r.Context(), subject.ID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"subject_id": subject.ID, "status": "queued"})
		return
	}

	result, err := rt.classify.Classify(r.Context(), subject, req.Version)
	if err != nil {
		writeError(w, err)
		return
	}
	if rt.metrics != nil {
		for _, decision := range result.Decisions {
			rt.metrics.RecordClassifyOutcome(serviceName, string(decision.Outcome), string(decision.Candidate.Method))
		}
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) handleIngestChunks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req struct {
		Chunks []domain.Chunk `json:"chunks"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if len(req.Chunks) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "chunks are required"})
		return
	}

	if err := rt.ingestor.IndexChunks(r.Context(), req.Chunks); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"indexed": len(req.Chunks)})
}

func (rt *Router) handleNodes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Label    string            `json:"label"`
			Metadata map[string]string `json:"metadata"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}

		node, err := rt.taxonomy.CreateNode(r.Context(), req.Label, req.Metadata)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, node)

	case http.MethodGet:
		version, err := versionParam(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid version"})
			return
		}

		nodes, err := rt.taxonomy.ActiveNodes(r.Context(), version)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes})

	default:
		writeMethodNotAllowed(w)
	}
}

func (rt *Router) handleNodeByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/taxonomy/nodes/")
	if rest == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "node id is required"})
		return
	}

	if nodeID, ok := strings.CutSuffix(rest, "/path"); ok {
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		version, err := versionParam(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid version"})
			return
		}

		path, err := rt.taxonomy.ResolvePath(r.Context(), nodeID, version)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"node_id": nodeID, "path": path})
		return
	}

	if r.Method != http.MethodDelete {
		writeMethodNotAllowed(w)
		return
	}
	if err := rt.taxonomy.DeprecateNode(r.Context(), rest); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) handleEdges(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParentID string `json:"parent_id"`
		ChildID  string `json:"child_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	switch r.Method {
	case http.MethodPost:
		edge, err := rt.taxonomy.AddEdge(r.Context(), req.ParentID, req.ChildID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, edge)

	case http.MethodDelete:
		if err := rt.taxonomy.RemoveEdge(r.Context(), req.ParentID, req.ChildID); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeMethodNotAllowed(w)
	}
}

func (rt *Router) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req struct {
		Label     string `json:"label"`
		CreatedBy string `json:"created_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	version, err := rt.taxonomy.SnapshotVersion(r.Context(), req.Label, req.CreatedBy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, version)
}

func (rt *Router) handleRollback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req struct {
		TargetVersion int64  `json:"target_version"`
		CreatedBy     string `json:"created_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	version, err := rt.taxonomy.Rollback(r.Context(), req.TargetVersion, req.CreatedBy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, version)
}

func (rt *Router) handleListReviewItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	filter := domain.ReviewFilter{
		Status:  domain.ReviewStatus(r.URL.Query().Get("status")),
		NodeID:  r.URL.Query().Get("node_id"),
		AfterID: r.URL.Query().Get("after_id"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		filter.Limit = limit
	}

	items, err := rt.review.ListItems(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (rt *Router) handleResolveReviewItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/review/items/")
	itemID, ok := strings.CutSuffix(rest, "/resolve")
	if !ok || itemID == "" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var decision domain.ReviewDecision
	if err := json.NewDecoder(r.Body).Decode(&decision); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	if err := rt.review.Resolve(r.Context(), itemID, decision); err != nil {
		writeError(w, err)
		return
	}
	if rt.metrics != nil {
		outcome := "accepted"
		if decision.Reject {
			outcome = "rejected"
		}
		rt.metrics.RecordReviewResolved(serviceName, outcome)
	}
	w.WriteHeader(http.StatusNoContent)
}

func versionParam(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("version")
	if raw == "" {
		return domain.VersionHead, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
