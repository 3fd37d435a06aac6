package ports

import (
	"context"
	"time"

	"github.com/mkravets/taxcore/internal/core/domain"
)

// TaxonomyStore persists the append-only node/edge/version history.
// Rows carry introduced/removed version bounds and are never deleted.
type TaxonomyStore interface {
	InsertNode(ctx context.Context, node *domain.TaxonomyNode) error
	GetNode(ctx context.Context, nodeID string) (*domain.TaxonomyNode, error)
	// DeprecateNode ends the node's active row at atVersion and inserts
	// a successor row carrying the deprecated status, so reads as of
	// earlier versions still see the node active. Returns 0 when no
	// active row exists.
	DeprecateNode(ctx context.Context, nodeID string, atVersion int64) (int64, error)
	InsertEdge(ctx context.Context, edge *domain.TaxonomyEdge) error
	EndEdge(ctx context.Context, parentID, childID string, removedIn int64) (int64, error)
	NodesAsOf(ctx context.Context, version int64) ([]domain.TaxonomyNode, error)
	EdgesAsOf(ctx context.Context, version int64) ([]domain.TaxonomyEdge, error)
	HeadVersion(ctx context.Context) (int64, error)
	InsertVersion(ctx context.Context, version *domain.TaxonomyVersion) error
	GetVersion(ctx context.Context, versionID int64) (*domain.TaxonomyVersion, error)
	// ApplyRollback ends the given rows and re-introduces the revived
	// ones in a single transaction, then records the new version.
	ApplyRollback(ctx context.Context, version *domain.TaxonomyVersion, endNodes, endEdges []string, reviveNodes []domain.TaxonomyNode, reviveEdges []domain.TaxonomyEdge) error
}

// AssignmentStore owns the doc-taxonomy mapping with full history.
type AssignmentStore interface {
	// Commit supersedes any active assignment for the same
	// (subject, node) pair and inserts the new one atomically.
	Commit(ctx context.Context, assignment *domain.Assignment) error
	ActiveBySubject(ctx context.Context, subjectID string) ([]domain.Assignment, error)
	ActiveNodesForSubjects(ctx context.Context, subjectIDs []string) (map[string][]string, error)
}

// ReviewStore persists review items, their resolutions, and the
// feedback log.
type ReviewStore interface {
	Insert(ctx context.Context, item *domain.ReviewItem) error
	Get(ctx context.Context, itemID string) (*domain.ReviewItem, error)
	// ResolveCommit performs the optimistic pending->resolved
	// transition, the resulting assignment write (nil on reject), and
	// the feedback append in one transaction. Returns
	// domain.ErrAlreadyResolved when the item lost the race.
	ResolveCommit(ctx context.Context, itemID string, resolution domain.Resolution, assignment *domain.Assignment, feedback *domain.FeedbackRecord) error
	List(ctx context.Context, filter domain.ReviewFilter) ([]domain.ReviewItem, error)
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}

// ChunkStore persists chunk metadata keyed by chunk id.
type ChunkStore interface {
	Insert(ctx context.Context, chunks []domain.Chunk) error
	GetByIDs(ctx context.Context, chunkIDs []string) ([]domain.Chunk, error)
}

// VectorIndex serves both retrieval paths: dense nearest-neighbor and
// sparse lexical ranking over the same chunk collection.
type VectorIndex interface {
	IndexChunks(ctx context.Context, chunks []domain.Chunk) error
	SearchDense(ctx context.Context, queryVector []float32, limit int) ([]domain.Candidate, error)
	SearchSparse(ctx context.Context, queryText string, limit int) ([]domain.Candidate, error)
}

// Embedder builds vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// ModelClassifier is the external classification capability. A timeout
// or malformed response is surfaced as an error and treated upstream as
// "no model result", never as a request failure.
type ModelClassifier interface {
	ClassifyText(ctx context.Context, text string, allowed []domain.LabelOption) (*domain.ModelChoice, error)
}

// MessageQueue moves classification work to the worker.
type MessageQueue interface {
	PublishSubjectQueued(ctx context.Context, subjectID string) error
	SubscribeSubjectQueued(ctx context.Context, handler func(context.Context, string) error) error
}

// SubjectStore lets the worker load queued subject text by id.
type SubjectStore interface {
	GetSubject(ctx context.Context, subjectID string) (*domain.Subject, error)
	PutSubject(ctx context.Context, subject *domain.Subject) error
}
