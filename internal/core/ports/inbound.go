package ports

import (
	"context"
	"time"

	"github.com/mkravets/taxcore/internal/core/domain"
)

// TaxonomyService is the inbound contract for structural taxonomy edits
// and versioned reads. Mutations are all-or-nothing per call.
type TaxonomyService interface {
	CreateNode(ctx context.Context, label string, metadata map[string]string) (*domain.TaxonomyNode, error)
	DeprecateNode(ctx context.Context, nodeID string) error
	AddEdge(ctx context.Context, parentID, childID string) (*domain.TaxonomyEdge, error)
	RemoveEdge(ctx context.Context, parentID, childID string) error
	SnapshotVersion(ctx context.Context, label, createdBy string) (*domain.TaxonomyVersion, error)
	Rollback(ctx context.Context, targetVersionID int64, createdBy string) (*domain.TaxonomyVersion, error)
	ResolvePath(ctx context.Context, nodeID string, asOfVersion int64) ([]string, error)
	ActiveNodes(ctx context.Context, asOfVersion int64) ([]domain.TaxonomyNode, error)
}

// ClassificationService assigns subjects to taxonomy nodes.
type ClassificationService interface {
	Classify(ctx context.Context, subject domain.Subject, asOfVersion int64) (*domain.ClassifyResult, error)
}

// ReviewService is the inbound contract for human adjudication.
type ReviewService interface {
	Enqueue(ctx context.Context, candidate domain.AssignmentCandidate, slaMinutes int) (*domain.ReviewItem, error)
	Resolve(ctx context.Context, itemID string, decision domain.ReviewDecision) error
	ListItems(ctx context.Context, filter domain.ReviewFilter) ([]domain.ReviewItem, error)
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}

// SearchService answers hybrid retrieval queries.
type SearchService interface {
	Search(ctx context.Context, query domain.SearchQuery) (*domain.SearchResponse, error)
}

// ChunkIngestor accepts ready-made chunks from the external ingestion
// pipeline and makes them retrievable.
type ChunkIngestor interface {
	IndexChunks(ctx context.Context, chunks []domain.Chunk) error
}
