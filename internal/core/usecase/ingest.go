package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mkravets/taxcore/internal/core/domain"
	"github.com/mkravets/taxcore/internal/core/ports"
)

// IngestChunksUseCase accepts ready-made chunks from the external
// ingestion pipeline, fills in missing embeddings, and makes the chunks
// durable and retrievable.
type IngestChunksUseCase struct {
	chunks   ports.ChunkStore
	index    ports.VectorIndex
	embedder ports.Embedder
}

func NewIngestChunksUseCase(chunks ports.ChunkStore, index ports.VectorIndex, embedder ports.Embedder) *IngestChunksUseCase {
	return &IngestChunksUseCase{chunks: chunks, index: index, embedder: embedder}
}

func (uc *IngestChunksUseCase) IndexChunks(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "index chunks", errors.New("no chunks"))
	}

	now := time.Now().UTC()
	var missing []int
	for i := range chunks {
		if strings.TrimSpace(chunks[i].ID) == "" || strings.TrimSpace(chunks[i].DocID) == "" {
			return domain.WrapError(domain.ErrInvalidInput, "index chunks", fmt.Errorf("chunk %d has no id or doc id", i))
		}
		if strings.TrimSpace(chunks[i].Text) == "" {
			return domain.WrapError(domain.ErrInvalidInput, "index chunks", fmt.Errorf("chunk %s has empty text", chunks[i].ID))
		}
		if chunks[i].CreatedAt.IsZero() {
			chunks[i].CreatedAt = now
		}
		if len(chunks[i].Embedding) == 0 {
			missing = append(missing, i)
		}
	}

	if len(missing) > 0 {
		texts := make([]string, 0, len(missing))
		for _, i := range missing {
			texts = append(texts, chunks[i].Text)
		}
		vectors, err := uc.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed chunks: %w", err)
		}
		if len(vectors) != len(missing) {
			return domain.WrapError(domain.ErrInvalidInput, "index chunks",
				fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(missing)))
		}
		for n, i := range missing {
			chunks[i].Embedding = vectors[n]
		}
	}

	if err := uc.chunks.Insert(ctx, chunks); err != nil {
		return fmt.Errorf("persist chunks: %w", err)
	}
	if err := uc.index.IndexChunks(ctx, chunks); err != nil {
		return fmt.Errorf("index chunks: %w", err)
	}
	return nil
}
