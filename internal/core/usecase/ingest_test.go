package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/mkravets/taxcore/internal/core/domain"
)

type memChunkStore struct {
	inserted []domain.Chunk
}

func (s *memChunkStore) Insert(_ context.Context, chunks []domain.Chunk) error {
	s.inserted = append(s.inserted, chunks...)
	return nil
}

func (s *memChunkStore) GetByIDs(context.Context, []string) ([]domain.Chunk, error) {
	return nil, nil
}

type countingEmbedder struct {
	vector []float32
	texts  []string
	err    error
	short  bool
}

func (e *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.texts = append(e.texts, texts...)
	if e.err != nil {
		return nil, e.err
	}
	n := len(texts)
	if e.short {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		out[i] = e.vector
	}
	return out, nil
}

func (e *countingEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return e.vector, nil
}

func TestIndexChunksRejectsEmptyAndIncomplete(t *testing.T) {
	uc := NewIngestChunksUseCase(&memChunkStore{}, &stubIndex{}, &countingEmbedder{})

	if err := uc.IndexChunks(context.Background(), nil); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty batch, got %v", err)
	}
	if err := uc.IndexChunks(context.Background(), []domain.Chunk{{ID: "c-1", Text: "x"}}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for missing doc id, got %v", err)
	}
	if err := uc.IndexChunks(context.Background(), []domain.Chunk{{ID: "c-1", DocID: "d-1", Text: "  "}}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty text, got %v", err)
	}
}

func TestIndexChunksEmbedsOnlyMissingVectors(t *testing.T) {
	store := &memChunkStore{}
	index := &stubIndex{}
	embedder := &countingEmbedder{vector: []float32{0.1, 0.2}}
	uc := NewIngestChunksUseCase(store, index, embedder)

	chunks := []domain.Chunk{
		{ID: "c-1", DocID: "d-1", Text: "already embedded", Embedding: []float32{0.9}},
		{ID: "c-2", DocID: "d-1", Text: "needs embedding"},
	}
	if err := uc.IndexChunks(context.Background(), chunks); err != nil {
		t.Fatalf("index: %v", err)
	}

	if len(embedder.texts) != 1 || embedder.texts[0] != "needs embedding" {
		t.Fatalf("embedder must only see missing chunks, got %v", embedder.texts)
	}
	if len(store.inserted) != 2 {
		t.Fatalf("expected 2 persisted chunks, got %d", len(store.inserted))
	}
	if len(index.indexed) != 2 {
		t.Fatalf("expected 2 indexed chunks, got %d", len(index.indexed))
	}
	for _, c := range index.indexed {
		if len(c.Embedding) == 0 {
			t.Fatalf("chunk %s reached the index without an embedding", c.ID)
		}
		if c.CreatedAt.IsZero() {
			t.Fatalf("chunk %s missing created_at", c.ID)
		}
	}
	if index.indexed[0].Embedding[0] != 0.9 {
		t.Fatalf("pre-supplied embedding was overwritten")
	}
}

func TestIndexChunksEmbedFailure(t *testing.T) {
	embedder := &countingEmbedder{err: errors.New("ollama down")}
	uc := NewIngestChunksUseCase(&memChunkStore{}, &stubIndex{}, embedder)

	err := uc.IndexChunks(context.Background(), []domain.Chunk{{ID: "c-1", DocID: "d-1", Text: "x"}})
	if err == nil {
		t.Fatalf("expected embed failure to propagate")
	}
}

func TestIndexChunksVectorCountMismatch(t *testing.T) {
	embedder := &countingEmbedder{vector: []float32{0.1}, short: true}
	uc := NewIngestChunksUseCase(&memChunkStore{}, &stubIndex{}, embedder)

	err := uc.IndexChunks(context.Background(), []domain.Chunk{
		{ID: "c-1", DocID: "d-1", Text: "x"},
		{ID: "c-2", DocID: "d-1", Text: "y"},
	})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput on vector mismatch, got %v", err)
	}
}
