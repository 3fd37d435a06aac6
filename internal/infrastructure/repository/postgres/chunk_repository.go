package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mkravets/taxcore/internal/core/domain"
)

// ChunkRepository keeps chunk metadata; embeddings live in the vector
// index. The subjects table backs the async classification queue.
type ChunkRepository struct {
	db *sql.DB
}

func NewChunkRepository(db *sql.DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

func (r *ChunkRepository) Insert(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin chunk tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, chunk := range chunks {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO chunks (id, doc_id, chunk_text, token_start, token_end, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO NOTHING
`, chunk.ID, chunk.DocID, chunk.Text, chunk.TokenStart, chunk.TokenEnd, chunk.CreatedAt); err != nil {
			return fmt.Errorf("insert chunk %s: %w", chunk.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunk tx: %w", err)
	}
	return nil
}

func (r *ChunkRepository) GetByIDs(ctx context.Context, chunkIDs []string) ([]domain.Chunk, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT id, doc_id, chunk_text, token_start, token_end, created_at
FROM chunks
WHERE id = ANY($1)
ORDER BY id
`, chunkIDs)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.Chunk
	for rows.Next() {
		var chunk domain.Chunk
		if err := rows.Scan(&chunk.ID, &chunk.DocID, &chunk.Text, &chunk.TokenStart, &chunk.TokenEnd, &chunk.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

func (r *ChunkRepository) PutSubject(ctx context.Context, subject *domain.Subject) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
INSERT INTO subjects (id, subject_text, created_at, updated_at)
VALUES ($1,$2,$3,$3)
ON CONFLICT (id) DO UPDATE SET subject_text = EXCLUDED.subject_text, updated_at = EXCLUDED.updated_at
`, subject.ID, subject.Text, now)
	if err != nil {
		return fmt.Errorf("upsert subject: %w", err)
	}
	return nil
}

func (r *ChunkRepository) GetSubject(ctx context.Context, subjectID string) (*domain.Subject, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, subject_text FROM subjects WHERE id = $1
`, subjectID)

	var subject domain.Subject
	if err := row.Scan(&subject.ID, &subject.Text); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan subject: %w", err)
	}
	return &subject, nil
}
