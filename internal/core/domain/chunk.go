package domain

import "time"

// Chunk is one retrievable unit of content. Chunks are immutable after
// creation and belong to exactly one document.
type Chunk struct {
	ID         string    `json:"id"`
	DocID      string    `json:"doc_id"`
	Text       string    `json:"text"`
	TokenStart int       `json:"token_start"`
	TokenEnd   int       `json:"token_end"`
	Embedding  []float32 `json:"embedding,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
