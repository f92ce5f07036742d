package domain

import (
	"time"
)

// Collection groups knowledge-base chunks under one name.
type Collection struct {
	Name       string    `json:"name"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Chunk is one indexed fragment of an uploaded document.
type Chunk struct {
	ID          string    `json:"id"`
	Collection  string    `json:"collection"`
	Source      string    `json:"source"`
	Content     string    `json:"content"`
	ChunkIndex  int       `json:"chunk_index"`
	TotalChunks int       `json:"total_chunks"`
	CreatedAt   time.Time `json:"created_at"`
}

// SearchResult pairs a chunk with its relevance score.
type SearchResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}
