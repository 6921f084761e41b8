package semantic

// SearchResult represents a single vector search hit.
type SearchResult struct {
	ID         string  `json:"id"`
	Score      float32 `json:"score"`
	Text       string  `json:"text"`
	Source     string  `json:"source"`
	ChunkIndex int     `json:"chunk_index"`
}

// VectorRecord represents a single vector to store in Qdrant.
type VectorRecord struct {
	ID        string
	Embedding []float32
	Payload   map[string]any // text, source, chunk_index
}

// CollectionStats is a best-effort readout of a collection's storage use.
// Usage is estimated as points x BytesPerChunk against a fixed quota.
type CollectionStats struct {
	TotalChunks uint64  `json:"total_chunks"`
	UsedMB      float64 `json:"used_mb"`
	AvailableMB float64 `json:"available_mb"`
	LimitMB     float64 `json:"limit_mb"`
}
