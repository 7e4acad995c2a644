package model

// EsChunk 是写入 Elasticsearch 的切块向量文档。
// ChunkID 为 document_chunks 的自增主键，检索时同分的结果按它升序排列，即入库顺序。
type EsChunk struct {
	VectorID     string    `json:"vector_id"` // documentID_chunkIndex
	ChunkID      uint      `json:"chunk_id"`
	DocumentID   uint      `json:"document_id"`
	ChunkIndex   int       `json:"chunk_index"`
	Content      string    `json:"content"`
	Vector       []float32 `json:"vector"`
	ModelVersion string    `json:"model_version"`
	UserID       uint      `json:"user_id"`
}

// SearchResultDTO 定义了返回给前端的检索结果。
type SearchResultDTO struct {
	ChunkID       uint    `json:"chunkId"`
	DocumentID    uint    `json:"documentId"`
	DocumentTitle string  `json:"documentTitle"`
	ChunkIndex    int     `json:"chunkIndex"`
	Content       string  `json:"content"`
	Score         float64 `json:"score"`
}

// ChunkHit 是向量检索返回的一条命中，Score 为余弦相似度。
type ChunkHit struct {
	ChunkID    uint
	DocumentID uint
	ChunkIndex int
	Content    string
	Score      float64
}
