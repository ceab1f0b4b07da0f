package repository

import "context"

// VectorUpsertItem 持久化到向量库的一条记录，ID 由
// (document_id, chunk_index) 确定性推导，见 ingest.RecordID
type VectorUpsertItem struct {
	ID           string
	Vector       []float32
	DocumentID   string
	ChunkIndex   int
	Content      string
	MetadataJSON string
}

type VectorSearchHit struct {
	ID           string
	Score        float32
	DocumentID   string
	ChunkIndex   int
	Content      string
	MetadataJSON string
}

// VectorStore 向量库契约：按 id 幂等 upsert，按文档删除，相似检索
type VectorStore interface {
	Upsert(ctx context.Context, items []VectorUpsertItem) ([]string, error)
	DeleteByDocumentID(ctx context.Context, documentID string) error
	Search(ctx context.Context, vector []float32, topK int, expr string) ([]VectorSearchHit, error)
}
