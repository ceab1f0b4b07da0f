package respond

// SubmitIngestRespond 异步摄取提交响应，立即返回，不等待执行
type SubmitIngestRespond struct {
	JobID          string `json:"job_id"`          // 任务句柄，用于查询状态
	TotalDocuments int    `json:"total_documents"` // 本次提交的文档数
}

// JobStatusRespond 任务状态查询响应
type JobStatusRespond struct {
	JobID          string `json:"job_id"`
	Status         string `json:"status"`           // queued/running/succeeded/failed
	Reason         string `json:"reason,omitempty"` // 失败原因，成功时为空
	TotalDocuments int    `json:"total_documents"`
	ChunksUpserted int    `json:"chunks_upserted"`
	Attempt        int    `json:"attempt"`
	SubmittedAt    string `json:"submitted_at"`
	StartedAt      string `json:"started_at,omitempty"`
	CompletedAt    string `json:"completed_at,omitempty"`
}

// SearchHitEntry 单条检索命中
type SearchHitEntry struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float32 `json:"score"`
	Content    string  `json:"content"`
	Metadata   string  `json:"metadata,omitempty"`
}

// SearchRespond 相似检索响应
type SearchRespond struct {
	Hits    []SearchHitEntry `json:"hits"`
	TotalMs int64            `json:"total_ms"`
}
