package request

// DocumentItem 单个待摄取文档
type DocumentItem struct {
	ID       string            `json:"id" binding:"required"`
	Text     string            `json:"text" binding:"required"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SubmitIngestRequest 异步摄取提交请求
type SubmitIngestRequest struct {
	Documents []DocumentItem `json:"documents" binding:"required,min=1,dive"`
}

// SearchRequest 相似检索请求
type SearchRequest struct {
	Query string `json:"query" binding:"required"` // 查询文本（必填）
	TopK  int    `json:"top_k"`                    // 返回 Top-K 条（默认 5，范围 1-50）

	DocumentID string `json:"document_id,omitempty"` // 只在指定文档内检索
}
