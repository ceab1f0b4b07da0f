package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"VectorLink/internal/application/dto/request"
	"VectorLink/internal/application/dto/respond"
	"VectorLink/internal/domain/repository"
	"VectorLink/pkg/xerr"
	"VectorLink/pkg/zlog"

	"github.com/cloudwego/eino/components/embedding"
	"go.uber.org/zap"
)

// SearchService 相似检索：查询文本向量化后到向量库召回
type SearchService interface {
	Search(ctx context.Context, req request.SearchRequest) (*respond.SearchRespond, error)
}

type searchService struct {
	embedder embedding.Embedder
	store    repository.VectorStore
}

func NewSearchService(embedder embedding.Embedder, store repository.VectorStore) SearchService {
	return &searchService{embedder: embedder, store: store}
}

func (s *searchService) Search(ctx context.Context, req request.SearchRequest) (*respond.SearchRespond, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, xerr.New(xerr.BadRequest, "query is empty")
	}
	topK := req.TopK
	if topK <= 0 {
		topK = 5
	}
	if topK > 50 {
		topK = 50
	}

	start := time.Now()
	vecs, err := s.embedder.EmbedStrings(ctx, []string{query})
	if err != nil {
		zlog.Warn("search embed query failed", zap.Error(err))
		return nil, xerr.New(xerr.InternalServerError, xerr.ErrServerError.Message)
	}
	if len(vecs) != 1 {
		return nil, xerr.New(xerr.InternalServerError, "embedding result mismatch")
	}
	vector := make([]float32, len(vecs[0]))
	for i, v := range vecs[0] {
		vector[i] = float32(v)
	}

	expr := ""
	if docID := strings.TrimSpace(req.DocumentID); docID != "" {
		expr = fmt.Sprintf(`document_id == "%s"`, strings.ReplaceAll(docID, `"`, ``))
	}

	hits, err := s.store.Search(ctx, vector, topK, expr)
	if err != nil {
		zlog.Warn("search vector store failed", zap.Error(err))
		return nil, xerr.New(xerr.InternalServerError, xerr.ErrServerError.Message)
	}

	out := &respond.SearchRespond{
		Hits:    make([]respond.SearchHitEntry, 0, len(hits)),
		TotalMs: time.Since(start).Milliseconds(),
	}
	for _, h := range hits {
		out.Hits = append(out.Hits, respond.SearchHitEntry{
			ChunkID:    h.ID,
			DocumentID: h.DocumentID,
			ChunkIndex: h.ChunkIndex,
			Score:      h.Score,
			Content:    h.Content,
			Metadata:   h.MetadataJSON,
		})
	}
	return out, nil
}
