package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"VectorLink/internal/domain/ingest"
	"VectorLink/internal/domain/repository"
	"VectorLink/internal/infrastructure/chunking"
	"VectorLink/pkg/xerr"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/compose"
)

// IngestResult 单篇文档摄取的结果统计
type IngestResult struct {
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
	EmbedCalls int    `json:"embed_calls"`
	Upserted   int    `json:"upserted"`
	DurationMs int64  `json:"duration_ms"`
}

// IngestPipeline 摄取流水线：切片 -> 分批 -> 嵌入 -> 校验维度 -> 幂等 upsert。
// 批内失败按退避重试，重试耗尽整篇失败；已写入的批次不会回滚，
// 重新摄取同一文档只会覆盖同样的记录 id。
type IngestPipeline struct {
	chunker  *chunking.SimpleChunker
	embedder embedding.Embedder
	store    repository.VectorStore

	vectorDim  int
	batchSize  int
	retryTimes int

	r compose.Runnable[*ingest.Document, *IngestResult]
}

func NewIngestPipeline(chunker *chunking.SimpleChunker, embedder embedding.Embedder, store repository.VectorStore, vectorDim, batchSize, retryTimes int) (*IngestPipeline, error) {
	if chunker == nil {
		return nil, xerr.New(xerr.BadRequest, "invalid config: chunker is nil")
	}
	if embedder == nil {
		return nil, xerr.New(xerr.BadRequest, "invalid config: embedder is nil")
	}
	if store == nil {
		return nil, xerr.New(xerr.BadRequest, "invalid config: vector store is nil")
	}
	if vectorDim <= 0 {
		return nil, xerr.Newf(xerr.BadRequest, "invalid config: vectorDim %d", vectorDim)
	}
	if batchSize <= 0 {
		return nil, xerr.Newf(xerr.BadRequest, "invalid config: batchSize %d", batchSize)
	}
	if retryTimes < 0 {
		retryTimes = 0
	}

	p := &IngestPipeline{
		chunker:    chunker,
		embedder:   embedder,
		store:      store,
		vectorDim:  vectorDim,
		batchSize:  batchSize,
		retryTimes: retryTimes,
	}
	r, err := p.buildGraph(context.Background())
	if err != nil {
		return nil, err
	}
	p.r = r
	return p, nil
}

// Ingest 摄取一篇文档，返回写入的记录数
func (p *IngestPipeline) Ingest(ctx context.Context, doc *ingest.Document) (*IngestResult, error) {
	return p.r.Invoke(ctx, doc)
}

// PurgeDocument 删除某篇文档此前写入的全部向量记录，
// 用于重新摄取时切片数变少的情况
func (p *IngestPipeline) PurgeDocument(ctx context.Context, documentID string) error {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return xerr.New(xerr.BadRequest, "missing document_id")
	}
	return p.store.DeleteByDocumentID(ctx, documentID)
}

// embedWithRetry 对一个批次调用嵌入服务；瞬时错误按指数退避重试，
// 永久错误（4xx）立即放弃
func (p *IngestPipeline) embedWithRetry(ctx context.Context, texts []string) ([][]float64, error) {
	var lastErr error
	for attempt := 0; attempt <= p.retryTimes; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				return nil, err
			}
		}
		vecs, err := p.embedder.EmbedStrings(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		if xerr.IsPermanent(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// upsertWithRetry 写入一个批次，重试策略与嵌入调用一致
func (p *IngestPipeline) upsertWithRetry(ctx context.Context, items []repository.VectorUpsertItem) error {
	var lastErr error
	for attempt := 0; attempt <= p.retryTimes; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				return err
			}
		}
		if _, err := p.store.Upsert(ctx, items); err == nil {
			return nil
		} else {
			if xerr.IsPermanent(err) {
				return err
			}
			lastErr = err
		}
	}
	return lastErr
}

// sleepBackoff 可取消的退避等待：500ms 起步翻倍，上限 30s
func sleepBackoff(ctx context.Context, attempt int) error {
	d := 500 * time.Millisecond
	for i := 1; i < attempt && d < 30*time.Second; i++ {
		d = d * 2
	}
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate4096(s string) string {
	r := []rune(s)
	if len(r) <= 4096 {
		return s
	}
	return string(r[:4096])
}

func buildMetadataJSON(doc *ingest.Document, c ingest.Chunk) string {
	m := map[string]any{
		"chunk_index": c.Index,
		"char_start":  c.CharStart,
		"char_end":    c.CharEnd,
	}
	for k, v := range doc.Metadata {
		m[k] = v
	}
	bs, err := json.Marshal(m)
	if err != nil || len(bs) == 0 {
		return "{}"
	}
	return string(bs)
}
