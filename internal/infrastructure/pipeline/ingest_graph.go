package pipeline

import (
	"context"
	"strings"
	"time"

	"VectorLink/internal/domain/ingest"
	"VectorLink/internal/domain/repository"
	"VectorLink/pkg/xerr"
	"VectorLink/pkg/zlog"

	"github.com/cloudwego/eino/compose"
	"go.uber.org/zap"
)

type ingestState struct {
	Doc    *ingest.Document
	Chunks []ingest.Chunk

	// Batches 与嵌入批次一一对应，批内保持切片顺序
	Batches [][]repository.VectorUpsertItem

	EmbedCalls int
	Upserted   int

	Start time.Time
	Err   error
}

func (p *IngestPipeline) buildGraph(ctx context.Context) (compose.Runnable[*ingest.Document, *IngestResult], error) {
	const (
		Prepare  = "Prepare"
		Chunk    = "Chunk"
		Embed    = "Embed"
		Upsert   = "Upsert"
		Finalize = "Finalize"
	)

	g := compose.NewGraph[*ingest.Document, *IngestResult]()

	_ = g.AddLambdaNode(Prepare, compose.InvokableLambdaWithOption(p.prepareNode), compose.WithNodeName(Prepare))
	_ = g.AddLambdaNode(Chunk, compose.InvokableLambdaWithOption(p.chunkNode), compose.WithNodeName(Chunk))
	_ = g.AddLambdaNode(Embed, compose.InvokableLambdaWithOption(p.embedNode), compose.WithNodeName(Embed))
	_ = g.AddLambdaNode(Upsert, compose.InvokableLambdaWithOption(p.upsertNode), compose.WithNodeName(Upsert))
	_ = g.AddLambdaNode(Finalize, compose.InvokableLambdaWithOption(p.finalizeNode), compose.WithNodeName(Finalize))

	_ = g.AddEdge(compose.START, Prepare)
	_ = g.AddEdge(Prepare, Chunk)
	_ = g.AddEdge(Chunk, Embed)
	_ = g.AddEdge(Embed, Upsert)
	_ = g.AddEdge(Upsert, Finalize)
	_ = g.AddEdge(Finalize, compose.END)

	return g.Compile(ctx, compose.WithGraphName("EmbeddingIngestPipeline"), compose.WithNodeTriggerMode(compose.AllPredecessor))
}

func (p *IngestPipeline) prepareNode(ctx context.Context, doc *ingest.Document, _ ...any) (*ingestState, error) {
	_ = ctx
	st := &ingestState{Doc: doc, Start: time.Now()}
	if doc == nil {
		st.Err = xerr.New(xerr.BadRequest, "nil document")
		return st, nil
	}
	if strings.TrimSpace(doc.ID) == "" {
		st.Err = xerr.New(xerr.BadRequest, "missing document id")
		return st, nil
	}
	return st, nil
}

func (p *IngestPipeline) chunkNode(ctx context.Context, st *ingestState, _ ...any) (*ingestState, error) {
	if st == nil {
		return &ingestState{Err: xerr.New(xerr.InternalServerError, "nil state"), Start: time.Now()}, nil
	}
	if st.Err != nil {
		return st, nil
	}

	chunks, err := p.chunker.Chunks(ctx, st.Doc.ID, st.Doc.Text)
	if err != nil {
		st.Err = err
		return st, nil
	}
	st.Chunks = chunks
	return st, nil
}

// embedNode 按 batchSize 顺序分批嵌入；向量与输入文本必须等长同序，
// 维度与集合不符视为永久错误，整篇失败
func (p *IngestPipeline) embedNode(ctx context.Context, st *ingestState, _ ...any) (*ingestState, error) {
	if st == nil {
		return &ingestState{Err: xerr.New(xerr.InternalServerError, "nil state"), Start: time.Now()}, nil
	}
	if st.Err != nil || len(st.Chunks) == 0 {
		return st, nil
	}

	for lo := 0; lo < len(st.Chunks); lo += p.batchSize {
		hi := lo + p.batchSize
		if hi > len(st.Chunks) {
			hi = len(st.Chunks)
		}
		batch := st.Chunks[lo:hi]

		texts := make([]string, 0, len(batch))
		for _, c := range batch {
			texts = append(texts, c.Text)
		}

		vecs, err := p.embedWithRetry(ctx, texts)
		if err != nil {
			st.Err = err
			return st, nil
		}
		st.EmbedCalls++

		if len(vecs) != len(batch) {
			st.Err = xerr.Newf(xerr.InternalServerError, "embedding result size mismatch got=%d want=%d", len(vecs), len(batch))
			return st, nil
		}

		items := make([]repository.VectorUpsertItem, 0, len(batch))
		for i, c := range batch {
			if len(vecs[i]) != p.vectorDim {
				st.Err = xerr.Newf(xerr.BadRequest, "vector dim mismatch got=%d want=%d", len(vecs[i]), p.vectorDim)
				return st, nil
			}
			vec32 := make([]float32, len(vecs[i]))
			for j := range vecs[i] {
				vec32[j] = float32(vecs[i][j])
			}
			items = append(items, repository.VectorUpsertItem{
				ID:           ingest.RecordID(c.DocumentID, c.Index),
				Vector:       vec32,
				DocumentID:   c.DocumentID,
				ChunkIndex:   c.Index,
				Content:      truncate4096(c.Text),
				MetadataJSON: buildMetadataJSON(st.Doc, c),
			})
		}
		st.Batches = append(st.Batches, items)
	}
	return st, nil
}

func (p *IngestPipeline) upsertNode(ctx context.Context, st *ingestState, _ ...any) (*ingestState, error) {
	if st == nil {
		return &ingestState{Err: xerr.New(xerr.InternalServerError, "nil state"), Start: time.Now()}, nil
	}
	if st.Err != nil || len(st.Batches) == 0 {
		return st, nil
	}

	// 已写入的批次不回滚：记录 id 确定性保证整篇重跑安全
	for _, items := range st.Batches {
		if err := p.upsertWithRetry(ctx, items); err != nil {
			st.Err = err
			return st, nil
		}
		st.Upserted += len(items)
	}
	return st, nil
}

func (p *IngestPipeline) finalizeNode(ctx context.Context, st *ingestState, _ ...any) (*IngestResult, error) {
	_ = ctx
	if st == nil {
		return nil, xerr.New(xerr.InternalServerError, "nil state")
	}

	res := &IngestResult{
		Chunks:     len(st.Chunks),
		EmbedCalls: st.EmbedCalls,
		Upserted:   st.Upserted,
		DurationMs: time.Since(st.Start).Milliseconds(),
	}
	if st.Doc != nil {
		res.DocumentID = st.Doc.ID
	}

	if st.Err != nil {
		zlog.Warn("document ingest failed",
			zap.String("document_id", res.DocumentID),
			zap.Int("chunks", res.Chunks),
			zap.Int("upserted", res.Upserted),
			zap.Error(st.Err),
		)
		return res, st.Err
	}

	zlog.Info("document ingest done",
		zap.String("document_id", res.DocumentID),
		zap.Int("chunks", res.Chunks),
		zap.Int("embed_calls", res.EmbedCalls),
		zap.Int("upserted", res.Upserted),
		zap.Int64("ms", res.DurationMs),
	)
	return res, nil
}
