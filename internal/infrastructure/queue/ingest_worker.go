package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"VectorLink/internal/domain/ingest"
	"VectorLink/internal/domain/repository"
	"VectorLink/internal/infrastructure/mq"
	"VectorLink/internal/infrastructure/pipeline"
	"VectorLink/pkg/zlog"

	"go.uber.org/zap"
)

// IngestWorker 消费 job_uuid 消息并执行入库流水线。
// 任务失败返回 nil 保持 worker 存活，基础设施错误返回 err 触发重投。
type IngestWorker struct {
	jobRepo  repository.JobRepository
	pipeline *pipeline.IngestPipeline
}

func NewIngestWorker(jobRepo repository.JobRepository, p *pipeline.IngestPipeline) *IngestWorker {
	return &IngestWorker{jobRepo: jobRepo, pipeline: p}
}

func (w *IngestWorker) Handle(ctx context.Context, msg mq.Message) error {
	jobUUID := strings.TrimSpace(string(msg.Value))
	if jobUUID == "" {
		zlog.Warn("ingest worker empty job_uuid", zap.String("topic", msg.Topic))
		return nil
	}

	job, err := w.jobRepo.GetByUUID(ctx, jobUUID)
	if err != nil {
		zlog.Warn("ingest worker get job failed", zap.String("job_uuid", jobUUID), zap.Error(err))
		return err
	}
	if job == nil {
		zlog.Warn("ingest worker unknown job", zap.String("job_uuid", jobUUID))
		return nil
	}
	if job.Terminal() {
		return nil
	}

	ok, err := w.jobRepo.TryMarkRunning(ctx, jobUUID, time.Now())
	if err != nil {
		zlog.Warn("ingest worker mark running failed", zap.String("job_uuid", jobUUID), zap.Error(err))
		return err
	}
	if !ok {
		// 已被其他 worker 认领
		return nil
	}

	upserted, procErr := w.processJob(ctx, job)
	if procErr != nil {
		reason := scrubErrMsg(procErr.Error())
		_ = w.jobRepo.MarkFailed(ctx, jobUUID, reason)
		zlog.Warn("ingest worker job failed",
			zap.String("job_uuid", jobUUID),
			zap.String("tenant_id", strings.TrimSpace(job.TenantID)),
			zap.Int("attempt", job.Attempt+1),
			zap.String("error", reason),
		)
		return nil
	}

	if err := w.jobRepo.MarkSucceeded(ctx, jobUUID, upserted); err != nil {
		zlog.Warn("ingest worker mark succeeded failed", zap.String("job_uuid", jobUUID), zap.Error(err))
		return err
	}
	zlog.Info("ingest worker job succeeded",
		zap.String("job_uuid", jobUUID),
		zap.Int("chunks_upserted", upserted),
	)
	return nil
}

func (w *IngestWorker) processJob(ctx context.Context, job *ingest.IngestJob) (int, error) {
	if w.pipeline == nil {
		return 0, errors.New("pipeline is nil")
	}

	var docs []ingest.Document
	if err := json.Unmarshal([]byte(job.DocumentsJson), &docs); err != nil {
		return 0, fmt.Errorf("decode documents: %w", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	total := 0
	for i := range docs {
		doc := docs[i]
		res, err := w.pipeline.Ingest(ctx, &doc)
		if err != nil {
			return total, fmt.Errorf("document %s: %w", doc.ID, err)
		}
		total += res.Upserted
	}
	return total, nil
}

func scrubErrMsg(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	low := strings.ToLower(s)
	if strings.Contains(low, "api_key") || strings.Contains(low, "apikey") || strings.Contains(low, "secret") || strings.Contains(s, "sk-") {
		return "redacted"
	}
	// 按 rune 截断，避免把多字节字符切到一半
	if r := []rune(s); len(r) > 255 {
		return string(r[:255])
	}
	return s
}

var _ mq.Handler = (*IngestWorker)(nil)
