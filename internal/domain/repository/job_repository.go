package repository

import (
	"context"
	"time"

	"VectorLink/internal/domain/ingest"
)

type JobRepository interface {
	Create(ctx context.Context, job *ingest.IngestJob) error
	GetByUUID(ctx context.Context, jobUUID string) (*ingest.IngestJob, error)

	// TryMarkRunning 单主认领：只有 Queued 状态的任务会被置为 Running，
	// 返回 false 表示已被其他 worker 持有或已进入终态
	TryMarkRunning(ctx context.Context, jobUUID string, now time.Time) (bool, error)
	MarkSucceeded(ctx context.Context, jobUUID string, chunksUpserted int) error
	MarkFailed(ctx context.Context, jobUUID string, reason string) error

	// outbox 投递
	ClaimForPublish(ctx context.Context, now time.Time, limit int) ([]ingest.IngestJob, error)
	MarkPublished(ctx context.Context, id int64, topic string, partition int, offset int64, publishedAt time.Time) error
	MarkPublishFailed(ctx context.Context, id int64, nextRetryAt time.Time, errMsg string) error

	// RequeueStalled 将 Running 超过 visibility timeout 的任务退回 Queued
	// 并重新进入投递队列（at-least-once，重复执行靠幂等 upsert 兜底）
	RequeueStalled(ctx context.Context, olderThan time.Time, limit int) (int, error)
}
