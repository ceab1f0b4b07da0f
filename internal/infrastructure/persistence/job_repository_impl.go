package persistence

import (
	"context"
	"errors"
	"strings"
	"time"

	"VectorLink/internal/domain/ingest"
	"VectorLink/internal/domain/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type jobRepositoryImpl struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) repository.JobRepository {
	return &jobRepositoryImpl{db: db}
}

func (r *jobRepositoryImpl) Create(ctx context.Context, job *ingest.IngestJob) error {
	if job == nil {
		return nil
	}
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *jobRepositoryImpl) GetByUUID(ctx context.Context, jobUUID string) (*ingest.IngestJob, error) {
	var job ingest.IngestJob
	err := r.db.WithContext(ctx).Where("job_uuid = ?", jobUUID).Take(&job).Error
	if err == nil {
		return &job, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, err
}

// TryMarkRunning 只有 Queued 任务会被置为 Running，保证单主执行；
// 终态不满足 WHERE 条件，天然不可改写
func (r *jobRepositoryImpl) TryMarkRunning(ctx context.Context, jobUUID string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&ingest.IngestJob{}).
		Where("job_uuid = ? AND status = ?", jobUUID, ingest.JobStatusQueued).
		Updates(map[string]any{
			"status":     ingest.JobStatusRunning,
			"started_at": now,
			"attempt":    gorm.Expr("attempt + 1"),
			"updated_at": now,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *jobRepositoryImpl) MarkSucceeded(ctx context.Context, jobUUID string, chunksUpserted int) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&ingest.IngestJob{}).
		Where("job_uuid = ? AND status = ?", jobUUID, ingest.JobStatusRunning).
		Updates(map[string]any{
			"status":          ingest.JobStatusSucceeded,
			"chunks_upserted": chunksUpserted,
			"reason":          "",
			"completed_at":    now,
			"updated_at":      now,
		}).Error
}

func (r *jobRepositoryImpl) MarkFailed(ctx context.Context, jobUUID string, reason string) error {
	reason = truncate255(strings.TrimSpace(reason))
	now := time.Now()
	return r.db.WithContext(ctx).Model(&ingest.IngestJob{}).
		Where("job_uuid = ? AND status = ?", jobUUID, ingest.JobStatusRunning).
		Updates(map[string]any{
			"status":       ingest.JobStatusFailed,
			"reason":       reason,
			"completed_at": now,
			"updated_at":   now,
		}).Error
}

func (r *jobRepositoryImpl) ClaimForPublish(ctx context.Context, now time.Time, limit int) ([]ingest.IngestJob, error) {
	if limit <= 0 {
		limit = 100
	}

	var out []ingest.IngestJob
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var jobs []ingest.IngestJob
		q := tx.Model(&ingest.IngestJob{}).
			Where("(publish_status = ? OR publish_status = ?)", ingest.PublishStatusPending, ingest.PublishStatusFailed).
			Where("(next_retry_at IS NULL OR next_retry_at <= ?)", now).
			Order("id ASC").
			Limit(limit).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&jobs).Error; err != nil {
			return err
		}
		if len(jobs) == 0 {
			out = []ingest.IngestJob{}
			return nil
		}

		ids := make([]int64, 0, len(jobs))
		for i := range jobs {
			ids = append(ids, jobs[i].Id)
		}
		if err := tx.Model(&ingest.IngestJob{}).
			Where("id IN ?", ids).
			Updates(map[string]any{"publish_status": ingest.PublishStatusPublishing, "updated_at": now}).Error; err != nil {
			return err
		}

		out = jobs
		return nil
	})
	return out, err
}

func (r *jobRepositoryImpl) MarkPublished(ctx context.Context, id int64, topic string, partition int, offset int64, publishedAt time.Time) error {
	_ = partition
	_ = offset
	updates := map[string]any{
		"publish_status": ingest.PublishStatusPublished,
		"topic":          strings.TrimSpace(topic),
		"published_at":   publishedAt,
		"last_error":     "",
		"updated_at":     time.Now(),
	}
	return r.db.WithContext(ctx).Model(&ingest.IngestJob{}).Where("id = ?", id).Updates(updates).Error
}

func (r *jobRepositoryImpl) MarkPublishFailed(ctx context.Context, id int64, nextRetryAt time.Time, errMsg string) error {
	errMsg = truncate255(strings.TrimSpace(errMsg))
	updates := map[string]any{
		"publish_status": ingest.PublishStatusFailed,
		"retry_count":    gorm.Expr("retry_count + 1"),
		"next_retry_at":  nextRetryAt,
		"last_error":     errMsg,
		"updated_at":     time.Now(),
	}
	return r.db.WithContext(ctx).Model(&ingest.IngestJob{}).Where("id = ?", id).Updates(updates).Error
}

// RequeueStalled 将 Running 超时的任务退回 Queued 并重新投递；
// 同时回收卡在 Publishing 的发布行（relay 在标记发布结果前崩溃），
// 退回 Pending 由 relay 重新认领。重复执行由幂等 upsert 兜底。
func (r *jobRepositoryImpl) RequeueStalled(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}

	requeued := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var jobs []ingest.IngestJob
		q := tx.Model(&ingest.IngestJob{}).
			Where("(status = ? OR publish_status = ?) AND updated_at < ?",
				ingest.JobStatusRunning, ingest.PublishStatusPublishing, olderThan).
			Order("id ASC").
			Limit(limit).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&jobs).Error; err != nil {
			return err
		}
		if len(jobs) == 0 {
			return nil
		}

		now := time.Now()
		runningIDs := make([]int64, 0, len(jobs))
		publishingIDs := make([]int64, 0, len(jobs))
		for i := range jobs {
			if jobs[i].Status == ingest.JobStatusRunning {
				runningIDs = append(runningIDs, jobs[i].Id)
			} else {
				publishingIDs = append(publishingIDs, jobs[i].Id)
			}
		}

		if len(runningIDs) > 0 {
			res := tx.Model(&ingest.IngestJob{}).
				Where("id IN ?", runningIDs).
				Updates(map[string]any{
					"status":         ingest.JobStatusQueued,
					"publish_status": ingest.PublishStatusPending,
					"next_retry_at":  nil,
					"updated_at":     now,
				})
			if res.Error != nil {
				return res.Error
			}
			requeued += int(res.RowsAffected)
		}

		if len(publishingIDs) > 0 {
			res := tx.Model(&ingest.IngestJob{}).
				Where("id IN ?", publishingIDs).
				Updates(map[string]any{
					"publish_status": ingest.PublishStatusPending,
					"next_retry_at":  nil,
					"updated_at":     now,
				})
			if res.Error != nil {
				return res.Error
			}
			requeued += int(res.RowsAffected)
		}
		return nil
	})
	return requeued, err
}

// truncate255 按 rune 截断，不会把多字节字符切到一半
func truncate255(s string) string {
	r := []rune(s)
	if len(r) <= 255 {
		return s
	}
	return string(r[:255])
}

var _ repository.JobRepository = (*jobRepositoryImpl)(nil)
