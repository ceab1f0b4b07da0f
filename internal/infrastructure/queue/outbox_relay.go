package queue

import (
	"context"
	"errors"
	"strings"
	"time"

	"VectorLink/internal/domain/repository"
	"VectorLink/internal/infrastructure/mq"
	"VectorLink/pkg/zlog"

	"go.uber.org/zap"
)

// JobOutboxRelay 轮询待发布的任务行并投递 job_uuid 到消息队列。
// 任务行与发布状态同库同表，崩溃后由发布状态兜底补发。
type JobOutboxRelay struct {
	repo         repository.JobRepository
	pub          mq.Publisher
	defaultTopic string
	batchSize    int
	pollInterval time.Duration
}

func NewJobOutboxRelay(repo repository.JobRepository, pub mq.Publisher, defaultTopic string, batchSize int, pollInterval time.Duration) *JobOutboxRelay {
	if batchSize <= 0 {
		batchSize = 200
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &JobOutboxRelay{
		repo:         repo,
		pub:          pub,
		defaultTopic: strings.TrimSpace(defaultTopic),
		batchSize:    batchSize,
		pollInterval: pollInterval,
	}
}

func (r *JobOutboxRelay) Run(ctx context.Context) error {
	if r.repo == nil {
		return errors.New("job repo is nil")
	}
	if r.pub == nil {
		return errors.New("publisher is nil")
	}

	backoff := r.pollInterval
	for {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		n, err := r.RunOnce(ctx)
		if err != nil {
			if werr := waitOrDone(ctx, backoff); werr != nil {
				return werr
			}
			backoff = backoff * 2
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			continue
		}
		backoff = r.pollInterval

		if n == 0 {
			if werr := waitOrDone(ctx, r.pollInterval); werr != nil {
				return werr
			}
		}
	}
}

// waitOrDone 等待退避时长，ctx 取消时立刻返回
func waitOrDone(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	if ctx == nil {
		<-t.C
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *JobOutboxRelay) RunOnce(ctx context.Context) (int, error) {
	now := time.Now()
	jobs, err := r.repo.ClaimForPublish(ctx, now, r.batchSize)
	if err != nil {
		zlog.Warn("job outbox relay claim failed", zap.Error(err))
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	published := 0
	for i := range jobs {
		job := jobs[i]
		topic := r.defaultTopic
		if topic == "" {
			topic = strings.TrimSpace(job.Topic)
		}
		if topic == "" {
			_ = r.repo.MarkPublishFailed(ctx, job.Id, now.Add(5*time.Minute), "topic is empty")
			continue
		}

		res, pubErr := r.pub.Publish(ctx, mq.Message{
			Topic: topic,
			Key:   []byte(job.JobUUID),
			Value: []byte(job.JobUUID),
			Headers: map[string]string{
				"tenant_id": job.TenantID,
			},
		})
		if pubErr != nil {
			next := computeNextRetry(now, job.RetryCount)
			_ = r.repo.MarkPublishFailed(ctx, job.Id, next, pubErr.Error())
			continue
		}

		if err := r.repo.MarkPublished(ctx, job.Id, topic, int(res.Partition), res.Offset, time.Now()); err != nil {
			zlog.Warn("job outbox relay mark published failed", zap.Int64("id", job.Id), zap.Error(err))
			continue
		}
		published++
	}

	return published, nil
}

func computeNextRetry(now time.Time, retryCount int) time.Time {
	if retryCount < 0 {
		retryCount = 0
	}
	d := 500 * time.Millisecond
	for i := 0; i < retryCount && d < 5*time.Minute; i++ {
		d = d * 2
	}
	if d > 5*time.Minute {
		d = 5 * time.Minute
	}
	return now.Add(d)
}

// StalledJobReclaimer 周期性回收超过可见性超时仍为 Running 的任务，
// 退回 Queued 重新投递。重复执行由幂等 upsert 保证安全。
type StalledJobReclaimer struct {
	repo              repository.JobRepository
	visibilityTimeout time.Duration
	sweepInterval     time.Duration
	batchSize         int
}

func NewStalledJobReclaimer(repo repository.JobRepository, visibilityTimeout, sweepInterval time.Duration, batchSize int) *StalledJobReclaimer {
	if visibilityTimeout <= 0 {
		visibilityTimeout = 10 * time.Minute
	}
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &StalledJobReclaimer{
		repo:              repo,
		visibilityTimeout: visibilityTimeout,
		sweepInterval:     sweepInterval,
		batchSize:         batchSize,
	}
}

func (s *StalledJobReclaimer) Run(ctx context.Context) error {
	if s.repo == nil {
		return errors.New("job repo is nil")
	}

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		n, err := s.RunOnce(ctx)
		if err != nil {
			zlog.Warn("stalled job reclaim failed", zap.Error(err))
			continue
		}
		if n > 0 {
			zlog.Info("stalled jobs requeued", zap.Int("count", n))
		}
	}
}

func (s *StalledJobReclaimer) RunOnce(ctx context.Context) (int, error) {
	olderThan := time.Now().Add(-s.visibilityTimeout)
	return s.repo.RequeueStalled(ctx, olderThan, s.batchSize)
}
