package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"VectorLink/internal/domain/ingest"
	"VectorLink/internal/domain/repository"
	"VectorLink/internal/infrastructure/chunking"
	vlEmbedding "VectorLink/internal/infrastructure/embedding"
	"VectorLink/internal/infrastructure/mq"
	"VectorLink/internal/infrastructure/mq/memory"
	"VectorLink/internal/infrastructure/pipeline"
	"VectorLink/pkg/xerr"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeJobRepo 内存任务仓库，记录状态流转
type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*ingest.IngestJob

	published     []int64
	publishFailed []int64
	requeue       int
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[string]*ingest.IngestJob)}
}

func (r *fakeJobRepo) Create(ctx context.Context, job *ingest.IngestJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *job
	r.jobs[job.JobUUID] = &cp
	return nil
}

func (r *fakeJobRepo) GetByUUID(ctx context.Context, jobUUID string) (*ingest.IngestJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobUUID]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (r *fakeJobRepo) TryMarkRunning(ctx context.Context, jobUUID string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobUUID]
	if !ok || j.Status != ingest.JobStatusQueued {
		return false, nil
	}
	j.Status = ingest.JobStatusRunning
	j.Attempt++
	t := now
	j.StartedAt = &t
	j.UpdatedAt = now
	return true, nil
}

func (r *fakeJobRepo) MarkSucceeded(ctx context.Context, jobUUID string, chunksUpserted int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobUUID]
	if !ok || j.Status != ingest.JobStatusRunning {
		return nil
	}
	j.Status = ingest.JobStatusSucceeded
	j.ChunksUpserted = chunksUpserted
	now := time.Now()
	j.CompletedAt = &now
	return nil
}

func (r *fakeJobRepo) MarkFailed(ctx context.Context, jobUUID string, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobUUID]
	if !ok || j.Status != ingest.JobStatusRunning {
		return nil
	}
	j.Status = ingest.JobStatusFailed
	j.Reason = reason
	now := time.Now()
	j.CompletedAt = &now
	return nil
}

func (r *fakeJobRepo) ClaimForPublish(ctx context.Context, now time.Time, limit int) ([]ingest.IngestJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ingest.IngestJob, 0)
	for _, j := range r.jobs {
		if j.PublishStatus == ingest.PublishStatusPending && len(out) < limit {
			j.PublishStatus = ingest.PublishStatusPublishing
			out = append(out, *j)
		}
	}
	return out, nil
}

func (r *fakeJobRepo) MarkPublished(ctx context.Context, id int64, topic string, partition int, offset int64, publishedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, id)
	for _, j := range r.jobs {
		if j.Id == id {
			j.PublishStatus = ingest.PublishStatusPublished
		}
	}
	return nil
}

func (r *fakeJobRepo) MarkPublishFailed(ctx context.Context, id int64, nextRetryAt time.Time, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishFailed = append(r.publishFailed, id)
	for _, j := range r.jobs {
		if j.Id == id {
			j.PublishStatus = ingest.PublishStatusFailed
		}
	}
	return nil
}

func (r *fakeJobRepo) RequeueStalled(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, j := range r.jobs {
		if !j.UpdatedAt.Before(olderThan) || n >= limit {
			continue
		}
		if j.Status == ingest.JobStatusRunning {
			j.Status = ingest.JobStatusQueued
			j.PublishStatus = ingest.PublishStatusPending
			n++
			continue
		}
		if j.PublishStatus == ingest.PublishStatusPublishing {
			j.PublishStatus = ingest.PublishStatusPending
			n++
		}
	}
	r.requeue += n
	return n, nil
}

func (r *fakeJobRepo) statusOf(jobUUID string) int8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[jobUUID].Status
}

// failEmbedder 永久失败的嵌入器
type failEmbedder struct{}

func (failEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	return nil, xerr.New(xerr.Unauthorized, "invalid api key")
}

// nullStore 永远成功的向量库
type nullStore struct {
	mu    sync.Mutex
	count int
}

func (s *nullStore) Upsert(ctx context.Context, items []repository.VectorUpsertItem) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count += len(items)
	ids := make([]string, len(items))
	for i := range items {
		ids[i] = items[i].ID
	}
	return ids, nil
}

func (s *nullStore) DeleteByDocumentID(ctx context.Context, documentID string) error { return nil }

func (s *nullStore) Search(ctx context.Context, vector []float32, topK int, expr string) ([]repository.VectorSearchHit, error) {
	return nil, nil
}

func newTestPipeline(t *testing.T, emb embedding.Embedder) *pipeline.IngestPipeline {
	t.Helper()
	c, err := chunking.NewSimpleChunker(100, 20)
	require.NoError(t, err)
	p, err := pipeline.NewIngestPipeline(c, emb, &nullStore{}, 8, 2, 0)
	require.NoError(t, err)
	return p
}

func seedJob(t *testing.T, repo *fakeJobRepo, jobUUID, text string) {
	t.Helper()
	docs := []ingest.Document{{ID: "doc-1", Text: text}}
	payload, err := json.Marshal(docs)
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, repo.Create(context.Background(), &ingest.IngestJob{
		Id:             1,
		JobUUID:        jobUUID,
		DocumentsJson:  string(payload),
		TotalDocuments: 1,
		Status:         ingest.JobStatusQueued,
		PublishStatus:  ingest.PublishStatusPending,
		Topic:          "jobs",
		SubmittedAt:    now,
		UpdatedAt:      now,
	}))
}

func TestIngestWorker_JobSucceeds(t *testing.T) {
	repo := newFakeJobRepo()
	seedJob(t, repo, "job-1", strings.Repeat("a", 250))

	w := NewIngestWorker(repo, newTestPipeline(t, vlEmbedding.NewMockEmbedder(8)))
	err := w.Handle(context.Background(), mq.Message{Topic: "jobs", Value: []byte("job-1")})
	require.NoError(t, err)

	assert.Equal(t, ingest.JobStatusSucceeded, repo.statusOf("job-1"))
	j, _ := repo.GetByUUID(context.Background(), "job-1")
	assert.Equal(t, 3, j.ChunksUpserted)
	assert.Equal(t, 1, j.Attempt)
	assert.NotNil(t, j.CompletedAt)
}

func TestIngestWorker_JobFailureDoesNotKillWorker(t *testing.T) {
	repo := newFakeJobRepo()
	seedJob(t, repo, "job-1", strings.Repeat("a", 250))

	w := NewIngestWorker(repo, newTestPipeline(t, failEmbedder{}))
	err := w.Handle(context.Background(), mq.Message{Topic: "jobs", Value: []byte("job-1")})

	// 任务失败不返回错误，worker 循环继续、消息不重投
	require.NoError(t, err)
	assert.Equal(t, ingest.JobStatusFailed, repo.statusOf("job-1"))
	j, _ := repo.GetByUUID(context.Background(), "job-1")
	assert.NotEmpty(t, j.Reason)
}

func TestIngestWorker_SkipsTerminalJob(t *testing.T) {
	repo := newFakeJobRepo()
	seedJob(t, repo, "job-1", "text")
	repo.jobs["job-1"].Status = ingest.JobStatusSucceeded

	w := NewIngestWorker(repo, newTestPipeline(t, vlEmbedding.NewMockEmbedder(8)))
	err := w.Handle(context.Background(), mq.Message{Topic: "jobs", Value: []byte("job-1")})
	require.NoError(t, err)
	assert.Equal(t, ingest.JobStatusSucceeded, repo.statusOf("job-1"))
}

func TestIngestWorker_SingleClaim(t *testing.T) {
	repo := newFakeJobRepo()
	seedJob(t, repo, "job-1", "text")
	// 已经 Running：重复投递不会二次执行
	repo.jobs["job-1"].Status = ingest.JobStatusRunning

	w := NewIngestWorker(repo, newTestPipeline(t, vlEmbedding.NewMockEmbedder(8)))
	err := w.Handle(context.Background(), mq.Message{Topic: "jobs", Value: []byte("job-1")})
	require.NoError(t, err)
	assert.Equal(t, ingest.JobStatusRunning, repo.statusOf("job-1"))
}

func TestIngestWorker_UnknownJob(t *testing.T) {
	repo := newFakeJobRepo()
	w := NewIngestWorker(repo, newTestPipeline(t, vlEmbedding.NewMockEmbedder(8)))

	err := w.Handle(context.Background(), mq.Message{Topic: "jobs", Value: []byte("nope")})
	assert.NoError(t, err)

	err = w.Handle(context.Background(), mq.Message{Topic: "jobs", Value: []byte("   ")})
	assert.NoError(t, err)
}

func TestWorkerPool_StartOnceAndStop(t *testing.T) {
	repo := newFakeJobRepo()
	seedJob(t, repo, "job-1", strings.Repeat("a", 250))

	broker := memory.NewBroker(16)
	w := NewIngestWorker(repo, newTestPipeline(t, vlEmbedding.NewMockEmbedder(8)))
	pool := NewWorkerPool(w, []mq.Consumer{broker.Consumer("jobs"), broker.Consumer("jobs")}, 2*time.Second)

	ctx := context.Background()
	require.NoError(t, pool.Start(ctx))
	// 重复 Start 是空操作
	require.NoError(t, pool.Start(ctx))

	_, err := broker.Publisher().Publish(ctx, mq.Message{Topic: "jobs", Value: []byte("job-1")})
	require.NoError(t, err)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if repo.statusOf("job-1") == ingest.JobStatusSucceeded {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, ingest.JobStatusSucceeded, repo.statusOf("job-1"))

	pool.Stop()
	// 重复 Stop 同样安全
	pool.Stop()
}

func TestWorkerPool_StartValidation(t *testing.T) {
	pool := NewWorkerPool(nil, nil, time.Second)
	assert.Error(t, pool.Start(context.Background()))

	repo := newFakeJobRepo()
	w := NewIngestWorker(repo, newTestPipeline(t, vlEmbedding.NewMockEmbedder(8)))
	pool = NewWorkerPool(w, nil, time.Second)
	assert.Error(t, pool.Start(context.Background()))
}

func TestJobOutboxRelay_RunOnce(t *testing.T) {
	repo := newFakeJobRepo()
	seedJob(t, repo, "job-1", "text")

	broker := memory.NewBroker(16)
	relay := NewJobOutboxRelay(repo, broker.Publisher(), "jobs", 10, 50*time.Millisecond)

	n, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{1}, repo.published)

	// 已发布的行不会再次被认领
	n, err = relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestJobOutboxRelay_EmptyTopicMarksFailed(t *testing.T) {
	repo := newFakeJobRepo()
	seedJob(t, repo, "job-1", "text")
	repo.jobs["job-1"].Topic = ""

	broker := memory.NewBroker(16)
	relay := NewJobOutboxRelay(repo, broker.Publisher(), "", 10, 50*time.Millisecond)

	n, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, []int64{1}, repo.publishFailed)
}

// errClaimRepo 认领永远失败，用于驱动 relay 进入错误退避
type errClaimRepo struct {
	*fakeJobRepo
}

func (r *errClaimRepo) ClaimForPublish(ctx context.Context, now time.Time, limit int) ([]ingest.IngestJob, error) {
	return nil, errors.New("db unavailable")
}

func TestJobOutboxRelay_RunStopsDuringBackoff(t *testing.T) {
	repo := &errClaimRepo{fakeJobRepo: newFakeJobRepo()}
	broker := memory.NewBroker(16)
	relay := NewJobOutboxRelay(repo, broker.Publisher(), "jobs", 10, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	// 退避等待中取消也要立刻退出，不能睡满整个退避窗口
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after cancel")
	}
}

func TestStalledJobReclaimer_RunOnce(t *testing.T) {
	repo := newFakeJobRepo()
	seedJob(t, repo, "job-1", "text")
	repo.jobs["job-1"].Status = ingest.JobStatusRunning
	repo.jobs["job-1"].UpdatedAt = time.Now().Add(-time.Hour)

	rec := NewStalledJobReclaimer(repo, 10*time.Minute, time.Second, 10)
	n, err := rec.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, ingest.JobStatusQueued, repo.statusOf("job-1"))
	assert.Equal(t, ingest.PublishStatusPending, repo.jobs["job-1"].PublishStatus)
}

func TestStalledJobReclaimer_RecoversStuckPublishing(t *testing.T) {
	repo := newFakeJobRepo()
	seedJob(t, repo, "job-1", "text")

	broker := memory.NewBroker(16)
	relay := NewJobOutboxRelay(repo, broker.Publisher(), "jobs", 10, 50*time.Millisecond)

	// relay 认领后、标记发布结果前进程崩溃：行停留在 Publishing，
	// 重启后不会被再次认领
	repo.mu.Lock()
	repo.jobs["job-1"].PublishStatus = ingest.PublishStatusPublishing
	repo.jobs["job-1"].UpdatedAt = time.Now().Add(-time.Hour)
	repo.mu.Unlock()

	n, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, n)

	// 回收器将超时的 Publishing 行退回 Pending
	rec := NewStalledJobReclaimer(repo, 10*time.Minute, time.Second, 10)
	n, err = rec.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	repo.mu.Lock()
	assert.Equal(t, ingest.PublishStatusPending, repo.jobs["job-1"].PublishStatus)
	assert.Equal(t, ingest.JobStatusQueued, repo.jobs["job-1"].Status)
	repo.mu.Unlock()

	// 此后 relay 可以再次认领并发布
	n, err = relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEndToEnd_SubmitRelayWorkerStatus(t *testing.T) {
	repo := newFakeJobRepo()
	seedJob(t, repo, "job-e2e", strings.Repeat("a", 250))
	require.Equal(t, ingest.JobStatusQueued, repo.statusOf("job-e2e"))

	broker := memory.NewBroker(16)
	relay := NewJobOutboxRelay(repo, broker.Publisher(), "jobs", 10, 50*time.Millisecond)
	w := NewIngestWorker(repo, newTestPipeline(t, vlEmbedding.NewMockEmbedder(8)))
	pool := NewWorkerPool(w, []mq.Consumer{broker.Consumer("jobs")}, 2*time.Second)

	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	n, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// 轮询直到终态，状态只会单调前进
	seen := map[int8]bool{ingest.JobStatusQueued: true}
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		st := repo.statusOf("job-e2e")
		seen[st] = true
		if st == ingest.JobStatusSucceeded || st == ingest.JobStatusFailed {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, ingest.JobStatusSucceeded, repo.statusOf("job-e2e"))
	assert.False(t, seen[ingest.JobStatusFailed])

	j, _ := repo.GetByUUID(context.Background(), "job-e2e")
	assert.Equal(t, 3, j.ChunksUpserted)
}

func TestScrubErrMsg(t *testing.T) {
	assert.Equal(t, "redacted", scrubErrMsg("request failed: api_key invalid"))
	assert.Equal(t, "redacted", scrubErrMsg("token sk-abc123"))
	assert.Equal(t, "plain failure", scrubErrMsg("  plain failure "))
	long := strings.Repeat("x", 300)
	assert.Len(t, scrubErrMsg(long), 255)

	// 多字节字符在 rune 边界截断，结果仍是合法 UTF-8
	wide := strings.Repeat("错", 300)
	got := scrubErrMsg(wide)
	assert.True(t, utf8.ValidString(got))
	assert.Len(t, []rune(got), 255)
}

var _ repository.JobRepository = (*fakeJobRepo)(nil)
