package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"VectorLink/internal/application/dto/request"
	"VectorLink/internal/application/dto/respond"
	"VectorLink/internal/domain/ingest"
	"VectorLink/internal/domain/repository"
	"VectorLink/pkg/xerr"
	"VectorLink/pkg/zlog"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IngestService 受理异步摄取：落库任务行即返回，执行交给 worker
type IngestService interface {
	Submit(ctx context.Context, tenantID string, req request.SubmitIngestRequest) (*respond.SubmitIngestRespond, error)
	Status(ctx context.Context, jobUUID string) (*respond.JobStatusRespond, error)
	Purge(ctx context.Context, documentID string) error
}

type ingestService struct {
	jobRepo repository.JobRepository
	store   repository.VectorStore
	topic   string
}

func NewIngestService(jobRepo repository.JobRepository, store repository.VectorStore, topic string) IngestService {
	return &ingestService{jobRepo: jobRepo, store: store, topic: strings.TrimSpace(topic)}
}

func (s *ingestService) Submit(ctx context.Context, tenantID string, req request.SubmitIngestRequest) (*respond.SubmitIngestRespond, error) {
	if len(req.Documents) == 0 {
		return nil, xerr.New(xerr.BadRequest, "documents is empty")
	}

	docs := make([]ingest.Document, 0, len(req.Documents))
	seen := make(map[string]struct{}, len(req.Documents))
	for i := range req.Documents {
		d := req.Documents[i]
		id := strings.TrimSpace(d.ID)
		if id == "" {
			return nil, xerr.New(xerr.BadRequest, "document id is empty")
		}
		if _, dup := seen[id]; dup {
			return nil, xerr.New(xerr.BadRequest, "duplicate document id: "+id)
		}
		seen[id] = struct{}{}
		docs = append(docs, ingest.Document{
			ID:       id,
			Text:     d.Text,
			Metadata: d.Metadata,
		})
	}

	payload, err := json.Marshal(docs)
	if err != nil {
		return nil, xerr.New(xerr.InternalServerError, xerr.ErrServerError.Message)
	}

	now := time.Now()
	job := &ingest.IngestJob{
		JobUUID:        uuid.NewString(),
		TenantID:       strings.TrimSpace(tenantID),
		DocumentsJson:  string(payload),
		TotalDocuments: len(docs),
		Status:         ingest.JobStatusQueued,
		PublishStatus:  ingest.PublishStatusPending,
		Topic:          s.topic,
		SubmittedAt:    now,
		UpdatedAt:      now,
	}
	if err := s.jobRepo.Create(ctx, job); err != nil {
		zlog.Error("ingest submit create job failed", zap.Error(err))
		return nil, xerr.New(xerr.InternalServerError, xerr.ErrServerError.Message)
	}

	zlog.Info("ingest job submitted",
		zap.String("job_uuid", job.JobUUID),
		zap.Int("documents", len(docs)),
	)
	return &respond.SubmitIngestRespond{
		JobID:          job.JobUUID,
		TotalDocuments: len(docs),
	}, nil
}

func (s *ingestService) Status(ctx context.Context, jobUUID string) (*respond.JobStatusRespond, error) {
	jobUUID = strings.TrimSpace(jobUUID)
	if jobUUID == "" {
		return nil, xerr.New(xerr.BadRequest, "missing job_id")
	}

	job, err := s.jobRepo.GetByUUID(ctx, jobUUID)
	if err != nil {
		zlog.Warn("ingest status query failed", zap.String("job_uuid", jobUUID), zap.Error(err))
		return nil, xerr.New(xerr.InternalServerError, xerr.ErrServerError.Message)
	}
	if job == nil {
		return nil, xerr.New(xerr.NotFound, "job not found")
	}

	out := &respond.JobStatusRespond{
		JobID:          job.JobUUID,
		Status:         ingest.StatusText(job.Status),
		Reason:         job.Reason,
		TotalDocuments: job.TotalDocuments,
		ChunksUpserted: job.ChunksUpserted,
		Attempt:        job.Attempt,
		SubmittedAt:    job.SubmittedAt.Format(time.RFC3339),
	}
	if job.StartedAt != nil {
		out.StartedAt = job.StartedAt.Format(time.RFC3339)
	}
	if job.CompletedAt != nil {
		out.CompletedAt = job.CompletedAt.Format(time.RFC3339)
	}
	return out, nil
}

// Purge 删除某文档的全部向量记录
func (s *ingestService) Purge(ctx context.Context, documentID string) error {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return xerr.New(xerr.BadRequest, "missing document_id")
	}
	if err := s.store.DeleteByDocumentID(ctx, documentID); err != nil {
		zlog.Warn("purge document failed", zap.String("document_id", documentID), zap.Error(err))
		return xerr.New(xerr.InternalServerError, xerr.ErrServerError.Message)
	}
	zlog.Info("document purged", zap.String("document_id", documentID))
	return nil
}
