package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Document 一次摄取的原始单元，提交后不再修改
type Document struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Chunk 文档切片，偏移量以 rune 计
type Chunk struct {
	DocumentID string `json:"document_id"`
	Index      int    `json:"index"`
	Text       string `json:"text"`
	CharStart  int    `json:"char_start"`
	CharEnd    int    `json:"char_end"`
}

// RecordID 由 (document_id, chunk_index) 确定性推导向量记录主键，
// 重复摄取同一文档得到相同 id，upsert 覆盖而不是重复插入
func RecordID(documentID string, chunkIndex int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", documentID, chunkIndex)))
	return "v_" + hex.EncodeToString(sum[:])[:48]
}

// 任务执行状态，只允许单调前进：Queued -> Running -> Succeeded | Failed
const (
	JobStatusQueued    int8 = 0
	JobStatusRunning   int8 = 1
	JobStatusSucceeded int8 = 2
	JobStatusFailed    int8 = 3
)

// 发布状态（outbox）
const (
	PublishStatusPending    int8 = 0
	PublishStatusPublishing int8 = 1
	PublishStatusPublished  int8 = 2
	PublishStatusFailed     int8 = 3
)

func StatusText(s int8) string {
	switch s {
	case JobStatusQueued:
		return "queued"
	case JobStatusRunning:
		return "running"
	case JobStatusSucceeded:
		return "succeeded"
	case JobStatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IngestJob 一次异步摄取任务；同时充当发布 outbox 行，
// 由 relay 投递到消息队列，由 worker 认领执行
type IngestJob struct {
	Id       int64  `gorm:"column:id;primaryKey;autoIncrement"`
	JobUUID  string `gorm:"column:job_uuid;type:char(36);not null;uniqueIndex:uniq_vl_job_uuid"`
	TenantID string `gorm:"column:tenant_id;type:varchar(64);index:idx_vl_job_tenant"`

	DocumentsJson  string `gorm:"column:documents_json;type:mediumtext"`
	TotalDocuments int    `gorm:"column:total_documents;type:int;not null;default:0"`
	ChunksUpserted int    `gorm:"column:chunks_upserted;type:int;not null;default:0"`

	Status  int8   `gorm:"column:status;type:tinyint;not null;default:0;index:idx_vl_job_status"`
	Reason  string `gorm:"column:reason;type:varchar(255)"`
	Attempt int    `gorm:"column:attempt;type:int;not null;default:0"`

	PublishStatus int8       `gorm:"column:publish_status;type:tinyint;not null;default:0;index:idx_vl_job_publish"`
	RetryCount    int        `gorm:"column:retry_count;type:int;not null;default:0"`
	NextRetryAt   *time.Time `gorm:"column:next_retry_at;type:datetime"`
	Topic         string     `gorm:"column:topic;type:varchar(128)"`
	PublishedAt   *time.Time `gorm:"column:published_at;type:datetime"`
	LastError     string     `gorm:"column:last_error;type:varchar(255)"`

	SubmittedAt time.Time  `gorm:"column:submitted_at;type:datetime;not null"`
	StartedAt   *time.Time `gorm:"column:started_at;type:datetime"`
	CompletedAt *time.Time `gorm:"column:completed_at;type:datetime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;type:datetime;not null"`
}

func (IngestJob) TableName() string { return "vl_ingest_job" }

// Terminal 终态任务不允许再被改写
func (j *IngestJob) Terminal() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusFailed
}
