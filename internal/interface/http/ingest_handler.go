package http

import (
	"strings"

	"VectorLink/internal/application/dto/request"
	"VectorLink/internal/application/service"
	"VectorLink/pkg/back"
	"VectorLink/pkg/xerr"
	"VectorLink/pkg/zlog"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// IngestHandler 异步摄取 HTTP Handler
type IngestHandler struct {
	ingestSvc service.IngestService
}

func NewIngestHandler(ingestSvc service.IngestService) *IngestHandler {
	return &IngestHandler{ingestSvc: ingestSvc}
}

// Submit 提交摄取任务，立即返回 job_id
//
// 路由: POST /ingest/submit
func (h *IngestHandler) Submit(c *gin.Context) {
	var req request.SubmitIngestRequest
	if err := c.BindJSON(&req); err != nil {
		zlog.Error(err.Error())
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}

	tenantID := strings.TrimSpace(c.GetString("tenant_id"))
	data, err := h.ingestSvc.Submit(c.Request.Context(), tenantID, req)
	back.Result(c, data, err)
}

// Status 查询任务状态
//
// 路由: GET /ingest/jobs/:job_id
func (h *IngestHandler) Status(c *gin.Context) {
	jobID := strings.TrimSpace(c.Param("job_id"))
	data, err := h.ingestSvc.Status(c.Request.Context(), jobID)
	back.Result(c, data, err)
}

// Purge 删除文档的全部向量
//
// 路由: DELETE /ingest/documents/:document_id
func (h *IngestHandler) Purge(c *gin.Context) {
	docID := strings.TrimSpace(c.Param("document_id"))
	err := h.ingestSvc.Purge(c.Request.Context(), docID)
	if err != nil {
		back.Result(c, nil, err)
		return
	}
	zlog.Info("purge requested", zap.String("document_id", docID))
	back.Success(c, gin.H{"document_id": docID})
}
