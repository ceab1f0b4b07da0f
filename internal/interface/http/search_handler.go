package http

import (
	"VectorLink/internal/application/dto/request"
	"VectorLink/internal/application/service"
	"VectorLink/pkg/back"
	"VectorLink/pkg/xerr"
	"VectorLink/pkg/zlog"

	"github.com/gin-gonic/gin"
)

// SearchHandler 相似检索 HTTP Handler
type SearchHandler struct {
	searchSvc service.SearchService
}

func NewSearchHandler(searchSvc service.SearchService) *SearchHandler {
	return &SearchHandler{searchSvc: searchSvc}
}

// Search 相似检索
//
// 路由: POST /search
func (h *SearchHandler) Search(c *gin.Context) {
	var req request.SearchRequest
	if err := c.BindJSON(&req); err != nil {
		zlog.Error(err.Error())
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}

	data, err := h.searchSvc.Search(c.Request.Context(), req)
	back.Result(c, data, err)
}
