package http

import (
	"VectorLink/internal/config"
	vlHandler "VectorLink/internal/interface/http"
	jwtMiddleware "VectorLink/internal/middleware/jwt"
	"VectorLink/pkg/ssl"
	"VectorLink/pkg/util/myjwt"

	cors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// NewServer 组装路由。所有依赖显式传入，不读包级全局
func NewServer(conf *config.Config, jwtMgr *myjwt.Manager, ingestH *vlHandler.IngestHandler, searchH *vlHandler.SearchHandler) *gin.Engine {
	ge := gin.Default()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	ge.Use(cors.New(corsConfig))
	if conf.MainConfig.EnableTLS {
		ge.Use(ssl.TlsHandler(conf.MainConfig.Host, conf.MainConfig.Port))
	}

	ge.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	authed := ge.Group("/")
	if jwtMgr != nil {
		authed.Use(jwtMiddleware.Auth(jwtMgr))
	}
	authed.POST("/ingest/submit", ingestH.Submit)
	authed.GET("/ingest/jobs/:job_id", ingestH.Status)
	authed.DELETE("/ingest/documents/:document_id", ingestH.Purge)
	authed.POST("/search", searchH.Search)

	return ge
}
