package jwt

import (
	"strings"

	"VectorLink/pkg/back"
	"VectorLink/pkg/util/myjwt"
	"VectorLink/pkg/xerr"

	"github.com/gin-gonic/gin"
)

func Auth(m *myjwt.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			back.Error(c, xerr.Unauthorized, "missing or invalid authorization header")
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := m.ParseToken(tokenString)
		if err != nil {
			back.Error(c, xerr.Unauthorized, "invalid token")
			c.Abort()
			return
		}

		c.Set("uuid", claims.Uuid)
		c.Set("tenant_id", claims.TenantID)
		c.Next()
	}
}
