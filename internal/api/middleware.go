package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/annel0/fg-server/internal/auth"
)

// AdminKeyHeader заголовок с ключом администратора
const AdminKeyHeader = "X-Admin-Key"

// adminMiddleware сверяет ключ из заголовка с bcrypt-хешем из конфигурации
func (s *Server) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminKeyHash == "" {
			c.Next()
			return
		}
		key := c.GetHeader(AdminKeyHeader)
		if key == "" || !auth.CheckAdminKey(s.cfg.AdminKeyHash, key) {
			c.JSON(http.StatusUnauthorized, GenericResponse{Message: "Неверный ключ администратора"})
			c.Abort()
			return
		}
		c.Next()
	}
}
