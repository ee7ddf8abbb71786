package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Заголовки и ключи контекста Gin, разделяемые middleware и обработчиками
const (
	HeaderTenantID       = "X-Tenant-ID"
	HeaderIdempotencyKey = "Idempotency-Key"

	CtxTenantIDKey       = "tenantID"
	CtxIdempotencyKeyKey = "idempotencyKey"
)

// RequireTenant извлекает обязательный X-Tenant-ID и кладет его в контекст.
// Все данные сервиса партиционированы по тенанту, запрос без него не имеет
// смысла.
func RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.GetHeader(HeaderTenantID)
		if tenantID == "" {
			respondError(c, http.StatusUnprocessableEntity, "validation_error", "X-Tenant-ID header is required")
			return
		}
		c.Set(CtxTenantIDKey, tenantID)
		c.Next()
	}
}

// TenantID возвращает тенанта текущего запроса
func TenantID(c *gin.Context) string {
	return c.GetString(CtxTenantIDKey)
}

// IdempotencyKey возвращает идемпотентный ключ текущего запроса
func IdempotencyKey(c *gin.Context) string {
	return c.GetString(CtxIdempotencyKeyKey)
}

// respondError отдает единый конверт ошибки и прерывает цепочку
func respondError(c *gin.Context, status int, errType, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"type":    errType,
			"message": message,
		},
	})
}
