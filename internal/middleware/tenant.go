package middleware

import (
	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/sma-results-api/pkg/errors"
	"github.com/noah-isme/sma-results-api/pkg/logger"
	"github.com/noah-isme/sma-results-api/pkg/response"
)

// ContextTenantKey stores the calling tenant on the gin context.
const ContextTenantKey = "tenantID"

// Tenant requires the tenant header and exposes its value to handlers.
func Tenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.GetHeader(logger.TenantHeader)
		if tenantID == "" {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, logger.TenantHeader+" header required"))
			c.Abort()
			return
		}
		c.Set(ContextTenantKey, tenantID)
		c.Next()
	}
}

// TenantID returns the tenant resolved by Tenant, or an empty string.
func TenantID(c *gin.Context) string {
	return c.GetString(ContextTenantKey)
}
