package httpapi

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/villagecompute/posoffline/internal/common"
	"github.com/villagecompute/posoffline/internal/server/auth"
)

const (
	contextTenantIDKey = "tenant_id"
	contextDeviceIDKey = "device_id"
)

// DeviceAuth verifies the Bearer device token and injects its tenant and
// device ids into the request context.
func (s *Server) DeviceAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader(common.DeviceTokenHeaderName)
		scheme := common.DeviceTokenScheme + " "
		if !strings.HasPrefix(header, scheme) {
			abortWithError(c, common.ErrInvalidToken)
			return
		}

		claims, err := auth.ParseDeviceToken(strings.TrimPrefix(header, scheme), []byte(s.config.SecretKey))
		if err != nil {
			abortWithError(c, err)
			return
		}

		c.Set(contextTenantIDKey, claims.TenantID)
		c.Set(contextDeviceIDKey, claims.DeviceID)
		c.Next()
	}
}

func tenantID(c *gin.Context) string { return c.GetString(contextTenantIDKey) }
func deviceID(c *gin.Context) string { return c.GetString(contextDeviceIDKey) }
