package middleware

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/pesantren-billing-api/internal/models"
	"github.com/noah-isme/pesantren-billing-api/internal/service"
)

const auditResourceIDKey = "audit_resource_id"

// SetAuditResourceID lets a handler name the record it created so the audit entry can point at it.
func SetAuditResourceID(c *gin.Context, id string) {
	c.Set(auditResourceIDKey, id)
}

// Audit creates a middleware that records audit logs after successful requests.
func Audit(audit *service.AuditService, action, resource string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now().UTC()
		c.Next()

		if audit == nil || c.Writer.Status() >= 400 {
			return
		}

		entry := &models.AuditLog{
			Action:    action,
			Resource:  resource,
			IPAddress: c.ClientIP(),
			UserAgent: c.GetHeader("User-Agent"),
		}
		if user := CurrentClaims(c); user != nil {
			actorID := user.UserID
			entry.ActorID = &actorID
			entry.ActorRole = string(user.Role)
		}
		if id := c.GetString(auditResourceIDKey); id != "" {
			entry.ResourceID = &id
		} else if id := c.Param("id"); id != "" {
			entry.ResourceID = &id
		}

		entry.Payload, _ = json.Marshal(map[string]interface{}{
			"path":    c.FullPath(),
			"method":  c.Request.Method,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).Milliseconds(),
		})

		audit.Record(c.Request.Context(), entry)
	}
}
