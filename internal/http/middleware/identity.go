package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/insightlearn/backend/internal/logger"
)

const userIDKey = "userID"

// IdentityMiddleware trusts the X-User-ID header set by the platform's edge
// gateway, which has already authenticated the caller.
type IdentityMiddleware struct {
	log *logger.Logger
}

func NewIdentityMiddleware(baseLog *logger.Logger) *IdentityMiddleware {
	return &IdentityMiddleware{log: baseLog.With("Middleware", "IdentityMiddleware")}
}

func (im *IdentityMiddleware) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("X-User-ID")
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "missing X-User-ID header", "code": "unauthorized"},
			})
			return
		}
		userID, err := uuid.Parse(raw)
		if err != nil || userID == uuid.Nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "invalid X-User-ID header", "code": "unauthorized"},
			})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// UserID returns the caller identity set by RequireUser.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(userIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
