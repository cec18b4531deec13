package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/alerts"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/response"
)

const (
	rateLimitMax    = 50
	rateLimitWindow = time.Second
)

// RateLimit enforces a per-IP sliding-window limit on unauthenticated
// requests. Authenticated callers are budgeted by the cost ledger instead.
func RateLimit(rdb *redis.Client, alertSvc *alerts.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsAuthenticated(c) {
			c.Next()
			return
		}

		ip := c.ClientIP()
		if ip == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		windowKey := time.Now().Unix()
		key := fmt.Sprintf("rf:rate_limit:%s:%d", ip, windowKey)

		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			c.Next()
			return
		}

		if count == 1 {
			rdb.PExpire(ctx, key, rateLimitWindow+time.Second)
		}

		if count > rateLimitMax {
			path := c.Request.URL.Path
			if alertSvc != nil {
				go alertSvc.SendThrottled("ratelimit:"+ip, "warning", "Rate limit tripped",
					fmt.Sprintf("ip=%s path=%s", ip, path))
			}
			c.Header("Retry-After", "1")
			response.TooManyRequests(c, "too many requests, slow down")
			return
		}

		c.Next()
	}
}
