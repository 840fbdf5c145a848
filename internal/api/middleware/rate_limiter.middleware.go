package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/platformbuilds/sentinelops/pkg/cache"
)

// maxRequestsPerMinute bounds each client IP on the read API. The dashboard
// polls a handful of endpoints every few seconds, so this is generous.
const maxRequestsPerMinute int64 = 600

// RateLimiter implements per-client-IP rate limiting backed by Valkey.
// With the noop cache the counters are process-local, which still bounds a
// single instance.
func RateLimiter(valkeyCache cache.Valkey) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if clientIP == "" {
			clientIP = "unknown"
		}

		window := time.Now().Unix() / 60
		key := fmt.Sprintf("rate_limit:%s:%d", clientIP, window)

		var currentCount int64
		if countBytes, err := valkeyCache.Get(c.Request.Context(), key); err == nil {
			if count, err := strconv.ParseInt(string(countBytes), 10, 64); err == nil {
				currentCount = count
			}
		}

		if currentCount >= maxRequestsPerMinute {
			c.Header("X-Rate-Limit-Limit", strconv.FormatInt(maxRequestsPerMinute, 10))
			c.Header("X-Rate-Limit-Remaining", "0")
			c.Header("X-Rate-Limit-Reset", strconv.FormatInt((window+1)*60, 10))

			c.JSON(http.StatusTooManyRequests, gin.H{
				"status":      "error",
				"error":       "Rate limit exceeded",
				"retry_after": 60,
			})
			c.Abort()
			return
		}

		newCount := currentCount + 1
		_ = valkeyCache.Set(c.Request.Context(), key, newCount, 2*time.Minute)

		c.Header("X-Rate-Limit-Limit", strconv.FormatInt(maxRequestsPerMinute, 10))
		c.Header("X-Rate-Limit-Remaining", strconv.FormatInt(maxRequestsPerMinute-newCount, 10))
		c.Header("X-Rate-Limit-Reset", strconv.FormatInt((window+1)*60, 10))

		c.Next()
	}
}
