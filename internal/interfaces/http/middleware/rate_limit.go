package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aiadmin/aiadmin/internal/infrastructure/hotstore"
)

// RateLimiter 判定接口, 生产实现是 hotstore.RateLimitStore
type RateLimiter interface {
	Check(ctx context.Context, identifier string, limit int, window time.Duration) (*hotstore.RateLimitDecision, error)
}

// 路径类别限额 (次/窗口)
const (
	LimitHealth        = 10000
	LimitWebhook       = 200
	LimitAuthenticated = 1000
	LimitDefault       = 100
)

// RateLimit applies a sliding-window limit per client identifier.
// Identifier priority: API key prefix > forwarded client IP > direct IP.
// When the limiter backend is unreachable the request passes (fail-open):
// losing rate limiting is cheaper than dropping all traffic.
func RateLimit(limiter RateLimiter, limit int, window time.Duration, logger *zap.Logger) gin.HandlerFunc {
	if window <= 0 {
		window = time.Minute
	}
	return func(c *gin.Context) {
		identifier := clientIdentifier(c)

		decision, err := limiter.Check(c.Request.Context(), identifier, limit, window)
		if err != nil {
			logger.Warn("Rate limiter unavailable, allowing request",
				zap.String("identifier", identifier),
				zap.Error(err),
			)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

		if !decision.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// clientIdentifier 识别限流主体
func clientIdentifier(c *gin.Context) string {
	if apiKey := c.GetHeader("X-API-Key"); len(apiKey) >= 8 {
		return "key:" + apiKey[:8]
	}
	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if first != "" {
			return fmt.Sprintf("ip:%s", first)
		}
	}
	return "ip:" + c.ClientIP()
}
