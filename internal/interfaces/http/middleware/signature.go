package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// 时间戳容忍窗口, 超出视为重放
const signatureMaxSkew = 300 * time.Second

// WebhookSignature verifies the HMAC-SHA256 signature of the raw request
// body against the X-Webhook-Signature header. Verification is opt-in:
// with an empty secret the middleware is a no-op so channels without
// signing keep working. When X-Webhook-Timestamp is present it must be
// within a 5 minute window of server time.
func WebhookSignature(secret string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "cannot read request body"})
			return
		}
		// 签名校验后把 body 还回去, 让后续 handler 正常解析
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		if ts := c.GetHeader("X-Webhook-Timestamp"); ts != "" {
			unix, err := strconv.ParseInt(ts, 10, 64)
			if err != nil || absDuration(time.Since(time.Unix(unix, 0))) > signatureMaxSkew {
				logger.Warn("Webhook timestamp outside replay window", zap.String("timestamp", ts))
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "stale webhook timestamp"})
				return
			}
		}

		provided := c.GetHeader("X-Webhook-Signature")
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		expected := hex.EncodeToString(mac.Sum(nil))

		if subtleEqual(provided, expected) {
			c.Next()
			return
		}
		logger.Warn("Webhook signature mismatch", zap.String("path", c.Request.URL.Path))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook signature"})
	}
}

func subtleEqual(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
