package middleware

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aiadmin/aiadmin/internal/infrastructure/hotstore"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

type fakeLimiter struct {
	decision *hotstore.RateLimitDecision
	err      error
	lastID   string
}

func (f *fakeLimiter) Check(_ context.Context, identifier string, limit int, _ time.Duration) (*hotstore.RateLimitDecision, error) {
	f.lastID = identifier
	if f.err != nil {
		return nil, f.err
	}
	if f.decision != nil {
		return f.decision, nil
	}
	return &hotstore.RateLimitDecision{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - 1,
		ResetAt:   time.Now().Add(time.Minute),
	}, nil
}

func limiterRouter(limiter RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(RateLimit(limiter, 100, time.Minute, testLogger()))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func TestRateLimitAllowsAndSetsHeaders(t *testing.T) {
	limiter := &fakeLimiter{}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/ping", nil)
	limiterRouter(limiter).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "100" {
		t.Errorf("X-RateLimit-Limit = %q", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "99" {
		t.Errorf("X-RateLimit-Remaining = %q", got)
	}
	if rec.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("X-RateLimit-Reset header missing")
	}
}

func TestRateLimitBlocksWithRetryAfter(t *testing.T) {
	reset := time.Now().Add(30 * time.Second)
	limiter := &fakeLimiter{decision: &hotstore.RateLimitDecision{
		Allowed:   false,
		Limit:     100,
		Remaining: 0,
		ResetAt:   reset,
	}}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/ping", nil)
	limiterRouter(limiter).ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Retry-After = %q", got)
	}
	if got := rec.Header().Get("X-RateLimit-Reset"); got != strconv.FormatInt(reset.Unix(), 10) {
		t.Errorf("X-RateLimit-Reset = %q", got)
	}
}

func TestRateLimitFailsOpenOnStoreError(t *testing.T) {
	limiter := &fakeLimiter{err: errors.New("redis down")}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/ping", nil)
	limiterRouter(limiter).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 on limiter failure", rec.Code)
	}
}

func TestRateLimitIdentifierPriority(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		wantID  string
	}{
		{
			name:    "api key wins",
			headers: map[string]string{"X-API-Key": "secretkey123", "X-Forwarded-For": "1.2.3.4"},
			wantID:  "key:secretke",
		},
		{
			name:    "forwarded ip next",
			headers: map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.1"},
			wantID:  "ip:1.2.3.4",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := &fakeLimiter{}
			rec := httptest.NewRecorder()
			req := httptest.NewRequest("GET", "/ping", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			limiterRouter(limiter).ServeHTTP(rec, req)
			if limiter.lastID != tt.wantID {
				t.Errorf("identifier = %q, want %q", limiter.lastID, tt.wantID)
			}
		})
	}
}

func authRouter(key string) *gin.Engine {
	r := gin.New()
	r.Use(APIKeyAuth(key))
	r.GET("/admin", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func TestAPIKeyAuth(t *testing.T) {
	tests := []struct {
		name       string
		serverKey  string
		clientKey  string
		wantStatus int
	}{
		{"valid key", "s3cret", "s3cret", http.StatusOK},
		{"wrong key", "s3cret", "nope", http.StatusUnauthorized},
		{"missing key", "s3cret", "", http.StatusUnauthorized},
		{"unconfigured server", "", "anything", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest("GET", "/admin", nil)
			if tt.clientKey != "" {
				req.Header.Set("X-API-Key", tt.clientKey)
			}
			authRouter(tt.serverKey).ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func signatureRouter(secret string) *gin.Engine {
	r := gin.New()
	r.Use(WebhookSignature(secret, testLogger()))
	r.POST("/hook", func(c *gin.Context) {
		body, _ := c.GetRawData()
		c.String(http.StatusOK, string(body))
	})
	return r
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookSignatureValid(t *testing.T) {
	body := []byte(`{"update_id":1}`)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/hook", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", sign("hooksecret", body))
	signatureRouter("hooksecret").ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	// body 必须完整传递给下游 handler
	if rec.Body.String() != string(body) {
		t.Errorf("downstream body = %q", rec.Body.String())
	}
}

func TestWebhookSignatureInvalid(t *testing.T) {
	body := []byte(`{"update_id":1}`)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/hook", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", "deadbeef")
	signatureRouter("hooksecret").ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestWebhookSignatureDisabledWithoutSecret(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/hook", bytes.NewReader([]byte("{}")))
	signatureRouter("").ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 when verification disabled", rec.Code)
	}
}

func TestWebhookSignatureStaleTimestamp(t *testing.T) {
	body := []byte(`{}`)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/hook", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", sign("hooksecret", body))
	req.Header.Set("X-Webhook-Timestamp", fmt.Sprintf("%d", time.Now().Add(-10*time.Minute).Unix()))
	signatureRouter("hooksecret").ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for stale timestamp", rec.Code)
	}
}
