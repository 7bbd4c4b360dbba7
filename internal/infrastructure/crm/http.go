package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apperrors "github.com/aiadmin/aiadmin/pkg/errors"
)

// restClient is the shared HTTP plumbing for vendor adapters: a pooled
// client, per-adapter rate limiter and JSON round-trip helper.
type restClient struct {
	baseURL string
	headers map[string]string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// newRESTClient builds the plumbing. rps is the vendor-specific request rate.
func newRESTClient(baseURL string, headers map[string]string, rps float64, logger *zap.Logger) *restClient {
	if rps <= 0 {
		rps = 5
	}
	return &restClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: headers,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger,
	}
}

// doJSON performs one rate-limited JSON round-trip.
// out may be nil when the response body is irrelevant.
func (c *restClient) doJSON(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return apperrors.NewTransportError("crm rate limiter wait failed", err)
	}

	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return apperrors.NewInternalErrorWithCause("encode crm request", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return apperrors.NewInternalErrorWithCause("create crm request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return apperrors.NewTransportError("crm request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.NewTransportError("read crm response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("CRM request rejected",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return apperrors.NewTransportError(
			fmt.Sprintf("crm api error %d", resp.StatusCode), nil)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return apperrors.NewProtocolError("malformed crm response: " + err.Error())
		}
	}
	return nil
}
