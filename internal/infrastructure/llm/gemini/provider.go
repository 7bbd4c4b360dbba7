package gemini

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aiadmin/aiadmin/internal/domain/entity"
	llm "github.com/aiadmin/aiadmin/internal/infrastructure/llm"
	apperrors "github.com/aiadmin/aiadmin/pkg/errors"
)

func init() {
	llm.RegisterFactory("gemini", func(cfg llm.ProviderConfig, logger *zap.Logger) llm.Provider {
		return New(cfg, logger)
	})
}

const defaultModel = "gemini-2.0-flash-exp"

// Provider implements the Google Gemini API natively.
type Provider struct {
	baseURL      string
	apiKey       string
	defaultModel string
	maxRetries   int
	client       *http.Client
	logger       *zap.Logger
}

// New creates a Google Gemini API provider. No network I/O happens here.
func New(cfg llm.ProviderConfig, logger *zap.Logger) *Provider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	model := cfg.DefaultModel
	if model == "" {
		model = defaultModel
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	if maxRetries > 2 {
		maxRetries = 2
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	return &Provider{
		baseURL:      baseURL,
		apiKey:       cfg.APIKey,
		defaultModel: model,
		maxRetries:   maxRetries,
		client:       &http.Client{Transport: transport},
		logger:       logger.With(zap.String("provider", "gemini")),
	}
}

var _ llm.Provider = (*Provider)(nil)

// Name returns the provider identifier.
func (p *Provider) Name() string { return "gemini" }

// Generate issues a non-streaming generateContent call.
// Transient transport errors are retried with exponential backoff; content
// errors (4xx, malformed body, empty candidates) are never retried.
func (p *Provider) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	apiReq := p.buildAPIRequest(req)

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, apperrors.NewInternalErrorWithCause("marshal llm request", err)
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", p.baseURL, model, p.apiKey)

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return nil, apperrors.NewTransportError("llm call cancelled", ctx.Err())
			case <-time.After(backoff):
			}
		}

		respBody, retryable, err := p.doRequest(ctx, url, body)
		if err != nil {
			lastErr = err
			if retryable {
				p.logger.Warn("Gemini request failed, retrying",
					zap.Int("attempt", attempt),
					zap.Error(err),
				)
				continue
			}
			return nil, err
		}
		return p.parseAPIResponse(respBody)
	}
	return nil, lastErr
}

// HealthCheck issues a minimal generate and verifies text presence.
func (p *Provider) HealthCheck(ctx context.Context) error {
	resp, err := p.Generate(ctx, &llm.Request{
		Messages:  []llm.Message{{Role: entity.RoleUser, Text: "ping"}},
		MaxTokens: 8,
	})
	if err != nil {
		return err
	}
	if resp.Text == "" {
		return apperrors.NewProtocolError("health probe returned no text")
	}
	return nil
}

// doRequest performs one HTTP round-trip. The bool result reports whether the
// failure is worth retrying (network fault or 5xx/429).
func (p *Provider) doRequest(ctx context.Context, url string, body []byte) ([]byte, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, false, apperrors.NewInternalErrorWithCause("create llm request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, true, apperrors.NewTransportError("llm request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, apperrors.NewTransportError("read llm response", err)
	}

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, retryable, apperrors.NewTransportError(
			fmt.Sprintf("gemini api error %d", resp.StatusCode), nil)
	}
	return respBody, false, nil
}

// buildAPIRequest converts the neutral request into the Gemini wire format.
func (p *Provider) buildAPIRequest(req *llm.Request) *Request {
	temperature := req.Temperature
	if temperature < 0 {
		temperature = 0
	}
	if temperature > 2 {
		temperature = 2
	}

	apiReq := &Request{
		GenerationConfig: &GenerationConfig{
			Temperature:     temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}

	if req.SystemInstruction != "" {
		apiReq.SystemInstruction = &Content{
			Parts: []Part{{Text: req.SystemInstruction}},
		}
	}

	for _, msg := range req.Messages {
		role := "user"
		if msg.Role == entity.RoleModel {
			role = "model"
		}
		apiReq.Contents = append(apiReq.Contents, Content{
			Role:  role,
			Parts: []Part{{Text: msg.Text}},
		})
	}

	if len(req.Tools) > 0 {
		var decls []FunctionDeclarationSpec
		for _, td := range req.Tools {
			decls = append(decls, FunctionDeclarationSpec{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  ConvertSchema(td.Parameters),
			})
		}
		apiReq.Tools = []ToolDeclaration{{FunctionDeclarations: decls}}
	}

	return apiReq
}

// parseAPIResponse extracts exactly one of text or tool call.
func (p *Provider) parseAPIResponse(body []byte) (*llm.Response, error) {
	var apiResp Response
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, apperrors.NewProtocolError("malformed gemini response: " + err.Error())
	}

	if len(apiResp.Candidates) == 0 {
		return nil, llm.ErrEmptyResponse
	}

	candidate := apiResp.Candidates[0]
	resp := &llm.Response{FinishReason: candidate.FinishReason}

	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			resp.Text += part.Text
		}
		if part.FunctionCall != nil && resp.ToolCall == nil {
			resp.ToolCall = &llm.ToolCall{
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
			}
		}
	}

	// 工具调用优先: 同时出现文本与调用时按调用处理
	if resp.ToolCall != nil {
		resp.Text = ""
	}
	if resp.Text == "" && resp.ToolCall == nil {
		return nil, llm.ErrEmptyResponse
	}
	return resp, nil
}
