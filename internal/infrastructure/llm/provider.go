package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/aiadmin/aiadmin/internal/domain/entity"
	"github.com/aiadmin/aiadmin/internal/domain/tool"
)

// ErrEmptyResponse LLM 返回既无文本也无工具调用
var ErrEmptyResponse = errors.New("llm returned an empty response")

// Message 一条 LLM 输入消息
type Message struct {
	Role entity.Role `json:"role"`
	Text string      `json:"text"`
}

// ToolCall 模型请求调用工具
type ToolCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// Request 一次生成请求
type Request struct {
	Model             string
	Messages          []Message
	SystemInstruction string
	Tools             []tool.Declaration
	Temperature       float64
	MaxTokens         int
}

// Response 一次生成结果: Text 与 ToolCall 恰有其一非空
type Response struct {
	FinishReason string    `json:"finish_reason,omitempty"`
	Text         string    `json:"text,omitempty"`
	ToolCall     *ToolCall `json:"tool_call,omitempty"`
}

// Provider LLM 提供商接口
type Provider interface {
	// Generate 生成回复; 空响应返回 ErrEmptyResponse
	Generate(ctx context.Context, req *Request) (*Response, error)

	// HealthCheck 发一次最小生成请求并校验文本存在
	HealthCheck(ctx context.Context) error

	// Name 返回提供商标识
	Name() string
}

// ProviderConfig holds configuration for an LLM provider.
type ProviderConfig struct {
	Type         string `json:"type"` // "gemini"
	BaseURL      string `json:"base_url"`
	APIKey       string `json:"api_key"`
	DefaultModel string `json:"default_model"`
	MaxRetries   int    `json:"max_retries"`
}

// --- Provider Factory Registry ---
// Providers register themselves via init() in their own package.
// Adding a new provider type = implement Provider + RegisterFactory("type", New).

// ProviderFactory creates a Provider from config.
type ProviderFactory func(cfg ProviderConfig, logger *zap.Logger) Provider

var (
	factoryMu sync.RWMutex
	factories = map[string]ProviderFactory{}
)

// RegisterFactory registers a provider factory for the given type name.
// Called from init() in each provider sub-package (e.g. llm/gemini).
func RegisterFactory(typeName string, factory ProviderFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[typeName] = factory
}

// CreateProvider creates a Provider using the registered factory for cfg.Type.
// If Type is empty, defaults to "gemini".
func CreateProvider(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	t := cfg.Type
	if t == "" {
		t = "gemini"
	}

	factoryMu.RLock()
	factory, ok := factories[t]
	factoryMu.RUnlock()

	if !ok {
		factoryMu.RLock()
		available := make([]string, 0, len(factories))
		for k := range factories {
			available = append(available, k)
		}
		factoryMu.RUnlock()
		return nil, fmt.Errorf("unknown provider type %q (available: %v)", t, available)
	}

	return factory(cfg, logger), nil
}
