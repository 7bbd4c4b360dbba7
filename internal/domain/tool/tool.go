package tool

import "context"

// Tool 工具接口 - LLM 可调用的具名类型化处理器
type Tool interface {
	// Name 返回工具名称
	Name() string
	// Description 返回工具描述
	Description() string
	// Schema 返回参数的 JSON Schema
	Schema() map[string]interface{}
	// Execute 执行工具, 返回给 LLM 的结构化结果
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// Declaration 工具声明, 导出给 LLM 作为 function declaration
type Declaration struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Catalogue 租户作用域的工具目录
// 每个请求基于租户的 CRM 适配器构建一份; 执行合约:
// 成功 → {"result": ...}, 失败 → {"error": "..."}, 适配器异常不外泄
type Catalogue interface {
	// Declarations 导出全部工具声明
	Declarations() []Declaration
	// Execute 按名称执行工具, 未知名称返回 {"error": "unknown tool: ..."}
	Execute(ctx context.Context, name string, args map[string]interface{}) map[string]interface{}
	// Has 检查工具是否存在
	Has(name string) bool
}
