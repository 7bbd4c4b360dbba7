// Package tool builds the per-tenant function-calling catalogue the agent
// exposes to the LLM. Every tool delegates to the tenant's CRM adapter; the
// execution contract towards the model is {"result": ...} on success and
// {"error": "..."} on failure, so adapter faults never break the loop.
package tool

import (
	"context"
	"time"

	"go.uber.org/zap"

	domaintool "github.com/aiadmin/aiadmin/internal/domain/tool"
	"github.com/aiadmin/aiadmin/internal/infrastructure/crm"
)

// Catalog 基于单个 CRM 适配器的工具目录, 按请求构建
type Catalog struct {
	tools  map[string]domaintool.Tool
	order  []string
	logger *zap.Logger
}

var _ domaintool.Catalogue = (*Catalog)(nil)

// NewCatalog registers the nine CRM tools against the given adapter.
func NewCatalog(adapter crm.Adapter, logger *zap.Logger) *Catalog {
	c := &Catalog{
		tools:  make(map[string]domaintool.Tool),
		logger: logger.With(zap.String("crm", adapter.Kind())),
	}
	for _, t := range []domaintool.Tool{
		&getServicesTool{adapter: adapter},
		&getServiceByIDTool{adapter: adapter},
		&getEmployeesTool{adapter: adapter},
		&getAvailableSlotsTool{adapter: adapter},
		&getClientByPhoneTool{adapter: adapter},
		&createClientTool{adapter: adapter},
		&createAppointmentTool{adapter: adapter},
		&getClientAppointmentsTool{adapter: adapter},
		&cancelAppointmentTool{adapter: adapter},
	} {
		c.tools[t.Name()] = t
		c.order = append(c.order, t.Name())
	}
	return c
}

// Declarations 导出全部工具声明, 顺序稳定
func (c *Catalog) Declarations() []domaintool.Declaration {
	decls := make([]domaintool.Declaration, 0, len(c.order))
	for _, name := range c.order {
		t := c.tools[name]
		decls = append(decls, domaintool.Declaration{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return decls
}

// Has 检查工具是否存在
func (c *Catalog) Has(name string) bool {
	_, ok := c.tools[name]
	return ok
}

// Execute 执行工具并包装结果。适配器错误以 {"error": ...} 返回给模型,
// 不向上抛出, 让模型自行向用户解释。
func (c *Catalog) Execute(ctx context.Context, name string, args map[string]interface{}) map[string]interface{} {
	t, ok := c.tools[name]
	if !ok {
		c.logger.Warn("Unknown tool requested", zap.String("tool", name))
		return map[string]interface{}{"error": "unknown tool: " + name}
	}

	start := time.Now()
	result, err := t.Execute(ctx, args)
	if err != nil {
		c.logger.Warn("Tool execution failed",
			zap.String("tool", name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return map[string]interface{}{"error": err.Error()}
	}

	c.logger.Debug("Tool executed",
		zap.String("tool", name),
		zap.Duration("duration", time.Since(start)),
	)
	return map[string]interface{}{"result": result}
}
