// Package prompt assembles the per-request system instruction: a base
// template keyed by session state, followed by the tenant's business context
// and the current dialogue context.
package prompt

import (
	"fmt"
	"strings"

	"github.com/aiadmin/aiadmin/internal/domain/entity"
)

const basePrompt = `Ты — вежливый и профессиональный администратор компании. Общайся на русском языке, кратко и по делу.
Твоя задача — помогать клиентам: отвечать на вопросы об услугах, записывать на приём и отменять записи.
Используй доступные инструменты для работы с CRM. Никогда не выдумывай услуги, цены или свободное время — всегда проверяй через инструменты.`

// statePrompts 各会话状态的补充指令
var statePrompts = map[entity.SessionState]string{
	entity.StateInitiated: `Это первое сообщение клиента. Поприветствуй его от имени компании и спроси, чем можешь помочь.`,
	entity.StateGreeting: `Диалог только начался. Выясни, что интересует клиента: какая услуга, на какое время.`,
	entity.StateCollectingInfo: `Собери недостающие данные для записи: имя клиента, телефон и желаемую услугу.
Спрашивай по одному пункту за раз, не перегружай клиента вопросами.`,
	entity.StateConsulting: `Клиент задаёт вопросы об услугах. Отвечай по каталогу, уточни цены и длительность через инструменты.
Если клиент готов записаться, предложи подобрать время.`,
	entity.StateBooking: `Все данные собраны. Найди клиента в CRM по телефону (создай, если нет), подбери свободные слоты
через get_available_slots и предложи клиенту варианты.`,
	entity.StateConfirming: `Клиент выбрал время. Проговори детали записи (услуга, дата, время, мастер) и попроси подтверждение.
Запись создавай ТОЛЬКО после явного согласия клиента.`,
	entity.StateCompleted: `Запись оформлена. Поблагодари клиента, напомни детали и попрощайся.`,
	entity.StateFailed:    `Произошла ошибка. Извинись и предложи клиенту связаться с компанией напрямую.`,
}

// Builder 组装系统指令
type Builder struct{}

func NewBuilder() *Builder {
	return &Builder{}
}

// Build composes the full system instruction for one LLM call.
func (b *Builder) Build(state entity.SessionState, promptCtx *entity.PromptContext, sessionCtx map[string]interface{}) string {
	var parts []string
	parts = append(parts, basePrompt)
	if sp, ok := statePrompts[state]; ok {
		parts = append(parts, sp)
	}
	if promptCtx != nil {
		if section := formatCompanyContext(promptCtx); section != "" {
			parts = append(parts, section)
		}
	}
	if section := formatSessionContext(sessionCtx); section != "" {
		parts = append(parts, section)
	}
	return strings.Join(parts, "\n\n")
}

func formatCompanyContext(promptCtx *entity.PromptContext) string {
	policy := promptCtx.Policy
	if promptCtx.CompanyName == "" && policy == nil {
		return ""
	}

	parts := []string{"=== ИНФОРМАЦИЯ О КОМПАНИИ ==="}
	if promptCtx.CompanyName != "" {
		parts = append(parts, "Название: "+promptCtx.CompanyName)
	}
	if policy == nil {
		return strings.Join(parts, "\n")
	}

	if policy.Description != "" {
		parts = append(parts, "Описание: "+policy.Description)
	}
	if policy.BusinessType != "" {
		parts = append(parts, "Тип бизнеса: "+policy.BusinessType)
	}
	if policy.TargetAudience != "" {
		parts = append(parts, "Целевая аудитория: "+policy.TargetAudience)
	}
	if policy.BusinessHighlights != "" {
		parts = append(parts, "\nПреимущества и особенности:\n"+policy.BusinessHighlights)
	}

	if len(policy.Services) > 0 {
		parts = append(parts, "\n=== НАШИ УСЛУГИ ===")
		for _, svc := range policy.Services {
			parts = append(parts, formatCatalogItem(svc, true))
		}
	}
	if len(policy.Products) > 0 {
		parts = append(parts, "\n=== НАШИ ТОВАРЫ ===")
		for _, product := range policy.Products {
			parts = append(parts, formatCatalogItem(product, false))
		}
	}

	contact := []string{}
	if policy.WorkingHours != "" {
		contact = append(contact, "Часы работы: "+policy.WorkingHours)
	}
	if policy.Address != "" {
		contact = append(contact, "Адрес: "+policy.Address)
	}
	if policy.PhoneDisplay != "" {
		contact = append(contact, "Телефон: "+policy.PhoneDisplay)
	}
	if len(contact) > 0 {
		parts = append(parts, "\n=== КОНТАКТНАЯ ИНФОРМАЦИЯ ===")
		parts = append(parts, contact...)
	}

	if policy.CustomInstructions != "" {
		parts = append(parts, "\n=== ОСОБЫЕ ИНСТРУКЦИИ ДЛЯ АГЕНТА ===\n"+policy.CustomInstructions)
	}
	return strings.Join(parts, "\n")
}

func formatCatalogItem(item entity.CatalogItem, withDuration bool) string {
	line := "• " + item.Name
	if item.Description != "" {
		line += ": " + item.Description
	}
	if item.Price > 0 {
		line += fmt.Sprintf(" (%.0f руб.)", item.Price)
	}
	if withDuration && item.DurationMinutes > 0 {
		line += fmt.Sprintf(" - %d мин", item.DurationMinutes)
	}
	return line
}

// sessionContextLabels 会话上下文字段的展示名, 顺序固定保证提示词稳定
var sessionContextLabels = []struct {
	key   string
	label string
}{
	{"name", "Имя клиента"},
	{"phone", "Телефон клиента"},
	{"desired_service", "Интересующая услуга"},
	{"desired_date", "Желаемая дата"},
	{"selected_slot", "Выбранный слот"},
	{"appointment_id", "ID записи"},
	{"notes", "Заметки"},
}

func formatSessionContext(sessionCtx map[string]interface{}) string {
	if len(sessionCtx) == 0 {
		return ""
	}

	parts := []string{"Контекст текущего диалога:"}
	for _, field := range sessionContextLabels {
		v, ok := sessionCtx[field.key].(string)
		if ok && v != "" {
			parts = append(parts, fmt.Sprintf("- %s: %s", field.label, v))
		}
	}
	if len(parts) == 1 {
		return ""
	}
	return strings.Join(parts, "\n")
}
