package prompt

import (
	"strings"
	"testing"

	"github.com/aiadmin/aiadmin/internal/domain/entity"
)

func TestBuildBareMinimum(t *testing.T) {
	b := NewBuilder()

	out := b.Build(entity.StateInitiated, nil, nil)
	if !strings.Contains(out, "администратор") {
		t.Error("base prompt missing")
	}
	if !strings.Contains(out, "первое сообщение") {
		t.Error("state-specific section missing")
	}
	if strings.Contains(out, "ИНФОРМАЦИЯ О КОМПАНИИ") {
		t.Error("company section must be absent without context")
	}
}

func TestBuildWithCompanyContext(t *testing.T) {
	b := NewBuilder()
	promptCtx := &entity.PromptContext{
		CompanyName: "Салон Лотос",
		Policy: &entity.AgentPolicy{
			BusinessType: "салон красоты",
			WorkingHours: "пн-сб 9:00-20:00",
			Address:      "ул. Ленина, 1",
			Services: []entity.CatalogItem{
				{Name: "Стрижка", Price: 1500, DurationMinutes: 60},
				{Name: "Маникюр", Description: "классический"},
			},
			CustomInstructions: "Не обсуждай конкурентов.",
		},
	}

	out := b.Build(entity.StateBooking, promptCtx, nil)
	for _, want := range []string{
		"=== ИНФОРМАЦИЯ О КОМПАНИИ ===",
		"Название: Салон Лотос",
		"Тип бизнеса: салон красоты",
		"=== НАШИ УСЛУГИ ===",
		"• Стрижка (1500 руб.) - 60 мин",
		"• Маникюр: классический",
		"=== КОНТАКТНАЯ ИНФОРМАЦИЯ ===",
		"Часы работы: пн-сб 9:00-20:00",
		"=== ОСОБЫЕ ИНСТРУКЦИИ ДЛЯ АГЕНТА ===",
		"Не обсуждай конкурентов.",
		"get_available_slots",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuildWithSessionContext(t *testing.T) {
	b := NewBuilder()
	sessionCtx := map[string]interface{}{
		"name":            "Анна",
		"phone":           "+79991234567",
		"desired_service": "стрижка",
		"last_tool_call":  map[string]interface{}{"ignored": true},
	}

	out := b.Build(entity.StateCollectingInfo, nil, sessionCtx)
	for _, want := range []string{
		"Контекст текущего диалога:",
		"- Имя клиента: Анна",
		"- Телефон клиента: +79991234567",
		"- Интересующая услуга: стрижка",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(out, "ignored") {
		t.Error("non-string context values must not leak into the prompt")
	}
}

func TestBuildSectionOrderIsStable(t *testing.T) {
	b := NewBuilder()
	promptCtx := &entity.PromptContext{CompanyName: "Acme"}
	sessionCtx := map[string]interface{}{"name": "Анна"}

	out := b.Build(entity.StateGreeting, promptCtx, sessionCtx)
	company := strings.Index(out, "ИНФОРМАЦИЯ О КОМПАНИИ")
	dialogue := strings.Index(out, "Контекст текущего диалога")
	if company < 0 || dialogue < 0 || company > dialogue {
		t.Errorf("section order wrong: company=%d dialogue=%d", company, dialogue)
	}
}
