package tool

import (
	"context"
	"time"

	"github.com/aiadmin/aiadmin/internal/domain/entity"
	"github.com/aiadmin/aiadmin/internal/infrastructure/crm"
	apperrors "github.com/aiadmin/aiadmin/pkg/errors"
)

// stringArg 读取字符串参数, 缺失或非字符串返回空串
func stringArg(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func requireArg(args map[string]interface{}, key string) (string, error) {
	v := stringArg(args, key)
	if v == "" {
		return "", apperrors.NewInvalidInputError("missing required argument: " + key)
	}
	return v, nil
}

func requireDate(args map[string]interface{}, key string) (string, error) {
	v, err := requireArg(args, key)
	if err != nil {
		return "", err
	}
	if _, err := time.Parse("2006-01-02", v); err != nil {
		return "", apperrors.NewInvalidInputError(key + " must be YYYY-MM-DD")
	}
	return v, nil
}

func requireClock(args map[string]interface{}, key string) (string, error) {
	v, err := requireArg(args, key)
	if err != nil {
		return "", err
	}
	if _, err := time.Parse("15:04", v); err != nil {
		return "", apperrors.NewInvalidInputError(key + " must be HH:MM")
	}
	return v, nil
}

func objectSchema(properties map[string]interface{}, required []string) map[string]interface{} {
	if required == nil {
		required = []string{}
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
	}
}

// ── get_services ──

type getServicesTool struct{ adapter crm.Adapter }

func (t *getServicesTool) Name() string { return "get_services" }

func (t *getServicesTool) Description() string {
	return "Получить список доступных услуг из CRM. Возвращает услуги с ценами, длительностью и описаниями."
}

func (t *getServicesTool) Schema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"category": stringProp("Категория услуг для фильтрации (опционально)"),
	}, nil)
}

func (t *getServicesTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return t.adapter.GetServices(ctx, stringArg(args, "category"))
}

// ── get_service_by_id ──

type getServiceByIDTool struct{ adapter crm.Adapter }

func (t *getServiceByIDTool) Name() string { return "get_service_by_id" }

func (t *getServiceByIDTool) Description() string {
	return "Получить подробную информацию об услуге по её ID."
}

func (t *getServiceByIDTool) Schema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"service_id": stringProp("ID услуги"),
	}, []string{"service_id"})
}

func (t *getServiceByIDTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	serviceID, err := requireArg(args, "service_id")
	if err != nil {
		return nil, err
	}
	svc, err := t.adapter.GetServiceByID(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if svc == nil {
		return nil, apperrors.NewNotFoundError("service not found: " + serviceID)
	}
	return svc, nil
}

// ── get_employees ──

type getEmployeesTool struct{ adapter crm.Adapter }

func (t *getEmployeesTool) Name() string { return "get_employees" }

func (t *getEmployeesTool) Description() string {
	return "Получить список мастеров. Можно отфильтровать по услуге через service_id."
}

func (t *getEmployeesTool) Schema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"service_id": stringProp("ID услуги для фильтрации (опционально)"),
	}, nil)
}

func (t *getEmployeesTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return t.adapter.GetEmployees(ctx, stringArg(args, "service_id"))
}

// ── get_available_slots ──

type getAvailableSlotsTool struct{ adapter crm.Adapter }

func (t *getAvailableSlotsTool) Name() string { return "get_available_slots" }

func (t *getAvailableSlotsTool) Description() string {
	return "Получить доступные временные слоты для записи на услугу. Обязательно укажи service_id и даты."
}

func (t *getAvailableSlotsTool) Schema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"service_id":  stringProp("ID услуги"),
		"start_date":  stringProp("Начальная дата поиска в формате YYYY-MM-DD"),
		"end_date":    stringProp("Конечная дата поиска в формате YYYY-MM-DD"),
		"employee_id": stringProp("ID конкретного мастера (опционально)"),
	}, []string{"service_id", "start_date", "end_date"})
}

func (t *getAvailableSlotsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	serviceID, err := requireArg(args, "service_id")
	if err != nil {
		return nil, err
	}
	startDate, err := requireDate(args, "start_date")
	if err != nil {
		return nil, err
	}
	endDate, err := requireDate(args, "end_date")
	if err != nil {
		return nil, err
	}
	return t.adapter.GetAvailableSlots(ctx, serviceID, startDate, endDate, stringArg(args, "employee_id"))
}

// ── get_client_by_phone ──

type getClientByPhoneTool struct{ adapter crm.Adapter }

func (t *getClientByPhoneTool) Name() string { return "get_client_by_phone" }

func (t *getClientByPhoneTool) Description() string {
	return "Найти клиента в CRM по номеру телефона. Используй это чтобы проверить, есть ли клиент в базе."
}

func (t *getClientByPhoneTool) Schema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"phone": stringProp("Номер телефона клиента (с кодом страны, например +79001234567)"),
	}, []string{"phone"})
}

func (t *getClientByPhoneTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	phone, err := requireArg(args, "phone")
	if err != nil {
		return nil, err
	}
	client, err := t.adapter.GetClientByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	// nil 表示未找到, 让模型决定是否创建新客户
	return client, nil
}

// ── create_client ──

type createClientTool struct{ adapter crm.Adapter }

func (t *createClientTool) Name() string { return "create_client" }

func (t *createClientTool) Description() string {
	return "Создать нового клиента в CRM. Используй когда клиента нет в базе."
}

func (t *createClientTool) Schema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"phone": stringProp("Телефон клиента (обязательно)"),
		"name":  stringProp("Имя клиента"),
		"email": stringProp("Email клиента (опционально)"),
	}, []string{"phone", "name"})
}

func (t *createClientTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	phone, err := requireArg(args, "phone")
	if err != nil {
		return nil, err
	}
	name, err := requireArg(args, "name")
	if err != nil {
		return nil, err
	}
	return t.adapter.CreateClient(ctx, &entity.Client{
		Phone: phone,
		Name:  name,
		Email: stringArg(args, "email"),
	})
}

// ── create_appointment ──

type createAppointmentTool struct{ adapter crm.Adapter }

func (t *createAppointmentTool) Name() string { return "create_appointment" }

func (t *createAppointmentTool) Description() string {
	return "Создать запись на услугу. Используй ТОЛЬКО после подтверждения всех деталей с клиентом!"
}

func (t *createAppointmentTool) Schema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"client_id":        stringProp("ID клиента в CRM"),
		"service_id":       stringProp("ID услуги"),
		"employee_id":      stringProp("ID мастера (опционально)"),
		"appointment_date": stringProp("Дата записи в формате YYYY-MM-DD"),
		"appointment_time": stringProp("Время записи в формате HH:MM"),
		"notes":            stringProp("Комментарии к записи (опционально)"),
	}, []string{"client_id", "service_id", "appointment_date", "appointment_time"})
}

func (t *createAppointmentTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	clientID, err := requireArg(args, "client_id")
	if err != nil {
		return nil, err
	}
	serviceID, err := requireArg(args, "service_id")
	if err != nil {
		return nil, err
	}
	date, err := requireDate(args, "appointment_date")
	if err != nil {
		return nil, err
	}
	clock, err := requireClock(args, "appointment_time")
	if err != nil {
		return nil, err
	}
	return t.adapter.CreateAppointment(ctx, &entity.Appointment{
		ClientID:   clientID,
		ServiceID:  serviceID,
		EmployeeID: stringArg(args, "employee_id"),
		Date:       date,
		Time:       clock,
		Notes:      stringArg(args, "notes"),
	})
}

// ── get_client_appointments ──

type getClientAppointmentsTool struct{ adapter crm.Adapter }

func (t *getClientAppointmentsTool) Name() string { return "get_client_appointments" }

func (t *getClientAppointmentsTool) Description() string {
	return "Получить предстоящие записи клиента."
}

func (t *getClientAppointmentsTool) Schema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"client_id": stringProp("ID клиента в CRM"),
	}, []string{"client_id"})
}

func (t *getClientAppointmentsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	clientID, err := requireArg(args, "client_id")
	if err != nil {
		return nil, err
	}
	return t.adapter.GetClientAppointments(ctx, clientID)
}

// ── cancel_appointment ──

type cancelAppointmentTool struct{ adapter crm.Adapter }

func (t *cancelAppointmentTool) Name() string { return "cancel_appointment" }

func (t *cancelAppointmentTool) Description() string {
	return "Отменить существующую запись по её ID. Сначала уточни у клиента, какую запись отменить."
}

func (t *cancelAppointmentTool) Schema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"appointment_id": stringProp("ID записи"),
	}, []string{"appointment_id"})
}

func (t *cancelAppointmentTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	appointmentID, err := requireArg(args, "appointment_id")
	if err != nil {
		return nil, err
	}
	return t.adapter.CancelAppointment(ctx, appointmentID)
}
