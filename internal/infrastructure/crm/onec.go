package crm

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aiadmin/aiadmin/internal/domain/entity"
	apperrors "github.com/aiadmin/aiadmin/pkg/errors"
)

func init() {
	Register("onec", func(cfg Config, logger *zap.Logger) (Adapter, error) {
		return newOneC(cfg, logger)
	})
}

// oneCAdapter 对接 1C 发布的 OData standard.odata 接口。
// 实体名随配置库不同而变化, 可通过 Extra["entity_names"] 覆盖默认映射。
type oneCAdapter struct {
	rest     *restClient
	entities map[string]string
	logger   *zap.Logger
}

var defaultOneCEntities = map[string]string{
	"clients":      "Catalog_Контрагенты",
	"employees":    "Catalog_Сотрудники",
	"services":     "Catalog_Номенклатура",
	"appointments": "Document_ЗаписьКлиента",
}

func newOneC(cfg Config, logger *zap.Logger) (Adapter, error) {
	if cfg.BaseURL == "" {
		return nil, apperrors.NewConfigError("onec adapter requires the publication base url")
	}

	headers := map[string]string{}
	if user := extraString(cfg.Extra, "username"); user != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(user + ":" + cfg.APIKey))
		headers["Authorization"] = "Basic " + cred
	}

	entities := make(map[string]string, len(defaultOneCEntities))
	for k, v := range defaultOneCEntities {
		entities[k] = v
	}
	if raw, ok := cfg.Extra["entity_names"]; ok {
		if overrides, ok := raw.(map[string]interface{}); ok {
			for k, v := range overrides {
				if s, ok := v.(string); ok && s != "" {
					entities[k] = s
				}
			}
		}
	}

	log := logger.With(zap.String("crm", "onec"))
	return &oneCAdapter{
		rest:     newRESTClient(strings.TrimRight(cfg.BaseURL, "/")+"/odata/standard.odata", headers, 5, log),
		entities: entities,
		logger:   log,
	}, nil
}

func (a *oneCAdapter) Kind() string { return "onec" }

func odataQuery(filter string) url.Values {
	q := url.Values{"$format": {"json"}}
	if filter != "" {
		q.Set("$filter", filter)
	}
	return q
}

type oneCClient struct {
	RefKey      string `json:"Ref_Key"`
	Description string `json:"Description"`
	Phone       string `json:"Телефон"`
	Email       string `json:"ЭлектроннаяПочта"`
}

func (c *oneCClient) toEntity() *entity.Client {
	return &entity.Client{
		ID:    c.RefKey,
		Name:  c.Description,
		Phone: c.Phone,
		Email: c.Email,
	}
}

func (a *oneCAdapter) GetClientByPhone(ctx context.Context, phone string) (*entity.Client, error) {
	filter := fmt.Sprintf("Телефон eq '%s'", cleanPhone(phone))

	var resp struct {
		Value []oneCClient `json:"value"`
	}
	err := a.rest.doJSON(ctx, "GET", "/"+a.entities["clients"], odataQuery(filter), nil, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Value) == 0 {
		return nil, nil
	}
	return resp.Value[0].toEntity(), nil
}

func (a *oneCAdapter) CreateClient(ctx context.Context, client *entity.Client) (*entity.Client, error) {
	body := map[string]string{
		"Description":      client.Name,
		"Телефон":          client.Phone,
		"ЭлектроннаяПочта": client.Email,
	}

	var created oneCClient
	err := a.rest.doJSON(ctx, "POST", "/"+a.entities["clients"], odataQuery(""), body, &created)
	if err != nil {
		return nil, err
	}
	return created.toEntity(), nil
}

func (a *oneCAdapter) UpdateClient(ctx context.Context, client *entity.Client) (*entity.Client, error) {
	if client.ID == "" {
		return nil, apperrors.NewInvalidInputError("client id is required for update")
	}
	body := map[string]string{
		"Description":      client.Name,
		"Телефон":          client.Phone,
		"ЭлектроннаяПочта": client.Email,
	}
	path := fmt.Sprintf("/%s(guid'%s')", a.entities["clients"], client.ID)
	if err := a.rest.doJSON(ctx, "PATCH", path, odataQuery(""), body, nil); err != nil {
		return nil, err
	}
	return client, nil
}

type oneCService struct {
	RefKey      string  `json:"Ref_Key"`
	Description string  `json:"Description"`
	Price       float64 `json:"Цена"`
	Duration    int     `json:"Длительность"`
	Category    string  `json:"Категория"`
}

func (s *oneCService) toEntity() entity.Service {
	duration := s.Duration
	if duration == 0 {
		duration = 60
	}
	return entity.Service{
		ID:              s.RefKey,
		Title:           s.Description,
		Price:           s.Price,
		DurationMinutes: duration,
		Category:        s.Category,
	}
}

func (a *oneCAdapter) GetServices(ctx context.Context, category string) ([]entity.Service, error) {
	filter := ""
	if category != "" {
		filter = fmt.Sprintf("Категория eq '%s'", category)
	}

	var resp struct {
		Value []oneCService `json:"value"`
	}
	err := a.rest.doJSON(ctx, "GET", "/"+a.entities["services"], odataQuery(filter), nil, &resp)
	if err != nil {
		return nil, err
	}

	services := make([]entity.Service, 0, len(resp.Value))
	for i := range resp.Value {
		services = append(services, resp.Value[i].toEntity())
	}
	return services, nil
}

func (a *oneCAdapter) GetServiceByID(ctx context.Context, serviceID string) (*entity.Service, error) {
	path := fmt.Sprintf("/%s(guid'%s')", a.entities["services"], serviceID)

	var raw oneCService
	if err := a.rest.doJSON(ctx, "GET", path, odataQuery(""), nil, &raw); err != nil {
		return nil, err
	}
	if raw.RefKey == "" {
		return nil, nil
	}
	svc := raw.toEntity()
	return &svc, nil
}

func (a *oneCAdapter) GetEmployees(ctx context.Context, _ string) ([]entity.Employee, error) {
	var resp struct {
		Value []struct {
			RefKey      string `json:"Ref_Key"`
			Description string `json:"Description"`
			Position    string `json:"Должность"`
		} `json:"value"`
	}
	err := a.rest.doJSON(ctx, "GET", "/"+a.entities["employees"], odataQuery(""), nil, &resp)
	if err != nil {
		return nil, err
	}

	employees := make([]entity.Employee, 0, len(resp.Value))
	for _, e := range resp.Value {
		employees = append(employees, entity.Employee{
			ID:        e.RefKey,
			Name:      e.Description,
			Specialty: e.Position,
		})
	}
	return employees, nil
}

type oneCAppointment struct {
	RefKey      string `json:"Ref_Key"`
	Date        string `json:"Дата"`
	ClientKey   string `json:"Клиент_Key"`
	ServiceKey  string `json:"Номенклатура_Key"`
	EmployeeKey string `json:"Сотрудник_Key"`
	Status      string `json:"Статус"`
}

func (d *oneCAppointment) toEntity() entity.Appointment {
	appt := entity.Appointment{
		ID:         d.RefKey,
		ClientID:   d.ClientKey,
		ServiceID:  d.ServiceKey,
		EmployeeID: d.EmployeeKey,
		Status:     d.Status,
	}
	if t, err := time.Parse("2006-01-02T15:04:05", d.Date); err == nil {
		appt.Date = t.Format("2006-01-02")
		appt.Time = t.Format("15:04")
	}
	return appt
}

// GetAvailableSlots 用工作时间网格减去已有记录; 1C 发布通常不提供日历接口。
func (a *oneCAdapter) GetAvailableSlots(ctx context.Context, serviceID, startDate, endDate, employeeID string) ([]entity.TimeSlot, error) {
	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return nil, apperrors.NewInvalidInputError("start_date must be YYYY-MM-DD")
	}
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return nil, apperrors.NewInvalidInputError("end_date must be YYYY-MM-DD")
	}

	filter := fmt.Sprintf("Дата ge datetime'%sT00:00:00' and Дата le datetime'%sT23:59:59'",
		startDate, endDate)
	if employeeID != "" {
		filter += fmt.Sprintf(" and Сотрудник_Key eq guid'%s'", employeeID)
	}

	var resp struct {
		Value []oneCAppointment `json:"value"`
	}
	err = a.rest.doJSON(ctx, "GET", "/"+a.entities["appointments"], odataQuery(filter), nil, &resp)
	if err != nil {
		return nil, err
	}

	busy := make(map[string]bool, len(resp.Value))
	for i := range resp.Value {
		appt := resp.Value[i].toEntity()
		busy[appt.Date+" "+appt.Time] = true
	}

	var slots []entity.TimeSlot
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		for hour := 9; hour < 18; hour++ {
			slot := entity.TimeSlot{
				Date:            day.Format("2006-01-02"),
				Time:            fmt.Sprintf("%02d:00", hour),
				DurationMinutes: 60,
				EmployeeID:      employeeID,
			}
			if !busy[slot.Date+" "+slot.Time] {
				slots = append(slots, slot)
			}
		}
	}
	return slots, nil
}

func (a *oneCAdapter) CreateAppointment(ctx context.Context, appt *entity.Appointment) (*entity.Appointment, error) {
	if _, err := time.Parse("2006-01-02 15:04", appt.Date+" "+appt.Time); err != nil {
		return nil, apperrors.NewInvalidInputError("appointment date/time must be YYYY-MM-DD and HH:MM")
	}

	body := map[string]string{
		"Дата":             appt.Date + "T" + appt.Time + ":00",
		"Клиент_Key":       appt.ClientID,
		"Номенклатура_Key": appt.ServiceID,
		"Статус":           "Подтверждена",
	}
	if appt.EmployeeID != "" {
		body["Сотрудник_Key"] = appt.EmployeeID
	}

	var created oneCAppointment
	err := a.rest.doJSON(ctx, "POST", "/"+a.entities["appointments"], odataQuery(""), body, &created)
	if err != nil {
		return nil, err
	}

	result := created.toEntity()
	result.Status = "confirmed"
	return &result, nil
}

func (a *oneCAdapter) GetAppointmentByID(ctx context.Context, appointmentID string) (*entity.Appointment, error) {
	path := fmt.Sprintf("/%s(guid'%s')", a.entities["appointments"], appointmentID)

	var raw oneCAppointment
	if err := a.rest.doJSON(ctx, "GET", path, odataQuery(""), nil, &raw); err != nil {
		return nil, err
	}
	if raw.RefKey == "" {
		return nil, nil
	}
	appt := raw.toEntity()
	return &appt, nil
}

func (a *oneCAdapter) CancelAppointment(ctx context.Context, appointmentID string) (bool, error) {
	path := fmt.Sprintf("/%s(guid'%s')", a.entities["appointments"], appointmentID)
	body := map[string]string{"Статус": "Отменена"}
	if err := a.rest.doJSON(ctx, "PATCH", path, odataQuery(""), body, nil); err != nil {
		return false, err
	}
	return true, nil
}

func (a *oneCAdapter) GetClientAppointments(ctx context.Context, clientID string) ([]entity.Appointment, error) {
	filter := fmt.Sprintf("Клиент_Key eq guid'%s' and Дата ge datetime'%sT00:00:00'",
		clientID, time.Now().UTC().Format("2006-01-02"))

	var resp struct {
		Value []oneCAppointment `json:"value"`
	}
	err := a.rest.doJSON(ctx, "GET", "/"+a.entities["appointments"], odataQuery(filter), nil, &resp)
	if err != nil {
		return nil, err
	}

	appts := make([]entity.Appointment, 0, len(resp.Value))
	for i := range resp.Value {
		appts = append(appts, resp.Value[i].toEntity())
	}
	return appts, nil
}

func (a *oneCAdapter) Health(ctx context.Context) error {
	q := odataQuery("")
	q.Set("$top", "1")
	return a.rest.doJSON(ctx, "GET", "/"+a.entities["clients"], q, nil, nil)
}
