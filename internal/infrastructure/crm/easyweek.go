package crm

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aiadmin/aiadmin/internal/domain/entity"
	apperrors "github.com/aiadmin/aiadmin/pkg/errors"
)

func init() {
	Register("easyweek", func(cfg Config, logger *zap.Logger) (Adapter, error) {
		return newEasyWeek(cfg, logger)
	})
}

// easyWeekAdapter 对接 EasyWeek 外部 API。部分接口把结果包在
// {"data": ...} 里, 部分直接返回裸对象, request 两种都接受。
type easyWeekAdapter struct {
	rest   *restClient
	logger *zap.Logger
}

func newEasyWeek(cfg Config, logger *zap.Logger) (Adapter, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://my.easyweek.io/api/ext"
	}
	headers := map[string]string{
		"Authorization": "Bearer " + cfg.APIKey,
	}
	log := logger.With(zap.String("crm", "easyweek"))
	return &easyWeekAdapter{
		rest:   newRESTClient(baseURL, headers, 5, log),
		logger: log,
	}, nil
}

func (a *easyWeekAdapter) Kind() string { return "easyweek" }

func (a *easyWeekAdapter) request(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	var raw json.RawMessage
	if err := a.rest.doJSON(ctx, method, path, query, body, &raw); err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	payload := raw
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Data) > 0 {
		payload = envelope.Data
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return apperrors.NewProtocolError("malformed easyweek payload: " + err.Error())
	}
	return nil
}

type easyWeekClient struct {
	ID    json.Number `json:"id"`
	Name  string      `json:"name"`
	Phone string      `json:"phone"`
	Email string      `json:"email"`
	Note  string      `json:"note"`
}

func (c *easyWeekClient) toEntity() *entity.Client {
	return &entity.Client{
		ID:    c.ID.String(),
		Name:  c.Name,
		Phone: c.Phone,
		Email: c.Email,
		Notes: c.Note,
	}
}

func (a *easyWeekAdapter) GetClientByPhone(ctx context.Context, phone string) (*entity.Client, error) {
	query := url.Values{"phone": {cleanPhone(phone)}}

	var clients []easyWeekClient
	if err := a.request(ctx, "GET", "/user/clients", query, nil, &clients); err != nil {
		return nil, err
	}
	if len(clients) == 0 {
		return nil, nil
	}
	return clients[0].toEntity(), nil
}

func (a *easyWeekAdapter) CreateClient(ctx context.Context, client *entity.Client) (*entity.Client, error) {
	body := map[string]string{
		"phone": client.Phone,
		"name":  client.Name,
		"email": client.Email,
		"note":  client.Notes,
	}

	var created easyWeekClient
	if err := a.request(ctx, "POST", "/user/clients", nil, body, &created); err != nil {
		return nil, err
	}
	return created.toEntity(), nil
}

func (a *easyWeekAdapter) UpdateClient(ctx context.Context, client *entity.Client) (*entity.Client, error) {
	if client.ID == "" {
		return nil, apperrors.NewInvalidInputError("client id is required for update")
	}
	body := map[string]string{
		"name":  client.Name,
		"phone": client.Phone,
		"email": client.Email,
		"note":  client.Notes,
	}

	var updated easyWeekClient
	if err := a.request(ctx, "PUT", "/user/clients/"+client.ID, nil, body, &updated); err != nil {
		return nil, err
	}
	return updated.toEntity(), nil
}

type easyWeekService struct {
	ID          json.Number `json:"id"`
	Name        string      `json:"name"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Price       float64     `json:"price"`
	Duration    int         `json:"duration"`
	Category    struct {
		Name string `json:"name"`
	} `json:"category"`
}

func (s *easyWeekService) toEntity() entity.Service {
	title := s.Name
	if title == "" {
		title = s.Title
	}
	duration := s.Duration
	if duration == 0 {
		duration = 60
	}
	return entity.Service{
		ID:              s.ID.String(),
		Title:           title,
		Description:     s.Description,
		Price:           s.Price,
		DurationMinutes: duration,
		Category:        s.Category.Name,
	}
}

func (a *easyWeekAdapter) GetServices(ctx context.Context, category string) ([]entity.Service, error) {
	var query url.Values
	if category != "" {
		query = url.Values{"category_id": {category}}
	}

	var raw []easyWeekService
	if err := a.request(ctx, "GET", "/user/services", query, nil, &raw); err != nil {
		return nil, err
	}

	services := make([]entity.Service, 0, len(raw))
	for i := range raw {
		services = append(services, raw[i].toEntity())
	}
	return services, nil
}

func (a *easyWeekAdapter) GetServiceByID(ctx context.Context, serviceID string) (*entity.Service, error) {
	var raw easyWeekService
	if err := a.request(ctx, "GET", "/user/services/"+serviceID, nil, nil, &raw); err != nil {
		return nil, err
	}
	if raw.ID.String() == "" {
		return nil, nil
	}
	svc := raw.toEntity()
	return &svc, nil
}

func (a *easyWeekAdapter) GetEmployees(ctx context.Context, serviceID string) ([]entity.Employee, error) {
	var query url.Values
	if serviceID != "" {
		query = url.Values{"service_id": {serviceID}}
	}

	var raw []struct {
		ID       json.Number `json:"id"`
		Name     string      `json:"name"`
		Position string      `json:"position"`
		Rating   float64     `json:"rating"`
	}
	if err := a.request(ctx, "GET", "/user/employees", query, nil, &raw); err != nil {
		return nil, err
	}

	employees := make([]entity.Employee, 0, len(raw))
	for _, e := range raw {
		employees = append(employees, entity.Employee{
			ID:        e.ID.String(),
			Name:      e.Name,
			Specialty: e.Position,
			Rating:    e.Rating,
		})
	}
	return employees, nil
}

// GetAvailableSlots queries /user/available-slots; when the endpoint is
// unavailable it falls back to a default Mon-Sat half-hour grid, capped at
// 100 slots.
func (a *easyWeekAdapter) GetAvailableSlots(ctx context.Context, serviceID, startDate, endDate, employeeID string) ([]entity.TimeSlot, error) {
	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return nil, apperrors.NewInvalidInputError("start_date must be YYYY-MM-DD")
	}
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return nil, apperrors.NewInvalidInputError("end_date must be YYYY-MM-DD")
	}

	query := url.Values{
		"service_id": {serviceID},
		"date_from":  {startDate},
		"date_to":    {endDate},
	}
	if employeeID != "" {
		query.Set("employee_id", employeeID)
	}

	var raw []struct {
		Date       string      `json:"date"`
		Time       string      `json:"time"`
		Duration   int         `json:"duration"`
		EmployeeID json.Number `json:"employee_id"`
	}
	if err := a.request(ctx, "GET", "/user/available-slots", query, nil, &raw); err != nil {
		a.logger.Warn("EasyWeek slot query failed, using default grid", zap.Error(err))
		return defaultSlotGrid(start, end, employeeID), nil
	}

	slots := make([]entity.TimeSlot, 0, len(raw))
	for _, s := range raw {
		duration := s.Duration
		if duration == 0 {
			duration = 60
		}
		slotEmployee := s.EmployeeID.String()
		if slotEmployee == "" {
			slotEmployee = employeeID
		}
		slots = append(slots, entity.TimeSlot{
			Date:            s.Date,
			Time:            s.Time,
			DurationMinutes: duration,
			EmployeeID:      slotEmployee,
		})
	}
	return slots, nil
}

func defaultSlotGrid(start, end time.Time, employeeID string) []entity.TimeSlot {
	var slots []entity.TimeSlot
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if day.Weekday() == time.Sunday {
			continue
		}
		for hour := 9; hour < 18; hour++ {
			for _, minute := range []int{0, 30} {
				if len(slots) >= 100 {
					return slots
				}
				slots = append(slots, entity.TimeSlot{
					Date:            day.Format("2006-01-02"),
					Time:            time.Date(0, 1, 1, hour, minute, 0, 0, time.UTC).Format("15:04"),
					DurationMinutes: 30,
					EmployeeID:      employeeID,
				})
			}
		}
	}
	return slots
}

type easyWeekBooking struct {
	ID         json.Number `json:"id"`
	ClientID   json.Number `json:"client_id"`
	ServiceID  json.Number `json:"service_id"`
	EmployeeID json.Number `json:"employee_id"`
	Datetime   string      `json:"datetime"`
	StartTime  string      `json:"start_time"`
	Status     string      `json:"status"`
	Note       string      `json:"note"`
}

var easyWeekStatuses = map[string]string{
	"pending":   "pending",
	"confirmed": "confirmed",
	"completed": "completed",
	"cancelled": "cancelled",
	"no_show":   "cancelled",
}

func (b *easyWeekBooking) toEntity() entity.Appointment {
	appt := entity.Appointment{
		ID:         b.ID.String(),
		ClientID:   b.ClientID.String(),
		ServiceID:  b.ServiceID.String(),
		EmployeeID: b.EmployeeID.String(),
		Notes:      b.Note,
	}
	appt.Status = easyWeekStatuses[b.Status]
	if appt.Status == "" {
		appt.Status = "confirmed"
	}
	raw := b.Datetime
	if raw == "" {
		raw = b.StartTime
	}
	raw = strings.TrimSuffix(raw, "Z")
	if t, err := time.Parse("2006-01-02T15:04:05", raw); err == nil {
		appt.Date = t.Format("2006-01-02")
		appt.Time = t.Format("15:04")
	}
	return appt
}

func (a *easyWeekAdapter) CreateAppointment(ctx context.Context, appt *entity.Appointment) (*entity.Appointment, error) {
	if _, err := time.Parse("2006-01-02 15:04", appt.Date+" "+appt.Time); err != nil {
		return nil, apperrors.NewInvalidInputError("appointment date/time must be YYYY-MM-DD and HH:MM")
	}

	body := map[string]interface{}{
		"client_id":   appt.ClientID,
		"service_id":  appt.ServiceID,
		"employee_id": appt.EmployeeID,
		"datetime":    appt.Date + "T" + appt.Time + ":00",
		"note":        appt.Notes,
	}

	var created easyWeekBooking
	if err := a.request(ctx, "POST", "/user/bookings", nil, body, &created); err != nil {
		return nil, err
	}

	result := *appt
	result.ID = created.ID.String()
	result.Status = "confirmed"
	return &result, nil
}

func (a *easyWeekAdapter) GetAppointmentByID(ctx context.Context, appointmentID string) (*entity.Appointment, error) {
	var raw easyWeekBooking
	if err := a.request(ctx, "GET", "/user/bookings/"+appointmentID, nil, nil, &raw); err != nil {
		return nil, err
	}
	if raw.ID.String() == "" {
		return nil, nil
	}
	appt := raw.toEntity()
	return &appt, nil
}

func (a *easyWeekAdapter) CancelAppointment(ctx context.Context, appointmentID string) (bool, error) {
	if err := a.request(ctx, "DELETE", "/user/bookings/"+appointmentID, nil, nil, nil); err != nil {
		return false, err
	}
	return true, nil
}

func (a *easyWeekAdapter) GetClientAppointments(ctx context.Context, clientID string) ([]entity.Appointment, error) {
	query := url.Values{
		"client_id":  {clientID},
		"date_start": {time.Now().UTC().Format("2006-01-02") + "T00:00:00"},
	}

	var raw []easyWeekBooking
	if err := a.request(ctx, "GET", "/user/bookings", query, nil, &raw); err != nil {
		return nil, err
	}

	appts := make([]entity.Appointment, 0, len(raw))
	for i := range raw {
		appts = append(appts, raw[i].toEntity())
	}
	return appts, nil
}

func (a *easyWeekAdapter) Health(ctx context.Context) error {
	return a.rest.doJSON(ctx, "GET", "/user/profile", nil, nil, nil)
}
