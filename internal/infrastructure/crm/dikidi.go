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
	Register("dikidi", func(cfg Config, logger *zap.Logger) (Adapter, error) {
		return newDikidi(cfg, logger)
	})
}

// dikidiAdapter 对接 DIKIDI 预约平台, 响应统一包在 {"data": ...} 里。
type dikidiAdapter struct {
	rest      *restClient
	companyID string
	logger    *zap.Logger
}

func newDikidi(cfg Config, logger *zap.Logger) (Adapter, error) {
	if cfg.RemoteAccountID == "" {
		return nil, apperrors.NewConfigError("dikidi adapter requires the company id")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.dikidi.net/api/v1"
	}
	headers := map[string]string{
		"Authorization": "Bearer " + cfg.APIKey,
	}
	log := logger.With(zap.String("crm", "dikidi"))
	return &dikidiAdapter{
		rest:      newRESTClient(baseURL, headers, 5, log),
		companyID: cfg.RemoteAccountID,
		logger:    log,
	}, nil
}

func (a *dikidiAdapter) Kind() string { return "dikidi" }

func (a *dikidiAdapter) companyPath(suffix string) string {
	return "/company/" + a.companyID + suffix
}

// request unwraps the {"data": ...} envelope into out.
func (a *dikidiAdapter) request(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := a.rest.doJSON(ctx, method, path, query, body, &envelope); err != nil {
		return err
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return apperrors.NewProtocolError("malformed dikidi payload: " + err.Error())
	}
	return nil
}

type dikidiClient struct {
	ID      json.Number `json:"id"`
	Name    string      `json:"name"`
	Phone   string      `json:"phone"`
	Email   string      `json:"email"`
	Comment string      `json:"comment"`
}

func (c *dikidiClient) toEntity() *entity.Client {
	return &entity.Client{
		ID:    c.ID.String(),
		Name:  c.Name,
		Phone: c.Phone,
		Email: c.Email,
		Notes: c.Comment,
	}
}

func (a *dikidiAdapter) GetClientByPhone(ctx context.Context, phone string) (*entity.Client, error) {
	query := url.Values{"phone": {cleanPhone(phone)}}

	var clients []dikidiClient
	err := a.request(ctx, "GET", a.companyPath("/clients"), query, nil, &clients)
	if err != nil {
		return nil, err
	}
	if len(clients) == 0 {
		return nil, nil
	}
	return clients[0].toEntity(), nil
}

func (a *dikidiAdapter) CreateClient(ctx context.Context, client *entity.Client) (*entity.Client, error) {
	body := map[string]string{
		"phone":   client.Phone,
		"name":    client.Name,
		"email":   client.Email,
		"comment": client.Notes,
	}

	var created dikidiClient
	err := a.request(ctx, "POST", a.companyPath("/clients"), nil, body, &created)
	if err != nil {
		return nil, err
	}
	return created.toEntity(), nil
}

func (a *dikidiAdapter) UpdateClient(ctx context.Context, client *entity.Client) (*entity.Client, error) {
	if client.ID == "" {
		return nil, apperrors.NewInvalidInputError("client id is required for update")
	}
	body := map[string]string{
		"name":    client.Name,
		"phone":   client.Phone,
		"email":   client.Email,
		"comment": client.Notes,
	}

	var updated dikidiClient
	err := a.request(ctx, "PUT", a.companyPath("/clients/"+client.ID), nil, body, &updated)
	if err != nil {
		return nil, err
	}
	return updated.toEntity(), nil
}

type dikidiService struct {
	ID          json.Number `json:"id"`
	Title       string      `json:"title"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Price       float64     `json:"price"`
	Duration    int         `json:"duration"`
	Active      jsonBool    `json:"active"`
	Category    struct {
		Name string `json:"name"`
	} `json:"category"`
}

func (s *dikidiService) toEntity() entity.Service {
	title := s.Title
	if title == "" {
		title = s.Name
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

func (a *dikidiAdapter) GetServices(ctx context.Context, category string) ([]entity.Service, error) {
	var query url.Values
	if category != "" {
		query = url.Values{"category_id": {category}}
	}

	var raw []dikidiService
	err := a.request(ctx, "GET", a.companyPath("/services"), query, nil, &raw)
	if err != nil {
		return nil, err
	}

	services := make([]entity.Service, 0, len(raw))
	for i := range raw {
		services = append(services, raw[i].toEntity())
	}
	return services, nil
}

func (a *dikidiAdapter) GetServiceByID(ctx context.Context, serviceID string) (*entity.Service, error) {
	var raw dikidiService
	err := a.request(ctx, "GET", a.companyPath("/services/"+serviceID), nil, nil, &raw)
	if err != nil {
		return nil, err
	}
	if raw.ID.String() == "" {
		return nil, nil
	}
	svc := raw.toEntity()
	return &svc, nil
}

func (a *dikidiAdapter) GetEmployees(ctx context.Context, serviceID string) ([]entity.Employee, error) {
	var query url.Values
	if serviceID != "" {
		query = url.Values{"service_id": {serviceID}}
	}

	var raw []struct {
		ID             json.Number `json:"id"`
		Name           string      `json:"name"`
		Specialization string      `json:"specialization"`
		Position       string      `json:"position"`
		Rating         float64     `json:"rating"`
	}
	err := a.request(ctx, "GET", a.companyPath("/staff"), query, nil, &raw)
	if err != nil {
		return nil, err
	}

	employees := make([]entity.Employee, 0, len(raw))
	for _, e := range raw {
		specialty := e.Specialization
		if specialty == "" {
			specialty = e.Position
		}
		employees = append(employees, entity.Employee{
			ID:        e.ID.String(),
			Name:      e.Name,
			Specialty: specialty,
			Rating:    e.Rating,
		})
	}
	return employees, nil
}

func (a *dikidiAdapter) GetAvailableSlots(ctx context.Context, serviceID, startDate, endDate, employeeID string) ([]entity.TimeSlot, error) {
	if _, err := time.Parse("2006-01-02", startDate); err != nil {
		return nil, apperrors.NewInvalidInputError("start_date must be YYYY-MM-DD")
	}
	if _, err := time.Parse("2006-01-02", endDate); err != nil {
		return nil, apperrors.NewInvalidInputError("end_date must be YYYY-MM-DD")
	}

	query := url.Values{
		"service_id": {serviceID},
		"start_date": {startDate},
		"end_date":   {endDate},
	}
	if employeeID != "" {
		query.Set("staff_id", employeeID)
	}

	var raw []struct {
		Date     string      `json:"date"`
		Time     string      `json:"time"`
		Duration int         `json:"duration"`
		StaffID  json.Number `json:"staff_id"`
	}
	err := a.request(ctx, "GET", a.companyPath("/available_slots"), query, nil, &raw)
	if err != nil {
		return nil, err
	}

	slots := make([]entity.TimeSlot, 0, len(raw))
	for _, s := range raw {
		duration := s.Duration
		if duration == 0 {
			duration = 60
		}
		slots = append(slots, entity.TimeSlot{
			Date:            s.Date,
			Time:            s.Time,
			DurationMinutes: duration,
			EmployeeID:      s.StaffID.String(),
		})
	}
	return slots, nil
}

type dikidiAppointment struct {
	ID        json.Number `json:"id"`
	ClientID  json.Number `json:"client_id"`
	ServiceID json.Number `json:"service_id"`
	StaffID   json.Number `json:"staff_id"`
	Datetime  string      `json:"datetime"`
	Status    string      `json:"status"`
	Comment   string      `json:"comment"`
}

func (d *dikidiAppointment) toEntity() entity.Appointment {
	appt := entity.Appointment{
		ID:         d.ID.String(),
		ClientID:   d.ClientID.String(),
		ServiceID:  d.ServiceID.String(),
		EmployeeID: d.StaffID.String(),
		Status:     d.Status,
		Notes:      d.Comment,
	}
	if appt.Status == "" {
		appt.Status = "confirmed"
	}
	raw := strings.TrimSuffix(d.Datetime, "Z")
	if t, err := time.Parse("2006-01-02T15:04:05", raw); err == nil {
		appt.Date = t.Format("2006-01-02")
		appt.Time = t.Format("15:04")
	}
	return appt
}

func (a *dikidiAdapter) CreateAppointment(ctx context.Context, appt *entity.Appointment) (*entity.Appointment, error) {
	if _, err := time.Parse("2006-01-02 15:04", appt.Date+" "+appt.Time); err != nil {
		return nil, apperrors.NewInvalidInputError("appointment date/time must be YYYY-MM-DD and HH:MM")
	}

	body := map[string]string{
		"client_id":  appt.ClientID,
		"service_id": appt.ServiceID,
		"staff_id":   appt.EmployeeID,
		"datetime":   appt.Date + "T" + appt.Time + ":00",
		"comment":    appt.Notes,
	}

	var created dikidiAppointment
	err := a.request(ctx, "POST", a.companyPath("/appointments"), nil, body, &created)
	if err != nil {
		return nil, err
	}

	result := *appt
	result.ID = created.ID.String()
	result.Status = "confirmed"
	return &result, nil
}

func (a *dikidiAdapter) GetAppointmentByID(ctx context.Context, appointmentID string) (*entity.Appointment, error) {
	var raw dikidiAppointment
	err := a.request(ctx, "GET", a.companyPath("/appointments/"+appointmentID), nil, nil, &raw)
	if err != nil {
		return nil, err
	}
	if raw.ID.String() == "" {
		return nil, nil
	}
	appt := raw.toEntity()
	return &appt, nil
}

func (a *dikidiAdapter) CancelAppointment(ctx context.Context, appointmentID string) (bool, error) {
	err := a.request(ctx, "DELETE", a.companyPath("/appointments/"+appointmentID), nil, nil, nil)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (a *dikidiAdapter) GetClientAppointments(ctx context.Context, clientID string) ([]entity.Appointment, error) {
	query := url.Values{
		"client_id":  {clientID},
		"start_date": {time.Now().UTC().Format("2006-01-02")},
	}

	var raw []dikidiAppointment
	err := a.request(ctx, "GET", a.companyPath("/appointments"), query, nil, &raw)
	if err != nil {
		return nil, err
	}

	appts := make([]entity.Appointment, 0, len(raw))
	for i := range raw {
		appts = append(appts, raw[i].toEntity())
	}
	return appts, nil
}

func (a *dikidiAdapter) Health(ctx context.Context) error {
	return a.request(ctx, "GET", a.companyPath(""), nil, nil, nil)
}
