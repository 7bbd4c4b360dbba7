package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/aiadmin/aiadmin/internal/domain/entity"
	apperrors "github.com/aiadmin/aiadmin/pkg/errors"
)

func init() {
	Register("bitrix24", func(cfg Config, logger *zap.Logger) (Adapter, error) {
		return newBitrix24(cfg, logger)
	})
}

// bitrix24Adapter speaks the Bitrix24 REST API through an inbound webhook URL
// (https://{portal}/rest/{user}/{token}). Services map to products, employees
// to portal users, appointments to deals plus calendar events.
type bitrix24Adapter struct {
	rest   *restClient
	logger *zap.Logger
}

func newBitrix24(cfg Config, logger *zap.Logger) (Adapter, error) {
	if cfg.BaseURL == "" {
		return nil, apperrors.NewConfigError("bitrix24 adapter requires the webhook base url")
	}

	log := logger.With(zap.String("crm", "bitrix24"))
	// Bitrix24 限流较严: 2 req/s
	return &bitrix24Adapter{
		rest:   newRESTClient(cfg.BaseURL, nil, 2, log),
		logger: log,
	}, nil
}

func (a *bitrix24Adapter) Kind() string { return "bitrix24" }

type bitrixEnvelope struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// call invokes a named REST method (e.g. crm.contact.list).
func (a *bitrix24Adapter) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	var env bitrixEnvelope
	if err := a.rest.doJSON(ctx, "POST", "/"+method+".json", nil, params, &env); err != nil {
		return nil, err
	}
	if env.Error != "" {
		return nil, apperrors.NewProtocolError("bitrix24 api error: " + env.Error)
	}
	return env.Result, nil
}

type bitrixContact struct {
	ID    json.Number `json:"ID"`
	Name  string      `json:"NAME"`
	Last  string      `json:"LAST_NAME"`
	Phone []struct {
		Value string `json:"VALUE"`
	} `json:"PHONE"`
	Email []struct {
		Value string `json:"VALUE"`
	} `json:"EMAIL"`
}

func (c *bitrixContact) toEntity() *entity.Client {
	name := c.Name
	if c.Last != "" {
		name += " " + c.Last
	}
	client := &entity.Client{ID: c.ID.String(), Name: name}
	if len(c.Phone) > 0 {
		client.Phone = c.Phone[0].Value
	}
	if len(c.Email) > 0 {
		client.Email = c.Email[0].Value
	}
	return client
}

func (a *bitrix24Adapter) GetClientByPhone(ctx context.Context, phone string) (*entity.Client, error) {
	result, err := a.call(ctx, "crm.contact.list", map[string]interface{}{
		"filter": map[string]string{"PHONE": cleanPhone(phone)},
		"select": []string{"ID", "NAME", "LAST_NAME", "PHONE", "EMAIL"},
	})
	if err != nil {
		return nil, err
	}

	var rows []bitrixContact
	if err := json.Unmarshal(result, &rows); err != nil {
		return nil, apperrors.NewProtocolError("malformed contact list response")
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toEntity(), nil
}

func (a *bitrix24Adapter) CreateClient(ctx context.Context, client *entity.Client) (*entity.Client, error) {
	fields := map[string]interface{}{
		"NAME":  client.Name,
		"PHONE": []map[string]string{{"VALUE": client.Phone, "VALUE_TYPE": "WORK"}},
	}
	if client.Email != "" {
		fields["EMAIL"] = []map[string]string{{"VALUE": client.Email, "VALUE_TYPE": "WORK"}}
	}

	result, err := a.call(ctx, "crm.contact.add", map[string]interface{}{"fields": fields})
	if err != nil {
		return nil, err
	}

	var id json.Number
	if err := json.Unmarshal(result, &id); err != nil {
		return nil, apperrors.NewProtocolError("malformed contact add response")
	}

	created := *client
	created.ID = id.String()
	return &created, nil
}

func (a *bitrix24Adapter) UpdateClient(ctx context.Context, client *entity.Client) (*entity.Client, error) {
	if client.ID == "" {
		return nil, apperrors.NewInvalidInputError("client id is required for update")
	}
	fields := map[string]interface{}{
		"NAME":  client.Name,
		"PHONE": []map[string]string{{"VALUE": client.Phone, "VALUE_TYPE": "WORK"}},
	}
	if _, err := a.call(ctx, "crm.contact.update", map[string]interface{}{
		"id":     client.ID,
		"fields": fields,
	}); err != nil {
		return nil, err
	}
	return client, nil
}

type bitrixProduct struct {
	ID          json.Number `json:"ID"`
	Name        string      `json:"NAME"`
	Description string      `json:"DESCRIPTION"`
	Price       json.Number `json:"PRICE"`
	SectionID   json.Number `json:"SECTION_ID"`
}

func (p *bitrixProduct) toEntity() entity.Service {
	price, _ := p.Price.Float64()
	return entity.Service{
		ID:          p.ID.String(),
		Title:       p.Name,
		Description: p.Description,
		Price:       price,
		Category:    p.SectionID.String(),
	}
}

func (a *bitrix24Adapter) GetServices(ctx context.Context, category string) ([]entity.Service, error) {
	params := map[string]interface{}{
		"select": []string{"ID", "NAME", "DESCRIPTION", "PRICE", "SECTION_ID"},
	}
	if category != "" {
		params["filter"] = map[string]string{"SECTION_ID": category}
	}

	result, err := a.call(ctx, "crm.product.list", params)
	if err != nil {
		return nil, err
	}

	var rows []bitrixProduct
	if err := json.Unmarshal(result, &rows); err != nil {
		return nil, apperrors.NewProtocolError("malformed product list response")
	}

	services := make([]entity.Service, 0, len(rows))
	for i := range rows {
		services = append(services, rows[i].toEntity())
	}
	return services, nil
}

func (a *bitrix24Adapter) GetServiceByID(ctx context.Context, serviceID string) (*entity.Service, error) {
	result, err := a.call(ctx, "crm.product.get", map[string]interface{}{"id": serviceID})
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeTransport {
			return nil, err
		}
		return nil, nil
	}

	var p bitrixProduct
	if err := json.Unmarshal(result, &p); err != nil {
		return nil, apperrors.NewProtocolError("malformed product response")
	}
	svc := p.toEntity()
	return &svc, nil
}

func (a *bitrix24Adapter) GetEmployees(ctx context.Context, _ string) ([]entity.Employee, error) {
	result, err := a.call(ctx, "user.get", map[string]interface{}{
		"filter": map[string]string{"ACTIVE": "true"},
	})
	if err != nil {
		return nil, err
	}

	var rows []struct {
		ID       json.Number `json:"ID"`
		Name     string      `json:"NAME"`
		LastName string      `json:"LAST_NAME"`
		Position string      `json:"WORK_POSITION"`
	}
	if err := json.Unmarshal(result, &rows); err != nil {
		return nil, apperrors.NewProtocolError("malformed user list response")
	}

	employees := make([]entity.Employee, 0, len(rows))
	for _, r := range rows {
		name := r.Name
		if r.LastName != "" {
			name += " " + r.LastName
		}
		employees = append(employees, entity.Employee{
			ID:        r.ID.String(),
			Name:      name,
			Specialty: r.Position,
		})
	}
	return employees, nil
}

// GetAvailableSlots derives free hourly slots inside working hours (09:00 to
// 18:00) by subtracting busy calendar events. Bitrix24 has no native booking
// slot API.
func (a *bitrix24Adapter) GetAvailableSlots(ctx context.Context, serviceID, startDate, endDate, employeeID string) ([]entity.TimeSlot, error) {
	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return nil, apperrors.NewInvalidInputError("start_date must be YYYY-MM-DD")
	}
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return nil, apperrors.NewInvalidInputError("end_date must be YYYY-MM-DD")
	}

	params := map[string]interface{}{
		"type":    "user",
		"from":    startDate,
		"to":      endDate,
	}
	if employeeID != "" {
		params["ownerId"] = employeeID
	}

	result, err := a.call(ctx, "calendar.event.get", params)
	if err != nil {
		return nil, err
	}

	var events []struct {
		DateFrom string `json:"DATE_FROM"`
	}
	if err := json.Unmarshal(result, &events); err != nil {
		return nil, apperrors.NewProtocolError("malformed calendar response")
	}

	busy := make(map[string]bool, len(events))
	for _, e := range events {
		if t, err := time.Parse("02.01.2006 15:04:05", e.DateFrom); err == nil {
			busy[t.Format("2006-01-02 15:04")] = true
		}
	}

	var slots []entity.TimeSlot
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		for hour := 9; hour < 18; hour++ {
			clock := fmt.Sprintf("%02d:00", hour)
			if busy[day.Format("2006-01-02")+" "+clock] {
				continue
			}
			slots = append(slots, entity.TimeSlot{
				Date:            day.Format("2006-01-02"),
				Time:            clock,
				DurationMinutes: 60,
				EmployeeID:      employeeID,
			})
		}
	}
	return slots, nil
}

func (a *bitrix24Adapter) CreateAppointment(ctx context.Context, appt *entity.Appointment) (*entity.Appointment, error) {
	fields := map[string]interface{}{
		"TITLE":      "Запись на услугу " + appt.ServiceID,
		"CONTACT_ID": appt.ClientID,
		"COMMENTS":   appt.Notes,
		"BEGINDATE":  appt.Date + "T" + appt.Time + ":00",
		"STAGE_ID":   "NEW",
	}

	result, err := a.call(ctx, "crm.deal.add", map[string]interface{}{"fields": fields})
	if err != nil {
		return nil, err
	}

	var dealID json.Number
	if err := json.Unmarshal(result, &dealID); err != nil {
		return nil, apperrors.NewProtocolError("malformed deal add response")
	}

	// 同步日历事件, 失败不影响预约本身
	if appt.EmployeeID != "" {
		ownerID, convErr := strconv.Atoi(appt.EmployeeID)
		if convErr == nil {
			_, evErr := a.call(ctx, "calendar.event.add", map[string]interface{}{
				"type":    "user",
				"ownerId": ownerID,
				"name":    "Запись клиента",
				"from":    appt.Date + "T" + appt.Time + ":00",
			})
			if evErr != nil {
				a.logger.Warn("Calendar event creation failed", zap.Error(evErr))
			}
		}
	}

	created := *appt
	created.ID = dealID.String()
	created.Status = "confirmed"
	return &created, nil
}

func (a *bitrix24Adapter) GetAppointmentByID(ctx context.Context, appointmentID string) (*entity.Appointment, error) {
	result, err := a.call(ctx, "crm.deal.get", map[string]interface{}{"id": appointmentID})
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeTransport {
			return nil, err
		}
		return nil, nil
	}

	var deal struct {
		ID        json.Number `json:"ID"`
		ContactID json.Number `json:"CONTACT_ID"`
		Comments  string      `json:"COMMENTS"`
		BeginDate string      `json:"BEGINDATE"`
		StageID   string      `json:"STAGE_ID"`
	}
	if err := json.Unmarshal(result, &deal); err != nil {
		return nil, apperrors.NewProtocolError("malformed deal response")
	}

	appt := &entity.Appointment{
		ID:       deal.ID.String(),
		ClientID: deal.ContactID.String(),
		Notes:    deal.Comments,
		Status:   deal.StageID,
	}
	if t, err := time.Parse("2006-01-02T15:04:05-07:00", deal.BeginDate); err == nil {
		appt.Date = t.Format("2006-01-02")
		appt.Time = t.Format("15:04")
	}
	return appt, nil
}

func (a *bitrix24Adapter) CancelAppointment(ctx context.Context, appointmentID string) (bool, error) {
	_, err := a.call(ctx, "crm.deal.update", map[string]interface{}{
		"id":     appointmentID,
		"fields": map[string]string{"STAGE_ID": "LOSE"},
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (a *bitrix24Adapter) GetClientAppointments(ctx context.Context, clientID string) ([]entity.Appointment, error) {
	result, err := a.call(ctx, "crm.deal.list", map[string]interface{}{
		"filter": map[string]string{"CONTACT_ID": clientID},
		"select": []string{"ID", "CONTACT_ID", "COMMENTS", "BEGINDATE", "STAGE_ID"},
	})
	if err != nil {
		return nil, err
	}

	var rows []struct {
		ID        json.Number `json:"ID"`
		ContactID json.Number `json:"CONTACT_ID"`
		Comments  string      `json:"COMMENTS"`
		BeginDate string      `json:"BEGINDATE"`
		StageID   string      `json:"STAGE_ID"`
	}
	if err := json.Unmarshal(result, &rows); err != nil {
		return nil, apperrors.NewProtocolError("malformed deal list response")
	}

	now := time.Now()
	appts := make([]entity.Appointment, 0, len(rows))
	for _, r := range rows {
		appt := entity.Appointment{
			ID:       r.ID.String(),
			ClientID: r.ContactID.String(),
			Notes:    r.Comments,
			Status:   r.StageID,
		}
		if t, err := time.Parse("2006-01-02T15:04:05-07:00", r.BeginDate); err == nil {
			if t.Before(now) {
				continue
			}
			appt.Date = t.Format("2006-01-02")
			appt.Time = t.Format("15:04")
		}
		appts = append(appts, appt)
	}
	return appts, nil
}

func (a *bitrix24Adapter) Health(ctx context.Context) error {
	_, err := a.call(ctx, "profile", nil)
	return err
}
