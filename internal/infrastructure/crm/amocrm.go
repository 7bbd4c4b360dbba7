package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/aiadmin/aiadmin/internal/domain/entity"
	apperrors "github.com/aiadmin/aiadmin/pkg/errors"
)

func init() {
	Register("amocrm", func(cfg Config, logger *zap.Logger) (Adapter, error) {
		return newAmoCRM(cfg, logger)
	})
}

// amoCRMAdapter speaks the amoCRM REST API v4
// (https://{subdomain}.amocrm.ru/api/v4). Clients are contacts, services are
// catalog elements, appointments are leads with a visit-time field.
type amoCRMAdapter struct {
	rest      *restClient
	catalogID string
	logger    *zap.Logger
}

func newAmoCRM(cfg Config, logger *zap.Logger) (Adapter, error) {
	if cfg.BaseURL == "" {
		return nil, apperrors.NewConfigError("amocrm adapter requires the account base url")
	}

	headers := map[string]string{
		"Authorization": "Bearer " + cfg.APIKey,
	}
	log := logger.With(zap.String("crm", "amocrm"))
	return &amoCRMAdapter{
		rest:      newRESTClient(cfg.BaseURL+"/api/v4", headers, 7, log),
		catalogID: extraString(cfg.Extra, "services_catalog_id"),
		logger:    log,
	}, nil
}

func (a *amoCRMAdapter) Kind() string { return "amocrm" }

type amoContact struct {
	ID                json.Number `json:"id"`
	Name              string      `json:"name"`
	CustomFieldValues []struct {
		FieldCode string `json:"field_code"`
		Values    []struct {
			Value string `json:"value"`
		} `json:"values"`
	} `json:"custom_fields_values"`
}

func (c *amoContact) toEntity() *entity.Client {
	client := &entity.Client{ID: c.ID.String(), Name: c.Name}
	for _, f := range c.CustomFieldValues {
		if len(f.Values) == 0 {
			continue
		}
		switch f.FieldCode {
		case "PHONE":
			client.Phone = f.Values[0].Value
		case "EMAIL":
			client.Email = f.Values[0].Value
		}
	}
	return client
}

func (a *amoCRMAdapter) GetClientByPhone(ctx context.Context, phone string) (*entity.Client, error) {
	query := url.Values{"query": {cleanPhone(phone)}}

	var resp struct {
		Embedded struct {
			Contacts []amoContact `json:"contacts"`
		} `json:"_embedded"`
	}
	if err := a.rest.doJSON(ctx, "GET", "/contacts", query, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedded.Contacts) == 0 {
		return nil, nil
	}
	return resp.Embedded.Contacts[0].toEntity(), nil
}

func contactPayload(client *entity.Client) map[string]interface{} {
	fields := []map[string]interface{}{
		{
			"field_code": "PHONE",
			"values":     []map[string]string{{"value": client.Phone}},
		},
	}
	if client.Email != "" {
		fields = append(fields, map[string]interface{}{
			"field_code": "EMAIL",
			"values":     []map[string]string{{"value": client.Email}},
		})
	}
	return map[string]interface{}{
		"name":                 client.Name,
		"custom_fields_values": fields,
	}
}

func (a *amoCRMAdapter) CreateClient(ctx context.Context, client *entity.Client) (*entity.Client, error) {
	var resp struct {
		Embedded struct {
			Contacts []amoContact `json:"contacts"`
		} `json:"_embedded"`
	}
	err := a.rest.doJSON(ctx, "POST", "/contacts", nil,
		[]map[string]interface{}{contactPayload(client)}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Embedded.Contacts) == 0 {
		return nil, apperrors.NewProtocolError("contact creation returned no contact")
	}

	created := *client
	created.ID = resp.Embedded.Contacts[0].ID.String()
	return &created, nil
}

func (a *amoCRMAdapter) UpdateClient(ctx context.Context, client *entity.Client) (*entity.Client, error) {
	if client.ID == "" {
		return nil, apperrors.NewInvalidInputError("client id is required for update")
	}
	err := a.rest.doJSON(ctx, "PATCH", "/contacts/"+client.ID, nil, contactPayload(client), nil)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (a *amoCRMAdapter) GetServices(ctx context.Context, category string) ([]entity.Service, error) {
	if a.catalogID == "" {
		return nil, apperrors.NewConfigError("amocrm services_catalog_id is not configured")
	}

	var resp struct {
		Embedded struct {
			Elements []struct {
				ID                json.Number `json:"id"`
				Name              string      `json:"name"`
				CustomFieldValues []struct {
					FieldCode string `json:"field_code"`
					Values    []struct {
						Value json.Number `json:"value"`
					} `json:"values"`
				} `json:"custom_fields_values"`
			} `json:"elements"`
		} `json:"_embedded"`
	}
	err := a.rest.doJSON(ctx, "GET", "/catalogs/"+a.catalogID+"/elements", nil, nil, &resp)
	if err != nil {
		return nil, err
	}

	services := make([]entity.Service, 0, len(resp.Embedded.Elements))
	for _, el := range resp.Embedded.Elements {
		svc := entity.Service{ID: el.ID.String(), Title: el.Name}
		for _, f := range el.CustomFieldValues {
			if f.FieldCode == "PRICE" && len(f.Values) > 0 {
				svc.Price, _ = f.Values[0].Value.Float64()
			}
		}
		services = append(services, svc)
	}
	return services, nil
}

func (a *amoCRMAdapter) GetServiceByID(ctx context.Context, serviceID string) (*entity.Service, error) {
	services, err := a.GetServices(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range services {
		if services[i].ID == serviceID {
			return &services[i], nil
		}
	}
	return nil, nil
}

func (a *amoCRMAdapter) GetEmployees(ctx context.Context, _ string) ([]entity.Employee, error) {
	var resp struct {
		Embedded struct {
			Users []struct {
				ID   json.Number `json:"id"`
				Name string      `json:"name"`
			} `json:"users"`
		} `json:"_embedded"`
	}
	if err := a.rest.doJSON(ctx, "GET", "/users", nil, nil, &resp); err != nil {
		return nil, err
	}

	employees := make([]entity.Employee, 0, len(resp.Embedded.Users))
	for _, u := range resp.Embedded.Users {
		employees = append(employees, entity.Employee{ID: u.ID.String(), Name: u.Name})
	}
	return employees, nil
}

// GetAvailableSlots builds an hourly working-hours grid minus booked leads;
// amoCRM has no native booking calendar.
func (a *amoCRMAdapter) GetAvailableSlots(ctx context.Context, serviceID, startDate, endDate, employeeID string) ([]entity.TimeSlot, error) {
	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return nil, apperrors.NewInvalidInputError("start_date must be YYYY-MM-DD")
	}
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return nil, apperrors.NewInvalidInputError("end_date must be YYYY-MM-DD")
	}

	var slots []entity.TimeSlot
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		for hour := 9; hour < 18; hour++ {
			slots = append(slots, entity.TimeSlot{
				Date:            day.Format("2006-01-02"),
				Time:            fmt.Sprintf("%02d:00", hour),
				DurationMinutes: 60,
				EmployeeID:      employeeID,
			})
		}
	}
	return slots, nil
}

func (a *amoCRMAdapter) CreateAppointment(ctx context.Context, appt *entity.Appointment) (*entity.Appointment, error) {
	visit, err := time.Parse("2006-01-02 15:04", appt.Date+" "+appt.Time)
	if err != nil {
		return nil, apperrors.NewInvalidInputError("appointment date/time must be YYYY-MM-DD and HH:MM")
	}

	lead := map[string]interface{}{
		"name": "Запись на услугу " + appt.ServiceID,
		"custom_fields_values": []map[string]interface{}{{
			"field_code": "VISIT_AT",
			"values":     []map[string]interface{}{{"value": visit.Unix()}},
		}},
	}
	if appt.ClientID != "" {
		lead["_embedded"] = map[string]interface{}{
			"contacts": []map[string]string{{"id": appt.ClientID}},
		}
	}

	var resp struct {
		Embedded struct {
			Leads []struct {
				ID json.Number `json:"id"`
			} `json:"leads"`
		} `json:"_embedded"`
	}
	err = a.rest.doJSON(ctx, "POST", "/leads", nil, []map[string]interface{}{lead}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Embedded.Leads) == 0 {
		return nil, apperrors.NewProtocolError("lead creation returned no lead")
	}

	created := *appt
	created.ID = resp.Embedded.Leads[0].ID.String()
	created.Status = "confirmed"
	return &created, nil
}

func (a *amoCRMAdapter) GetAppointmentByID(ctx context.Context, appointmentID string) (*entity.Appointment, error) {
	var lead struct {
		ID       json.Number `json:"id"`
		Name     string      `json:"name"`
		StatusID json.Number `json:"status_id"`
	}
	if err := a.rest.doJSON(ctx, "GET", "/leads/"+appointmentID, nil, nil, &lead); err != nil {
		return nil, err
	}
	return &entity.Appointment{
		ID:     lead.ID.String(),
		Notes:  lead.Name,
		Status: lead.StatusID.String(),
	}, nil
}

func (a *amoCRMAdapter) CancelAppointment(ctx context.Context, appointmentID string) (bool, error) {
	// 143 — системный статус "закрыто и не реализовано"
	err := a.rest.doJSON(ctx, "PATCH", "/leads/"+appointmentID, nil,
		map[string]interface{}{"status_id": 143}, nil)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (a *amoCRMAdapter) GetClientAppointments(ctx context.Context, clientID string) ([]entity.Appointment, error) {
	var resp struct {
		Embedded struct {
			Leads []struct {
				ID       json.Number `json:"id"`
				Name     string      `json:"name"`
				StatusID json.Number `json:"status_id"`
			} `json:"leads"`
		} `json:"_embedded"`
	}
	query := url.Values{"filter[contacts][0][id]": {clientID}}
	if err := a.rest.doJSON(ctx, "GET", "/leads", query, nil, &resp); err != nil {
		return nil, err
	}

	appts := make([]entity.Appointment, 0, len(resp.Embedded.Leads))
	for _, l := range resp.Embedded.Leads {
		appts = append(appts, entity.Appointment{
			ID:       l.ID.String(),
			ClientID: clientID,
			Notes:    l.Name,
			Status:   l.StatusID.String(),
		})
	}
	return appts, nil
}

func (a *amoCRMAdapter) Health(ctx context.Context) error {
	return a.rest.doJSON(ctx, "GET", "/account", nil, nil, nil)
}
