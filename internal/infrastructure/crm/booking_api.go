package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/aiadmin/aiadmin/internal/domain/entity"
	apperrors "github.com/aiadmin/aiadmin/pkg/errors"
)

// bookingAdapter implements the YCLIENTS booking API family. Altegio is the
// international deployment of the same protocol, so both kinds share this
// implementation and differ only in kind name and default base URL.
//
// Wire shape: every response is an envelope
// {"success": bool, "data": ..., "meta": {"message": ...}}.
type bookingAdapter struct {
	kind      string
	companyID string
	rest      *restClient
	logger    *zap.Logger
}

func newBookingAdapter(kind, defaultBaseURL string, cfg Config, logger *zap.Logger) (Adapter, error) {
	if cfg.RemoteAccountID == "" {
		return nil, apperrors.NewConfigError(kind + " adapter requires a company id")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	auth := "Bearer " + cfg.APIKey
	if cfg.UserToken != "" {
		auth += ", User " + cfg.UserToken
	}
	headers := map[string]string{
		"Accept":        "application/vnd.api.v2+json",
		"Authorization": auth,
	}

	log := logger.With(zap.String("crm", kind))
	return &bookingAdapter{
		kind:      kind,
		companyID: cfg.RemoteAccountID,
		rest:      newRESTClient(baseURL, headers, 5, log),
		logger:    log,
	}, nil
}

type bookingEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    struct {
		Message string `json:"message"`
	} `json:"meta"`
}

// request unwraps the success/data envelope.
func (a *bookingAdapter) request(ctx context.Context, method, path string, query url.Values, body interface{}) (json.RawMessage, error) {
	var env bookingEnvelope
	if err := a.rest.doJSON(ctx, method, path, query, body, &env); err != nil {
		return nil, err
	}
	if !env.Success {
		msg := env.Meta.Message
		if msg == "" {
			msg = "unknown error"
		}
		return nil, apperrors.NewProtocolError(a.kind + " api error: " + msg)
	}
	return env.Data, nil
}

func (a *bookingAdapter) Kind() string { return a.kind }

type bookingClient struct {
	ID    json.Number `json:"id"`
	Name  string      `json:"name"`
	Phone string      `json:"phone"`
	Email string      `json:"email"`
}

func (c *bookingClient) toEntity() *entity.Client {
	return &entity.Client{
		ID:    c.ID.String(),
		Name:  c.Name,
		Phone: c.Phone,
		Email: c.Email,
	}
}

func (a *bookingAdapter) GetClientByPhone(ctx context.Context, phone string) (*entity.Client, error) {
	query := url.Values{"phone": {cleanPhone(phone)}}
	data, err := a.request(ctx, "GET", fmt.Sprintf("/company/%s/clients/search", a.companyID), query, nil)
	if err != nil {
		return nil, err
	}

	var clients []bookingClient
	if err := json.Unmarshal(data, &clients); err != nil {
		// 单对象响应
		var one bookingClient
		if err := json.Unmarshal(data, &one); err != nil {
			return nil, apperrors.NewProtocolError("malformed client search response")
		}
		if one.ID.String() == "" {
			return nil, nil
		}
		return one.toEntity(), nil
	}
	if len(clients) == 0 {
		return nil, nil
	}
	return clients[0].toEntity(), nil
}

func (a *bookingAdapter) CreateClient(ctx context.Context, client *entity.Client) (*entity.Client, error) {
	payload := map[string]interface{}{
		"phone": client.Phone,
		"name":  client.Name,
		"email": client.Email,
	}
	data, err := a.request(ctx, "POST", fmt.Sprintf("/company/%s/clients", a.companyID), nil, payload)
	if err != nil {
		return nil, err
	}

	var created bookingClient
	if err := json.Unmarshal(data, &created); err != nil {
		return nil, apperrors.NewProtocolError("malformed create client response")
	}
	return created.toEntity(), nil
}

func (a *bookingAdapter) UpdateClient(ctx context.Context, client *entity.Client) (*entity.Client, error) {
	if client.ID == "" {
		return nil, apperrors.NewInvalidInputError("client id is required for update")
	}
	payload := map[string]interface{}{
		"phone": client.Phone,
		"name":  client.Name,
		"email": client.Email,
	}
	data, err := a.request(ctx, "PUT", fmt.Sprintf("/company/%s/client/%s", a.companyID, client.ID), nil, payload)
	if err != nil {
		return nil, err
	}

	var updated bookingClient
	if err := json.Unmarshal(data, &updated); err != nil {
		return nil, apperrors.NewProtocolError("malformed update client response")
	}
	return updated.toEntity(), nil
}

type bookingService struct {
	ID       json.Number `json:"id"`
	Title    string      `json:"title"`
	Comment  string      `json:"comment"`
	Price    float64     `json:"price_min"`
	Duration int         `json:"duration"` // seconds
	Active   jsonBool    `json:"active"`
}

func (s *bookingService) toEntity(category string) entity.Service {
	return entity.Service{
		ID:              s.ID.String(),
		Title:           s.Title,
		Description:     s.Comment,
		Price:           s.Price,
		DurationMinutes: s.Duration / 60,
		Category:        category,
	}
}

// 服务按分类分组返回: [{title, services: [...]}] 或扁平列表
type bookingServiceGroup struct {
	Title    string           `json:"title"`
	Services []bookingService `json:"services"`
	bookingService
}

func (a *bookingAdapter) GetServices(ctx context.Context, category string) ([]entity.Service, error) {
	query := url.Values{}
	if category != "" {
		query.Set("category_id", category)
	}
	data, err := a.request(ctx, "GET", fmt.Sprintf("/company/%s/services", a.companyID), query, nil)
	if err != nil {
		return nil, err
	}

	var groups []bookingServiceGroup
	if err := json.Unmarshal(data, &groups); err != nil {
		return nil, apperrors.NewProtocolError("malformed services response")
	}

	services := make([]entity.Service, 0, len(groups))
	for _, g := range groups {
		if len(g.Services) > 0 {
			for _, s := range g.Services {
				if !bool(s.Active) {
					continue
				}
				services = append(services, s.toEntity(g.Title))
			}
			continue
		}
		if !bool(g.Active) {
			continue
		}
		// 扁平响应时 title 解到外层字段
		s := g.bookingService
		s.Title = g.Title
		services = append(services, s.toEntity(""))
	}
	return services, nil
}

func (a *bookingAdapter) GetServiceByID(ctx context.Context, serviceID string) (*entity.Service, error) {
	data, err := a.request(ctx, "GET", fmt.Sprintf("/company/%s/services/%s", a.companyID, serviceID), nil, nil)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeTransport {
			return nil, err
		}
		return nil, nil
	}

	var s bookingService
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, apperrors.NewProtocolError("malformed service response")
	}
	svc := s.toEntity("")
	return &svc, nil
}

type bookingEmployee struct {
	ID             json.Number `json:"id"`
	Name           string      `json:"name"`
	Specialization string      `json:"specialization"`
	Fired          jsonBool    `json:"fired"`
	Bookable       jsonBool    `json:"bookable"`
}

func (a *bookingAdapter) GetEmployees(ctx context.Context, serviceID string) ([]entity.Employee, error) {
	query := url.Values{}
	if serviceID != "" {
		query.Set("service_ids[]", serviceID)
	}
	data, err := a.request(ctx, "GET", fmt.Sprintf("/company/%s/staff", a.companyID), query, nil)
	if err != nil {
		return nil, err
	}

	var rows []bookingEmployee
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, apperrors.NewProtocolError("malformed staff response")
	}

	employees := make([]entity.Employee, 0, len(rows))
	for _, e := range rows {
		if bool(e.Fired) {
			continue
		}
		employees = append(employees, entity.Employee{
			ID:        e.ID.String(),
			Name:      e.Name,
			Specialty: e.Specialization,
		})
	}
	return employees, nil
}

func (a *bookingAdapter) GetAvailableSlots(ctx context.Context, serviceID, startDate, endDate, employeeID string) ([]entity.TimeSlot, error) {
	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return nil, apperrors.NewInvalidInputError("start_date must be YYYY-MM-DD")
	}
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return nil, apperrors.NewInvalidInputError("end_date must be YYYY-MM-DD")
	}

	// 第一步: 可预约日期
	query := url.Values{"service_ids[]": {serviceID}}
	if employeeID != "" {
		query.Set("staff_id", employeeID)
	}
	data, err := a.request(ctx, "GET", fmt.Sprintf("/book_dates/%s", a.companyID), query, nil)
	if err != nil {
		return nil, err
	}

	var dates struct {
		BookingDates []string `json:"booking_dates"`
	}
	if err := json.Unmarshal(data, &dates); err != nil {
		return nil, apperrors.NewProtocolError("malformed booking dates response")
	}

	var slots []entity.TimeSlot
	for _, d := range dates.BookingDates {
		day, err := time.Parse("2006-01-02", d)
		if err != nil || day.Before(start) || day.After(end) {
			continue
		}

		staffIDs := []string{employeeID}
		if employeeID == "" {
			staffIDs, err = a.bookableStaff(ctx, serviceID, d)
			if err != nil {
				return nil, err
			}
		}

		for _, staffID := range staffIDs {
			times, err := a.bookTimes(ctx, staffID, d, serviceID)
			if err != nil {
				return nil, err
			}
			slots = append(slots, times...)
		}
	}
	return slots, nil
}

func (a *bookingAdapter) bookableStaff(ctx context.Context, serviceID, date string) ([]string, error) {
	query := url.Values{
		"service_ids[]": {serviceID},
		"datetime":      {date},
	}
	data, err := a.request(ctx, "GET", fmt.Sprintf("/book_staff/%s", a.companyID), query, nil)
	if err != nil {
		return nil, err
	}

	var rows []bookingEmployee
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, apperrors.NewProtocolError("malformed book staff response")
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID.String())
	}
	return ids, nil
}

func (a *bookingAdapter) bookTimes(ctx context.Context, staffID, date, serviceID string) ([]entity.TimeSlot, error) {
	query := url.Values{"service_ids[]": {serviceID}}
	data, err := a.request(ctx, "GET",
		fmt.Sprintf("/book_times/%s/%s/%s", a.companyID, staffID, date), query, nil)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Time     string   `json:"time"`
		Duration int      `json:"seance_length"` // seconds
		Disabled jsonBool `json:"disabled"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, apperrors.NewProtocolError("malformed book times response")
	}

	slots := make([]entity.TimeSlot, 0, len(rows))
	for _, r := range rows {
		if bool(r.Disabled) {
			continue
		}
		slots = append(slots, entity.TimeSlot{
			Date:            date,
			Time:            r.Time,
			DurationMinutes: r.Duration / 60,
			EmployeeID:      staffID,
		})
	}
	return slots, nil
}

func (a *bookingAdapter) CreateAppointment(ctx context.Context, appt *entity.Appointment) (*entity.Appointment, error) {
	serviceID, err := strconv.Atoi(appt.ServiceID)
	if err != nil {
		return nil, apperrors.NewInvalidInputError("service id must be numeric for " + a.kind)
	}
	staffID := 0
	if appt.EmployeeID != "" {
		staffID, err = strconv.Atoi(appt.EmployeeID)
		if err != nil {
			return nil, apperrors.NewInvalidInputError("employee id must be numeric for " + a.kind)
		}
	}

	// 客户联系方式来自 CRM 客户记录
	var phone, fullname, email string
	if appt.ClientID != "" {
		if data, err := a.request(ctx, "GET",
			fmt.Sprintf("/company/%s/client/%s", a.companyID, appt.ClientID), nil, nil); err == nil {
			var c bookingClient
			if json.Unmarshal(data, &c) == nil {
				phone, fullname, email = c.Phone, c.Name, c.Email
			}
		}
	}

	payload := map[string]interface{}{
		"phone":    phone,
		"fullname": fullname,
		"email":    email,
		"comment":  appt.Notes,
		"appointments": []map[string]interface{}{{
			"id":       1,
			"services": []int{serviceID},
			"staff_id": staffID,
			"datetime": appt.Date + "T" + appt.Time + ":00",
		}},
	}

	data, err := a.request(ctx, "POST", fmt.Sprintf("/book_record/%s", a.companyID), nil, payload)
	if err != nil {
		return nil, err
	}

	var created []struct {
		ID json.Number `json:"id"`
	}
	recordID := ""
	if err := json.Unmarshal(data, &created); err == nil && len(created) > 0 {
		recordID = created[0].ID.String()
	} else {
		var one struct {
			ID json.Number `json:"id"`
		}
		if json.Unmarshal(data, &one) == nil {
			recordID = one.ID.String()
		}
	}
	if recordID == "" {
		return nil, apperrors.NewProtocolError("create appointment returned no record id")
	}

	result := *appt
	result.ID = recordID
	result.Status = "confirmed"
	return &result, nil
}

type bookingRecord struct {
	ID       json.Number `json:"id"`
	Datetime string      `json:"datetime"`
	Comment  string      `json:"comment"`
	Length   int         `json:"length"`
	Client   struct {
		ID json.Number `json:"id"`
	} `json:"client"`
	Staff struct {
		ID json.Number `json:"id"`
	} `json:"staff"`
	Services []struct {
		ID json.Number `json:"id"`
	} `json:"services"`
	Attendance int `json:"attendance"`
}

func (r *bookingRecord) toEntity() entity.Appointment {
	date, clock := "", ""
	if dt, err := time.Parse(time.RFC3339, r.Datetime); err == nil {
		date = dt.Format("2006-01-02")
		clock = dt.Format("15:04")
	}
	serviceID := ""
	if len(r.Services) > 0 {
		serviceID = r.Services[0].ID.String()
	}
	status := map[int]string{0: "pending", 1: "confirmed", 2: "completed", -1: "cancelled"}[r.Attendance]
	if status == "" {
		status = "confirmed"
	}
	return entity.Appointment{
		ID:         r.ID.String(),
		ClientID:   r.Client.ID.String(),
		ServiceID:  serviceID,
		EmployeeID: r.Staff.ID.String(),
		Date:       date,
		Time:       clock,
		Status:     status,
		Notes:      r.Comment,
	}
}

func (a *bookingAdapter) GetAppointmentByID(ctx context.Context, appointmentID string) (*entity.Appointment, error) {
	data, err := a.request(ctx, "GET", fmt.Sprintf("/record/%s/%s", a.companyID, appointmentID), nil, nil)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeTransport {
			return nil, err
		}
		return nil, nil
	}

	var rec bookingRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, apperrors.NewProtocolError("malformed record response")
	}
	appt := rec.toEntity()
	return &appt, nil
}

func (a *bookingAdapter) CancelAppointment(ctx context.Context, appointmentID string) (bool, error) {
	_, err := a.request(ctx, "DELETE", fmt.Sprintf("/record/%s/%s", a.companyID, appointmentID), nil, nil)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (a *bookingAdapter) GetClientAppointments(ctx context.Context, clientID string) ([]entity.Appointment, error) {
	query := url.Values{
		"client_id":  {clientID},
		"start_date": {time.Now().Format("2006-01-02")},
	}
	data, err := a.request(ctx, "GET", fmt.Sprintf("/records/%s", a.companyID), query, nil)
	if err != nil {
		return nil, err
	}

	var rows []bookingRecord
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, apperrors.NewProtocolError("malformed records response")
	}
	appts := make([]entity.Appointment, 0, len(rows))
	for i := range rows {
		appts = append(appts, rows[i].toEntity())
	}
	return appts, nil
}

func (a *bookingAdapter) Health(ctx context.Context) error {
	_, err := a.request(ctx, "GET", fmt.Sprintf("/company/%s", a.companyID), nil, nil)
	return err
}

// jsonBool tolerates vendors that encode booleans as 0/1.
type jsonBool bool

func (b *jsonBool) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "true", "1":
		*b = true
	default:
		*b = false
	}
	return nil
}
