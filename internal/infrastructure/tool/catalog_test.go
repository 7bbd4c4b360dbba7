package tool

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/aiadmin/aiadmin/internal/domain/entity"
	"github.com/aiadmin/aiadmin/internal/infrastructure/crm"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

// fakeAdapter implements crm.Adapter with canned responses.
type fakeAdapter struct {
	services    []entity.Service
	slots       []entity.TimeSlot
	client      *entity.Client
	appointment *entity.Appointment
	err         error

	lastCategory string
	lastPhone    string
}

func (f *fakeAdapter) Kind() string { return "fake" }

func (f *fakeAdapter) GetClientByPhone(_ context.Context, phone string) (*entity.Client, error) {
	f.lastPhone = phone
	return f.client, f.err
}

func (f *fakeAdapter) CreateClient(_ context.Context, client *entity.Client) (*entity.Client, error) {
	if f.err != nil {
		return nil, f.err
	}
	created := *client
	created.ID = "new-client"
	return &created, nil
}

func (f *fakeAdapter) UpdateClient(_ context.Context, client *entity.Client) (*entity.Client, error) {
	return client, f.err
}

func (f *fakeAdapter) GetServices(_ context.Context, category string) ([]entity.Service, error) {
	f.lastCategory = category
	return f.services, f.err
}

func (f *fakeAdapter) GetServiceByID(_ context.Context, serviceID string) (*entity.Service, error) {
	for i := range f.services {
		if f.services[i].ID == serviceID {
			return &f.services[i], nil
		}
	}
	return nil, f.err
}

func (f *fakeAdapter) GetEmployees(_ context.Context, _ string) ([]entity.Employee, error) {
	return nil, f.err
}

func (f *fakeAdapter) GetAvailableSlots(_ context.Context, _, _, _, _ string) ([]entity.TimeSlot, error) {
	return f.slots, f.err
}

func (f *fakeAdapter) CreateAppointment(_ context.Context, appt *entity.Appointment) (*entity.Appointment, error) {
	if f.err != nil {
		return nil, f.err
	}
	created := *appt
	created.ID = "appt-1"
	created.Status = "confirmed"
	return &created, nil
}

func (f *fakeAdapter) GetAppointmentByID(_ context.Context, _ string) (*entity.Appointment, error) {
	return f.appointment, f.err
}

func (f *fakeAdapter) CancelAppointment(_ context.Context, _ string) (bool, error) {
	return f.err == nil, f.err
}

func (f *fakeAdapter) GetClientAppointments(_ context.Context, _ string) ([]entity.Appointment, error) {
	return nil, f.err
}

func (f *fakeAdapter) Health(_ context.Context) error { return f.err }

func TestCatalogDeclarations(t *testing.T) {
	catalog := NewCatalog(&fakeAdapter{}, testLogger())

	decls := catalog.Declarations()
	if len(decls) != 9 {
		t.Fatalf("got %d declarations, want 9", len(decls))
	}

	want := []string{
		"get_services", "get_service_by_id", "get_employees",
		"get_available_slots", "get_client_by_phone", "create_client",
		"create_appointment", "get_client_appointments", "cancel_appointment",
	}
	for i, name := range want {
		if decls[i].Name != name {
			t.Errorf("declaration[%d] = %q, want %q", i, decls[i].Name, name)
		}
		if decls[i].Parameters["type"] != "object" {
			t.Errorf("%s schema type = %v, want object", name, decls[i].Parameters["type"])
		}
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	catalog := NewCatalog(&fakeAdapter{}, testLogger())

	out := catalog.Execute(context.Background(), "delete_database", nil)
	if out["error"] == nil {
		t.Fatalf("expected error payload, got %v", out)
	}
	if out["result"] != nil {
		t.Errorf("result must be absent on error, got %v", out["result"])
	}
}

func TestExecuteWrapsAdapterError(t *testing.T) {
	adapter := &fakeAdapter{err: errors.New("crm down")}
	catalog := NewCatalog(adapter, testLogger())

	out := catalog.Execute(context.Background(), "get_services", map[string]interface{}{})
	errMsg, ok := out["error"].(string)
	if !ok || errMsg == "" {
		t.Fatalf("expected error string, got %v", out)
	}
}

func TestExecuteGetServices(t *testing.T) {
	adapter := &fakeAdapter{services: []entity.Service{
		{ID: "1", Title: "Стрижка", Price: 1500, DurationMinutes: 60},
	}}
	catalog := NewCatalog(adapter, testLogger())

	out := catalog.Execute(context.Background(), "get_services",
		map[string]interface{}{"category": "hair"})
	if out["error"] != nil {
		t.Fatalf("unexpected error: %v", out["error"])
	}
	services, ok := out["result"].([]entity.Service)
	if !ok || len(services) != 1 {
		t.Fatalf("result = %v, want one service", out["result"])
	}
	if adapter.lastCategory != "hair" {
		t.Errorf("category = %q, want hair", adapter.lastCategory)
	}
}

func TestExecuteRejectsMalformedDates(t *testing.T) {
	catalog := NewCatalog(&fakeAdapter{}, testLogger())

	tests := []struct {
		name string
		tool string
		args map[string]interface{}
	}{
		{"bad start date", "get_available_slots", map[string]interface{}{
			"service_id": "1", "start_date": "03/02/2026", "end_date": "2026-03-05",
		}},
		{"missing service", "get_available_slots", map[string]interface{}{
			"start_date": "2026-03-02", "end_date": "2026-03-05",
		}},
		{"bad time", "create_appointment", map[string]interface{}{
			"client_id": "1", "service_id": "2",
			"appointment_date": "2026-03-02", "appointment_time": "9am",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := catalog.Execute(context.Background(), tt.tool, tt.args)
			if out["error"] == nil {
				t.Fatalf("expected validation error, got %v", out)
			}
		})
	}
}

func TestExecuteCreateAppointment(t *testing.T) {
	catalog := NewCatalog(&fakeAdapter{}, testLogger())

	out := catalog.Execute(context.Background(), "create_appointment", map[string]interface{}{
		"client_id":        "7",
		"service_id":       "2",
		"appointment_date": "2026-03-02",
		"appointment_time": "14:30",
	})
	if out["error"] != nil {
		t.Fatalf("unexpected error: %v", out["error"])
	}
	appt, ok := out["result"].(*entity.Appointment)
	if !ok {
		t.Fatalf("result = %T, want appointment", out["result"])
	}
	if appt.ID != "appt-1" || appt.Status != "confirmed" {
		t.Errorf("appointment = %+v", appt)
	}
}

func TestExecuteClientLookupMiss(t *testing.T) {
	catalog := NewCatalog(&fakeAdapter{}, testLogger())

	out := catalog.Execute(context.Background(), "get_client_by_phone",
		map[string]interface{}{"phone": "+79991234567"})
	if out["error"] != nil {
		t.Fatalf("lookup miss must not be an error: %v", out["error"])
	}
	if _, present := out["result"]; !present {
		t.Fatal("result key must be present even when nil")
	}
}

var _ crm.Adapter = (*fakeAdapter)(nil)
