// Package crm provides a uniform adapter contract over external CRM vendors
// and a registry keyed by crm kind. Adapters translate neutral domain records
// to and from vendor payloads; nothing vendor-specific escapes this package.
package crm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/aiadmin/aiadmin/internal/domain/entity"
)

// Adapter is the capability set every CRM vendor implements.
// Construction never performs network I/O.
type Adapter interface {
	// Kind returns the vendor identifier.
	Kind() string

	// GetClientByPhone returns nil without error when no client matches.
	GetClientByPhone(ctx context.Context, phone string) (*entity.Client, error)
	CreateClient(ctx context.Context, client *entity.Client) (*entity.Client, error)
	UpdateClient(ctx context.Context, client *entity.Client) (*entity.Client, error)

	// GetServices lists services, optionally filtered by category.
	GetServices(ctx context.Context, category string) ([]entity.Service, error)
	// GetServiceByID returns nil without error when the service does not exist.
	GetServiceByID(ctx context.Context, serviceID string) (*entity.Service, error)

	// GetEmployees lists bookable employees, optionally filtered by service.
	GetEmployees(ctx context.Context, serviceID string) ([]entity.Employee, error)

	// GetAvailableSlots lists free slots for a service in [startDate, endDate]
	// (YYYY-MM-DD, timezone-naive vendor-local values).
	GetAvailableSlots(ctx context.Context, serviceID, startDate, endDate, employeeID string) ([]entity.TimeSlot, error)

	CreateAppointment(ctx context.Context, appt *entity.Appointment) (*entity.Appointment, error)
	GetAppointmentByID(ctx context.Context, appointmentID string) (*entity.Appointment, error)
	CancelAppointment(ctx context.Context, appointmentID string) (bool, error)
	// GetClientAppointments lists the client's future appointments.
	GetClientAppointments(ctx context.Context, clientID string) ([]entity.Appointment, error)

	// Health probes vendor reachability with a cheap read.
	Health(ctx context.Context) error
}

// Config is the explicit construction config for an adapter.
// Extra carries vendor-specific settings (e.g. 1C entity name overrides,
// amoCRM client credentials) as a typed-by-convention bag.
type Config struct {
	Kind            string
	APIKey          string
	BaseURL         string
	RemoteAccountID string
	UserToken       string
	Extra           map[string]interface{}
}

// Factory creates an Adapter from config.
type Factory func(cfg Config, logger *zap.Logger) (Adapter, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register registers a vendor factory for the given kind.
// Called from init() in each vendor file.
func Register(kind string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = factory
}

// New creates an Adapter for the binding's kind.
func New(cfg Config, logger *zap.Logger) (Adapter, error) {
	registryMu.RLock()
	factory, ok := registry[cfg.Kind]
	registryMu.RUnlock()

	if !ok {
		registryMu.RLock()
		available := make([]string, 0, len(registry))
		for k := range registry {
			available = append(available, k)
		}
		registryMu.RUnlock()
		return nil, fmt.Errorf("unknown crm kind %q (available: %v)", cfg.Kind, available)
	}

	return factory(cfg, logger)
}

// Kinds returns the registered vendor kinds.
func Kinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]string, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	return kinds
}

// cleanPhone strips everything but digits; vendors disagree on formatting.
func cleanPhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// extraString reads a string value from a Config.Extra bag.
func extraString(extra map[string]interface{}, key string) string {
	if extra == nil {
		return ""
	}
	if v, ok := extra[key].(string); ok {
		return v
	}
	return ""
}
