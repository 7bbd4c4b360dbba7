package entity

// Neutral CRM records. Adapters translate vendor payloads into these shapes;
// nothing vendor-specific leaks past the adapter boundary.

// Client CRM 客户记录
type Client struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
	Notes string `json:"notes,omitempty"`
}

// Service CRM 服务项目
type Service struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Description     string  `json:"description,omitempty"`
	Price           float64 `json:"price,omitempty"`
	DurationMinutes int     `json:"duration_minutes,omitempty"`
	Category        string  `json:"category,omitempty"`
}

// Employee CRM 员工记录
type Employee struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Specialty  string   `json:"specialty,omitempty"`
	ServiceIDs []string `json:"service_ids,omitempty"`
	Rating     float64  `json:"rating,omitempty"`
}

// TimeSlot 可预约时段, 日期与时间为时区无关的本地值
type TimeSlot struct {
	Date            string `json:"date"` // YYYY-MM-DD
	Time            string `json:"time"` // HH:MM
	DurationMinutes int    `json:"duration_min,omitempty"`
	EmployeeID      string `json:"employee_id,omitempty"`
}

// Appointment CRM 预约记录
type Appointment struct {
	ID         string `json:"id"`
	ClientID   string `json:"client_id"`
	ServiceID  string `json:"service_id"`
	Date       string `json:"appointment_date"` // YYYY-MM-DD
	Time       string `json:"appointment_time"` // HH:MM
	EmployeeID string `json:"employee_id,omitempty"`
	Status     string `json:"status,omitempty"`
	Notes      string `json:"notes,omitempty"`
}
