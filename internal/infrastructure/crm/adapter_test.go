package crm

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		t.Fatalf("parse date %q: %v", s, err)
	}
	return d
}

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func TestRegistryContainsAllVendors(t *testing.T) {
	kinds := Kinds()
	registered := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		registered[k] = true
	}

	for _, want := range []string{
		"yclients", "altegio", "bitrix24", "amocrm", "onec", "dikidi", "easyweek",
	} {
		if !registered[want] {
			t.Errorf("kind %q not registered, have %v", want, kinds)
		}
	}
}

func TestNewUnknownKind(t *testing.T) {
	_, err := New(Config{Kind: "salesforce"}, testLogger())
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
	if !strings.Contains(err.Error(), "salesforce") {
		t.Errorf("error should name the unknown kind: %v", err)
	}
	if !strings.Contains(err.Error(), "available") {
		t.Errorf("error should list available kinds: %v", err)
	}
}

func TestNewEnforcesRequiredConfig(t *testing.T) {
	logger := testLogger()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"yclients without company", Config{Kind: "yclients", APIKey: "k"}, true},
		{"yclients complete", Config{Kind: "yclients", APIKey: "k", RemoteAccountID: "123"}, false},
		{"altegio without company", Config{Kind: "altegio", APIKey: "k"}, true},
		{"altegio complete", Config{Kind: "altegio", APIKey: "k", RemoteAccountID: "123"}, false},
		{"bitrix24 without webhook url", Config{Kind: "bitrix24", APIKey: "k"}, true},
		{"bitrix24 complete", Config{Kind: "bitrix24", BaseURL: "https://example.bitrix24.ru/rest/1/token"}, false},
		{"amocrm without base url", Config{Kind: "amocrm", APIKey: "k"}, true},
		{"amocrm complete", Config{Kind: "amocrm", APIKey: "k", BaseURL: "https://acme.amocrm.ru"}, false},
		{"onec without base url", Config{Kind: "onec", APIKey: "k"}, true},
		{"onec complete", Config{Kind: "onec", APIKey: "k", BaseURL: "http://srv/base"}, false},
		{"dikidi without company", Config{Kind: "dikidi", APIKey: "k"}, true},
		{"dikidi complete", Config{Kind: "dikidi", APIKey: "k", RemoteAccountID: "42"}, false},
		{"easyweek minimal", Config{Kind: "easyweek", APIKey: "k"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter, err := New(tt.cfg, logger)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected config error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if adapter.Kind() != tt.cfg.Kind {
				t.Errorf("Kind() = %q, want %q", adapter.Kind(), tt.cfg.Kind)
			}
		})
	}
}

func TestCleanPhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+7 (999) 123-45-67", "79991234567"},
		{"8-999-123-45-67", "89991234567"},
		{"79991234567", "79991234567"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := cleanPhone(tt.in); got != tt.want {
			t.Errorf("cleanPhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOneCEntityOverrides(t *testing.T) {
	cfg := Config{
		Kind:    "onec",
		APIKey:  "secret",
		BaseURL: "http://srv/base",
		Extra: map[string]interface{}{
			"entity_names": map[string]interface{}{
				"clients": "Catalog_Клиенты",
			},
		},
	}
	adapter, err := newOneC(cfg, testLogger())
	if err != nil {
		t.Fatalf("newOneC: %v", err)
	}

	onec := adapter.(*oneCAdapter)
	if got := onec.entities["clients"]; got != "Catalog_Клиенты" {
		t.Errorf("clients entity = %q, want override", got)
	}
	if got := onec.entities["services"]; got != "Catalog_Номенклатура" {
		t.Errorf("services entity = %q, want default", got)
	}
}

func TestJSONBoolAcceptsNumericForms(t *testing.T) {
	var v struct {
		Flag jsonBool `json:"flag"`
	}
	for raw, want := range map[string]bool{
		`{"flag":true}`:  true,
		`{"flag":false}`: false,
		`{"flag":1}`:     true,
		`{"flag":0}`:     false,
	} {
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		if bool(v.Flag) != want {
			t.Errorf("%s decoded to %v, want %v", raw, v.Flag, want)
		}
	}
}

func TestDefaultSlotGridSkipsSundaysAndCaps(t *testing.T) {
	start := mustDate(t, "2026-03-02") // Monday
	end := mustDate(t, "2026-03-08")   // Sunday

	slots := defaultSlotGrid(start, end, "emp-1")
	if len(slots) != 100 {
		t.Fatalf("got %d slots, want cap of 100", len(slots))
	}
	for _, s := range slots {
		if s.Date == "2026-03-08" {
			t.Errorf("grid must not include Sunday slot %v", s)
		}
		if s.EmployeeID != "emp-1" {
			t.Errorf("slot employee = %q, want emp-1", s.EmployeeID)
		}
	}
}
