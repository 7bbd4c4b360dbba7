package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/aiadmin/aiadmin/internal/domain/entity"
	"github.com/aiadmin/aiadmin/internal/domain/repository"
	"github.com/aiadmin/aiadmin/internal/domain/service"
	domaintool "github.com/aiadmin/aiadmin/internal/domain/tool"
	"github.com/aiadmin/aiadmin/internal/infrastructure/crm"
	"github.com/aiadmin/aiadmin/internal/infrastructure/llm"
	"github.com/aiadmin/aiadmin/internal/infrastructure/prompt"
	"github.com/aiadmin/aiadmin/internal/infrastructure/tool"
	apperrors "github.com/aiadmin/aiadmin/pkg/errors"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

// ── fakes ──

type fakeTenants struct {
	binding *entity.CRMBinding
	policy  *entity.AgentPolicy
	name    string
}

func (f *fakeTenants) LoadCRMBinding(_ context.Context, _ string) (*entity.CRMBinding, error) {
	if f.binding == nil {
		return nil, apperrors.NewConfigError("no crm binding")
	}
	return f.binding, nil
}

func (f *fakeTenants) LoadAgentPolicy(_ context.Context, tenantID string) (*entity.AgentPolicy, error) {
	if f.policy == nil {
		return entity.DefaultAgentPolicy(tenantID), nil
	}
	return f.policy, nil
}

func (f *fakeTenants) LoadPromptContext(_ context.Context, tenantID string) (*entity.PromptContext, error) {
	policy, _ := f.LoadAgentPolicy(context.Background(), tenantID)
	return &entity.PromptContext{CompanyName: f.name, Policy: policy}, nil
}

type identityVault struct{}

func (identityVault) DecryptIfNeeded(v string) (string, error) { return v, nil }

type fakeHot struct {
	sessions map[string]*entity.Session
	history  map[string][]entity.HistoryEntry
}

func newFakeHot() *fakeHot {
	return &fakeHot{
		sessions: make(map[string]*entity.Session),
		history:  make(map[string][]entity.HistoryEntry),
	}
}

func (f *fakeHot) GetSession(_ context.Context, id string) (*entity.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("session not in hot store")
	}
	copied := *s
	return &copied, nil
}

func (f *fakeHot) SaveSession(_ context.Context, session *entity.Session) error {
	copied := *session
	f.sessions[session.ID] = &copied
	return nil
}

func (f *fakeHot) AppendHistory(_ context.Context, id string, role entity.Role, text string, _ time.Duration) error {
	f.history[id] = append(f.history[id], entity.HistoryEntry{Role: role, Text: text})
	return nil
}

func (f *fakeHot) GetHistory(_ context.Context, id string, _ int) ([]entity.HistoryEntry, error) {
	return f.history[id], nil
}

type scriptedProvider struct {
	responses []*llm.Response
	errs      []error
	calls     int
	lastReq   *llm.Request
}

func (p *scriptedProvider) Generate(_ context.Context, req *llm.Request) (*llm.Response, error) {
	p.lastReq = req
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i < len(p.responses) {
		return p.responses[i], nil
	}
	return &llm.Response{Text: "ok"}, nil
}

func (p *scriptedProvider) HealthCheck(_ context.Context) error { return nil }
func (p *scriptedProvider) Name() string                        { return "scripted" }

type captureMessages struct {
	repository.MessageRepository
	saved []*entity.MessageRecord
}

func (c *captureMessages) Save(_ context.Context, record *entity.MessageRecord) error {
	c.saved = append(c.saved, record)
	return nil
}

type captureSessions struct {
	repository.SessionRepository
	upserts []*entity.Session
}

func (c *captureSessions) Upsert(_ context.Context, session *entity.Session) error {
	copied := *session
	c.upserts = append(c.upserts, &copied)
	return nil
}

// stubAdapter 只实现编排测试真正触达的操作
type stubAdapter struct {
	services    []entity.Service
	client      *entity.Client
	appointment *entity.Appointment
}

func (s *stubAdapter) Kind() string { return "stub" }

func (s *stubAdapter) GetClientByPhone(_ context.Context, _ string) (*entity.Client, error) {
	return s.client, nil
}

func (s *stubAdapter) CreateClient(_ context.Context, client *entity.Client) (*entity.Client, error) {
	created := *client
	created.ID = "client-1"
	return &created, nil
}

func (s *stubAdapter) UpdateClient(_ context.Context, client *entity.Client) (*entity.Client, error) {
	return client, nil
}

func (s *stubAdapter) GetServices(_ context.Context, _ string) ([]entity.Service, error) {
	return s.services, nil
}

func (s *stubAdapter) GetServiceByID(_ context.Context, _ string) (*entity.Service, error) {
	return nil, nil
}

func (s *stubAdapter) GetEmployees(_ context.Context, _ string) ([]entity.Employee, error) {
	return nil, nil
}

func (s *stubAdapter) GetAvailableSlots(_ context.Context, _, _, _, _ string) ([]entity.TimeSlot, error) {
	return nil, nil
}

func (s *stubAdapter) CreateAppointment(_ context.Context, appt *entity.Appointment) (*entity.Appointment, error) {
	if s.appointment != nil {
		return s.appointment, nil
	}
	created := *appt
	created.ID = "appt-77"
	created.Status = "confirmed"
	return &created, nil
}

func (s *stubAdapter) GetAppointmentByID(_ context.Context, _ string) (*entity.Appointment, error) {
	return s.appointment, nil
}

func (s *stubAdapter) CancelAppointment(_ context.Context, _ string) (bool, error) { return true, nil }

func (s *stubAdapter) GetClientAppointments(_ context.Context, _ string) ([]entity.Appointment, error) {
	return nil, nil
}

func (s *stubAdapter) Health(_ context.Context) error { return nil }

// ── harness ──

type harness struct {
	orch     *Orchestrator
	hot      *fakeHot
	provider *scriptedProvider
	messages *captureMessages
	sessions *captureSessions
}

func newHarness(provider *scriptedProvider, adapter crm.Adapter) *harness {
	hot := newFakeHot()
	messages := &captureMessages{}
	sessions := &captureSessions{}
	logger := testLogger()

	orch := NewOrchestrator(OrchestratorDeps{
		Tenants: &fakeTenants{
			binding: &entity.CRMBinding{TenantID: "t1", CRMKind: "stub", APIKeyEncrypted: "key", IsActive: true},
			name:    "Acme",
		},
		Vault:    identityVault{},
		Hot:      hot,
		Provider: provider,
		Messages: messages,
		Sessions: sessions,
		Locker:   service.NewSessionLocker(),
		Prompts:  prompt.NewBuilder(),
		NewAdapter: func(_ crm.Config, _ *zap.Logger) (crm.Adapter, error) {
			return adapter, nil
		},
		NewCatalogue: func(a crm.Adapter, l *zap.Logger) domaintool.Catalogue {
			return tool.NewCatalog(a, l)
		},
		SessionTTL: time.Hour,
		MaxHistory: 20,
		Logger:     logger,
	})
	return &harness{orch: orch, hot: hot, provider: provider, messages: messages, sessions: sessions}
}

func inbound(text string) *entity.Message {
	return &entity.Message{
		TenantID:  "t1",
		UserID:    "42",
		UserName:  "Ann",
		Channel:   entity.ChannelTelegram,
		Kind:      entity.MessageKindText,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
}

// ── tests ──

func TestFirstMessageCreatesSessionAndGreets(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.Response{{Text: "Здравствуйте! Чем могу помочь?"}}}
	h := newHarness(provider, &stubAdapter{})

	reply, err := h.orch.ProcessMessage(context.Background(), inbound("Привет"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if reply.SessionID != "tg_42" {
		t.Errorf("session id = %q, want tg_42", reply.SessionID)
	}
	if reply.Text != "Здравствуйте! Чем могу помочь?" {
		t.Errorf("reply text = %q", reply.Text)
	}
	if reply.SessionState != entity.StateGreeting {
		t.Errorf("state = %s, want GREETING", reply.SessionState)
	}

	if hist := h.hot.history["tg_42"]; len(hist) != 2 {
		t.Errorf("hot history length = %d, want 2", len(hist))
	} else {
		if hist[0].Role != entity.RoleUser || hist[1].Role != entity.RoleModel {
			t.Errorf("history roles = %v", hist)
		}
	}

	if len(h.messages.saved) != 2 {
		t.Fatalf("persisted messages = %d, want inbound+outbound", len(h.messages.saved))
	}
	if h.messages.saved[0].IsFromBot || !h.messages.saved[1].IsFromBot {
		t.Error("bot flag wrong on persisted records")
	}

	if len(h.sessions.upserts) != 1 || h.sessions.upserts[0].State != entity.StateGreeting {
		t.Errorf("durable upserts = %+v", h.sessions.upserts)
	}
}

func TestToolCallBranch(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.Response{
		{ToolCall: &llm.ToolCall{Name: "get_services", Args: map[string]interface{}{}}},
	}}
	h := newHarness(provider, &stubAdapter{services: []entity.Service{{ID: "1", Title: "Стрижка"}}})

	reply, err := h.orch.ProcessMessage(context.Background(), inbound("Какие услуги?"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if !reply.FunctionCalled || reply.FunctionName != "get_services" {
		t.Errorf("reply = %+v, want function call", reply)
	}
	if !reply.NeedsFollowup {
		t.Error("tool branch must request a followup turn")
	}
	if reply.Text != "" {
		t.Errorf("text must be empty on tool branch, got %q", reply.Text)
	}
	if reply.FunctionResult["result"] == nil {
		t.Errorf("function result = %v", reply.FunctionResult)
	}

	session := h.hot.sessions["tg_42"]
	if session == nil {
		t.Fatal("session not saved")
	}
	results, ok := session.Context["function_results"].([]interface{})
	if !ok || len(results) != 1 {
		t.Errorf("function_results = %v", session.Context["function_results"])
	}

	// 工具分支没有出站文本
	if len(h.messages.saved) != 1 {
		t.Errorf("persisted messages = %d, want inbound only", len(h.messages.saved))
	}
}

func TestBookingCompletion(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.Response{
		{ToolCall: &llm.ToolCall{Name: "create_appointment", Args: map[string]interface{}{
			"client_id":        "client-1",
			"service_id":       "1",
			"appointment_date": "2026-09-01",
			"appointment_time": "14:00",
		}}},
	}}
	h := newHarness(provider, &stubAdapter{})

	seed := entity.NewSession("tg_42", "t1", "42", entity.ChannelTelegram, time.Hour)
	seed.State = entity.StateConfirming
	seed.SetContext("name", "Анна")
	seed.SetContext("phone", "+79991234567")
	seed.SetContext("desired_service", "стрижка")
	seed.SetContext("selected_slot", "2026-09-01 14:00")
	_ = h.hot.SaveSession(context.Background(), seed)

	reply, err := h.orch.ProcessMessage(context.Background(), inbound("Да, подтверждаю"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if reply.SessionState != entity.StateCompleted {
		t.Errorf("state = %s, want COMPLETED", reply.SessionState)
	}
	session := h.hot.sessions["tg_42"]
	if session.AppointmentRef != "appt-77" {
		t.Errorf("appointment ref = %q, want appt-77", session.AppointmentRef)
	}
	if session.Context["appointment_id"] != "appt-77" {
		t.Errorf("context appointment_id = %v", session.Context["appointment_id"])
	}
}

func TestTerminalSessionStaysFrozen(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.Response{{Text: "Спасибо!"}}}
	h := newHarness(provider, &stubAdapter{})

	seed := entity.NewSession("tg_42", "t1", "42", entity.ChannelTelegram, time.Hour)
	seed.State = entity.StateCompleted
	_ = h.hot.SaveSession(context.Background(), seed)

	reply, err := h.orch.ProcessMessage(context.Background(), inbound("Спасибо"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if reply.SessionState != entity.StateCompleted {
		t.Errorf("terminal state must not move, got %s", reply.SessionState)
	}
}

func TestMissingTenantIsCallerError(t *testing.T) {
	h := newHarness(&scriptedProvider{}, &stubAdapter{})

	msg := inbound("hi")
	msg.TenantID = ""
	_, err := h.orch.ProcessMessage(context.Background(), msg)
	if !apperrors.IsInvalidInput(err) {
		t.Errorf("expected invalid input error, got %v", err)
	}
}

func TestLLMTransportFailureFallsBack(t *testing.T) {
	provider := &scriptedProvider{errs: []error{
		apperrors.NewTransportError("llm unreachable", errors.New("dial tcp")),
	}}
	h := newHarness(provider, &stubAdapter{})

	reply, err := h.orch.ProcessMessage(context.Background(), inbound("Привет"))
	if err != nil {
		t.Fatalf("fallback must not surface an error: %v", err)
	}
	if reply.Text != fallbackText {
		t.Errorf("reply = %q, want generic fallback", reply.Text)
	}
	// 入站消息仍然落库
	if len(h.messages.saved) != 1 {
		t.Errorf("persisted messages = %d, want 1", len(h.messages.saved))
	}
}

func TestEmptyLLMOutputAsksToRephrase(t *testing.T) {
	provider := &scriptedProvider{errs: []error{
		apperrors.NewProtocolError("llm returned an empty response"),
	}}
	h := newHarness(provider, &stubAdapter{})

	reply, err := h.orch.ProcessMessage(context.Background(), inbound("..."))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if reply.Text != clarifyText {
		t.Errorf("reply = %q, want clarification prompt", reply.Text)
	}
}

func TestGenerationKnobsReachProvider(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.Response{{Text: "ok"}}}
	h := newHarness(provider, &stubAdapter{})

	if _, err := h.orch.ProcessMessage(context.Background(), inbound("hi")); err != nil {
		t.Fatalf("process: %v", err)
	}
	req := provider.lastReq
	if req == nil {
		t.Fatal("provider not called")
	}
	if req.Temperature != 0.7 || req.MaxTokens != 8192 {
		t.Errorf("knobs = %v/%d, want defaults", req.Temperature, req.MaxTokens)
	}
	if len(req.Tools) != 9 {
		t.Errorf("tool declarations = %d, want 9", len(req.Tools))
	}
	if req.SystemInstruction == "" {
		t.Error("system instruction missing")
	}
}
