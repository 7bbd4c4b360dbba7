package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aiadmin/aiadmin/internal/domain/entity"
	"github.com/aiadmin/aiadmin/internal/domain/repository"
	"github.com/aiadmin/aiadmin/internal/domain/service"
	domaintool "github.com/aiadmin/aiadmin/internal/domain/tool"
	"github.com/aiadmin/aiadmin/internal/infrastructure/crm"
	"github.com/aiadmin/aiadmin/internal/infrastructure/eventbus"
	"github.com/aiadmin/aiadmin/internal/infrastructure/llm"
	"github.com/aiadmin/aiadmin/internal/infrastructure/prompt"
	apperrors "github.com/aiadmin/aiadmin/pkg/errors"
)

// User-facing fallbacks. Internal detail never reaches the end user.
const (
	fallbackText = "Извините, произошла ошибка. Пожалуйста, попробуйте еще раз."
	clarifyText  = "Извините, я не понял. Можете переформулировать?"
)

// HotSessionStore 编排器需要的热存储能力
type HotSessionStore interface {
	GetSession(ctx context.Context, id string) (*entity.Session, error)
	SaveSession(ctx context.Context, session *entity.Session) error
	AppendHistory(ctx context.Context, id string, role entity.Role, text string, ttl time.Duration) error
	GetHistory(ctx context.Context, id string, maxItems int) ([]entity.HistoryEntry, error)
}

// TenantDirectory 编排器需要的租户配置读取能力
type TenantDirectory interface {
	LoadCRMBinding(ctx context.Context, tenantID string) (*entity.CRMBinding, error)
	LoadAgentPolicy(ctx context.Context, tenantID string) (*entity.AgentPolicy, error)
	LoadPromptContext(ctx context.Context, tenantID string) (*entity.PromptContext, error)
}

// Decrypter 凭据解密
type Decrypter interface {
	DecryptIfNeeded(value string) (string, error)
}

// AdapterFactory 按绑定构建一次性 CRM 适配器
type AdapterFactory func(cfg crm.Config, logger *zap.Logger) (crm.Adapter, error)

// CatalogueFactory 基于适配器构建租户作用域工具目录
type CatalogueFactory func(adapter crm.Adapter, logger *zap.Logger) domaintool.Catalogue

// Orchestrator drives one inbound message through the full loop: tenant
// policy, session, history, LLM, tool dispatch, state machine, persistence.
// Handlers are independent across sessions; within a session the locker
// serializes the whole pass.
type Orchestrator struct {
	tenants      TenantDirectory
	vault        Decrypter
	hot          HotSessionStore
	provider     llm.Provider
	messages     repository.MessageRepository
	sessions     repository.SessionRepository
	locker       *service.SessionLocker
	prompts      *prompt.Builder
	newAdapter   AdapterFactory
	newCatalogue CatalogueFactory
	events       eventbus.Bus
	sessionTTL   time.Duration
	maxHistory   int
	logger       *zap.Logger
}

// OrchestratorDeps 编排器的全部外部依赖
type OrchestratorDeps struct {
	Tenants      TenantDirectory
	Vault        Decrypter
	Hot          HotSessionStore
	Provider     llm.Provider
	Messages     repository.MessageRepository
	Sessions     repository.SessionRepository
	Locker       *service.SessionLocker
	Prompts      *prompt.Builder
	NewAdapter   AdapterFactory
	NewCatalogue CatalogueFactory
	Events       eventbus.Bus // optional
	SessionTTL   time.Duration
	MaxHistory   int
	Logger       *zap.Logger
}

func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	if deps.SessionTTL <= 0 {
		deps.SessionTTL = time.Hour
	}
	if deps.MaxHistory <= 0 {
		deps.MaxHistory = 20
	}
	return &Orchestrator{
		tenants:      deps.Tenants,
		vault:        deps.Vault,
		hot:          deps.Hot,
		provider:     deps.Provider,
		messages:     deps.Messages,
		sessions:     deps.Sessions,
		locker:       deps.Locker,
		prompts:      deps.Prompts,
		newAdapter:   deps.NewAdapter,
		newCatalogue: deps.NewCatalogue,
		events:       deps.Events,
		sessionTTL:   deps.SessionTTL,
		maxHistory:   deps.MaxHistory,
		logger:       deps.Logger,
	}
}

// ProcessMessage 处理一条入站消息并返回回复
// 租户缺失是调用方错误, 返回 error; 其余故障都折叠成安全的兜底回复。
func (o *Orchestrator) ProcessMessage(ctx context.Context, msg *entity.Message) (*entity.Reply, error) {
	if msg.TenantID == "" {
		return nil, apperrors.NewInvalidInputError("company_id is required")
	}
	if msg.SessionID == "" {
		msg.SessionID = entity.SessionIDFor(msg.Channel, msg.UserID)
	}

	o.locker.Lock(msg.SessionID)
	defer o.locker.Unlock(msg.SessionID)

	log := o.logger.With(
		zap.String("tenant_id", msg.TenantID),
		zap.String("session_id", msg.SessionID),
		zap.String("channel", string(msg.Channel)),
	)

	reply, err := o.process(ctx, msg, log)
	if err != nil {
		log.Error("Message processing failed",
			zap.String("error_class", string(apperrors.CodeOf(err))),
			zap.Error(err),
		)
		return o.failSafe(ctx, msg), nil
	}
	return reply, nil
}

func (o *Orchestrator) process(ctx context.Context, msg *entity.Message, log *zap.Logger) (*entity.Reply, error) {
	// 租户策略与 CRM 凭据
	binding, err := o.tenants.LoadCRMBinding(ctx, msg.TenantID)
	if err != nil {
		return nil, err
	}
	promptCtx, err := o.tenants.LoadPromptContext(ctx, msg.TenantID)
	if err != nil {
		return nil, err
	}
	policy := promptCtx.Policy
	if policy == nil {
		policy = entity.DefaultAgentPolicy(msg.TenantID)
	}

	apiKey, err := o.vault.DecryptIfNeeded(binding.APIKeyEncrypted)
	if err != nil {
		// fail closed: 不带明文凭据不调 CRM
		return nil, err
	}

	adapter, err := o.newAdapter(crm.Config{
		Kind:            binding.CRMKind,
		APIKey:          apiKey,
		BaseURL:         binding.BaseURL,
		RemoteAccountID: binding.RemoteAccountID,
		Extra:           binding.Extra,
	}, log)
	if err != nil {
		return nil, err
	}
	catalogue := o.newCatalogue(adapter, log)

	// 会话获取或惰性创建
	session, err := o.hot.GetSession(ctx, msg.SessionID)
	if err != nil {
		if !apperrors.IsNotFound(err) {
			return nil, err
		}
		session = entity.NewSession(msg.SessionID, msg.TenantID, msg.UserID, msg.Channel, o.sessionTTL)
		log.Info("New session created")
		o.emit(ctx, eventbus.EventTypeSessionCreated, &eventbus.SessionCreatedPayload{
			SessionID: session.ID,
			TenantID:  session.TenantID,
			Channel:   session.Channel,
		})
	}
	session.Touch()

	// 历史装配: 先读再追加当前消息
	history, err := o.hot.GetHistory(ctx, session.ID, o.maxHistory)
	if err != nil {
		return nil, err
	}
	if err := o.hot.AppendHistory(ctx, session.ID, entity.RoleUser, msg.Text, o.sessionTTL); err != nil {
		return nil, err
	}

	messages := make([]llm.Message, 0, len(history)+1)
	for _, h := range history {
		messages = append(messages, llm.Message{Role: h.Role, Text: h.Text})
	}
	messages = append(messages, llm.Message{Role: entity.RoleUser, Text: msg.Text})

	policy.ClampGenerationKnobs()
	req := &llm.Request{
		Model:             policy.ModelName,
		Messages:          messages,
		SystemInstruction: o.prompts.Build(session.State, promptCtx, session.Context),
		Tools:             catalogue.Declarations(),
		Temperature:       policy.Temperature,
		MaxTokens:         policy.MaxTokens,
	}

	llmStart := time.Now()
	resp, err := o.provider.Generate(ctx, req)
	o.emit(ctx, eventbus.EventTypeModelCall, &eventbus.ModelCallPayload{
		SessionID: session.ID,
		TenantID:  session.TenantID,
		Model:     req.Model,
		Success:   err == nil,
		Duration:  time.Since(llmStart),
	})
	if err != nil {
		// LLM 失败不进终态: 入站消息照常落库, 用户拿到兜底文案
		o.persistTurn(ctx, session, msg, "", log)
		if errors.Is(err, llm.ErrEmptyResponse) || apperrors.CodeOf(err) == apperrors.CodeProtocol {
			return o.replyFor(session, clarifyText), nil
		}
		return o.replyFor(session, fallbackText), nil
	}

	var reply *entity.Reply
	if resp.ToolCall != nil {
		reply = o.dispatchToolCall(ctx, session, catalogue, resp.ToolCall, log)
	} else {
		text := resp.Text
		if text == "" {
			text = clarifyText
		}
		if err := o.hot.AppendHistory(ctx, session.ID, entity.RoleModel, text, o.sessionTTL); err != nil {
			log.Warn("Failed to append bot turn to hot history", zap.Error(err))
		}
		reply = &entity.Reply{Text: text}
	}

	prevState := session.State
	session.AdvanceState()
	if session.State != prevState {
		o.emit(ctx, eventbus.EventTypeStateChange, &eventbus.StateChangePayload{
			SessionID: session.ID,
			TenantID:  session.TenantID,
			FromState: prevState,
			ToState:   session.State,
		})
	}
	o.persistTurn(ctx, session, msg, reply.Text, log)

	reply.SessionID = session.ID
	reply.SessionState = session.State
	log.Info("Message handled",
		zap.String("state", string(session.State)),
		zap.Bool("function_called", reply.FunctionCalled),
	)
	return reply, nil
}

// dispatchToolCall 执行工具并把结果写入会话上下文
func (o *Orchestrator) dispatchToolCall(ctx context.Context, session *entity.Session, catalogue domaintool.Catalogue, call *llm.ToolCall, log *zap.Logger) *entity.Reply {
	log.Info("Executing tool call", zap.String("tool", call.Name))
	toolStart := time.Now()
	result := catalogue.Execute(ctx, call.Name, call.Args)
	_, failed := result["error"]
	o.emit(ctx, eventbus.EventTypeToolExecuted, &eventbus.ToolExecutedPayload{
		SessionID: session.ID,
		TenantID:  session.TenantID,
		ToolName:  call.Name,
		Success:   !failed,
		Duration:  time.Since(toolStart),
	})

	results, _ := session.Context["function_results"].([]interface{})
	results = append(results, map[string]interface{}{
		"function":  call.Name,
		"arguments": call.Args,
		"result":    result,
	})
	session.SetContext("function_results", results)

	o.promoteToolResult(ctx, session, call, result)

	return &entity.Reply{
		FunctionCalled: true,
		FunctionName:   call.Name,
		FunctionResult: result,
		NeedsFollowup:  true,
	}
}

// promoteToolResult lifts well-known tool outcomes into the context keys the
// state machine reads (crm client ref, selected slot, appointment id).
func (o *Orchestrator) promoteToolResult(ctx context.Context, session *entity.Session, call *llm.ToolCall, result map[string]interface{}) {
	payload, ok := result["result"]
	if !ok || payload == nil {
		return
	}

	switch call.Name {
	case "get_client_by_phone", "create_client":
		if client, ok := payload.(*entity.Client); ok && client != nil {
			session.CRMClientRef = client.ID
			if client.Name != "" {
				session.SetContext("name", client.Name)
			}
			if client.Phone != "" {
				session.SetContext("phone", client.Phone)
			}
		}
	case "create_appointment":
		if appt, ok := payload.(*entity.Appointment); ok && appt != nil {
			session.AppointmentRef = appt.ID
			session.SetContext("appointment_id", appt.ID)
			o.emit(ctx, eventbus.EventTypeBookingCompleted, &eventbus.BookingPayload{
				SessionID:     session.ID,
				TenantID:      session.TenantID,
				AppointmentID: appt.ID,
			})
		}
	case "cancel_appointment":
		if cancelled, ok := payload.(bool); ok && cancelled {
			o.emit(ctx, eventbus.EventTypeBookingCancelled, &eventbus.BookingPayload{
				SessionID:     session.ID,
				TenantID:      session.TenantID,
				AppointmentID: session.AppointmentRef,
			})
			session.AppointmentRef = ""
			delete(session.Context, "appointment_id")
		}
	}
}

// emit 发布领域事件, 总线未配置时跳过
func (o *Orchestrator) emit(ctx context.Context, eventType string, payload any) {
	if o.events == nil {
		return
	}
	o.events.Publish(ctx, eventbus.NewEvent(eventType, payload))
}

// persistTurn 持久化: 热会话快照 + 耐久会话 upsert + 消息记录
// 各自独立落盘, 单项失败只记日志, 不放弃其余写入。
func (o *Orchestrator) persistTurn(ctx context.Context, session *entity.Session, msg *entity.Message, botText string, log *zap.Logger) {
	if err := o.hot.SaveSession(ctx, session); err != nil {
		log.Warn("Failed to save hot session", zap.Error(err))
	}
	if err := o.sessions.Upsert(ctx, session); err != nil {
		log.Warn("Failed to upsert durable session", zap.Error(err))
	}

	inbound := &entity.MessageRecord{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		TenantID:  session.TenantID,
		Channel:   msg.Channel,
		Kind:      msg.Kind,
		Text:      msg.Text,
		MediaURL:  msg.MediaURL,
		IsFromBot: false,
		FromID:    msg.UserID,
		FromName:  msg.UserName,
		Metadata:  msg.Metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.messages.Save(ctx, inbound); err != nil {
		log.Warn("Failed to persist inbound message", zap.Error(err))
	}

	if botText == "" {
		return
	}
	outbound := &entity.MessageRecord{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		TenantID:  session.TenantID,
		Channel:   msg.Channel,
		Kind:      entity.MessageKindText,
		Text:      botText,
		IsFromBot: true,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.messages.Save(ctx, outbound); err != nil {
		log.Warn("Failed to persist outbound message", zap.Error(err))
	}
}

func (o *Orchestrator) replyFor(session *entity.Session, text string) *entity.Reply {
	return &entity.Reply{
		Text:         text,
		SessionID:    session.ID,
		SessionState: session.State,
	}
}

// failSafe 兜底路径: 尽力持久化入站消息, 返回通用错误文案
func (o *Orchestrator) failSafe(ctx context.Context, msg *entity.Message) *entity.Reply {
	inbound := &entity.MessageRecord{
		ID:        uuid.NewString(),
		SessionID: msg.SessionID,
		TenantID:  msg.TenantID,
		Channel:   msg.Channel,
		Kind:      msg.Kind,
		Text:      msg.Text,
		IsFromBot: false,
		FromID:    msg.UserID,
		FromName:  msg.UserName,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.messages.Save(ctx, inbound); err != nil {
		o.logger.Warn("Failed to persist inbound message on fallback", zap.Error(err))
	}
	return &entity.Reply{
		Text:      fallbackText,
		SessionID: msg.SessionID,
	}
}
