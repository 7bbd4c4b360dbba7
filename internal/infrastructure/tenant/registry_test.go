package tenant

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/aiadmin/aiadmin/internal/domain/entity"
	apperrors "github.com/aiadmin/aiadmin/pkg/errors"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

type fakeTenantRepo struct {
	companies map[string]*entity.Company
	channels  map[string]*entity.ChannelBinding
	bindings  map[string]*entity.CRMBinding
	policies  map[string]*entity.AgentPolicy

	channelLookups int
	policyLookups  int
}

func (f *fakeTenantRepo) FindCompany(_ context.Context, id string) (*entity.Company, error) {
	return f.companies[id], nil
}

func (f *fakeTenantRepo) FindActiveCompanies(_ context.Context) ([]*entity.Company, error) {
	var out []*entity.Company
	for _, c := range f.companies {
		if c.IsActive {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeTenantRepo) FindChannelByToken(_ context.Context, token string) (*entity.ChannelBinding, error) {
	f.channelLookups++
	return f.channels[token], nil
}

func (f *fakeTenantRepo) FindCRMBinding(_ context.Context, tenantID string) (*entity.CRMBinding, error) {
	return f.bindings[tenantID], nil
}

func (f *fakeTenantRepo) FindAgentPolicy(_ context.Context, tenantID string) (*entity.AgentPolicy, error) {
	f.policyLookups++
	return f.policies[tenantID], nil
}

func (f *fakeTenantRepo) IncrementChannelCounters(_ context.Context, _ string, _, _ int64) error {
	return nil
}

func activeFixture() *fakeTenantRepo {
	return &fakeTenantRepo{
		companies: map[string]*entity.Company{
			"t1": {ID: "t1", Name: "Acme", IsActive: true},
			"t2": {ID: "t2", Name: "Dormant", IsActive: false},
		},
		channels: map[string]*entity.ChannelBinding{
			"tok1": {ID: "ch1", TenantID: "t1", Kind: entity.ChannelTelegram, IsActive: true},
			"tok2": {ID: "ch2", TenantID: "t1", Kind: entity.ChannelWhatsApp, IsActive: false},
			"tok3": {ID: "ch3", TenantID: "t2", Kind: entity.ChannelTelegram, IsActive: true},
		},
		bindings: map[string]*entity.CRMBinding{
			"t1": {TenantID: "t1", CRMKind: "yclients", IsActive: true},
		},
		policies: map[string]*entity.AgentPolicy{},
	}
}

func TestResolveByWebhookToken(t *testing.T) {
	registry := NewRegistry(activeFixture(), testLogger())
	ctx := context.Background()

	channel, company, err := registry.ResolveByWebhookToken(ctx, "tok1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if channel.ID != "ch1" || company.ID != "t1" {
		t.Errorf("resolved channel=%s company=%s", channel.ID, company.ID)
	}
}

func TestResolveRejections(t *testing.T) {
	registry := NewRegistry(activeFixture(), testLogger())
	ctx := context.Background()

	tests := []struct {
		name  string
		token string
		code  apperrors.ErrorCode
	}{
		{"empty token", "", apperrors.CodeUnauthorized},
		{"unknown token", "nope", apperrors.CodeNotFound},
		{"disabled channel", "tok2", apperrors.CodeForbidden},
		{"disabled tenant", "tok3", apperrors.CodeForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := registry.ResolveByWebhookToken(ctx, tt.token)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := apperrors.CodeOf(err); got != tt.code {
				t.Errorf("code = %s, want %s", got, tt.code)
			}
		})
	}
}

func TestResolveUsesCache(t *testing.T) {
	repo := activeFixture()
	registry := NewRegistry(repo, testLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, _, err := registry.ResolveByWebhookToken(ctx, "tok1"); err != nil {
			t.Fatalf("resolve %d: %v", i, err)
		}
	}
	if repo.channelLookups != 1 {
		t.Errorf("channel lookups = %d, want 1 (cached)", repo.channelLookups)
	}
}

func TestCacheExpiry(t *testing.T) {
	repo := activeFixture()
	registry := NewRegistry(repo, testLogger())
	ctx := context.Background()

	current := time.Now()
	registry.now = func() time.Time { return current }

	_, _, _ = registry.ResolveByWebhookToken(ctx, "tok1")
	current = current.Add(cacheTTL + time.Second)
	_, _, _ = registry.ResolveByWebhookToken(ctx, "tok1")

	if repo.channelLookups != 2 {
		t.Errorf("channel lookups = %d, want 2 after expiry", repo.channelLookups)
	}
}

func TestLoadCRMBindingMissingIsConfigError(t *testing.T) {
	registry := NewRegistry(activeFixture(), testLogger())

	_, err := registry.LoadCRMBinding(context.Background(), "t2")
	if !apperrors.IsConfig(err) {
		t.Errorf("expected config error, got %v", err)
	}
}

func TestLoadAgentPolicyDefaultsAndClamps(t *testing.T) {
	repo := activeFixture()
	repo.policies["t2"] = &entity.AgentPolicy{TenantID: "t2", Temperature: 5.0, MaxTokens: -1}
	registry := NewRegistry(repo, testLogger())
	ctx := context.Background()

	policy, err := registry.LoadAgentPolicy(ctx, "t1")
	if err != nil {
		t.Fatalf("load default policy: %v", err)
	}
	if policy.Temperature != 0.7 || policy.MaxTokens != 8192 {
		t.Errorf("default policy = %+v", policy)
	}

	clamped, err := registry.LoadAgentPolicy(ctx, "t2")
	if err != nil {
		t.Fatalf("load configured policy: %v", err)
	}
	if clamped.Temperature != 2.0 {
		t.Errorf("temperature = %v, want clamped to 2", clamped.Temperature)
	}
	if clamped.MaxTokens != 8192 {
		t.Errorf("max tokens = %d, want default", clamped.MaxTokens)
	}
}

func TestInvalidate(t *testing.T) {
	repo := activeFixture()
	registry := NewRegistry(repo, testLogger())
	ctx := context.Background()

	_, _ = registry.LoadAgentPolicy(ctx, "t1")
	_, _ = registry.LoadAgentPolicy(ctx, "t1")
	if repo.policyLookups != 1 {
		t.Fatalf("policy lookups = %d, want 1", repo.policyLookups)
	}

	registry.Invalidate("t1")
	_, _ = registry.LoadAgentPolicy(ctx, "t1")
	if repo.policyLookups != 2 {
		t.Errorf("policy lookups = %d, want 2 after invalidate", repo.policyLookups)
	}
}

func TestLoadPromptContext(t *testing.T) {
	registry := NewRegistry(activeFixture(), testLogger())

	promptCtx, err := registry.LoadPromptContext(context.Background(), "t1")
	if err != nil {
		t.Fatalf("load prompt context: %v", err)
	}
	if promptCtx.CompanyName != "Acme" {
		t.Errorf("company name = %q", promptCtx.CompanyName)
	}
	if promptCtx.Policy == nil {
		t.Fatal("policy must never be nil")
	}
}
