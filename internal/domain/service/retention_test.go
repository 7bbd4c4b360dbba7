package service

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/aiadmin/aiadmin/internal/domain/entity"
	"github.com/aiadmin/aiadmin/internal/domain/repository"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

// fakeMessageRepo 按时间戳保存消息, 只实现保留引擎用到的方法
type fakeMessageRepo struct {
	repository.MessageRepository
	timestamps map[string][]time.Time // tenant → message created_at
}

func (f *fakeMessageRepo) CountOlderThan(_ context.Context, tenantID string, cutoff time.Time) (int64, error) {
	var n int64
	for _, ts := range f.timestamps[tenantID] {
		if ts.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

func (f *fakeMessageRepo) DeleteOlderThan(_ context.Context, tenantID string, cutoff time.Time, batchSize int) (int64, error) {
	kept := f.timestamps[tenantID][:0]
	var deleted int64
	for _, ts := range f.timestamps[tenantID] {
		if ts.Before(cutoff) && deleted < int64(batchSize) {
			deleted++
			continue
		}
		kept = append(kept, ts)
	}
	f.timestamps[tenantID] = kept
	return deleted, nil
}

func (f *fakeMessageRepo) DeleteAllByTenant(_ context.Context, tenantID string) (int64, error) {
	n := int64(len(f.timestamps[tenantID]))
	f.timestamps[tenantID] = nil
	return n, nil
}

func (f *fakeMessageRepo) CountByTenant(_ context.Context, tenantID string) (int64, error) {
	return int64(len(f.timestamps[tenantID])), nil
}

type fakeSessionRepo struct {
	repository.SessionRepository
	timestamps map[string][]time.Time
}

func (f *fakeSessionRepo) CountOlderThan(_ context.Context, tenantID string, cutoff time.Time) (int64, error) {
	var n int64
	for _, ts := range f.timestamps[tenantID] {
		if ts.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

func (f *fakeSessionRepo) DeleteOlderThan(_ context.Context, tenantID string, cutoff time.Time, batchSize int) (int64, error) {
	kept := f.timestamps[tenantID][:0]
	var deleted int64
	for _, ts := range f.timestamps[tenantID] {
		if ts.Before(cutoff) && deleted < int64(batchSize) {
			deleted++
			continue
		}
		kept = append(kept, ts)
	}
	f.timestamps[tenantID] = kept
	return deleted, nil
}

func (f *fakeSessionRepo) DeleteAllByTenant(_ context.Context, tenantID string) (int64, error) {
	n := int64(len(f.timestamps[tenantID]))
	f.timestamps[tenantID] = nil
	return n, nil
}

func (f *fakeSessionRepo) CountByTenant(_ context.Context, tenantID string) (int64, error) {
	return int64(len(f.timestamps[tenantID])), nil
}

type fakeTenantRepo struct {
	repository.TenantRepository
	companies []*entity.Company
}

func (f *fakeTenantRepo) FindActiveCompanies(_ context.Context) ([]*entity.Company, error) {
	return f.companies, nil
}

func seedTimestamps(old, fresh int) []time.Time {
	now := time.Now().UTC()
	ts := make([]time.Time, 0, old+fresh)
	for i := 0; i < old; i++ {
		ts = append(ts, now.AddDate(0, 0, -60))
	}
	for i := 0; i < fresh; i++ {
		ts = append(ts, now.AddDate(0, 0, -5))
	}
	return ts
}

func newTestService(msgs *fakeMessageRepo, sess *fakeSessionRepo, tenants *fakeTenantRepo) *RetentionService {
	return NewRetentionService(msgs, sess, tenants, testLogger())
}

func TestPolicyForPlan(t *testing.T) {
	tests := []struct {
		plan string
		want int
	}{
		{"free", 30},
		{"starter", 90},
		{"pro", 365},
		{"enterprise", 730},
		{"unknown-plan", 30},
	}

	for _, tt := range tests {
		p := PolicyForPlan(tt.plan)
		if p.MessagesRetentionDays != tt.want || p.SessionsRetentionDays != tt.want {
			t.Errorf("PolicyForPlan(%s) = %+v, want %d days", tt.plan, p, tt.want)
		}
	}
}

func TestPolicyValidateRejectsBelowMinimum(t *testing.T) {
	if err := (RetentionPolicy{MessagesRetentionDays: 29, SessionsRetentionDays: 30}).Validate(); err == nil {
		t.Error("Validate() accepted messages retention below 30 days")
	}
	if err := (RetentionPolicy{MessagesRetentionDays: 30, SessionsRetentionDays: 7}).Validate(); err == nil {
		t.Error("Validate() accepted sessions retention below 30 days")
	}
	if err := (RetentionPolicy{MessagesRetentionDays: 30, SessionsRetentionDays: 30}).Validate(); err != nil {
		t.Errorf("Validate() rejected valid policy: %v", err)
	}
}

func TestEstimateThenCleanup(t *testing.T) {
	msgs := &fakeMessageRepo{timestamps: map[string][]time.Time{"t1": seedTimestamps(300, 200)}}
	sess := &fakeSessionRepo{timestamps: map[string][]time.Time{"t1": seedTimestamps(10, 5)}}
	svc := newTestService(msgs, sess, &fakeTenantRepo{})

	policy := RetentionPolicy{MessagesRetentionDays: 30, SessionsRetentionDays: 30}

	est, err := svc.Estimate(context.Background(), "t1", policy)
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	if est.MessagesToDelete != 300 || est.SessionsToDelete != 10 {
		t.Errorf("Estimate() = %+v, want 300 messages / 10 sessions", est)
	}

	res, err := svc.Cleanup(context.Background(), "t1", policy)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if res.MessagesDeleted != 300 || res.SessionsDeleted != 10 {
		t.Errorf("Cleanup() = %+v, want 300 messages / 10 sessions", res)
	}

	// 幂等: 重跑删除数为 0, 新数据不受影响
	res, err = svc.Cleanup(context.Background(), "t1", policy)
	if err != nil {
		t.Fatalf("Cleanup() rerun error = %v", err)
	}
	if res.MessagesDeleted != 0 || res.SessionsDeleted != 0 {
		t.Errorf("Cleanup() rerun = %+v, want zero", res)
	}
	if remaining := len(msgs.timestamps["t1"]); remaining != 200 {
		t.Errorf("remaining messages = %d, want 200", remaining)
	}
}

func TestCleanupBatchesLargeDeletes(t *testing.T) {
	// 2500 条过期消息: 1000 + 1000 + 500 三批
	msgs := &fakeMessageRepo{timestamps: map[string][]time.Time{"t1": seedTimestamps(2500, 0)}}
	sess := &fakeSessionRepo{timestamps: map[string][]time.Time{"t1": nil}}
	svc := newTestService(msgs, sess, &fakeTenantRepo{})

	res, err := svc.Cleanup(context.Background(), "t1", RetentionPolicy{MessagesRetentionDays: 30, SessionsRetentionDays: 30})
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if res.MessagesDeleted != 2500 {
		t.Errorf("MessagesDeleted = %d, want 2500", res.MessagesDeleted)
	}
}

func TestCleanupRejectsInvalidPolicy(t *testing.T) {
	svc := newTestService(
		&fakeMessageRepo{timestamps: map[string][]time.Time{}},
		&fakeSessionRepo{timestamps: map[string][]time.Time{}},
		&fakeTenantRepo{},
	)

	if _, err := svc.Cleanup(context.Background(), "t1", RetentionPolicy{MessagesRetentionDays: 7, SessionsRetentionDays: 7}); err == nil {
		t.Error("Cleanup() accepted a policy below the minimum")
	}
}

func TestDeleteAllTenantData(t *testing.T) {
	msgs := &fakeMessageRepo{timestamps: map[string][]time.Time{"t1": seedTimestamps(3, 4)}}
	sess := &fakeSessionRepo{timestamps: map[string][]time.Time{"t1": seedTimestamps(1, 1)}}
	svc := newTestService(msgs, sess, &fakeTenantRepo{})

	res, err := svc.DeleteAllTenantData(context.Background(), "t1")
	if err != nil {
		t.Fatalf("DeleteAllTenantData() error = %v", err)
	}
	if res.MessagesDeleted != 7 || res.SessionsDeleted != 2 {
		t.Errorf("DeleteAllTenantData() = %+v, want 7/2", res)
	}
}

func TestSweepAllCoversActiveTenants(t *testing.T) {
	msgs := &fakeMessageRepo{timestamps: map[string][]time.Time{
		"t1": seedTimestamps(5, 1),
		"t2": seedTimestamps(3, 2),
	}}
	sess := &fakeSessionRepo{timestamps: map[string][]time.Time{"t1": nil, "t2": nil}}
	tenants := &fakeTenantRepo{companies: []*entity.Company{
		{ID: "t1", SubscriptionPlan: "free"},
		{ID: "t2", SubscriptionPlan: "free"},
	}}
	svc := newTestService(msgs, sess, tenants)

	svc.SweepAll(context.Background())

	if n := len(msgs.timestamps["t1"]); n != 1 {
		t.Errorf("tenant t1 remaining = %d, want 1", n)
	}
	if n := len(msgs.timestamps["t2"]); n != 2 {
		t.Errorf("tenant t2 remaining = %d, want 2", n)
	}
}
