package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aiadmin/aiadmin/internal/domain/entity"
	"github.com/aiadmin/aiadmin/internal/domain/repository"
	"github.com/aiadmin/aiadmin/internal/infrastructure/persistence/models"
	domainErrors "github.com/aiadmin/aiadmin/pkg/errors"
)

// GormSessionRepository GORM 实现的会话仓储
type GormSessionRepository struct {
	db *gorm.DB
}

// NewGormSessionRepository 创建 GORM 会话仓储
func NewGormSessionRepository(db *gorm.DB) repository.SessionRepository {
	return &GormSessionRepository{
		db: db,
	}
}

// Upsert 创建或更新会话快照, 冲突时保留原 created_at
func (r *GormSessionRepository) Upsert(ctx context.Context, session *entity.Session) error {
	model, err := sessionToModel(session)
	if err != nil {
		return err
	}

	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"state", "context", "crm_client_id", "crm_appointment_id",
			"last_activity", "updated_at",
		}),
	}).Create(model).Error
	if err != nil {
		return domainErrors.NewInternalErrorWithCause("failed to upsert session", err)
	}
	return nil
}

// FindByID 根据ID查找会话
func (r *GormSessionRepository) FindByID(ctx context.Context, id string) (*entity.Session, error) {
	var model models.SessionModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("session not found")
		}
		return nil, domainErrors.NewInternalErrorWithCause("failed to find session", err)
	}
	return sessionToEntity(&model)
}

// FindByTenant 按租户分页查询会话
func (r *GormSessionRepository) FindByTenant(ctx context.Context, filter repository.SessionFilter) (*repository.Page[*entity.Session], error) {
	query := r.db.WithContext(ctx).Model(&models.SessionModel{}).
		Where("company_id = ?", filter.TenantID)

	if filter.Channel != "" {
		query = query.Where("channel_kind = ?", string(filter.Channel))
	}
	if filter.State != "" {
		query = query.Where("state = ?", string(filter.State))
	}
	if !filter.StartDate.IsZero() {
		query = query.Where("created_at >= ?", filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		query = query.Where("created_at <= ?", filter.EndDate)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to count sessions", err)
	}

	page, perPage := normalizePaging(filter.Page, filter.PerPage)

	var rows []models.SessionModel
	err := query.Order("created_at desc").
		Limit(perPage).
		Offset((page - 1) * perPage).
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to find sessions", err)
	}

	items := make([]*entity.Session, 0, len(rows))
	for i := range rows {
		s, err := sessionToEntity(&rows[i])
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}

	return &repository.Page[*entity.Session]{
		Items:   items,
		Total:   total,
		Page:    page,
		PerPage: perPage,
		Pages:   pageCount(total, perPage),
	}, nil
}

// CountByTenant 统计租户会话总数
func (r *GormSessionRepository) CountByTenant(ctx context.Context, tenantID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.SessionModel{}).
		Where("company_id = ?", tenantID).
		Count(&n).Error
	if err != nil {
		return 0, domainErrors.NewInternalErrorWithCause("failed to count sessions", err)
	}
	return n, nil
}

// CountByTenantSince 统计窗口内会话数
func (r *GormSessionRepository) CountByTenantSince(ctx context.Context, tenantID string, since time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.SessionModel{}).
		Where("company_id = ? AND created_at >= ?", tenantID, since).
		Count(&n).Error
	if err != nil {
		return 0, domainErrors.NewInternalErrorWithCause("failed to count sessions", err)
	}
	return n, nil
}

// CountByState 按状态统计
func (r *GormSessionRepository) CountByState(ctx context.Context, tenantID string) (map[string]int64, error) {
	return r.groupCount(ctx, tenantID, "state")
}

// CountByChannel 按渠道统计
func (r *GormSessionRepository) CountByChannel(ctx context.Context, tenantID string) (map[string]int64, error) {
	return r.groupCount(ctx, tenantID, "channel_kind")
}

func (r *GormSessionRepository) groupCount(ctx context.Context, tenantID, column string) (map[string]int64, error) {
	type row struct {
		Key   string
		Count int64
	}
	var rows []row
	err := r.db.WithContext(ctx).Model(&models.SessionModel{}).
		Select(column+" as key, count(*) as count").
		Where("company_id = ?", tenantID).
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to count sessions by "+column, err)
	}

	result := make(map[string]int64, len(rows))
	for _, r := range rows {
		result[r.Key] = r.Count
	}
	return result, nil
}

// CountCompletedWithAppointment 统计窗口内带预约引用的已完成会话数
func (r *GormSessionRepository) CountCompletedWithAppointment(ctx context.Context, tenantID string, since time.Time) (int64, error) {
	var n int64
	query := r.db.WithContext(ctx).Model(&models.SessionModel{}).
		Where("company_id = ? AND state = ? AND crm_appointment_id <> ''", tenantID, string(entity.StateCompleted))
	if !since.IsZero() {
		query = query.Where("created_at >= ?", since)
	}
	if err := query.Count(&n).Error; err != nil {
		return 0, domainErrors.NewInternalErrorWithCause("failed to count completed sessions", err)
	}
	return n, nil
}

// CountOlderThan 统计早于 cutoff 的会话数
func (r *GormSessionRepository) CountOlderThan(ctx context.Context, tenantID string, cutoff time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.SessionModel{}).
		Where("company_id = ? AND created_at < ?", tenantID, cutoff).
		Count(&n).Error
	if err != nil {
		return 0, domainErrors.NewInternalErrorWithCause("failed to count old sessions", err)
	}
	return n, nil
}

// DeleteOlderThan 批量删除早于 cutoff 的会话
func (r *GormSessionRepository) DeleteOlderThan(ctx context.Context, tenantID string, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	var ids []string
	err := r.db.WithContext(ctx).Model(&models.SessionModel{}).
		Where("company_id = ? AND created_at < ?", tenantID, cutoff).
		Order("created_at asc").
		Limit(batchSize).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, domainErrors.NewInternalErrorWithCause("failed to select old sessions", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	res := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.SessionModel{})
	if res.Error != nil {
		return 0, domainErrors.NewInternalErrorWithCause("failed to delete old sessions", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteAllByTenant 删除租户全部会话
func (r *GormSessionRepository) DeleteAllByTenant(ctx context.Context, tenantID string) (int64, error) {
	res := r.db.WithContext(ctx).Where("company_id = ?", tenantID).Delete(&models.SessionModel{})
	if res.Error != nil {
		return 0, domainErrors.NewInternalErrorWithCause("failed to delete tenant sessions", res.Error)
	}
	return res.RowsAffected, nil
}

// sessionToModel 领域会话 → 数据库模型
func sessionToModel(session *entity.Session) (*models.SessionModel, error) {
	contextJSON := ""
	if len(session.Context) > 0 {
		raw, err := json.Marshal(session.Context)
		if err != nil {
			return nil, domainErrors.NewInternalErrorWithCause("failed to encode session context", err)
		}
		contextJSON = string(raw)
	}

	createdAt := session.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	return &models.SessionModel{
		ID:               session.ID,
		CompanyID:        session.TenantID,
		UserID:           session.UserID,
		ChannelKind:      string(session.Channel),
		State:            string(session.State),
		Context:          contextJSON,
		CRMClientID:      session.CRMClientRef,
		CRMAppointmentID: session.AppointmentRef,
		CreatedAt:        createdAt,
		LastActivity:     session.LastActivity,
	}, nil
}

// sessionToEntity 数据库模型 → 领域会话
func sessionToEntity(model *models.SessionModel) (*entity.Session, error) {
	var contextMap map[string]interface{}
	if model.Context != "" {
		if err := json.Unmarshal([]byte(model.Context), &contextMap); err != nil {
			return nil, domainErrors.NewInternalErrorWithCause("failed to decode session context", err)
		}
	}
	if contextMap == nil {
		contextMap = make(map[string]interface{})
	}

	return &entity.Session{
		ID:             model.ID,
		TenantID:       model.CompanyID,
		UserID:         model.UserID,
		Channel:        entity.Channel(model.ChannelKind),
		State:          entity.SessionState(model.State),
		Context:        contextMap,
		CRMClientRef:   model.CRMClientID,
		AppointmentRef: model.CRMAppointmentID,
		CreatedAt:      model.CreatedAt,
		LastActivity:   model.LastActivity,
	}, nil
}
