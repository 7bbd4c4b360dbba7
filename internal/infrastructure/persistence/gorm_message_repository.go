package persistence

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/aiadmin/aiadmin/internal/domain/entity"
	"github.com/aiadmin/aiadmin/internal/domain/repository"
	"github.com/aiadmin/aiadmin/internal/infrastructure/persistence/models"
	domainErrors "github.com/aiadmin/aiadmin/pkg/errors"
)

// GormMessageRepository GORM 实现的消息仓储
type GormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository 创建 GORM 消息仓储
func NewGormMessageRepository(db *gorm.DB) repository.MessageRepository {
	return &GormMessageRepository{
		db: db,
	}
}

// Save 保存消息记录
func (r *GormMessageRepository) Save(ctx context.Context, record *entity.MessageRecord) error {
	model, err := messageToModel(record)
	if err != nil {
		return err
	}

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return domainErrors.NewInternalErrorWithCause("failed to save message", err)
	}
	return nil
}

// FindByTenant 按租户分页查询消息
func (r *GormMessageRepository) FindByTenant(ctx context.Context, filter repository.MessageFilter) (*repository.Page[*entity.MessageRecord], error) {
	query := r.db.WithContext(ctx).Model(&models.MessageRecordModel{}).
		Where("company_id = ?", filter.TenantID)

	if filter.SessionID != "" {
		query = query.Where("session_id = ?", filter.SessionID)
	}
	if filter.Channel != "" {
		query = query.Where("channel_kind = ?", string(filter.Channel))
	}
	if !filter.StartDate.IsZero() {
		query = query.Where("created_at >= ?", filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		query = query.Where("created_at <= ?", filter.EndDate)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to count messages", err)
	}

	page, perPage := normalizePaging(filter.Page, filter.PerPage)

	var rows []models.MessageRecordModel
	err := query.Order("created_at desc").
		Limit(perPage).
		Offset((page - 1) * perPage).
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to find messages", err)
	}

	items := make([]*entity.MessageRecord, 0, len(rows))
	for i := range rows {
		rec, err := messageToEntity(&rows[i])
		if err != nil {
			return nil, err
		}
		items = append(items, rec)
	}

	return &repository.Page[*entity.MessageRecord]{
		Items:   items,
		Total:   total,
		Page:    page,
		PerPage: perPage,
		Pages:   pageCount(total, perPage),
	}, nil
}

// FindBySession 查询会话内消息 (时间升序)
func (r *GormMessageRepository) FindBySession(ctx context.Context, sessionID string, limit int) ([]*entity.MessageRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []models.MessageRecordModel
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at asc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to find session messages", err)
	}

	items := make([]*entity.MessageRecord, 0, len(rows))
	for i := range rows {
		rec, err := messageToEntity(&rows[i])
		if err != nil {
			return nil, err
		}
		items = append(items, rec)
	}
	return items, nil
}

// CountByTenant 统计租户消息总数
func (r *GormMessageRepository) CountByTenant(ctx context.Context, tenantID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.MessageRecordModel{}).
		Where("company_id = ?", tenantID).
		Count(&n).Error
	if err != nil {
		return 0, domainErrors.NewInternalErrorWithCause("failed to count messages", err)
	}
	return n, nil
}

// CountByTenantSince 统计窗口内消息数
func (r *GormMessageRepository) CountByTenantSince(ctx context.Context, tenantID string, since time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.MessageRecordModel{}).
		Where("company_id = ? AND created_at >= ?", tenantID, since).
		Count(&n).Error
	if err != nil {
		return 0, domainErrors.NewInternalErrorWithCause("failed to count messages", err)
	}
	return n, nil
}

// CountByChannel 按渠道统计
func (r *GormMessageRepository) CountByChannel(ctx context.Context, tenantID string) (map[string]int64, error) {
	type row struct {
		ChannelKind string
		Count       int64
	}
	var rows []row
	err := r.db.WithContext(ctx).Model(&models.MessageRecordModel{}).
		Select("channel_kind, count(*) as count").
		Where("company_id = ?", tenantID).
		Group("channel_kind").
		Scan(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to count messages by channel", err)
	}

	result := make(map[string]int64, len(rows))
	for _, r := range rows {
		result[r.ChannelKind] = r.Count
	}
	return result, nil
}

// DailySeries 最近 days 天的逐日消息数, 无消息的日期不出现在结果中
func (r *GormMessageRepository) DailySeries(ctx context.Context, tenantID string, days int) ([]repository.DailyCount, error) {
	if days <= 0 {
		days = 7
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	type row struct {
		Day   string
		Count int64
	}
	var rows []row
	// date() 在 sqlite 与 postgres 下均可用
	err := r.db.WithContext(ctx).Model(&models.MessageRecordModel{}).
		Select("date(created_at) as day, count(*) as count").
		Where("company_id = ? AND created_at >= ?", tenantID, since).
		Group("date(created_at)").
		Order("day asc").
		Scan(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to build daily series", err)
	}

	series := make([]repository.DailyCount, 0, len(rows))
	for _, r := range rows {
		series = append(series, repository.DailyCount{Date: r.Day, Count: r.Count})
	}
	return series, nil
}

// CountOlderThan 统计早于 cutoff 的消息数
func (r *GormMessageRepository) CountOlderThan(ctx context.Context, tenantID string, cutoff time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.MessageRecordModel{}).
		Where("company_id = ? AND created_at < ?", tenantID, cutoff).
		Count(&n).Error
	if err != nil {
		return 0, domainErrors.NewInternalErrorWithCause("failed to count old messages", err)
	}
	return n, nil
}

// DeleteOlderThan 批量删除早于 cutoff 的消息, 单批不超过 batchSize
func (r *GormMessageRepository) DeleteOlderThan(ctx context.Context, tenantID string, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	// 先取一批主键再删, 避免方言对 DELETE ... LIMIT 支持不一
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.MessageRecordModel{}).
		Where("company_id = ? AND created_at < ?", tenantID, cutoff).
		Order("created_at asc").
		Limit(batchSize).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, domainErrors.NewInternalErrorWithCause("failed to select old messages", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	res := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.MessageRecordModel{})
	if res.Error != nil {
		return 0, domainErrors.NewInternalErrorWithCause("failed to delete old messages", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteAllByTenant 删除租户全部消息
func (r *GormMessageRepository) DeleteAllByTenant(ctx context.Context, tenantID string) (int64, error) {
	res := r.db.WithContext(ctx).Where("company_id = ?", tenantID).Delete(&models.MessageRecordModel{})
	if res.Error != nil {
		return 0, domainErrors.NewInternalErrorWithCause("failed to delete tenant messages", res.Error)
	}
	return res.RowsAffected, nil
}

// messageToModel 领域记录 → 数据库模型
func messageToModel(record *entity.MessageRecord) (*models.MessageRecordModel, error) {
	metadata := ""
	if len(record.Metadata) > 0 {
		raw, err := json.Marshal(record.Metadata)
		if err != nil {
			return nil, domainErrors.NewInternalErrorWithCause("failed to encode message metadata", err)
		}
		metadata = string(raw)
	}

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	return &models.MessageRecordModel{
		ID:           record.ID,
		SessionID:    record.SessionID,
		CompanyID:    record.TenantID,
		ChannelKind:  string(record.Channel),
		MessageKind:  string(record.Kind),
		Text:         record.Text,
		MediaURL:     record.MediaURL,
		IsFromBot:    record.IsFromBot,
		FromUserID:   record.FromID,
		FromUserName: record.FromName,
		Metadata:     metadata,
		CreatedAt:    createdAt,
	}, nil
}

// messageToEntity 数据库模型 → 领域记录
func messageToEntity(model *models.MessageRecordModel) (*entity.MessageRecord, error) {
	var metadata map[string]interface{}
	if model.Metadata != "" {
		if err := json.Unmarshal([]byte(model.Metadata), &metadata); err != nil {
			return nil, domainErrors.NewInternalErrorWithCause("failed to decode message metadata", err)
		}
	}

	return &entity.MessageRecord{
		ID:        model.ID,
		SessionID: model.SessionID,
		TenantID:  model.CompanyID,
		Channel:   entity.Channel(model.ChannelKind),
		Kind:      entity.MessageKind(model.MessageKind),
		Text:      model.Text,
		MediaURL:  model.MediaURL,
		IsFromBot: model.IsFromBot,
		FromID:    model.FromUserID,
		FromName:  model.FromUserName,
		Metadata:  metadata,
		CreatedAt: model.CreatedAt,
	}, nil
}

// normalizePaging 页码与页大小归一化
func normalizePaging(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}
	return page, perPage
}

// pageCount 总页数
func pageCount(total int64, perPage int) int {
	if total == 0 {
		return 0
	}
	return int((total + int64(perPage) - 1) / int64(perPage))
}
