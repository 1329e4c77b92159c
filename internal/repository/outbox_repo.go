package repository

import (
	"context"

	"pixshop/internal/model"

	"gorm.io/gorm"
)

type MySQLOutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *MySQLOutboxRepository {
	return &MySQLOutboxRepository{db: db}
}

func (r *MySQLOutboxRepository) Create(ctx context.Context, msg *model.OutboxMessage) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

func (r *MySQLOutboxRepository) GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	var messages []*model.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

func (r *MySQLOutboxRepository) UpdateStatus(ctx context.Context, id int64, status string) error {
	return r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ?", id).
		Update("status", status).Error
}

func (r *MySQLOutboxRepository) IncrementRetryCount(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ?", id).
		UpdateColumn("retry_count", gorm.Expr("retry_count + 1")).Error
}

func (r *MySQLOutboxRepository) MarkAsFailed(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      model.OutboxStatusFailed,
			"retry_count": gorm.Expr("retry_count + 1"),
		}).Error
}
