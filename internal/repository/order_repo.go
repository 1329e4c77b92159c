package repository

import (
	"context"
	"errors"
	"time"

	"pixshop/internal/model"

	"gorm.io/gorm"
)

type MySQLOrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *MySQLOrderRepository {
	return &MySQLOrderRepository{db: db}
}

func (r *MySQLOrderRepository) Create(ctx context.Context, order *model.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *MySQLOrderRepository) GetByOrderID(ctx context.Context, orderID string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// UpdateStatus 跟 PIX 交易一样的 CAS 更新，confirmed_at/completed_at 随状态一起写入
func (r *MySQLOrderRepository) UpdateStatus(ctx context.Context, orderID, fromStatus, toStatus string) error {
	if !model.CanTransitionOrderStatus(fromStatus, toStatus) {
		return ErrOrderStatusInvalid
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}

	now := time.Now()
	switch toStatus {
	case model.OrderStatusConfirmed:
		updates["confirmed_at"] = &now
	case model.OrderStatusCompleted:
		updates["completed_at"] = &now
	}

	result := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("order_id = ? AND status = ?", orderID, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrOrderStatusInvalid
	}

	return nil
}

func (r *MySQLOrderRepository) ListPendingByUser(ctx context.Context, userID string) ([]*model.Order, error) {
	var orders []*model.Order
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, model.OrderStatusPending).
		Order("created_at DESC").
		Find(&orders).Error
	return orders, err
}
