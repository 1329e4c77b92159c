package model

import (
	"time"
)

const (
	OrderStatusPending   = "pending"
	OrderStatusConfirmed = "confirmed"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
)

// ValidOrderStatusTransitions 订单状态机
// pending -> confirmed 表示已扣款、正在走市场购买；
// completed / cancelled 是终态
var ValidOrderStatusTransitions = map[string][]string{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusCompleted, OrderStatusCancelled},
}

func CanTransitionOrderStatus(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidOrderStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// Order 购买订单表
// 用户点下购买按钮时创建 pending 订单，购买编排驱动后续流转
type Order struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID     string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_id"`
	ItemID      int64      `gorm:"index;not null" json:"item_id"`                  // 市场侧商品ID
	UserID      string     `gorm:"type:varchar(32);index;not null" json:"user_id"` // Discord 用户ID
	Username    string     `gorm:"type:varchar(64)" json:"username"`
	Price       int64      `gorm:"not null" json:"price"` // 金额（centavos）
	Currency    string     `gorm:"type:varchar(8);not null;default:BRL" json:"currency"`
	Status      string     `gorm:"type:varchar(20);index;not null" json:"status"`
	ConfirmedAt *time.Time `json:"confirmed_at"`
	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Order) TableName() string {
	return "purchase_order"
}
