package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// 投递到 Kafka 的业务事件类型
const (
	EventPixPaymentConfirmed = "pix.payment_confirmed"
	EventPixPaymentExpired   = "pix.payment_expired"
	EventPurchaseCompleted   = "purchase.completed"
	EventPurchaseRefunded    = "purchase.refunded"
)

// OutboxMessage 发件箱
// 业务事件在状态变更落库后立即写入，由 OutboxSender 异步投递并重试；
// 事件只做通知用途，丢失不影响资金正确性
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}
