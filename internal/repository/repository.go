package repository

import (
	"context"
	"errors"
	"time"

	"pixshop/internal/model"
)

var (
	ErrTransactionNotFound = errors.New("交易不存在")
	ErrStatusConflict      = errors.New("状态已变更，拒绝重复处理")
	ErrAccountNotFound     = errors.New("账户不存在")
	ErrBalanceNotEnough    = errors.New("余额不足")
	ErrOrderNotFound       = errors.New("订单不存在")
	ErrOrderStatusInvalid  = errors.New("订单状态不合法")
)

// PixTransactionRepository PIX 交易存储
// UpdateStatus 是整个系统的串行化点：带 fromStatus 前置条件的 CAS 更新，
// 三个对账入口（webhook / 管理员 / 过期扫描）谁先落库谁赢，输家拿到 ErrStatusConflict
type PixTransactionRepository interface {
	Create(ctx context.Context, transaction *model.PixTransaction) error
	GetByTransactionID(ctx context.Context, transactionID string) (*model.PixTransaction, error)
	GetByEfiTxid(ctx context.Context, efiTxid string) (*model.PixTransaction, error)
	UpdateStatus(ctx context.Context, transactionID, fromStatus, toStatus string) error
	ListByStatus(ctx context.Context, status string, limit int) ([]*model.PixTransaction, error)
	ListExpiredPending(ctx context.Context, olderThan time.Time) ([]*model.PixTransaction, error)
	CountExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// BalanceRepository 余额账本存储
// Credit/Debit 在单个数据库事务里完成余额更新 + 流水追加，
// 保证"余额 == 流水之和"这一不变量；透支检查只在 Debit 里做
type BalanceRepository interface {
	GetBalance(ctx context.Context, userID string) (int64, error)
	GetOrCreate(ctx context.Context, userID string) (*model.UserBalance, error)
	Credit(ctx context.Context, userID string, amount int64, transactionID, description string) (*model.UserBalance, error)
	Debit(ctx context.Context, userID string, amount int64, transactionID, description string) (*model.UserBalance, error)
	ListRecentTransactions(ctx context.Context, userID string, limit int) ([]*model.BalanceTransaction, error)
}

// OrderRepository 订单存储
type OrderRepository interface {
	Create(ctx context.Context, order *model.Order) error
	GetByOrderID(ctx context.Context, orderID string) (*model.Order, error)
	UpdateStatus(ctx context.Context, orderID, fromStatus, toStatus string) error
	ListPendingByUser(ctx context.Context, userID string) ([]*model.Order, error)
}

// OutboxRepository 事务性发件箱存储
type OutboxRepository interface {
	Create(ctx context.Context, msg *model.OutboxMessage) error
	GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error)
	UpdateStatus(ctx context.Context, id int64, status string) error
	IncrementRetryCount(ctx context.Context, id int64) error
	MarkAsFailed(ctx context.Context, id int64) error
}
