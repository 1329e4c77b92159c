package repository

import (
	"context"
	"errors"
	"time"

	"pixshop/internal/model"

	"gorm.io/gorm"
)

type MySQLPixTransactionRepository struct {
	db *gorm.DB
}

func NewPixTransactionRepository(db *gorm.DB) *MySQLPixTransactionRepository {
	return &MySQLPixTransactionRepository{db: db}
}

func (r *MySQLPixTransactionRepository) Create(ctx context.Context, transaction *model.PixTransaction) error {
	return r.db.WithContext(ctx).Create(transaction).Error
}

func (r *MySQLPixTransactionRepository) GetByTransactionID(ctx context.Context, transactionID string) (*model.PixTransaction, error) {
	var transaction model.PixTransaction
	err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&transaction).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &transaction, nil
}

func (r *MySQLPixTransactionRepository) GetByEfiTxid(ctx context.Context, efiTxid string) (*model.PixTransaction, error) {
	var transaction model.PixTransaction
	err := r.db.WithContext(ctx).Where("efi_txid = ?", efiTxid).First(&transaction).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &transaction, nil
}

// UpdateStatus 带前置状态的 CAS 更新
//
// 【关键点】WHERE status = fromStatus 是唯一的去重机制：
// webhook 和过期扫描同时处理一笔 pending 交易时，只有一个 UPDATE 的
// RowsAffected = 1，另一个拿到 ErrStatusConflict 直接放弃。
// paid_at / expired_at 跟状态翻转写在同一条 UPDATE 里，天然只写一次
func (r *MySQLPixTransactionRepository) UpdateStatus(ctx context.Context, transactionID, fromStatus, toStatus string) error {
	if !model.CanTransitionPixStatus(fromStatus, toStatus) {
		return ErrStatusConflict
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}

	now := time.Now()
	switch toStatus {
	case model.PixStatusPaid:
		updates["paid_at"] = &now
	case model.PixStatusExpired:
		updates["expired_at"] = &now
	}

	result := r.db.WithContext(ctx).
		Model(&model.PixTransaction{}).
		Where("transaction_id = ? AND status = ?", transactionID, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		// 区分"不存在"和"已被别的入口处理"
		var count int64
		if err := r.db.WithContext(ctx).
			Model(&model.PixTransaction{}).
			Where("transaction_id = ?", transactionID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrTransactionNotFound
		}
		return ErrStatusConflict
	}

	return nil
}

func (r *MySQLPixTransactionRepository) ListByStatus(ctx context.Context, status string, limit int) ([]*model.PixTransaction, error) {
	var transactions []*model.PixTransaction
	query := r.db.WithContext(ctx).Order("created_at DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&transactions).Error
	return transactions, err
}

// ListExpiredPending 找出创建时间早于 olderThan 且仍然 pending 的交易
func (r *MySQLPixTransactionRepository) ListExpiredPending(ctx context.Context, olderThan time.Time) ([]*model.PixTransaction, error) {
	var transactions []*model.PixTransaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.PixStatusPending, olderThan).
		Find(&transactions).Error
	return transactions, err
}

// CountExpiredBefore 统计过期时间早于 cutoff 的交易数量（保留策略只记日志，不删除）
func (r *MySQLPixTransactionRepository) CountExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.PixTransaction{}).
		Where("status = ? AND expired_at < ?", model.PixStatusExpired, cutoff).
		Count(&count).Error
	return count, err
}
