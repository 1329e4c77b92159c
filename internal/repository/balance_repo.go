package repository

import (
	"context"
	"errors"

	"pixshop/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MySQLBalanceRepository struct {
	db *gorm.DB
}

func NewBalanceRepository(db *gorm.DB) *MySQLBalanceRepository {
	return &MySQLBalanceRepository{db: db}
}

// GetBalance 查余额，未知用户返回 0（不产生副作用）
func (r *MySQLBalanceRepository) GetBalance(ctx context.Context, userID string) (int64, error) {
	var balance model.UserBalance
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return balance.Balance, nil
}

// GetOrCreate 惰性建账：首次入账/扣款时才创建余额记录
func (r *MySQLBalanceRepository) GetOrCreate(ctx context.Context, userID string) (*model.UserBalance, error) {
	balance, err := r.getByUserID(ctx, r.db, userID)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	newBalance := &model.UserBalance{
		UserID:  userID,
		Balance: 0,
	}

	// 并发建账时让冲突方静默失败，然后重查
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(newBalance).Error
	if err != nil {
		return nil, err
	}

	return r.getByUserID(ctx, r.db, userID)
}

// Credit 入账：余额增加 + 追加一条正数流水，单事务完成
//
// 【重要】这里不做防重。同一笔 PIX 不会入账两次是靠上游
// （pending -> paid 的 CAS 状态翻转）保证的，本方法信任调用方
func (r *MySQLBalanceRepository) Credit(ctx context.Context, userID string, amount int64, transactionID, description string) (*model.UserBalance, error) {
	if _, err := r.GetOrCreate(ctx, userID); err != nil {
		return nil, err
	}

	var updated *model.UserBalance
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balance, err := r.getByUserIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}

		result := tx.Model(&model.UserBalance{}).
			Where("user_id = ?", userID).
			Updates(map[string]interface{}{
				"balance": gorm.Expr("balance + ?", amount),
				"version": gorm.Expr("version + 1"),
			})
		if result.Error != nil {
			return result.Error
		}

		entry := &model.BalanceTransaction{
			TransactionID: transactionID,
			UserID:        userID,
			Amount:        amount,
			Type:          model.BalanceEntryCredit,
			Description:   description,
			BalanceBefore: balance.Balance,
			BalanceAfter:  balance.Balance + amount,
		}
		if err := tx.Create(entry).Error; err != nil {
			return err
		}

		balance.Balance += amount
		updated = balance
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// Debit 出账：透支检查 + 余额减少 + 追加一条负数流水，单事务完成
//
// 【关键点】这是防止余额变负的唯一闸口。先锁行再比较余额，
// 不够就整个事务回滚，账本不会留下任何痕迹
func (r *MySQLBalanceRepository) Debit(ctx context.Context, userID string, amount int64, transactionID, description string) (*model.UserBalance, error) {
	if _, err := r.GetOrCreate(ctx, userID); err != nil {
		return nil, err
	}

	var updated *model.UserBalance
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balance, err := r.getByUserIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}

		if balance.Balance < amount {
			return ErrBalanceNotEnough
		}

		result := tx.Model(&model.UserBalance{}).
			Where("user_id = ? AND balance >= ?", userID, amount).
			Updates(map[string]interface{}{
				"balance": gorm.Expr("balance - ?", amount),
				"version": gorm.Expr("version + 1"),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrBalanceNotEnough
		}

		entry := &model.BalanceTransaction{
			TransactionID: transactionID,
			UserID:        userID,
			Amount:        -amount,
			Type:          model.BalanceEntryDebit,
			Description:   description,
			BalanceBefore: balance.Balance,
			BalanceAfter:  balance.Balance - amount,
		}
		if err := tx.Create(entry).Error; err != nil {
			return err
		}

		balance.Balance -= amount
		updated = balance
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

func (r *MySQLBalanceRepository) ListRecentTransactions(ctx context.Context, userID string, limit int) ([]*model.BalanceTransaction, error) {
	var transactions []*model.BalanceTransaction
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&transactions).Error
	return transactions, err
}

func (r *MySQLBalanceRepository) getByUserID(ctx context.Context, tx *gorm.DB, userID string) (*model.UserBalance, error) {
	var balance model.UserBalance
	err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &balance, nil
}

func (r *MySQLBalanceRepository) getByUserIDForUpdate(ctx context.Context, tx *gorm.DB, userID string) (*model.UserBalance, error) {
	var balance model.UserBalance
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &balance, nil
}
