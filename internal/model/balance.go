package model

import (
	"fmt"
	"time"
)

// UserBalance 用户余额表
// 首次入账/扣款时惰性创建，是预付余额体系的核心数据
type UserBalance struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    string    `gorm:"type:varchar(32);uniqueIndex;not null" json:"user_id"` // Discord 用户ID
	Balance   int64     `gorm:"not null;default:0" json:"balance"`                    // 可用余额（centavos），永远不允许为负
	Version   int       `gorm:"not null;default:0" json:"version"`                    // 乐观锁版本号
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (UserBalance) TableName() string {
	return "user_balance"
}

const (
	BalanceEntryCredit = "credit" // 入账（充值、退款）
	BalanceEntryDebit  = "debit"  // 出账（余额购买）
)

// BalanceTransaction 余额流水表
// 记录余额的每一笔变动，是对账的核心依据
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除 —— 保证审计可追溯
// 2. 任意时刻余额 == 该用户全部流水 amount 之和
// 3. transaction_id 由调用方传入做关联（退款会复用 refund_<原ID> 的派生ID，
//    所以它不做唯一索引，只做普通索引）
type BalanceTransaction struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionID string    `gorm:"type:varchar(80);index;not null" json:"transaction_id"` // 调用方传入的关联ID
	UserID        string    `gorm:"type:varchar(32);index;not null" json:"user_id"`
	Amount        int64     `gorm:"not null" json:"amount"`                 // 带符号金额：入账为正，出账为负
	Type          string    `gorm:"type:varchar(20);not null" json:"type"` // credit / debit
	Description   string    `gorm:"type:varchar(256)" json:"description"`  // 人类可读的原因
	BalanceBefore int64     `gorm:"not null" json:"balance_before"`
	BalanceAfter  int64     `gorm:"not null" json:"balance_after"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (BalanceTransaction) TableName() string {
	return "balance_transaction"
}

// FormatBRL 把 centavos 渲染成用户可见的雷亚尔金额
// 例如 1050 -> "R$ 10,50"
func FormatBRL(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%sR$ %d,%02d", sign, cents/100, cents%100)
}
