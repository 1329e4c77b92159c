package model

import (
	"time"
)

const (
	PixStatusPending   = "pending"
	PixStatusPaid      = "paid"
	PixStatusExpired   = "expired"
	PixStatusCancelled = "cancelled"
)

// ValidPixStatusTransitions PIX 交易状态机
// pending 是唯一的非终态：paid / expired / cancelled 都是终态，
// 到达终态后任何路径（webhook、管理员、过期扫描）都不允许再改状态
var ValidPixStatusTransitions = map[string][]string{
	PixStatusPending: {PixStatusPaid, PixStatusExpired, PixStatusCancelled},
}

func CanTransitionPixStatus(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidPixStatusTransitions[currentStatus]
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

// PixTransaction PIX 充值交易表
// 每次用户请求加余额就创建一条，记录网关侧的关联ID用于对账
//
// 【重要】status 只向前流转（见 ValidPixStatusTransitions），
// 入账去重靠的就是 pending -> paid 这一步的 CAS 更新：
// 谁先把状态翻过去谁负责入账，后来者一律拒绝
type PixTransaction struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionID string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_id"` // 内部ID，pix_ 前缀
	UserID        string     `gorm:"type:varchar(32);index;not null" json:"user_id"`              // Discord 用户ID
	Amount        int64      `gorm:"not null" json:"amount"`                                      // 金额（centavos），创建后不可变
	QRCode        string     `gorm:"type:text" json:"qr_code"`                                    // PIX 复制粘贴码
	PixKey        string     `gorm:"type:varchar(128)" json:"pix_key"`                            // 收款 PIX 密钥
	Status        string     `gorm:"type:varchar(20);index;not null" json:"status"`
	EfiTxid       string     `gorm:"type:varchar(64);index" json:"efi_txid"`        // 网关侧 txid（备用查询键）
	EfiLocationID string     `gorm:"type:varchar(64)" json:"efi_location_id"`       // 二维码 location
	EfiChargeID   string     `gorm:"type:varchar(64)" json:"efi_charge_id"`         // 网关侧计费ID
	PaidAt        *time.Time `json:"paid_at"`                                       // 首次到达 paid 时写入，只写一次
	ExpiredAt     *time.Time `json:"expired_at"`                                    // 首次到达 expired 时写入，只写一次
	CreatedAt     time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PixTransaction) TableName() string {
	return "pix_transaction"
}
