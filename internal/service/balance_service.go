package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"pixshop/internal/config"
	"pixshop/internal/infrastructure/gateway"
	"pixshop/internal/infrastructure/lock"
	"pixshop/internal/model"
	"pixshop/internal/repository"
	"pixshop/pkg/idgen"

	"github.com/google/uuid"
)

// PixGateway 服务层依赖的网关子集
type PixGateway interface {
	CreateCharge(ctx context.Context, txid string, amountCents int64, payerRequest string) (*gateway.Charge, error)
	GenerateQRCode(ctx context.Context, locationID int64) (*gateway.QRCode, error)
}

var (
	// ErrAmountBelowMinimum 充值金额低于下限
	ErrAmountBelowMinimum = errors.New("充值金额低于下限")
)

// ConfirmCode 确认支付的结果码
// 调用方（webhook / 管理员命令 / 扫描任务）根据结果码决定回应，
// 不允许靠错误字符串匹配来分流
type ConfirmCode string

const (
	ConfirmOK               ConfirmCode = "ok"                // 本次调用完成了状态翻转和入账
	ConfirmNotFound         ConfirmCode = "not_found"         // 两个查询键都找不到交易
	ConfirmAlreadyProcessed ConfirmCode = "already_processed" // 交易已到终态，本次未做任何变更
	ConfirmStorageError     ConfirmCode = "storage_error"     // 存储层故障，调用方可重试
)

// ConfirmResult 确认支付的结果
type ConfirmResult struct {
	Code        ConfirmCode
	Transaction *model.PixTransaction
	NewBalance  int64 // 仅 Code == ConfirmOK 时有效
	Message     string
}

// BalanceService 余额与 PIX 充值服务
// 所有依赖注入进来，不读任何全局状态
type BalanceService struct {
	cfg         *config.Config
	pixRepo     repository.PixTransactionRepository
	balanceRepo repository.BalanceRepository
	outboxRepo  repository.OutboxRepository
	gateway     PixGateway
	locks       lock.Provider // 可为 nil，降级为无锁（CAS 仍保证正确性）
}

func NewBalanceService(
	cfg *config.Config,
	pixRepo repository.PixTransactionRepository,
	balanceRepo repository.BalanceRepository,
	outboxRepo repository.OutboxRepository,
	gw PixGateway,
	locks lock.Provider,
) *BalanceService {
	return &BalanceService{
		cfg:         cfg,
		pixRepo:     pixRepo,
		balanceRepo: balanceRepo,
		outboxRepo:  outboxRepo,
		gateway:     gw,
		locks:       locks,
	}
}

// CreatePixTransaction 创建 PIX 充值交易
//
// 顺序是关键：先在网关创建计费并拿到二维码，两步都成功才落库。
// 这样本地库里不会出现没有支付载荷的半成品交易；代价是二维码
// 失败时网关侧会留下一个孤儿计费，1 小时后自行过期，无需补偿
func (s *BalanceService) CreatePixTransaction(ctx context.Context, userID string, amountCents int64) (*model.PixTransaction, error) {
	minAmount := s.cfg.Business.MinFundingAmountCents
	if amountCents < minAmount {
		return nil, fmt.Errorf("%w: 最低 %s", ErrAmountBelowMinimum, model.FormatBRL(minAmount))
	}

	transactionID := idgen.GeneratePixTransactionID()

	// 网关侧 txid 限定 [a-zA-Z0-9]{26,35}，内部ID带下划线不合规，
	// 单独生成一个并存到 efi_txid 做备用查询键
	efiTxid := strings.ReplaceAll(uuid.New().String(), "-", "")

	charge, err := s.gateway.CreateCharge(ctx, efiTxid, amountCents, "Adição de saldo")
	if err != nil {
		return nil, fmt.Errorf("创建 PIX 计费失败: %w", err)
	}

	qr, err := s.gateway.GenerateQRCode(ctx, charge.LocationID)
	if err != nil {
		return nil, fmt.Errorf("生成二维码失败（网关侧计费 %s 已存在，将自行过期）: %w", charge.Txid, err)
	}

	transaction := &model.PixTransaction{
		TransactionID: transactionID,
		UserID:        userID,
		Amount:        amountCents,
		QRCode:        qr.Qrcode,
		PixKey:        charge.PixKey,
		Status:        model.PixStatusPending,
		EfiTxid:       charge.Txid,
		EfiLocationID: strconv.FormatInt(charge.LocationID, 10),
		EfiChargeID:   charge.Txid,
	}
	if err := s.pixRepo.Create(ctx, transaction); err != nil {
		return nil, fmt.Errorf("保存交易失败: %w", err)
	}

	log.Printf("[BALANCE] PIX 交易已创建: id=%s user=%s amount=%s",
		transactionID, userID, model.FormatBRL(amountCents))
	return transaction, nil
}

// ConfirmPixPayment 确认 PIX 支付并入账
//
// 三个对账入口共用的唯一通道：webhook 回调、管理员手工确认、
// （将来可能的）主动查询。查找支持双键：先按内部ID，找不到再按
// 网关 txid。
//
// 【关键点】顺序固定为 状态翻转 -> 入账：
//  1. pending -> paid 的 CAS 更新是去重依据，翻转失败直接返回
//     AlreadyProcessed，绝不入账
//  2. 翻转成功后才 Credit。若 Credit 失败，状态已是 paid 但余额
//     没加，这是系统中唯一需要人工对账的窗口，日志里会大声报出来。
//     反过来（先入账后翻转）会在崩溃时产生重复入账，不可接受
func (s *BalanceService) ConfirmPixPayment(ctx context.Context, transactionID, efiTxid string) *ConfirmResult {
	transaction, err := s.lookupTransaction(ctx, transactionID, efiTxid)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return &ConfirmResult{Code: ConfirmNotFound, Message: "交易不存在"}
		}
		return &ConfirmResult{Code: ConfirmStorageError, Message: err.Error()}
	}

	if transaction.Status != model.PixStatusPending {
		return &ConfirmResult{
			Code:        ConfirmAlreadyProcessed,
			Transaction: transaction,
			Message:     fmt.Sprintf("交易已是 %s 状态", transaction.Status),
		}
	}

	// 锁只用来收窄并发窗口，正确性由下面的 CAS 保证
	if s.locks != nil {
		confirmLock := s.locks.NewLock(lock.ConfirmLockKey(transaction.TransactionID), uuid.New().String(), 30*time.Second)
		if err := confirmLock.Lock(ctx, 100*time.Millisecond, 10); err == nil {
			defer confirmLock.Unlock(ctx)
		}
	}

	err = s.pixRepo.UpdateStatus(ctx, transaction.TransactionID, model.PixStatusPending, model.PixStatusPaid)
	if err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return &ConfirmResult{
				Code:        ConfirmAlreadyProcessed,
				Transaction: transaction,
				Message:     "交易已被其他路径处理",
			}
		}
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return &ConfirmResult{Code: ConfirmNotFound, Message: "交易不存在"}
		}
		return &ConfirmResult{Code: ConfirmStorageError, Message: err.Error()}
	}

	balance, err := s.balanceRepo.Credit(ctx, transaction.UserID, transaction.Amount,
		transaction.TransactionID, "Adição de saldo via PIX")
	if err != nil {
		// 状态已翻转但入账失败，需要人工对账
		log.Printf("[BALANCE]【严重】交易 %s 已置为 paid 但入账失败，需人工处理: %v",
			transaction.TransactionID, err)
		return &ConfirmResult{
			Code:        ConfirmStorageError,
			Transaction: transaction,
			Message:     "状态已更新但入账失败，已记录待人工处理",
		}
	}

	s.emitOutbox(ctx, s.cfg.Kafka.Topic.PaymentEvents, model.EventPixPaymentConfirmed, transaction.TransactionID, map[string]interface{}{
		"transaction_id": transaction.TransactionID,
		"user_id":        transaction.UserID,
		"amount":         transaction.Amount,
		"new_balance":    balance.Balance,
	})

	log.Printf("[BALANCE] PIX 支付已确认: id=%s user=%s amount=%s balance=%s",
		transaction.TransactionID, transaction.UserID,
		model.FormatBRL(transaction.Amount), model.FormatBRL(balance.Balance))

	return &ConfirmResult{
		Code:        ConfirmOK,
		Transaction: transaction,
		NewBalance:  balance.Balance,
	}
}

// ExpirePixTransaction 把超窗的 pending 交易置为 expired
// 与确认路径走同一个 CAS：已被支付确认的交易在这里会拿到冲突，不会被误杀
func (s *BalanceService) ExpirePixTransaction(ctx context.Context, transactionID string) error {
	err := s.pixRepo.UpdateStatus(ctx, transactionID, model.PixStatusPending, model.PixStatusExpired)
	if err != nil {
		return err
	}

	s.emitOutbox(ctx, s.cfg.Kafka.Topic.PaymentEvents, model.EventPixPaymentExpired, transactionID, map[string]interface{}{
		"transaction_id": transactionID,
	})
	return nil
}

// GetBalance 查询用户余额，未知用户返回 0
func (s *BalanceService) GetBalance(ctx context.Context, userID string) (int64, error) {
	return s.balanceRepo.GetBalance(ctx, userID)
}

// HasSufficientBalance 余额是否足够
func (s *BalanceService) HasSufficientBalance(ctx context.Context, userID string, amountCents int64) (bool, error) {
	balance, err := s.balanceRepo.GetBalance(ctx, userID)
	if err != nil {
		return false, err
	}
	return balance >= amountCents, nil
}

// DebitUserBalance 扣减余额
// 透支检查只发生在这里（仓储层的条件更新），调用方的预检查只是
// 为了早失败，不承担正确性
func (s *BalanceService) DebitUserBalance(ctx context.Context, userID string, amountCents int64, description string) (string, int64, error) {
	transactionID := idgen.GeneratePurchaseTransactionID()
	balance, err := s.balanceRepo.Debit(ctx, userID, amountCents, transactionID, description)
	if err != nil {
		return "", 0, err
	}
	log.Printf("[BALANCE] 扣款成功: user=%s amount=%s tx=%s balance=%s",
		userID, model.FormatBRL(amountCents), transactionID, model.FormatBRL(balance.Balance))
	return transactionID, balance.Balance, nil
}

// RefundUserBalance 退款
// 退款ID由原扣款ID派生（refund_ 前缀），同一笔扣款重试退款不会
// 产生两个不同的流水键，排查时一眼能对上
func (s *BalanceService) RefundUserBalance(ctx context.Context, userID string, amountCents int64, originalTransactionID, description string) (int64, error) {
	if description == "" {
		description = "Reembolso"
	}
	refundID := idgen.RefundTransactionID(originalTransactionID)
	balance, err := s.balanceRepo.Credit(ctx, userID, amountCents, refundID, description)
	if err != nil {
		return 0, err
	}
	log.Printf("[BALANCE] 退款成功: user=%s amount=%s tx=%s balance=%s",
		userID, model.FormatBRL(amountCents), refundID, model.FormatBRL(balance.Balance))
	return balance.Balance, nil
}

// GetTransaction 按内部ID查询交易
func (s *BalanceService) GetTransaction(ctx context.Context, transactionID string) (*model.PixTransaction, error) {
	return s.pixRepo.GetByTransactionID(ctx, transactionID)
}

// ListTransactionsByStatus 按状态列出交易（管理端用）
func (s *BalanceService) ListTransactionsByStatus(ctx context.Context, status string, limit int) ([]*model.PixTransaction, error) {
	return s.pixRepo.ListByStatus(ctx, status, limit)
}

// ListRecentBalanceTransactions 用户最近的余额流水
func (s *BalanceService) ListRecentBalanceTransactions(ctx context.Context, userID string, limit int) ([]*model.BalanceTransaction, error) {
	return s.balanceRepo.ListRecentTransactions(ctx, userID, limit)
}

func (s *BalanceService) lookupTransaction(ctx context.Context, transactionID, efiTxid string) (*model.PixTransaction, error) {
	if transactionID != "" {
		transaction, err := s.pixRepo.GetByTransactionID(ctx, transactionID)
		if err == nil {
			return transaction, nil
		}
		if !errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, err
		}
	}
	if efiTxid != "" {
		return s.pixRepo.GetByEfiTxid(ctx, efiTxid)
	}
	return nil, repository.ErrTransactionNotFound
}

// emitOutbox 写业务事件到发件箱，由 OutboxSender 异步投递
// 事件丢失不影响资金正确性，失败只记日志
func (s *BalanceService) emitOutbox(ctx context.Context, topic, eventType, key string, payload map[string]interface{}) {
	if s.outboxRepo == nil {
		return
	}
	payload["event_type"] = eventType
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[BALANCE] 序列化事件失败: %v", err)
		return
	}
	msg := &model.OutboxMessage{
		MessageKey: key,
		Topic:      topic,
		Payload:    string(data),
		Status:     model.OutboxStatusPending,
	}
	if err := s.outboxRepo.Create(ctx, msg); err != nil {
		log.Printf("[BALANCE] 写发件箱失败: event=%s key=%s err=%v", eventType, key, err)
	}
}
