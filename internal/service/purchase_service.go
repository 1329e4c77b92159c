package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"pixshop/internal/config"
	"pixshop/internal/infrastructure/lock"
	"pixshop/internal/infrastructure/market"
	"pixshop/internal/model"
	"pixshop/internal/repository"

	"github.com/google/uuid"
)

// Marketplace 服务层依赖的市场客户端子集
type Marketplace interface {
	GetAccountDetails(ctx context.Context, itemID int64) (*market.Account, error)
	CheckAccount(ctx context.Context, itemID int64) (*market.CheckResult, error)
	FastBuy(ctx context.Context, itemID int64, priceCents int64) (*market.PurchaseResult, error)
}

var (
	ErrOrderNotOwned  = errors.New("订单不属于该用户")
	ErrOrderNotActive = errors.New("订单不在可支付状态")
)

// PurchaseOutcome 购买编排的结果
// 失败时 Refunded / RefundFailed 告诉调用方钱的去向，
// 用户提示必须如实反映退款是否成功
type PurchaseOutcome struct {
	Success      bool
	Order        *model.Order
	Credentials  *market.Credentials
	Refunded     bool
	RefundFailed bool
	NewBalance   int64
	Message      string
}

// PurchaseService 购买编排
//
// ============================================================================
// 资金安全的编排顺序（不可调整）：
//
//	余额预检查 -> 加用户锁 -> 扣款 -> 订单 confirmed -> 市场购买
//	                              |
//	                              +-- 购买失败 -> 退款 -> 订单 cancelled
//
// 扣款先于外部调用：市场侧慢、会超时、会失败，但钱已经锁在我们
// 这边，失败路径只需要退款。反过来（先买后扣）会出现"货到了钱
// 扣不动"的烂账
// ============================================================================
type PurchaseService struct {
	cfg         *config.Config
	orderRepo   repository.OrderRepository
	outboxRepo  repository.OutboxRepository
	balanceSvc  *BalanceService
	marketplace Marketplace
	locks       lock.Provider // 可为 nil
}

func NewPurchaseService(
	cfg *config.Config,
	orderRepo repository.OrderRepository,
	outboxRepo repository.OutboxRepository,
	balanceSvc *BalanceService,
	marketplace Marketplace,
	locks lock.Provider,
) *PurchaseService {
	return &PurchaseService{
		cfg:         cfg,
		orderRepo:   orderRepo,
		outboxRepo:  outboxRepo,
		balanceSvc:  balanceSvc,
		marketplace: marketplace,
		locks:       locks,
	}
}

// CreatePendingOrder 用户点下购买按钮时创建待支付订单
func (s *PurchaseService) CreatePendingOrder(ctx context.Context, userID, username string, itemID, priceCents int64) (*model.Order, error) {
	order := &model.Order{
		OrderID:  uuid.New().String(),
		ItemID:   itemID,
		UserID:   userID,
		Username: username,
		Price:    priceCents,
		Currency: "BRL",
		Status:   model.OrderStatusPending,
	}
	if err := s.orderRepo.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("创建订单失败: %w", err)
	}
	log.Printf("[PURCHASE] 订单已创建: order=%s user=%s item=%d price=%s",
		order.OrderID, userID, itemID, model.FormatBRL(priceCents))
	return order, nil
}

// GetOrder 查询订单
func (s *PurchaseService) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	return s.orderRepo.GetByOrderID(ctx, orderID)
}

// PurchaseWithBalance 用余额完成订单
// userID 用于归属校验，防止拿到别人订单ID的用户替人付款。
// 返回值必须命名：panic 恢复路径靠它把退款结果带回给调用方
func (s *PurchaseService) PurchaseWithBalance(ctx context.Context, orderID, userID string) (outcome *PurchaseOutcome) {
	order, err := s.orderRepo.GetByOrderID(ctx, orderID)
	if err != nil {
		return &PurchaseOutcome{Message: "订单不存在"}
	}
	if order.UserID != userID {
		return &PurchaseOutcome{Order: order, Message: ErrOrderNotOwned.Error()}
	}
	if order.Status != model.OrderStatusPending {
		return &PurchaseOutcome{Order: order, Message: ErrOrderNotActive.Error()}
	}

	// 预检查只为早失败，真正的透支闸门在 Debit 的条件更新里
	enough, err := s.balanceSvc.HasSufficientBalance(ctx, userID, order.Price)
	if err != nil {
		return &PurchaseOutcome{Order: order, Message: "查询余额失败"}
	}
	if !enough {
		balance, _ := s.balanceSvc.GetBalance(ctx, userID)
		return &PurchaseOutcome{
			Order: order,
			Message: fmt.Sprintf("Saldo insuficiente: %s disponível, %s necessário",
				model.FormatBRL(balance), model.FormatBRL(order.Price)),
		}
	}

	// 同一用户的并发购买串行化
	if s.locks != nil {
		payLock := s.locks.NewLock(lock.PayLockKey(userID), orderID, 5*time.Minute)
		if err := payLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
			return &PurchaseOutcome{Order: order, Message: "系统繁忙，请稍后重试"}
		}
		defer payLock.Unlock(ctx)
	}

	description := fmt.Sprintf("Compra: item %d", order.ItemID)
	debitTxID, newBalance, err := s.balanceSvc.DebitUserBalance(ctx, userID, order.Price, description)
	if err != nil {
		if errors.Is(err, repository.ErrBalanceNotEnough) {
			balance, _ := s.balanceSvc.GetBalance(ctx, userID)
			return &PurchaseOutcome{
				Order: order,
				Message: fmt.Sprintf("Saldo insuficiente: %s disponível, %s necessário",
					model.FormatBRL(balance), model.FormatBRL(order.Price)),
			}
		}
		return &PurchaseOutcome{Order: order, Message: "扣款失败，余额未变动"}
	}

	// 从这里起钱已扣，任何失败都必须走退款
	outcome = &PurchaseOutcome{Order: order, NewBalance: newBalance}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[PURCHASE]【严重】购买流程 panic，尝试退款: order=%s err=%v", orderID, r)
			s.refundAndCancel(ctx, order, debitTxID, outcome)
			outcome.Message = "处理异常，已尝试退款"
		}
	}()

	if err := s.orderRepo.UpdateStatus(ctx, orderID, model.OrderStatusPending, model.OrderStatusConfirmed); err != nil {
		log.Printf("[PURCHASE] 订单流转 confirmed 失败: order=%s err=%v", orderID, err)
		s.refundAndCancel(ctx, order, debitTxID, outcome)
		outcome.Message = "订单状态异常"
		return outcome
	}

	check, err := s.marketplace.CheckAccount(ctx, order.ItemID)
	if err != nil || !check.Available {
		reason := "账号不可购买"
		if check != nil && check.Message != "" {
			reason = check.Message
		}
		log.Printf("[PURCHASE] 可购性检查失败: order=%s item=%d reason=%s", orderID, order.ItemID, reason)
		s.refundAndCancel(ctx, order, debitTxID, outcome)
		outcome.Message = "Conta indisponível no momento"
		return outcome
	}

	purchase, err := s.marketplace.FastBuy(ctx, order.ItemID, order.Price)
	if err != nil {
		log.Printf("[PURCHASE] 市场购买失败: order=%s item=%d err=%v", orderID, order.ItemID, err)
		s.refundAndCancel(ctx, order, debitTxID, outcome)
		outcome.Message = "Falha na compra junto ao fornecedor"
		return outcome
	}

	if err := s.orderRepo.UpdateStatus(ctx, orderID, model.OrderStatusConfirmed, model.OrderStatusCompleted); err != nil {
		// 货已到手，订单状态没跟上，不能退款，只能记下来人工修
		log.Printf("[PURCHASE]【严重】购买成功但订单流转 completed 失败: order=%s err=%v", orderID, err)
	}

	s.emitPurchaseEvent(ctx, model.EventPurchaseCompleted, order, debitTxID)

	log.Printf("[PURCHASE] 购买完成: order=%s user=%s item=%d price=%s",
		orderID, userID, order.ItemID, model.FormatBRL(order.Price))

	outcome.Success = true
	outcome.Credentials = &purchase.Credentials
	return outcome
}

// CancelOrder 用户主动取消未支付订单
func (s *PurchaseService) CancelOrder(ctx context.Context, orderID, userID string) error {
	order, err := s.orderRepo.GetByOrderID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.UserID != userID {
		return ErrOrderNotOwned
	}
	return s.orderRepo.UpdateStatus(ctx, orderID, model.OrderStatusPending, model.OrderStatusCancelled)
}

// ListPendingOrders 用户的待支付订单
func (s *PurchaseService) ListPendingOrders(ctx context.Context, userID string) ([]*model.Order, error) {
	return s.orderRepo.ListPendingByUser(ctx, userID)
}

// refundAndCancel 失败路径的统一收尾：退款 + 订单取消
// 退款失败是最坏情况（钱扣了货没到还退不回去），结果里如实上报
func (s *PurchaseService) refundAndCancel(ctx context.Context, order *model.Order, debitTxID string, outcome *PurchaseOutcome) {
	balance, err := s.balanceSvc.RefundUserBalance(ctx, order.UserID, order.Price, debitTxID,
		fmt.Sprintf("Reembolso: item %d", order.ItemID))
	if err != nil {
		log.Printf("[PURCHASE]【严重】退款失败，需人工处理: order=%s user=%s amount=%s err=%v",
			order.OrderID, order.UserID, model.FormatBRL(order.Price), err)
		outcome.RefundFailed = true
	} else {
		outcome.Refunded = true
		outcome.NewBalance = balance
	}

	// 取消可能从 pending 或 confirmed 出发，按当前状态走
	fromStatus := model.OrderStatusConfirmed
	current, err := s.orderRepo.GetByOrderID(ctx, order.OrderID)
	if err == nil && current.Status == model.OrderStatusPending {
		fromStatus = model.OrderStatusPending
	}
	if err := s.orderRepo.UpdateStatus(ctx, order.OrderID, fromStatus, model.OrderStatusCancelled); err != nil {
		log.Printf("[PURCHASE] 订单取消失败: order=%s err=%v", order.OrderID, err)
	}

	if outcome.Refunded {
		s.emitPurchaseEvent(ctx, model.EventPurchaseRefunded, order, debitTxID)
	}
}

func (s *PurchaseService) emitPurchaseEvent(ctx context.Context, eventType string, order *model.Order, debitTxID string) {
	if s.outboxRepo == nil {
		return
	}
	payload := map[string]interface{}{
		"event_type":     eventType,
		"order_id":       order.OrderID,
		"user_id":        order.UserID,
		"item_id":        order.ItemID,
		"price":          order.Price,
		"transaction_id": debitTxID,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[PURCHASE] 序列化事件失败: %v", err)
		return
	}
	msg := &model.OutboxMessage{
		MessageKey: order.OrderID,
		Topic:      s.cfg.Kafka.Topic.PurchaseEvents,
		Payload:    string(data),
		Status:     model.OutboxStatusPending,
	}
	if err := s.outboxRepo.Create(ctx, msg); err != nil {
		log.Printf("[PURCHASE] 写发件箱失败: event=%s order=%s err=%v", eventType, order.OrderID, err)
	}
}
