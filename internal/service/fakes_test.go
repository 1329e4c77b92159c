package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pixshop/internal/config"
	"pixshop/internal/infrastructure/gateway"
	"pixshop/internal/infrastructure/market"
	"pixshop/internal/model"
	"pixshop/internal/repository"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Business.MinFundingAmountCents = 100
	cfg.Business.ExpirationHours = 1
	cfg.Business.SweepIntervalMinutes = 15
	cfg.Business.MaxRetryCount = 3
	cfg.Kafka.Topic.PaymentEvents = "test.payment.events"
	cfg.Kafka.Topic.PurchaseEvents = "test.purchase.events"
	return cfg
}

// ---------------------------------------------------------------------------
// 内存版仓储，行为对齐 MySQL 实现（含 CAS 语义）
// ---------------------------------------------------------------------------

type fakePixRepo struct {
	mu   sync.Mutex
	byID map[string]*model.PixTransaction
}

func newFakePixRepo() *fakePixRepo {
	return &fakePixRepo{byID: make(map[string]*model.PixTransaction)}
}

func (r *fakePixRepo) Create(ctx context.Context, transaction *model.PixTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[transaction.TransactionID]; exists {
		return errors.New("duplicate transaction_id")
	}
	transaction.CreatedAt = time.Now()
	copied := *transaction
	r.byID[transaction.TransactionID] = &copied
	return nil
}

func (r *fakePixRepo) GetByTransactionID(ctx context.Context, transactionID string) (*model.PixTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	transaction, ok := r.byID[transactionID]
	if !ok {
		return nil, repository.ErrTransactionNotFound
	}
	copied := *transaction
	return &copied, nil
}

func (r *fakePixRepo) GetByEfiTxid(ctx context.Context, efiTxid string) (*model.PixTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, transaction := range r.byID {
		if transaction.EfiTxid == efiTxid {
			copied := *transaction
			return &copied, nil
		}
	}
	return nil, repository.ErrTransactionNotFound
}

func (r *fakePixRepo) UpdateStatus(ctx context.Context, transactionID, fromStatus, toStatus string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !model.CanTransitionPixStatus(fromStatus, toStatus) {
		return repository.ErrStatusConflict
	}
	transaction, ok := r.byID[transactionID]
	if !ok {
		return repository.ErrTransactionNotFound
	}
	if transaction.Status != fromStatus {
		return repository.ErrStatusConflict
	}
	transaction.Status = toStatus
	now := time.Now()
	switch toStatus {
	case model.PixStatusPaid:
		transaction.PaidAt = &now
	case model.PixStatusExpired:
		transaction.ExpiredAt = &now
	}
	return nil
}

func (r *fakePixRepo) ListByStatus(ctx context.Context, status string, limit int) ([]*model.PixTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*model.PixTransaction
	for _, transaction := range r.byID {
		if transaction.Status == status {
			copied := *transaction
			result = append(result, &copied)
		}
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (r *fakePixRepo) ListExpiredPending(ctx context.Context, olderThan time.Time) ([]*model.PixTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*model.PixTransaction
	for _, transaction := range r.byID {
		if transaction.Status == model.PixStatusPending && transaction.CreatedAt.Before(olderThan) {
			copied := *transaction
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (r *fakePixRepo) CountExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, transaction := range r.byID {
		if transaction.Status == model.PixStatusExpired && transaction.CreatedAt.Before(cutoff) {
			count++
		}
	}
	return count, nil
}

type fakeBalanceRepo struct {
	mu       sync.Mutex
	balances map[string]int64
	entries  []*model.BalanceTransaction

	failCredit bool
	onCredit   func() // 入账前回调，用于断言调用顺序
}

func newFakeBalanceRepo() *fakeBalanceRepo {
	return &fakeBalanceRepo{balances: make(map[string]int64)}
}

func (r *fakeBalanceRepo) GetBalance(ctx context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balances[userID], nil
}

func (r *fakeBalanceRepo) GetOrCreate(ctx context.Context, userID string) (*model.UserBalance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &model.UserBalance{UserID: userID, Balance: r.balances[userID]}, nil
}

func (r *fakeBalanceRepo) Credit(ctx context.Context, userID string, amount int64, transactionID, description string) (*model.UserBalance, error) {
	if r.onCredit != nil {
		r.onCredit()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCredit {
		return nil, errors.New("storage unavailable")
	}
	before := r.balances[userID]
	r.balances[userID] = before + amount
	r.entries = append(r.entries, &model.BalanceTransaction{
		UserID:        userID,
		TransactionID: transactionID,
		Amount:        amount,
		Type:          model.BalanceEntryCredit,
		Description:   description,
		BalanceBefore: before,
		BalanceAfter:  before + amount,
	})
	return &model.UserBalance{UserID: userID, Balance: r.balances[userID]}, nil
}

func (r *fakeBalanceRepo) Debit(ctx context.Context, userID string, amount int64, transactionID, description string) (*model.UserBalance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	before := r.balances[userID]
	if before < amount {
		return nil, repository.ErrBalanceNotEnough
	}
	r.balances[userID] = before - amount
	r.entries = append(r.entries, &model.BalanceTransaction{
		UserID:        userID,
		TransactionID: transactionID,
		Amount:        -amount,
		Type:          model.BalanceEntryDebit,
		Description:   description,
		BalanceBefore: before,
		BalanceAfter:  before - amount,
	})
	return &model.UserBalance{UserID: userID, Balance: r.balances[userID]}, nil
}

func (r *fakeBalanceRepo) ListRecentTransactions(ctx context.Context, userID string, limit int) ([]*model.BalanceTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*model.BalanceTransaction
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].UserID == userID {
			result = append(result, r.entries[i])
		}
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

type fakeOrderRepo struct {
	mu   sync.Mutex
	byID map[string]*model.Order
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{byID: make(map[string]*model.Order)}
}

func (r *fakeOrderRepo) Create(ctx context.Context, order *model.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *order
	r.byID[order.OrderID] = &copied
	return nil
}

func (r *fakeOrderRepo) GetByOrderID(ctx context.Context, orderID string) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.byID[orderID]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	copied := *order
	return &copied, nil
}

func (r *fakeOrderRepo) UpdateStatus(ctx context.Context, orderID, fromStatus, toStatus string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !model.CanTransitionOrderStatus(fromStatus, toStatus) {
		return repository.ErrOrderStatusInvalid
	}
	order, ok := r.byID[orderID]
	if !ok {
		return repository.ErrOrderNotFound
	}
	if order.Status != fromStatus {
		return repository.ErrOrderStatusInvalid
	}
	order.Status = toStatus
	return nil
}

func (r *fakeOrderRepo) ListPendingByUser(ctx context.Context, userID string) ([]*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*model.Order
	for _, order := range r.byID {
		if order.UserID == userID && order.Status == model.OrderStatusPending {
			copied := *order
			result = append(result, &copied)
		}
	}
	return result, nil
}

type fakeOutboxRepo struct {
	mu       sync.Mutex
	messages []*model.OutboxMessage
}

func newFakeOutboxRepo() *fakeOutboxRepo {
	return &fakeOutboxRepo{}
}

func (r *fakeOutboxRepo) Create(ctx context.Context, msg *model.OutboxMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg.ID = int64(len(r.messages) + 1)
	r.messages = append(r.messages, msg)
	return nil
}

func (r *fakeOutboxRepo) GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*model.OutboxMessage
	for _, msg := range r.messages {
		if msg.Status == model.OutboxStatusPending {
			result = append(result, msg)
		}
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (r *fakeOutboxRepo) UpdateStatus(ctx context.Context, id int64, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, msg := range r.messages {
		if msg.ID == id {
			msg.Status = status
			return nil
		}
	}
	return errors.New("message not found")
}

func (r *fakeOutboxRepo) IncrementRetryCount(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, msg := range r.messages {
		if msg.ID == id {
			msg.RetryCount++
			return nil
		}
	}
	return errors.New("message not found")
}

func (r *fakeOutboxRepo) MarkAsFailed(ctx context.Context, id int64) error {
	return r.UpdateStatus(ctx, id, model.OutboxStatusFailed)
}

// ---------------------------------------------------------------------------
// 网关和市场的桩实现
// ---------------------------------------------------------------------------

type fakeGateway struct {
	mu          sync.Mutex
	charges     int
	failCharge  bool
	failQRCode  bool
	lastTxid    string
	lastAmount  int64
	nextLocID   int64
}

func (g *fakeGateway) CreateCharge(ctx context.Context, txid string, amountCents int64, payerRequest string) (*gateway.Charge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failCharge {
		return nil, errors.New("gateway unavailable")
	}
	g.charges++
	g.lastTxid = txid
	g.lastAmount = amountCents
	g.nextLocID++
	return &gateway.Charge{Txid: txid, LocationID: g.nextLocID, Status: "ATIVA", PixKey: "chave@test"}, nil
}

func (g *fakeGateway) GenerateQRCode(ctx context.Context, locationID int64) (*gateway.QRCode, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failQRCode {
		return nil, errors.New("qrcode unavailable")
	}
	return &gateway.QRCode{
		Qrcode:   fmt.Sprintf("00020126qrcode-loc-%d", locationID),
		ImageURL: "data:image/png;base64,AAAA",
	}, nil
}

type fakeMarketplace struct {
	unavailable bool
	failBuy     bool
	panicBuy    bool
	buyCalls    int
}

func (m *fakeMarketplace) GetAccountDetails(ctx context.Context, itemID int64) (*market.Account, error) {
	return &market.Account{ItemID: itemID, Title: "Conta Valorant", ItemState: "active"}, nil
}

func (m *fakeMarketplace) CheckAccount(ctx context.Context, itemID int64) (*market.CheckResult, error) {
	if m.unavailable {
		return &market.CheckResult{Available: false, Message: "conta vendida"}, nil
	}
	return &market.CheckResult{Available: true}, nil
}

func (m *fakeMarketplace) FastBuy(ctx context.Context, itemID int64, priceCents int64) (*market.PurchaseResult, error) {
	m.buyCalls++
	if m.panicBuy {
		panic("marketplace client blew up")
	}
	if m.failBuy {
		return nil, errors.New("marketplace rejected the purchase")
	}
	return &market.PurchaseResult{
		ItemID: itemID,
		Title:  "Conta Valorant",
		Credentials: market.Credentials{
			Login:    "valorant_user",
			Password: "valorant_pass",
		},
	}, nil
}
