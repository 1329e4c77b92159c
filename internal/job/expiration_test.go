package job

import (
	"context"
	"sync"
	"testing"
	"time"

	"pixshop/internal/config"
	"pixshop/internal/model"
	"pixshop/internal/repository"
	"pixshop/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memPixRepo struct {
	mu   sync.Mutex
	byID map[string]*model.PixTransaction
}

func newMemPixRepo() *memPixRepo {
	return &memPixRepo{byID: make(map[string]*model.PixTransaction)}
}

func (r *memPixRepo) Create(ctx context.Context, transaction *model.PixTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *transaction
	r.byID[transaction.TransactionID] = &copied
	return nil
}

func (r *memPixRepo) GetByTransactionID(ctx context.Context, transactionID string) (*model.PixTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	transaction, ok := r.byID[transactionID]
	if !ok {
		return nil, repository.ErrTransactionNotFound
	}
	copied := *transaction
	return &copied, nil
}

func (r *memPixRepo) GetByEfiTxid(ctx context.Context, efiTxid string) (*model.PixTransaction, error) {
	return nil, repository.ErrTransactionNotFound
}

func (r *memPixRepo) UpdateStatus(ctx context.Context, transactionID, fromStatus, toStatus string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	transaction, ok := r.byID[transactionID]
	if !ok {
		return repository.ErrTransactionNotFound
	}
	if transaction.Status != fromStatus || !model.CanTransitionPixStatus(fromStatus, toStatus) {
		return repository.ErrStatusConflict
	}
	transaction.Status = toStatus
	return nil
}

func (r *memPixRepo) ListByStatus(ctx context.Context, status string, limit int) ([]*model.PixTransaction, error) {
	return nil, nil
}

func (r *memPixRepo) ListExpiredPending(ctx context.Context, olderThan time.Time) ([]*model.PixTransaction, error) {
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

func (r *memPixRepo) CountExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	expired []string
}

func (n *recordingNotifier) NotifyPaymentExpired(userID string, amountCents int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.expired = append(n.expired, userID)
}

func TestExpirationSweep(t *testing.T) {
	ctx := context.Background()
	cfg := testJobConfig()
	pixRepo := newMemPixRepo()
	notifier := &recordingNotifier{}

	balanceSvc := service.NewBalanceService(cfg, pixRepo, nil, nil, nil, nil)
	sweeper := NewExpirationSweeper(pixRepo, balanceSvc, notifier, cfg)

	now := time.Now()
	seed := func(id, userID, status string, age time.Duration) {
		require.NoError(t, pixRepo.Create(ctx, &model.PixTransaction{
			TransactionID: id,
			UserID:        userID,
			Amount:        500,
			Status:        status,
			CreatedAt:     now.Add(-age),
		}))
	}

	// 窗口是 1 小时：59 分钟的还在窗口内，61 分钟的该过期
	seed("pix_fresh", "u1", model.PixStatusPending, 59*time.Minute)
	seed("pix_stale", "u2", model.PixStatusPending, 61*time.Minute)
	seed("pix_paid", "u3", model.PixStatusPaid, 3*time.Hour)
	seed("pix_old_expired", "u4", model.PixStatusExpired, 8*24*time.Hour)

	sweeper.sweep(ctx)

	fresh, _ := pixRepo.GetByTransactionID(ctx, "pix_fresh")
	assert.Equal(t, model.PixStatusPending, fresh.Status, "窗口内的交易不许动")

	stale, _ := pixRepo.GetByTransactionID(ctx, "pix_stale")
	assert.Equal(t, model.PixStatusExpired, stale.Status)

	paid, _ := pixRepo.GetByTransactionID(ctx, "pix_paid")
	assert.Equal(t, model.PixStatusPaid, paid.Status, "已支付的交易不许被过期")

	assert.Equal(t, []string{"u2"}, notifier.expired)

	// 再扫一轮必须是幂等的
	sweeper.sweep(ctx)
	assert.Equal(t, []string{"u2"}, notifier.expired)
}

func testJobConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Business.ExpirationHours = 1
	cfg.Business.SweepIntervalMinutes = 15
	cfg.Business.MaxRetryCount = 3
	cfg.Kafka.Topic.PaymentEvents = "test.payment.events"
	return cfg
}
