package job

import (
	"context"
	"errors"
	"log"
	"time"

	"pixshop/internal/config"
	"pixshop/internal/model"
	"pixshop/internal/repository"
	"pixshop/internal/service"
)

// ExpiryNotifier 过期通知（Discord DM）
type ExpiryNotifier interface {
	NotifyPaymentExpired(userID string, amountCents int64)
}

// ExpirationSweeper 过期扫描任务
// 周期性把超过充值窗口仍是 pending 的 PIX 交易置为 expired。
// 过期走与支付确认相同的 CAS 通道：扫描期间刚好被支付的交易
// 会在状态更新处拿到冲突，不会被误杀
type ExpirationSweeper struct {
	pixRepo    repository.PixTransactionRepository
	balanceSvc *service.BalanceService
	notifier   ExpiryNotifier // 可为 nil
	cfg        *config.Config
	stopCh     chan struct{}
	batchSize  int
}

func NewExpirationSweeper(
	pixRepo repository.PixTransactionRepository,
	balanceSvc *service.BalanceService,
	notifier ExpiryNotifier,
	cfg *config.Config,
) *ExpirationSweeper {
	return &ExpirationSweeper{
		pixRepo:    pixRepo,
		balanceSvc: balanceSvc,
		notifier:   notifier,
		cfg:        cfg,
		stopCh:     make(chan struct{}),
		batchSize:  100,
	}
}

func (j *ExpirationSweeper) Start(ctx context.Context) {
	log.Println("[ExpirationSweeper] 过期扫描任务启动")

	// 启动时立刻扫一轮，处理停机期间积压的过期交易
	j.sweep(ctx)

	interval := time.Duration(j.cfg.Business.SweepIntervalMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[ExpirationSweeper] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[ExpirationSweeper] 任务停止")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *ExpirationSweeper) Stop() {
	close(j.stopCh)
}

func (j *ExpirationSweeper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-time.Duration(j.cfg.Business.ExpirationHours) * time.Hour)

	transactions, err := j.pixRepo.ListExpiredPending(ctx, cutoff)
	if err != nil {
		log.Printf("[ExpirationSweeper] 查询过期交易失败: %v", err)
		return
	}
	if len(transactions) > j.batchSize {
		transactions = transactions[:j.batchSize]
	}

	expired := 0
	for _, transaction := range transactions {
		err := j.balanceSvc.ExpirePixTransaction(ctx, transaction.TransactionID)
		if err != nil {
			// 冲突说明交易在扫描间隙被支付确认了，属于正常竞态
			if errors.Is(err, repository.ErrStatusConflict) {
				log.Printf("[ExpirationSweeper] 交易已被其他路径处理，跳过: %s", transaction.TransactionID)
				continue
			}
			log.Printf("[ExpirationSweeper] 置为过期失败: id=%s err=%v", transaction.TransactionID, err)
			continue
		}

		expired++
		log.Printf("[ExpirationSweeper] 交易已过期: id=%s user=%s amount=%s",
			transaction.TransactionID, transaction.UserID, model.FormatBRL(transaction.Amount))

		if j.notifier != nil {
			j.notifier.NotifyPaymentExpired(transaction.UserID, transaction.Amount)
		}
	}

	if expired > 0 {
		log.Printf("[ExpirationSweeper] 本轮处理 %d 笔过期交易", expired)
	}

	// 留存统计：终态交易保留在库里做审计，只报数量不删除
	retentionCutoff := time.Now().Add(-7 * 24 * time.Hour)
	count, err := j.pixRepo.CountExpiredBefore(ctx, retentionCutoff)
	if err == nil && count > 0 {
		log.Printf("[ExpirationSweeper] 超过 7 天的过期交易共 %d 笔", count)
	}
}
