package service

import (
	"context"
	"strings"
	"testing"

	"pixshop/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBalanceService(pixRepo *fakePixRepo, balanceRepo *fakeBalanceRepo, outboxRepo *fakeOutboxRepo, gw *fakeGateway) *BalanceService {
	return NewBalanceService(testConfig(), pixRepo, balanceRepo, outboxRepo, gw, nil)
}

func TestCreatePixTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects amount below minimum", func(t *testing.T) {
		gw := &fakeGateway{}
		svc := newTestBalanceService(newFakePixRepo(), newFakeBalanceRepo(), newFakeOutboxRepo(), gw)

		_, err := svc.CreatePixTransaction(ctx, "user1", 99)
		assert.ErrorIs(t, err, ErrAmountBelowMinimum)
		assert.Equal(t, 0, gw.charges, "金额校验失败不应触发网关调用")
	})

	t.Run("accepts exactly the minimum amount", func(t *testing.T) {
		gw := &fakeGateway{}
		svc := newTestBalanceService(newFakePixRepo(), newFakeBalanceRepo(), newFakeOutboxRepo(), gw)

		transaction, err := svc.CreatePixTransaction(ctx, "user1", 100)
		require.NoError(t, err)
		assert.Equal(t, int64(100), transaction.Amount)
	})

	t.Run("persists pending transaction with gateway data", func(t *testing.T) {
		gw := &fakeGateway{}
		pixRepo := newFakePixRepo()
		svc := newTestBalanceService(pixRepo, newFakeBalanceRepo(), newFakeOutboxRepo(), gw)

		transaction, err := svc.CreatePixTransaction(ctx, "user1", 1050)
		require.NoError(t, err)

		assert.True(t, strings.HasPrefix(transaction.TransactionID, "pix_"))
		assert.Equal(t, model.PixStatusPending, transaction.Status)
		assert.NotEmpty(t, transaction.QRCode)
		assert.Equal(t, gw.lastTxid, transaction.EfiTxid)
		assert.Equal(t, int64(1050), gw.lastAmount)

		stored, err := pixRepo.GetByTransactionID(ctx, transaction.TransactionID)
		require.NoError(t, err)
		assert.Equal(t, model.PixStatusPending, stored.Status)
	})

	t.Run("no local record when charge creation fails", func(t *testing.T) {
		gw := &fakeGateway{failCharge: true}
		pixRepo := newFakePixRepo()
		svc := newTestBalanceService(pixRepo, newFakeBalanceRepo(), newFakeOutboxRepo(), gw)

		_, err := svc.CreatePixTransaction(ctx, "user1", 500)
		require.Error(t, err)
		assert.Empty(t, pixRepo.byID)
	})

	t.Run("qrcode failure mentions the orphan charge", func(t *testing.T) {
		gw := &fakeGateway{failQRCode: true}
		pixRepo := newFakePixRepo()
		svc := newTestBalanceService(pixRepo, newFakeBalanceRepo(), newFakeOutboxRepo(), gw)

		_, err := svc.CreatePixTransaction(ctx, "user1", 500)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "已存在")
		assert.Empty(t, pixRepo.byID, "半成品交易不允许落库")
	})
}

func TestConfirmPixPayment(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*BalanceService, *fakePixRepo, *fakeBalanceRepo, *fakeOutboxRepo, *model.PixTransaction) {
		gw := &fakeGateway{}
		pixRepo := newFakePixRepo()
		balanceRepo := newFakeBalanceRepo()
		outboxRepo := newFakeOutboxRepo()
		svc := newTestBalanceService(pixRepo, balanceRepo, outboxRepo, gw)

		transaction, err := svc.CreatePixTransaction(ctx, "user1", 1000)
		require.NoError(t, err)
		return svc, pixRepo, balanceRepo, outboxRepo, transaction
	}

	t.Run("credits exactly once on first confirmation", func(t *testing.T) {
		svc, pixRepo, balanceRepo, outboxRepo, transaction := setup(t)

		result := svc.ConfirmPixPayment(ctx, transaction.TransactionID, "")
		require.Equal(t, ConfirmOK, result.Code)
		assert.Equal(t, int64(1000), result.NewBalance)

		stored, _ := pixRepo.GetByTransactionID(ctx, transaction.TransactionID)
		assert.Equal(t, model.PixStatusPaid, stored.Status)
		assert.NotNil(t, stored.PaidAt)

		balance, _ := balanceRepo.GetBalance(ctx, "user1")
		assert.Equal(t, int64(1000), balance)
		assert.Len(t, outboxRepo.messages, 1)
	})

	t.Run("status flips before the ledger credit", func(t *testing.T) {
		svc, pixRepo, balanceRepo, _, transaction := setup(t)

		balanceRepo.onCredit = func() {
			stored, err := pixRepo.GetByTransactionID(ctx, transaction.TransactionID)
			require.NoError(t, err)
			assert.Equal(t, model.PixStatusPaid, stored.Status, "入账时状态必须已经是 paid")
		}

		result := svc.ConfirmPixPayment(ctx, transaction.TransactionID, "")
		assert.Equal(t, ConfirmOK, result.Code)
	})

	t.Run("second confirmation is rejected without crediting", func(t *testing.T) {
		svc, _, balanceRepo, _, transaction := setup(t)

		first := svc.ConfirmPixPayment(ctx, transaction.TransactionID, "")
		require.Equal(t, ConfirmOK, first.Code)

		second := svc.ConfirmPixPayment(ctx, transaction.TransactionID, "")
		assert.Equal(t, ConfirmAlreadyProcessed, second.Code)

		balance, _ := balanceRepo.GetBalance(ctx, "user1")
		assert.Equal(t, int64(1000), balance, "重复确认不允许重复入账")
	})

	t.Run("finds transaction by gateway txid", func(t *testing.T) {
		svc, _, _, _, transaction := setup(t)

		result := svc.ConfirmPixPayment(ctx, "", transaction.EfiTxid)
		require.Equal(t, ConfirmOK, result.Code)
		assert.Equal(t, transaction.TransactionID, result.Transaction.TransactionID)
	})

	t.Run("admin id doubles as both lookup keys", func(t *testing.T) {
		svc, _, _, _, transaction := setup(t)

		// 管理员拿网关 txid 当内部ID传进来也要能找到
		result := svc.ConfirmPixPayment(ctx, transaction.EfiTxid, transaction.EfiTxid)
		require.Equal(t, ConfirmOK, result.Code)
	})

	t.Run("unknown transaction returns not found", func(t *testing.T) {
		svc, _, _, _, _ := setup(t)

		result := svc.ConfirmPixPayment(ctx, "pix_nope", "txid_nope")
		assert.Equal(t, ConfirmNotFound, result.Code)
	})

	t.Run("credit failure after flip reports storage error", func(t *testing.T) {
		svc, pixRepo, balanceRepo, _, transaction := setup(t)
		balanceRepo.failCredit = true

		result := svc.ConfirmPixPayment(ctx, transaction.TransactionID, "")
		assert.Equal(t, ConfirmStorageError, result.Code)

		// 状态已翻转，留给人工对账，不允许回滚成 pending
		stored, _ := pixRepo.GetByTransactionID(ctx, transaction.TransactionID)
		assert.Equal(t, model.PixStatusPaid, stored.Status)
	})

	t.Run("expired transaction cannot be confirmed", func(t *testing.T) {
		svc, pixRepo, balanceRepo, _, transaction := setup(t)

		require.NoError(t, pixRepo.UpdateStatus(ctx, transaction.TransactionID, model.PixStatusPending, model.PixStatusExpired))

		result := svc.ConfirmPixPayment(ctx, transaction.TransactionID, "")
		assert.Equal(t, ConfirmAlreadyProcessed, result.Code)

		balance, _ := balanceRepo.GetBalance(ctx, "user1")
		assert.Equal(t, int64(0), balance)
	})
}

func TestExpirePixTransaction(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{}
	pixRepo := newFakePixRepo()
	outboxRepo := newFakeOutboxRepo()
	svc := newTestBalanceService(pixRepo, newFakeBalanceRepo(), outboxRepo, gw)

	transaction, err := svc.CreatePixTransaction(ctx, "user1", 500)
	require.NoError(t, err)

	t.Run("pending transaction expires", func(t *testing.T) {
		require.NoError(t, svc.ExpirePixTransaction(ctx, transaction.TransactionID))

		stored, _ := pixRepo.GetByTransactionID(ctx, transaction.TransactionID)
		assert.Equal(t, model.PixStatusExpired, stored.Status)
		assert.NotNil(t, stored.ExpiredAt)
	})

	t.Run("paid transaction is never expired", func(t *testing.T) {
		paid, err := svc.CreatePixTransaction(ctx, "user2", 500)
		require.NoError(t, err)
		require.Equal(t, ConfirmOK, svc.ConfirmPixPayment(ctx, paid.TransactionID, "").Code)

		err = svc.ExpirePixTransaction(ctx, paid.TransactionID)
		assert.Error(t, err)

		stored, _ := pixRepo.GetByTransactionID(ctx, paid.TransactionID)
		assert.Equal(t, model.PixStatusPaid, stored.Status)
	})
}

func TestRefundUserBalance(t *testing.T) {
	ctx := context.Background()
	balanceRepo := newFakeBalanceRepo()
	svc := newTestBalanceService(newFakePixRepo(), balanceRepo, newFakeOutboxRepo(), &fakeGateway{})

	balanceRepo.balances["user1"] = 2000
	debitTx, _, err := svc.DebitUserBalance(ctx, "user1", 1500, "Compra: item 42")
	require.NoError(t, err)

	newBalance, err := svc.RefundUserBalance(ctx, "user1", 1500, debitTx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), newBalance)

	entries, _ := svc.ListRecentBalanceTransactions(ctx, "user1", 10)
	require.Len(t, entries, 2)
	assert.Equal(t, "refund_"+debitTx, entries[0].TransactionID)
	assert.Equal(t, "Reembolso", entries[0].Description)
}

func TestDebitUserBalance(t *testing.T) {
	ctx := context.Background()

	t.Run("overdraft is blocked", func(t *testing.T) {
		balanceRepo := newFakeBalanceRepo()
		svc := newTestBalanceService(newFakePixRepo(), balanceRepo, newFakeOutboxRepo(), &fakeGateway{})
		balanceRepo.balances["user1"] = 500

		_, _, err := svc.DebitUserBalance(ctx, "user1", 501, "Compra")
		assert.Error(t, err)

		balance, _ := svc.GetBalance(ctx, "user1")
		assert.Equal(t, int64(500), balance)
	})

	t.Run("balance equals sum of ledger entries", func(t *testing.T) {
		balanceRepo := newFakeBalanceRepo()
		svc := newTestBalanceService(newFakePixRepo(), balanceRepo, newFakeOutboxRepo(), &fakeGateway{})
		balanceRepo.balances["user1"] = 0

		_, err := balanceRepo.Credit(ctx, "user1", 3000, "pix_a", "Adição de saldo via PIX")
		require.NoError(t, err)
		_, _, err = svc.DebitUserBalance(ctx, "user1", 1200, "Compra")
		require.NoError(t, err)
		_, err = svc.RefundUserBalance(ctx, "user1", 1200, "purchase_x", "Reembolso")
		require.NoError(t, err)

		var sum int64
		for _, entry := range balanceRepo.entries {
			sum += entry.Amount
		}
		balance, _ := svc.GetBalance(ctx, "user1")
		assert.Equal(t, balance, sum)
	})
}
