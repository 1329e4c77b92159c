package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"

	"pixshop/internal/model"
	"pixshop/internal/service"
	"pixshop/pkg/response"

	"github.com/gin-gonic/gin"
)

// paymentEventKeywords 支付类事件的识别关键词
// 网关的事件命名历史上变过几次，按前缀匹配而不是全等
var paymentEventKeywords = []string{
	"pix.pagamento",
	"pix.recebido",
	"pix.confirmado",
	"pix.payment",
	"pix.received",
}

// webhookEvent 归一化后的回调事件
// 三种历史载荷形态都折叠成这一种，处理逻辑只认它
type webhookEvent struct {
	GatewayTxid string
	EndToEndID  string
}

type rawWebhookPayload struct {
	Evento     string        `json:"evento"`
	Txid       string        `json:"txid"`
	EndToEndID string        `json:"endToEndId"`
	Pix        []rawPixEntry `json:"pix"`
}

type rawPixEntry struct {
	Txid       string `json:"txid"`
	EndToEndID string `json:"endToEndId"`
	Valor      string `json:"valor"`
}

// parseWebhookPayload 解析网关回调
// 支持三种形态：顶层 txid、pix 数组、只有 endToEndId。
// 返回归一化事件列表和"是否支付事件"的判定
func parseWebhookPayload(body []byte) ([]webhookEvent, bool, error) {
	var payload rawWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, false, fmt.Errorf("载荷不是合法 JSON: %w", err)
	}

	isPayment := false
	if payload.Evento != "" {
		evento := strings.ToLower(payload.Evento)
		for _, keyword := range paymentEventKeywords {
			if strings.HasPrefix(evento, keyword) {
				isPayment = true
				break
			}
		}
	}
	// 没有事件名但带非空 pix 数组，按支付事件处理（老版本载荷）
	if !isPayment && payload.Evento == "" && len(payload.Pix) > 0 {
		isPayment = true
	}

	var events []webhookEvent
	for _, entry := range payload.Pix {
		if entry.Txid == "" && entry.EndToEndID == "" {
			continue
		}
		events = append(events, webhookEvent{GatewayTxid: entry.Txid, EndToEndID: entry.EndToEndID})
	}
	if len(events) == 0 && (payload.Txid != "" || payload.EndToEndID != "") {
		events = append(events, webhookEvent{GatewayTxid: payload.Txid, EndToEndID: payload.EndToEndID})
	}

	return events, isPayment, nil
}

// PaymentNotifier 支付结果通知（Discord DM）
type PaymentNotifier interface {
	NotifyPaymentConfirmed(userID string, amountCents, newBalanceCents int64)
}

// WebhookHandler PIX 回调处理器
type WebhookHandler struct {
	balanceSvc *service.BalanceService
	notifier   PaymentNotifier // 可为 nil
}

func NewWebhookHandler(balanceSvc *service.BalanceService, notifier PaymentNotifier) *WebhookHandler {
	return &WebhookHandler{balanceSvc: balanceSvc, notifier: notifier}
}

// HandlePixWebhook POST /webhook/pix
// 无论处理结果如何都回 200（见 pkg/response 的说明）
func (h *WebhookHandler) HandlePixWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Failed(c, "读取请求体失败")
		return
	}

	// 网关登记 webhook 时发的连通性探测没有请求体
	if len(body) == 0 {
		response.Received(c, "ping")
		return
	}

	events, isPayment, err := parseWebhookPayload(body)
	if err != nil {
		log.Printf("[WEBHOOK] 载荷解析失败: %v", err)
		response.Failed(c, "载荷格式不可识别")
		return
	}
	if !isPayment {
		response.Received(c, "非支付事件，已忽略")
		return
	}
	if len(events) == 0 {
		response.Received(c, "支付事件但缺少 txid，无法对账")
		return
	}

	processed := 0
	for _, event := range events {
		txid := event.GatewayTxid
		if txid == "" {
			txid = event.EndToEndID
		}
		result := h.balanceSvc.ConfirmPixPayment(c.Request.Context(), "", txid)
		switch result.Code {
		case service.ConfirmOK:
			processed++
			if h.notifier != nil && result.Transaction != nil {
				h.notifier.NotifyPaymentConfirmed(result.Transaction.UserID, result.Transaction.Amount, result.NewBalance)
			}
		case service.ConfirmAlreadyProcessed:
			// 网关重试投递是常态，静默吞掉
			log.Printf("[WEBHOOK] 重复投递: txid=%s", txid)
		case service.ConfirmNotFound:
			log.Printf("[WEBHOOK] 未知 txid: %s", txid)
		case service.ConfirmStorageError:
			log.Printf("[WEBHOOK] 处理失败: txid=%s msg=%s", txid, result.Message)
		}
	}

	if processed > 0 {
		response.Processed(c, fmt.Sprintf("已入账 %d 笔", processed))
		return
	}
	response.Received(c, "事件已收到，无新入账")
}

// HandleWebhookProbe GET /webhook/pix，网关连通性验证
func (h *WebhookHandler) HandleWebhookProbe(c *gin.Context) {
	response.Received(c, "webhook ativo")
}

// HandleWebhookTest POST /webhook/test，联调用的回显端点
func (h *WebhookHandler) HandleWebhookTest(c *gin.Context) {
	body, _ := io.ReadAll(c.Request.Body)
	events, isPayment, err := parseWebhookPayload(body)
	if err != nil {
		response.Failed(c, err.Error())
		return
	}
	txids := make([]string, 0, len(events))
	for _, event := range events {
		txids = append(txids, event.GatewayTxid)
	}
	c.JSON(200, gin.H{
		"is_payment_event": isPayment,
		"txids":            txids,
	})
}

// HandleHealth GET /health
func (h *WebhookHandler) HandleHealth(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}

// HandleGetTransaction GET /api/v1/transaction/:id，运维排查用
func (h *WebhookHandler) HandleGetTransaction(c *gin.Context) {
	transaction, err := h.balanceSvc.GetTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(404, gin.H{"error": "transaction not found"})
		return
	}
	c.JSON(200, gin.H{
		"transaction_id": transaction.TransactionID,
		"user_id":        transaction.UserID,
		"amount":         transaction.Amount,
		"amount_display": model.FormatBRL(transaction.Amount),
		"status":         transaction.Status,
		"efi_txid":       transaction.EfiTxid,
		"created_at":     transaction.CreatedAt,
		"paid_at":        transaction.PaidAt,
	})
}
