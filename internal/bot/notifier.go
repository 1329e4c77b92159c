package bot

import (
	"fmt"
	"log"

	"pixshop/internal/model"

	"github.com/bwmarrin/discordgo"
)

// Notifier 通过私信通知用户支付结果
// webhook 处理器和过期扫描任务都用它，通知失败只记日志，
// 绝不影响入账结果
type Notifier struct {
	session *discordgo.Session
}

func NewNotifier(session *discordgo.Session) *Notifier {
	return &Notifier{session: session}
}

func (n *Notifier) NotifyPaymentConfirmed(userID string, amountCents, newBalanceCents int64) {
	msg := fmt.Sprintf(
		"✅ **Pagamento PIX confirmado!**\n%s foram adicionados ao seu saldo.\nSaldo atual: %s",
		model.FormatBRL(amountCents), model.FormatBRL(newBalanceCents))
	n.sendDM(userID, msg)
}

func (n *Notifier) NotifyPaymentExpired(userID string, amountCents int64) {
	msg := fmt.Sprintf(
		"⏰ **PIX expirado**\nO PIX de %s não foi pago dentro do prazo e foi cancelado.\nUse `/adicionarsaldo` para gerar um novo.",
		model.FormatBRL(amountCents))
	n.sendDM(userID, msg)
}

func (n *Notifier) sendDM(userID, content string) {
	channel, err := n.session.UserChannelCreate(userID)
	if err != nil {
		log.Printf("[NOTIFY] 打开私信通道失败: user=%s err=%v", userID, err)
		return
	}
	if _, err := n.session.ChannelMessageSend(channel.ID, content); err != nil {
		log.Printf("[NOTIFY] 发送私信失败: user=%s err=%v", userID, err)
	}
}
