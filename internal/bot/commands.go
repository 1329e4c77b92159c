package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"pixshop/internal/infrastructure/market"
	"pixshop/internal/model"
	"pixshop/internal/service"

	"github.com/bwmarrin/discordgo"
)

func commandDefinitions() []*discordgo.ApplicationCommand {
	minValor := 1.0
	return []*discordgo.ApplicationCommand{
		{
			Name:        "adicionarsaldo",
			Description: "Adicionar saldo via PIX",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionNumber,
					Name:        "valor",
					Description: "Valor em reais (mínimo R$ 1,00)",
					Required:    true,
					MinValue:    &minValor,
				},
			},
		},
		{
			Name:        "meusaldo",
			Description: "Ver seu saldo e últimas transações",
		},
		{
			Name:        "comprovante",
			Description: "Enviar comprovante de um PIX não creditado para análise",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "transacao",
					Description: "ID da transação (pix_...)",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "detalhes",
					Description: "Link ou descrição do comprovante",
					Required:    true,
				},
			},
		},
		{
			Name:        "contas",
			Description: "Listar contas Valorant disponíveis",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionNumber,
					Name:        "preco_max",
					Description: "Preço máximo em reais",
					Required:    false,
				},
			},
		},
		{
			Name:        "admin",
			Description: "Comandos administrativos",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "liberar-saldo",
					Description: "Confirmar manualmente um pagamento PIX",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "transacao",
							Description: "ID interno (pix_...) ou txid do gateway",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "transacoes-pix",
					Description: "Listar transações PIX por status",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "status",
							Description: "pending / paid / expired / cancelled",
							Required:    false,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "transacao-pix",
					Description: "Detalhes de uma transação PIX",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "id",
							Description: "ID interno da transação",
							Required:    true,
						},
					},
				},
			},
		},
	}
}

func (b *Bot) handleCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	switch data.Name {
	case "adicionarsaldo":
		b.handleAddBalance(s, i)
	case "meusaldo":
		b.handleMyBalance(s, i)
	case "comprovante":
		b.handlePaymentProof(s, i)
	case "contas":
		b.handleListAccounts(s, i)
	case "admin":
		b.handleAdmin(s, i)
	}
}

// handleAddBalance /adicionarsaldo
func (b *Bot) handleAddBalance(s *discordgo.Session, i *discordgo.InteractionCreate) {
	userID, _ := interactionUser(i)
	valor := i.ApplicationCommandData().Options[0].FloatValue()
	amountCents := int64(math.Round(valor * 100))

	// 网关调用可能超过 3 秒的应答窗口，先 defer
	deferEphemeral(s, i)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	transaction, err := b.balanceSvc.CreatePixTransaction(ctx, userID, amountCents)
	if err != nil {
		if errors.Is(err, service.ErrAmountBelowMinimum) {
			followUp(s, i, fmt.Sprintf("❌ Valor mínimo para adicionar saldo: **%s**",
				model.FormatBRL(b.cfg.Business.MinFundingAmountCents)))
			return
		}
		log.Printf("[BOT] 创建充值失败: user=%s err=%v", userID, err)
		followUp(s, i, "❌ Não foi possível gerar o PIX agora. Tente novamente em instantes.")
		return
	}

	msg := fmt.Sprintf(
		"💰 **PIX gerado: %s**\n\n"+
			"Copie e cole o código abaixo no app do seu banco:\n"+
			"```\n%s\n```\n"+
			"⏰ Válido por %d hora(s). O saldo é creditado automaticamente após o pagamento.\n"+
			"🧾 ID da transação: `%s`",
		model.FormatBRL(transaction.Amount),
		transaction.QRCode,
		b.cfg.Business.ExpirationHours,
		transaction.TransactionID,
	)
	followUp(s, i, msg)
}

// handleMyBalance /meusaldo
func (b *Bot) handleMyBalance(s *discordgo.Session, i *discordgo.InteractionCreate) {
	userID, _ := interactionUser(i)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	balance, err := b.balanceSvc.GetBalance(ctx, userID)
	if err != nil {
		respondEphemeral(s, i, "❌ Erro ao consultar saldo.")
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "💳 **Seu saldo: %s**\n", model.FormatBRL(balance))

	entries, err := b.balanceSvc.ListRecentBalanceTransactions(ctx, userID, 10)
	if err == nil && len(entries) > 0 {
		sb.WriteString("\n**Últimas movimentações:**\n")
		for _, entry := range entries {
			sign := "+"
			if entry.Amount < 0 {
				sign = ""
			}
			fmt.Fprintf(&sb, "• %s%s — %s\n", sign, model.FormatBRL(entry.Amount), entry.Description)
		}
	}

	respondEphemeral(s, i, sb.String())
}

// handlePaymentProof /comprovante
// webhook 没到账时的人工兜底：把交易和凭证转给管理员，
// 管理员核实后走 /admin liberar-saldo
func (b *Bot) handlePaymentProof(s *discordgo.Session, i *discordgo.InteractionCreate) {
	userID, username := interactionUser(i)
	opts := i.ApplicationCommandData().Options
	transactionID := opts[0].StringValue()
	details := opts[1].StringValue()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	transaction, err := b.balanceSvc.GetTransaction(ctx, transactionID)
	if err != nil {
		respondEphemeral(s, i, fmt.Sprintf("❌ Transação `%s` não encontrada. Confira o ID no recibo do `/adicionarsaldo`.", transactionID))
		return
	}
	if transaction.UserID != userID {
		respondEphemeral(s, i, "❌ Essa transação não pertence a você.")
		return
	}
	if transaction.Status != model.PixStatusPending {
		respondEphemeral(s, i, fmt.Sprintf("⚠️ Essa transação já está com status `%s`.", transaction.Status))
		return
	}

	notice := fmt.Sprintf(
		"📎 **Comprovante recebido**\nUsuário: %s (<@%s>)\nTransação: `%s` — %s\nDetalhes: %s\n\nUse `/admin liberar-saldo transacao:%s` após conferir.",
		username, userID, transaction.TransactionID, model.FormatBRL(transaction.Amount), details, transaction.TransactionID)
	for adminID := range b.admins {
		channel, err := b.session.UserChannelCreate(adminID)
		if err != nil {
			continue
		}
		if _, err := b.session.ChannelMessageSend(channel.ID, notice); err != nil {
			log.Printf("[BOT] 转发凭证给管理员失败: admin=%s err=%v", adminID, err)
		}
	}

	respondEphemeral(s, i, "✅ Comprovante enviado para análise. Você será notificado quando o saldo for liberado.")
}

// handleListAccounts /contas，每个账号带一个购买按钮
func (b *Bot) handleListAccounts(s *discordgo.Session, i *discordgo.InteractionCreate) {
	deferEphemeral(s, i)

	filter := market.ListFilter{PerPage: 5, OrderBy: "price_to_up"}
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "preco_max" {
			filter.PriceMaxCents = int64(math.Round(opt.FloatValue() * 100))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	accounts, err := b.catalog.ListValorantAccounts(ctx, filter)
	if err != nil {
		log.Printf("[BOT] 查询目录失败: %v", err)
		followUp(s, i, "❌ Não foi possível consultar as contas agora.")
		return
	}
	if len(accounts) == 0 {
		followUp(s, i, "Nenhuma conta disponível com esses filtros.")
		return
	}

	var sb strings.Builder
	sb.WriteString("🎮 **Contas Valorant disponíveis:**\n\n")
	var buttons []discordgo.MessageComponent
	for _, account := range accounts {
		fmt.Fprintf(&sb, "**#%d** — %s — **%s**\n", account.ItemID, account.Title, model.FormatBRL(account.PriceCents))
		buttons = append(buttons, discordgo.Button{
			Label:    fmt.Sprintf("Comprar #%d (%s)", account.ItemID, model.FormatBRL(account.PriceCents)),
			Style:    discordgo.SuccessButton,
			CustomID: fmt.Sprintf("buy:%d:%d", account.ItemID, account.PriceCents),
		})
	}

	_, err = s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content:    sb.String(),
		Flags:      discordgo.MessageFlagsEphemeral,
		Components: []discordgo.MessageComponent{discordgo.ActionsRow{Components: buttons}},
	})
	if err != nil {
		log.Printf("[BOT] 发送列表失败: %v", err)
	}
}

// handleComponent 购买按钮：创建 pending 订单并弹确认框
func (b *Bot) handleComponent(s *discordgo.Session, i *discordgo.InteractionCreate) {
	customID := i.MessageComponentData().CustomID
	if !strings.HasPrefix(customID, "buy:") {
		return
	}

	parts := strings.Split(customID, ":")
	if len(parts) != 3 {
		return
	}
	itemID, _ := strconv.ParseInt(parts[1], 10, 64)
	priceCents, _ := strconv.ParseInt(parts[2], 10, 64)

	userID, username := interactionUser(i)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 先做一次余额预检查，省得用户走完确认流程才发现钱不够
	enough, err := b.balanceSvc.HasSufficientBalance(ctx, userID, priceCents)
	if err == nil && !enough {
		balance, _ := b.balanceSvc.GetBalance(ctx, userID)
		respondEphemeral(s, i, fmt.Sprintf(
			"❌ **Saldo insuficiente**\nSeu saldo: %s\nNecessário: %s\n\nUse `/adicionarsaldo` para adicionar saldo.",
			model.FormatBRL(balance), model.FormatBRL(priceCents)))
		return
	}

	order, err := b.purchaseSvc.CreatePendingOrder(ctx, userID, username, itemID, priceCents)
	if err != nil {
		respondEphemeral(s, i, "❌ Erro ao criar o pedido. Tente novamente.")
		return
	}

	err = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: "confirm_purchase:" + order.OrderID,
			Title:    fmt.Sprintf("Confirmar compra — %s", model.FormatBRL(priceCents)),
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.TextInput{
							CustomID:    "confirmation",
							Label:       "Digite CONFIRMAR para concluir",
							Style:       discordgo.TextInputShort,
							Placeholder: "CONFIRMAR",
							Required:    true,
							MaxLength:   9,
						},
					},
				},
			},
		},
	})
	if err != nil {
		log.Printf("[BOT] 弹出确认框失败: %v", err)
	}
}

// handleModalSubmit 确认框提交：驱动购买编排并回告资金去向
func (b *Bot) handleModalSubmit(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ModalSubmitData()
	if !strings.HasPrefix(data.CustomID, "confirm_purchase:") {
		return
	}
	orderID := strings.TrimPrefix(data.CustomID, "confirm_purchase:")

	input := data.Components[0].(*discordgo.ActionsRow).Components[0].(*discordgo.TextInput)
	if !strings.EqualFold(strings.TrimSpace(input.Value), "CONFIRMAR") {
		respondEphemeral(s, i, "Compra cancelada: confirmação inválida.")
		userID, _ := interactionUser(i)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.purchaseSvc.CancelOrder(ctx, orderID, userID); err != nil {
			log.Printf("[BOT] 取消订单失败: order=%s err=%v", orderID, err)
		}
		return
	}

	deferEphemeral(s, i)

	userID, _ := interactionUser(i)
	// 市场购买可能非常慢，超时给足
	ctx, cancel := context.WithTimeout(context.Background(), 6*time.Minute)
	defer cancel()

	outcome := b.purchaseSvc.PurchaseWithBalance(ctx, orderID, userID)

	if outcome.Success {
		followUp(s, i, fmt.Sprintf(
			"✅ **Compra concluída!**\nSaldo restante: %s\n\n📬 Os dados da conta foram enviados no seu privado.",
			model.FormatBRL(outcome.NewBalance)))
		b.sendCredentials(userID, outcome)
		return
	}

	// 失败文案必须如实反映退款状态
	switch {
	case outcome.Refunded:
		followUp(s, i, fmt.Sprintf(
			"❌ %s\n\n💸 **Reembolso efetuado.** Saldo atual: %s",
			outcome.Message, model.FormatBRL(outcome.NewBalance)))
	case outcome.RefundFailed:
		followUp(s, i, fmt.Sprintf(
			"❌ %s\n\n⚠️ **O reembolso automático falhou.** Nossa equipe foi notificada e vai regularizar seu saldo.",
			outcome.Message))
	default:
		followUp(s, i, "❌ "+outcome.Message)
	}
}

func (b *Bot) sendCredentials(userID string, outcome *service.PurchaseOutcome) {
	if outcome.Credentials == nil {
		return
	}
	cred := outcome.Credentials
	var sb strings.Builder
	sb.WriteString("🎮 **Dados da sua conta Valorant:**\n```\n")
	fmt.Fprintf(&sb, "Login:    %s\nSenha:    %s\n", cred.Login, cred.Password)
	if cred.Email != "" {
		fmt.Fprintf(&sb, "Email:    %s\nSenha do email: %s\n", cred.Email, cred.EmailPassword)
	}
	sb.WriteString("```\n⚠️ Troque a senha imediatamente após o primeiro acesso.")

	channel, err := b.session.UserChannelCreate(userID)
	if err != nil {
		log.Printf("[BOT] 打开私信通道失败: user=%s err=%v", userID, err)
		return
	}
	if _, err := b.session.ChannelMessageSend(channel.ID, sb.String()); err != nil {
		log.Printf("[BOT] 发送凭据失败: user=%s err=%v", userID, err)
	}
}

// handleAdmin /admin 子命令，仅配置里的管理员可用
func (b *Bot) handleAdmin(s *discordgo.Session, i *discordgo.InteractionCreate) {
	userID, _ := interactionUser(i)
	if !b.isAdmin(userID) {
		respondEphemeral(s, i, "❌ Você não tem permissão para usar este comando.")
		return
	}

	sub := i.ApplicationCommandData().Options[0]
	switch sub.Name {
	case "liberar-saldo":
		b.handleAdminConfirm(s, i, sub.Options[0].StringValue())
	case "transacoes-pix":
		status := model.PixStatusPending
		if len(sub.Options) > 0 {
			status = sub.Options[0].StringValue()
		}
		b.handleAdminListTransactions(s, i, status)
	case "transacao-pix":
		b.handleAdminTransactionDetail(s, i, sub.Options[0].StringValue())
	}
}

// handleAdminConfirm /admin liberar-saldo
// 管理员可能拿到的是内部ID也可能是网关 txid，两个键都试
func (b *Bot) handleAdminConfirm(s *discordgo.Session, i *discordgo.InteractionCreate, id string) {
	deferEphemeral(s, i)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result := b.balanceSvc.ConfirmPixPayment(ctx, id, id)
	switch result.Code {
	case service.ConfirmOK:
		followUp(s, i, fmt.Sprintf(
			"✅ Saldo liberado: %s para <@%s>.\nNovo saldo do usuário: %s",
			model.FormatBRL(result.Transaction.Amount), result.Transaction.UserID, model.FormatBRL(result.NewBalance)))
		b.notifyBalanceReleased(result.Transaction.UserID, result.Transaction.Amount, result.NewBalance)
	case service.ConfirmAlreadyProcessed:
		followUp(s, i, "⚠️ Transação já processada: "+result.Message)
	case service.ConfirmNotFound:
		followUp(s, i, fmt.Sprintf("❌ Transação `%s` não encontrada (nem como ID interno nem como txid do gateway).", id))
	default:
		followUp(s, i, "❌ Falha ao processar: "+result.Message)
	}
}

func (b *Bot) handleAdminListTransactions(s *discordgo.Session, i *discordgo.InteractionCreate, status string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	transactions, err := b.balanceSvc.ListTransactionsByStatus(ctx, status, 10)
	if err != nil {
		respondEphemeral(s, i, "❌ Erro ao consultar transações.")
		return
	}
	if len(transactions) == 0 {
		respondEphemeral(s, i, fmt.Sprintf("Nenhuma transação com status `%s`.", status))
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📋 **Transações `%s`:**\n", status)
	for _, transaction := range transactions {
		fmt.Fprintf(&sb, "• `%s` — <@%s> — %s — %s\n",
			transaction.TransactionID, transaction.UserID,
			model.FormatBRL(transaction.Amount),
			transaction.CreatedAt.Format("02/01 15:04"))
	}
	respondEphemeral(s, i, sb.String())
}

func (b *Bot) handleAdminTransactionDetail(s *discordgo.Session, i *discordgo.InteractionCreate, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	transaction, err := b.balanceSvc.GetTransaction(ctx, id)
	if err != nil {
		respondEphemeral(s, i, fmt.Sprintf("❌ Transação `%s` não encontrada.", id))
		return
	}

	var sb strings.Builder
	sb.WriteString("🧾 **Detalhes da transação:**\n")
	fmt.Fprintf(&sb, "• ID: `%s`\n", transaction.TransactionID)
	fmt.Fprintf(&sb, "• Usuário: <@%s>\n", transaction.UserID)
	fmt.Fprintf(&sb, "• Valor: %s\n", model.FormatBRL(transaction.Amount))
	fmt.Fprintf(&sb, "• Status: `%s`\n", transaction.Status)
	fmt.Fprintf(&sb, "• Txid gateway: `%s`\n", transaction.EfiTxid)
	fmt.Fprintf(&sb, "• Criada em: %s\n", transaction.CreatedAt.Format("02/01/2006 15:04:05"))
	if transaction.PaidAt != nil {
		fmt.Fprintf(&sb, "• Paga em: %s\n", transaction.PaidAt.Format("02/01/2006 15:04:05"))
	}
	respondEphemeral(s, i, sb.String())
}

func (b *Bot) notifyBalanceReleased(userID string, amountCents, newBalanceCents int64) {
	channel, err := b.session.UserChannelCreate(userID)
	if err != nil {
		return
	}
	msg := fmt.Sprintf("✅ **Pagamento confirmado!**\n%s foram adicionados ao seu saldo.\nSaldo atual: %s",
		model.FormatBRL(amountCents), model.FormatBRL(newBalanceCents))
	if _, err := b.session.ChannelMessageSend(channel.ID, msg); err != nil {
		log.Printf("[BOT] 发送私信失败: user=%s err=%v", userID, err)
	}
}

func respondEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		log.Printf("[BOT] 应答失败: %v", err)
	}
}

func deferEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		log.Printf("[BOT] defer 应答失败: %v", err)
	}
}

func followUp(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	_, err := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content: content,
		Flags:   discordgo.MessageFlagsEphemeral,
	})
	if err != nil {
		log.Printf("[BOT] followup 失败: %v", err)
	}
}
